// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/traylinx/healctl/internal/hcp/audit"
	"github.com/traylinx/healctl/internal/hcp/commit"
	"github.com/traylinx/healctl/internal/hcp/herrors"
	"github.com/traylinx/healctl/internal/hcp/signature"
	"github.com/traylinx/healctl/internal/hcp/types"
	"github.com/traylinx/healctl/internal/hcp/webhook"
)

// WorkerCompletion is what a worker agent reports back once it has
// finished (or given up on) a dispatched repair job.
type WorkerCompletion struct {
	JobID       string
	Success     bool
	Description string
	Files       []commit.FileEdit
	Error       string
}

// HandleWorkerCompletion resumes a session suspended by
// dispatchToWorker. A successful completion re-enters the same
// stage-and-verify pipeline tier 1 uses, rather than trusting the
// worker's own claim of correctness. The single-writer lock is
// reacquired for the duration of staging/verification/commit, since
// the admission that started this session already consumed its
// rate-limit and attempt-cap budget.
func (o *Orchestrator) HandleWorkerCompletion(ctx context.Context, sessionID string, wc WorkerCompletion) error {
	session, err := o.audit.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load session %s: %w", sessionID, err)
	}
	if session == nil {
		return fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	if session.Status.IsTerminal() {
		return nil
	}

	inc, err := o.incidents.Get(ctx, session.IncidentID)
	if err != nil {
		return fmt.Errorf("orchestrator: load incident %s: %w", session.IncidentID, err)
	}
	if inc == nil {
		return fmt.Errorf("orchestrator: incident %s not found for session %s", session.IncidentID, sessionID)
	}

	if !o.safety.TryReacquire() {
		return fmt.Errorf("%w: healing lock unavailable for session %s, retry later", herrors.ErrTransient, sessionID)
	}
	defer o.safety.Release()

	if d, ok := o.workspace.(interface{ DiscardSnapshots() }); ok {
		d.DiscardSnapshots()
	}

	attempt := &types.HealAttempt{
		ID:            uuid.NewString(),
		IncidentID:    inc.ID,
		SessionID:     session.ID,
		AttemptNumber: inc.AttemptCount,
		Strategy:      types.StrategyWorkerAgent,
	}
	appendAction(attempt, "worker_job_completed", map[string]any{"jobId": wc.JobID, "success": wc.Success})

	if !wc.Success {
		if err := o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: worker job failed: %s", herrors.ErrRepairProposalFailed, wc.Error), "repair proposal failed: worker reported failure"); err != nil {
			o.log.WithError(err).WithField("sessionId", session.ID).Warn("healing session did not complete successfully")
		}
		return nil
	}

	sig := signature.ErrorSignature(string(inc.Kind), inc.Description, firstStackFrame(inc.StackTrace))
	fix := FixPayload{Description: wc.Description, Files: wc.Files}
	session.DiagnosisNotes = wc.Description
	session.ProposedFix = wc.Description

	if err := o.repairAndFinish(ctx, inc, session, attempt, sig, fix); err != nil {
		o.log.WithError(err).WithField("sessionId", session.ID).Warn("healing session did not complete successfully")
	}
	return nil
}

// HandleDeploymentReport resumes a session suspended in the deploy
// phase. It matches webhook.Handler directly so it can be registered
// on a Dispatcher without a wrapper closure.
func (o *Orchestrator) HandleDeploymentReport(report webhook.DeploymentReport) error {
	ctx := context.Background()

	session, err := o.audit.GetSession(ctx, report.SessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load session %s: %w", report.SessionID, err)
	}
	if session == nil {
		return fmt.Errorf("orchestrator: unknown session %s", report.SessionID)
	}
	if session.Status.IsTerminal() {
		return nil
	}

	inc, err := o.incidents.Get(ctx, session.IncidentID)
	if err != nil {
		return fmt.Errorf("orchestrator: load incident %s: %w", session.IncidentID, err)
	}
	if inc == nil {
		return fmt.Errorf("orchestrator: incident %s not found for session %s", session.IncidentID, report.SessionID)
	}

	if !o.safety.TryReacquire() {
		return fmt.Errorf("%w: healing lock unavailable for session %s, retry later", herrors.ErrTransient, report.SessionID)
	}
	defer o.safety.Release()

	switch report.Status {
	case "succeeded":
		now := time.Now().UTC()
		session.DeploymentStatus = types.DeploymentStatusSucceeded
		session.Phase = types.SessionPhaseComplete
		session.Status = types.SessionStatusSuccess
		session.CompletedAt = &now
		if report.CommitSHA != "" {
			session.CommitHash = report.CommitSHA
		}

		inc.Status = types.IncidentStatusResolved
		inc.ResolvedAt = &now
		if session.CommitHash != "" {
			inc.CommitHash = session.CommitHash
		}

		if err := o.audit.PutSession(ctx, session); err != nil {
			o.log.WithError(err).Warn("failed to persist deployed session")
		}
		if err := o.incidents.Save(ctx, inc); err != nil {
			o.log.WithError(err).Warn("failed to persist resolved incident after deploy")
		}
		o.safety.RecordSuccess()
		if o.metrics != nil {
			o.metrics.RecordHealingSuccess(now.Sub(session.CreatedAt).Milliseconds())
		}
		o.publish(audit.Event{Kind: audit.EventDeploymentStatus, IncidentID: inc.ID, SessionID: session.ID, DeploymentStatus: string(session.DeploymentStatus)})
		o.publish(audit.Event{Kind: audit.EventHealingComplete, IncidentID: inc.ID, SessionID: session.ID, Strategy: string(session.Strategy), Result: "success", Message: "deployment succeeded"})
		return nil

	case "failed":
		o.rollback(ctx, session.FilesChanged)

		attempt := &types.HealAttempt{
			ID:            uuid.NewString(),
			IncidentID:    inc.ID,
			SessionID:     session.ID,
			AttemptNumber: inc.AttemptCount,
			Strategy:      session.Strategy,
		}
		appendAction(attempt, "deployment_failed", map[string]any{"detail": report.Detail})

		if err := o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: deployment failed: %s", herrors.ErrDeploymentFailed, report.Detail), "deployment failed, changes rolled back"); err != nil {
			o.log.WithError(err).WithField("sessionId", session.ID).Warn("healing session did not complete successfully")
		}
		return nil

	default:
		session.DeploymentStatus = types.DeploymentStatus(report.Status)
		if err := o.audit.PutSession(ctx, session); err != nil {
			o.log.WithError(err).Warn("failed to persist in-progress deployment status")
		}
		o.publish(audit.Event{Kind: audit.EventDeploymentStatus, IncidentID: inc.ID, SessionID: session.ID, DeploymentStatus: report.Status})
		return nil
	}
}
