// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator implements the incident healing lifecycle: the
// admission gate, the knowledge-base/worker-agent repair router, the
// verify-then-commit protocol, and the rollback path. It is the
// control plane tying every other internal/hcp collaborator together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/traylinx/healctl/internal/hcp/audit"
	"github.com/traylinx/healctl/internal/hcp/classifier"
	"github.com/traylinx/healctl/internal/hcp/commit"
	"github.com/traylinx/healctl/internal/hcp/confidence"
	"github.com/traylinx/healctl/internal/hcp/herrors"
	"github.com/traylinx/healctl/internal/hcp/identity"
	"github.com/traylinx/healctl/internal/hcp/knowledge"
	"github.com/traylinx/healctl/internal/hcp/metrics"
	"github.com/traylinx/healctl/internal/hcp/safety"
	"github.com/traylinx/healctl/internal/hcp/signature"
	"github.com/traylinx/healctl/internal/hcp/types"
	"github.com/traylinx/healctl/internal/hcp/verify"
	"github.com/traylinx/healctl/internal/hcp/worker"
	"github.com/traylinx/healctl/internal/hcp/workspace"
)

// Orchestrator drives the incident healing state machine. The knowledge
// base, verifier, commit gateway, workspace, worker agent, audit store,
// and incident repository are interfaces so the state machine itself
// can be exercised with fakes; see orchestrator_test.go.
type Orchestrator struct {
	safety    *safety.Envelope
	kb        knowledge.KnowledgeBase
	scorer    *confidence.Scorer
	classify  classifier.FailureClassifier
	verifier  verify.Verifier
	commits   commit.CommitGateway
	workspace workspace.Workspace
	worker    worker.Agent
	audit     audit.Store
	bus       *audit.EventBus
	identity  *identity.Resolver
	incidents IncidentRepository
	metrics   *metrics.Metrics

	kbAutoApplyThreshold int
	requireDeployment    bool

	log *logrus.Entry
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

func WithEventBus(b *audit.EventBus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClassifier(c classifier.FailureClassifier) Option {
	return func(o *Orchestrator) { o.classify = c }
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithKBAutoApplyThreshold overrides the default 90 confidence floor a
// knowledge-base match must clear to drive tier-1 repair.
func WithKBAutoApplyThreshold(n int) Option {
	return func(o *Orchestrator) { o.kbAutoApplyThreshold = n }
}

// WithRequireDeployment suspends a successfully-committed session at
// the deploy phase awaiting a deployment webhook, instead of
// completing immediately.
func WithRequireDeployment(b bool) Option {
	return func(o *Orchestrator) { o.requireDeployment = b }
}

// New constructs an Orchestrator. All positional arguments are
// required collaborators; everything optional is an Option.
func New(
	safetyEnv *safety.Envelope,
	kb knowledge.KnowledgeBase,
	scorer *confidence.Scorer,
	verifier verify.Verifier,
	commits commit.CommitGateway,
	ws workspace.Workspace,
	workerAgent worker.Agent,
	auditStore audit.Store,
	incidents IncidentRepository,
	resolver *identity.Resolver,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		safety:               safetyEnv,
		kb:                   kb,
		scorer:               scorer,
		verifier:             verifier,
		commits:              commits,
		workspace:            ws,
		worker:               workerAgent,
		audit:                auditStore,
		incidents:            incidents,
		identity:             resolver,
		kbAutoApplyThreshold: 90,
		log:                  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EnqueueIncident loads incidentID and runs it through admission and,
// if admitted, the healing state machine up to its first suspension
// point (worker dispatch or deploy). It never returns an error for a
// denied admission; denials are observable via metrics/logs only.
func (o *Orchestrator) EnqueueIncident(ctx context.Context, incidentID string) error {
	inc, err := o.incidents.Get(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("orchestrator: get incident %s: %w", incidentID, err)
	}
	if inc == nil {
		return nil
	}
	return o.admitAndStart(ctx, inc)
}

// OnIncidentDetected is the entry point for a detector handing a
// freshly-observed Incident directly to the orchestrator. Redetections
// of an incident already on file are treated as a re-enqueue of the
// existing row, never as a reset of its accumulated state.
func (o *Orchestrator) OnIncidentDetected(ctx context.Context, inc *types.Incident) error {
	if inc == nil {
		return nil
	}
	existing, err := o.incidents.Get(ctx, inc.ID)
	if err != nil {
		return fmt.Errorf("orchestrator: load incident %s: %w", inc.ID, err)
	}
	if existing != nil {
		return o.admitAndStart(ctx, existing)
	}
	if inc.Status == "" {
		inc.Status = types.IncidentStatusOpen
	}
	if err := o.incidents.Save(ctx, inc); err != nil {
		return fmt.Errorf("orchestrator: save detected incident %s: %w", inc.ID, err)
	}
	return o.admitAndStart(ctx, inc)
}

func (o *Orchestrator) admitAndStart(ctx context.Context, inc *types.Incident) error {
	log := o.log.WithField("incidentId", inc.ID)

	if inc.Status == types.IncidentStatusHealing || inc.Status == types.IncidentStatusResolved {
		log.Debug("enqueue ignored: incident already healing or resolved")
		return nil
	}

	res := o.safety.TryAdmit(time.Now().UTC(), inc.AttemptCount)
	switch res {
	case safety.DeniedKillSwitch:
		o.recordDenied(log, "kill-switch active")
		return nil
	case safety.DeniedRateLimit:
		o.recordDenied(log, "rate limit exceeded")
		return nil
	case safety.DeniedLockHeld:
		o.recordDenied(log, "healing lock held")
		return nil
	case safety.DeniedAttemptCap:
		inc.Status = types.IncidentStatusFailed
		if err := o.incidents.Save(ctx, inc); err != nil {
			log.WithError(err).Warn("failed to persist attempt-cap failure")
		}
		o.recordDenied(log, "attempt cap reached")
		return nil
	}

	released := false
	release := func() {
		if !released {
			released = true
			o.safety.Release()
		}
	}
	defer release()

	if err := o.runSession(ctx, inc, log); err != nil {
		log.WithError(err).Warn("healing session did not complete successfully")
	}
	return nil
}

func (o *Orchestrator) recordDenied(log *logrus.Entry, reason string) {
	log.WithField("reason", reason).Info("admission denied")
	if o.metrics != nil {
		o.metrics.RecordAdmissionDenied()
	}
}

// runSession opens a new HealingSession for inc and drives it through
// diagnosis and tier selection, synchronously, up to the first
// suspension point.
func (o *Orchestrator) runSession(ctx context.Context, inc *types.Incident, log *logrus.Entry) error {
	// Stale snapshots from an earlier, terminal session must never feed
	// this session's rollback.
	if d, ok := o.workspace.(interface{ DiscardSnapshots() }); ok {
		d.DiscardSnapshots()
	}

	now := time.Now().UTC()
	session := &types.HealingSession{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Phase:      types.SessionPhaseDiagnosis,
		Status:     types.SessionStatusActive,
		CreatedAt:  now,
	}

	inc.Status = types.IncidentStatusHealing
	inc.AttemptCount++
	inc.LastAttemptAt = &now
	if err := o.incidents.Save(ctx, inc); err != nil {
		return fmt.Errorf("%w: save incident before session start: %v", herrors.ErrTransient, err)
	}
	if err := o.audit.PutSession(ctx, session); err != nil {
		return fmt.Errorf("%w: persist session: %v", herrors.ErrTransient, err)
	}

	attempt := &types.HealAttempt{
		ID:            uuid.NewString(),
		IncidentID:    inc.ID,
		SessionID:     session.ID,
		AttemptNumber: inc.AttemptCount,
	}
	appendAction(attempt, "diagnosis_started", nil)

	if o.classify != nil {
		result := o.classify.Classify(inc)
		appendAction(attempt, "classified", map[string]any{
			"category":       result.Category,
			"isAgentFailure": result.IsAgentFailure,
		})
	}

	sig := signature.ErrorSignature(string(inc.Kind), inc.Description, firstStackFrame(inc.StackTrace))

	kbEntry, err := o.kb.Lookup(ctx, sig)
	if err != nil {
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: kb lookup: %v", herrors.ErrTransient, err), "knowledge base lookup failed")
	}

	if kbEntry != nil {
		kbConfidence := kbLookupConfidence(kbEntry)
		appendAction(attempt, "kb_lookup", map[string]any{"signature": sig, "confidence": kbConfidence})
		if kbConfidence >= o.kbAutoApplyThreshold {
			if fix, decodeErr := decodeFixPayload(kbEntry.SuccessfulFix); decodeErr == nil && len(fix.Files) > 0 {
				session.Strategy = types.StrategyKnowledgeBase
				session.KBMatchID = sig
				session.KBMatchConfidence = kbConfidence
				session.DiagnosisNotes = fix.Description
				session.ProposedFix = fix.Description
				o.publish(audit.Event{Kind: audit.EventHealingStarted, IncidentID: inc.ID, SessionID: session.ID, Strategy: string(session.Strategy), UsedKnowledgeBase: true})
				if o.metrics != nil {
					o.metrics.RecordHealingAttempt(string(session.Strategy))
				}
				return o.repairAndFinish(ctx, inc, session, attempt, sig, fix)
			}
			appendAction(attempt, "kb_fix_unusable", nil)
		}
	} else {
		appendAction(attempt, "kb_lookup", map[string]any{"signature": sig, "match": false})
	}

	return o.dispatchToWorker(ctx, inc, session, attempt, sig)
}

// dispatchToWorker submits a tier-2 job and returns immediately,
// leaving the session active and awaiting HandleWorkerCompletion.
// Escalation (tier 3) is never reached from here: a missing system
// user resolution fails the session instead of auto-escalating, per
// the invariant that escalation requires an explicit user request.
func (o *Orchestrator) dispatchToWorker(ctx context.Context, inc *types.Incident, session *types.HealingSession, attempt *types.HealAttempt, sig string) error {
	session.Strategy = types.StrategyWorkerAgent

	systemUserID, ok := o.identity.GetSystemUserID(ctx)
	if !ok {
		return o.failSession(ctx, inc, session, attempt, herrors.ErrEscalationNotInvoked, "no system user resolvable; escalation requires an explicit user request")
	}

	diagMessage := diagnosticMessage(inc)
	session.DiagnosisNotes = diagMessage
	o.publish(audit.Event{Kind: audit.EventHealingStarted, IncidentID: inc.ID, SessionID: session.ID, Strategy: string(session.Strategy), UsedKnowledgeBase: false})

	jobID, err := o.worker.SubmitJob(ctx, systemUserID, diagMessage)
	if err != nil {
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: worker submit: %v", herrors.ErrRepairProposalFailed, err), "repair proposal failed: worker submit error; escalation requires explicit user request")
	}

	session.Phase = types.SessionPhaseRepair
	session.WorkerJobID = jobID
	appendAction(attempt, "worker_job_submitted", map[string]any{"jobId": jobID, "signature": sig})

	if err := o.audit.PutSession(ctx, session); err != nil {
		o.log.WithError(err).Warn("failed to persist repair-phase session")
	}
	if err := o.audit.AppendAttempt(ctx, attempt); err != nil {
		o.log.WithError(err).Warn("failed to append heal attempt for dispatched worker job")
	}
	if o.metrics != nil {
		o.metrics.RecordHealingAttempt(string(session.Strategy))
	}
	// Session remains active; HandleWorkerCompletion resumes it.
	return nil
}

// repairAndFinish stages fix.Files into the workspace, verifies, and
// either rolls back on failure or proceeds to the confidence-gated
// commit decision. Shared by the tier-1 synchronous path and the
// tier-2 worker-completion callback, per the resolved design decision
// that a worker-produced fix re-enters this same pipeline rather than
// trusting the worker's own verification.
func (o *Orchestrator) repairAndFinish(ctx context.Context, inc *types.Incident, session *types.HealingSession, attempt *types.HealAttempt, sig string, fix FixPayload) error {
	filePaths := filePathsOf(fix.Files)

	var written []string
	for _, fe := range fix.Files {
		if err := o.workspace.WriteFile(ctx, fe.Path, fe.Content); err != nil {
			o.rollback(ctx, written)
			return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: stage %s: %v", herrors.ErrInvariantViolation, fe.Path, err), "repair proposal failed: could not stage files")
		}
		written = append(written, fe.Path)
	}

	session.Phase = types.SessionPhaseVerify
	session.FilesChanged = filePaths
	appendAction(attempt, "files_staged", map[string]any{"count": len(filePaths)})

	vr, err := o.verifier.Verify(ctx, filePaths)
	if err != nil {
		o.rollback(ctx, filePaths)
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: %v", herrors.ErrTransient, err), "verification could not run")
	}
	session.VerificationResults = vr
	session.VerificationPassed = vr.Passed
	appendAction(attempt, "verification_ran", map[string]any{"passed": vr.Passed})

	if !vr.Passed {
		o.rollback(ctx, filePaths)
		attempt.VerificationPassed = false

		fa := &types.FixAttempt{
			ID:                  uuid.NewString(),
			ErrorSignature:      sig,
			SessionID:           session.ID,
			ProposedFix:         fix.Description,
			Outcome:             types.FixOutcomeRolledBack,
			VerificationResults: vr,
			CompletedAt:         timePtr(time.Now().UTC()),
		}
		if err := o.audit.PutFixAttempt(ctx, fa); err != nil {
			o.log.WithError(err).Warn("failed to persist rolled-back fix attempt")
		}
		if err := o.kb.UpdateCounters(ctx, sig, false); err != nil {
			o.log.WithError(err).Warn("failed to update kb counters after verification failure")
		}
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: %s", herrors.ErrVerificationFailed, vr.ErrorDetails), "healing failed verification")
	}
	attempt.VerificationPassed = true

	recentOutcomes, err := o.audit.RecentFixOutcomes(ctx, 10)
	if err != nil {
		o.log.WithError(err).Warn("failed to load recent fix outcomes; scoring without history")
	}
	kbEntryForScore, err := o.kb.Lookup(ctx, sig)
	if err != nil {
		o.log.WithError(err).Warn("failed to reload kb entry for scoring")
	}
	fileStats := computeFileStats(ctx, o.workspace, filePaths)
	verified := true
	result := o.scorer.Score(confidence.Input{
		KBEntry:            kbEntryForScore,
		FilesModified:      filePaths,
		FileStats:          fileStats,
		RecentOutcomes:     recentOutcomes,
		VerificationPassed: &verified,
	})
	appendAction(attempt, "confidence_scored", map[string]any{"score": result.Score, "recommendation": result.Recommendation})

	message := fmt.Sprintf("[AUTO-HEAL] Fix %s: %s", inc.Kind, inc.Title)

	if result.Recommendation == "create_pr" {
		return o.openPullRequest(ctx, inc, session, attempt, sig, fix, result, vr, filePaths)
	}
	return o.commitToMain(ctx, inc, session, attempt, sig, fix, result, vr, filePaths, message)
}

func (o *Orchestrator) commitToMain(ctx context.Context, inc *types.Incident, session *types.HealingSession, attempt *types.HealAttempt, sig string, fix FixPayload, result confidence.Result, vr *types.VerificationResults, filePaths []string, message string) error {
	cr, err := o.commits.CommitToMain(ctx, fix.Files, message)
	if err != nil && !errors.Is(err, commit.ErrNothingToCommit) {
		o.rollback(ctx, filePaths)
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: %v", herrors.ErrCommitFailed, err), "commit to main failed")
	}
	if cr != nil {
		session.CommitHash = cr.Hash
	}
	appendAction(attempt, "committed_to_main", map[string]any{"hash": session.CommitHash})

	fa := &types.FixAttempt{
		ID:                  uuid.NewString(),
		ErrorSignature:      sig,
		SessionID:           session.ID,
		ProposedFix:         fix.Description,
		ConfidenceScore:     result.Score,
		Outcome:             types.FixOutcomeSuccess,
		VerificationResults: vr,
	}

	if o.requireDeployment {
		now := time.Now().UTC()
		session.Phase = types.SessionPhaseDeploy
		session.DeploymentStatus = types.DeploymentStatusDeploying
		session.DeploymentStartedAt = &now
		attempt.Success = true
		fa.Outcome = types.FixOutcomePending
		fa.CompletedAt = &now

		if err := o.audit.PutSession(ctx, session); err != nil {
			o.log.WithError(err).Warn("failed to persist deploying session")
		}
		if err := o.audit.AppendAttempt(ctx, attempt); err != nil {
			o.log.WithError(err).Warn("failed to append heal attempt for deploying session")
		}
		if err := o.audit.PutFixAttempt(ctx, fa); err != nil {
			o.log.WithError(err).Warn("failed to persist pending fix attempt")
		}
		o.publish(audit.Event{Kind: audit.EventDeploymentStatus, IncidentID: inc.ID, SessionID: session.ID, DeploymentStatus: string(session.DeploymentStatus)})
		// Session remains active; HandleDeploymentReport resumes it.
		return nil
	}

	fa.CompletedAt = timePtr(time.Now().UTC())
	o.completeSuccess(ctx, inc, session, attempt, sig, fix, fa)
	return nil
}

func (o *Orchestrator) openPullRequest(ctx context.Context, inc *types.Incident, session *types.HealingSession, attempt *types.HealAttempt, sig string, fix FixPayload, result confidence.Result, vr *types.VerificationResults, filePaths []string) error {
	edits := make([]commit.FileEdit, 0, len(fix.Files))
	for _, fe := range fix.Files {
		content, err := o.workspace.ReadFile(ctx, fe.Path)
		if err != nil {
			o.log.WithError(err).WithField("path", fe.Path).Warn("skipping unreadable file for PR path")
			continue
		}
		edits = append(edits, commit.FileEdit{Path: fe.Path, Content: content})
	}
	if len(edits) == 0 {
		o.rollback(ctx, filePaths)
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: no readable files survived for PR", herrors.ErrCommitFailed), "no files survived to push")
	}

	branch := "auto-heal-" + shortID(inc.ID, 8)
	if err := o.commits.CreateBranchFromDefault(ctx, branch); err != nil {
		o.rollback(ctx, filePaths)
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: create branch: %v", herrors.ErrCommitFailed, err), "failed to create branch")
	}
	if err := o.commits.PushBranch(ctx, branch, edits, "Auto-heal: "+inc.Title); err != nil {
		o.rollback(ctx, filePaths)
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: push branch: %v", herrors.ErrCommitFailed, err), "failed to push branch")
	}

	body, err := prBody(fix.Description, result, vr)
	if err != nil {
		o.rollback(ctx, filePaths)
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: build pr body: %v", herrors.ErrCommitFailed, err), "failed to build pull request body")
	}
	pr, err := o.commits.OpenOrUpdatePR(ctx, branch, "Auto-heal: "+inc.Title, body)
	if err != nil {
		o.rollback(ctx, filePaths)
		return o.failSession(ctx, inc, session, attempt, fmt.Errorf("%w: open pr: %v", herrors.ErrCommitFailed, err), "failed to open pull request")
	}

	session.PRNumber = pr.Number
	session.PRURL = pr.URL
	inc.FixDescription = "PR created: " + pr.URL
	appendAction(attempt, "pull_request_opened", map[string]any{"number": pr.Number, "url": pr.URL})

	fa := &types.FixAttempt{
		ID:                  uuid.NewString(),
		ErrorSignature:      sig,
		SessionID:           session.ID,
		ProposedFix:         fix.Description,
		ConfidenceScore:     result.Score,
		Outcome:             types.FixOutcomeSuccess,
		VerificationResults: vr,
		PRNumber:            pr.Number,
		PRURL:               pr.URL,
		CompletedAt:         timePtr(time.Now().UTC()),
	}
	o.completeSuccess(ctx, inc, session, attempt, sig, fix, fa)
	return nil
}

func (o *Orchestrator) completeSuccess(ctx context.Context, inc *types.Incident, session *types.HealingSession, attempt *types.HealAttempt, sig string, fix FixPayload, fa *types.FixAttempt) {
	now := time.Now().UTC()
	session.Phase = types.SessionPhaseComplete
	session.Status = types.SessionStatusSuccess
	session.CompletedAt = &now
	attempt.Success = true
	attempt.CompletedAt = &now

	inc.Status = types.IncidentStatusResolved
	inc.ResolvedAt = &now
	if session.CommitHash != "" {
		inc.CommitHash = session.CommitHash
	}

	if err := o.audit.PutSession(ctx, session); err != nil {
		o.log.WithError(err).Warn("failed to persist completed session")
	}
	if err := o.audit.AppendAttempt(ctx, attempt); err != nil {
		o.log.WithError(err).Warn("failed to append completed heal attempt")
	}
	if err := o.audit.PutFixAttempt(ctx, fa); err != nil {
		o.log.WithError(err).Warn("failed to persist fix attempt")
	}
	if err := o.incidents.Save(ctx, inc); err != nil {
		o.log.WithError(err).Warn("failed to persist resolved incident")
	}
	if err := o.kb.Record(ctx, sig, inc.Kind, inc.Title, encodeFixPayload(fix), true); err != nil {
		o.log.WithError(err).Warn("failed to record kb fix")
	}

	o.safety.RecordSuccess()
	if o.metrics != nil {
		o.metrics.RecordHealingSuccess(now.Sub(session.CreatedAt).Milliseconds())
		if fa.PRNumber != 0 {
			o.metrics.RecordPRCreated()
		}
	}

	result, msg := "success", "healing completed successfully"
	if fa.PRNumber != 0 {
		result, msg = "pr_created", "pull request created for review"
	}
	o.publish(audit.Event{
		Kind: audit.EventHealingComplete, IncidentID: inc.ID, SessionID: session.ID,
		Strategy: string(session.Strategy), Result: result, Message: msg,
		PRNumber: fa.PRNumber, PRURL: fa.PRURL,
	})
}

func (o *Orchestrator) failSession(ctx context.Context, inc *types.Incident, session *types.HealingSession, attempt *types.HealAttempt, cause error, publicMessage string) error {
	now := time.Now().UTC()
	session.Phase = types.SessionPhaseFailed
	session.Status = types.SessionStatusFailed
	session.Error = cause.Error()
	session.CompletedAt = &now

	attempt.Success = false
	attempt.Error = cause.Error()
	attempt.CompletedAt = &now

	inc.Status = types.IncidentStatusFailed

	if err := o.audit.PutSession(ctx, session); err != nil {
		o.log.WithError(err).Warn("failed to persist failed session")
	}
	if err := o.audit.AppendAttempt(ctx, attempt); err != nil {
		o.log.WithError(err).Warn("failed to append failed heal attempt")
	}
	if err := o.incidents.Save(ctx, inc); err != nil {
		o.log.WithError(err).Warn("failed to persist failed incident")
	}

	activated := o.safety.RecordFailure(now)
	if o.metrics != nil {
		o.metrics.RecordHealingFailure()
	}
	o.publish(audit.Event{Kind: audit.EventHealingComplete, IncidentID: inc.ID, SessionID: session.ID, Strategy: string(session.Strategy), Result: "failed", Message: publicMessage})

	if activated {
		snap := o.safety.Snapshot()
		var until int64
		if snap.KillSwitchUntil != nil {
			until = snap.KillSwitchUntil.Unix()
		}
		if o.metrics != nil {
			o.metrics.RecordKillSwitchActivation()
		}
		o.publish(audit.Event{
			Kind: audit.EventKillSwitchActivated, IncidentID: inc.ID, SessionID: session.ID,
			ConsecutiveFailures: snap.ConsecutiveFailures, DisabledUntilUnix: until,
			Message: "kill-switch activated after consecutive healing failures",
		})
	}
	return cause
}

func (o *Orchestrator) rollback(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := o.workspace.RevertFile(ctx, p); err != nil {
			o.log.WithError(err).WithField("path", p).Warn("rollback failed for file")
		}
	}
}

func (o *Orchestrator) publish(ev audit.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}
