// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package audit implements the AuditStore collaborator (transactional
// session/attempt/fix-attempt persistence) and the fire-and-forget
// EventBus.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/traylinx/healctl/internal/hcp/types"
)

// Store persists HealingSession, HealAttempt, and FixAttempt rows.
// Every session insert/update must be durable before the orchestrator
// initiates the next state transition (write-then-transition).
type Store interface {
	PutSession(ctx context.Context, s *types.HealingSession) error
	GetSession(ctx context.Context, id string) (*types.HealingSession, error)
	AppendAttempt(ctx context.Context, a *types.HealAttempt) error
	PutFixAttempt(ctx context.Context, f *types.FixAttempt) error
	RecentFixOutcomes(ctx context.Context, limit int) ([]bool, error)
}

// SQLStore is a database/sql-backed Store, working against either
// sqlite3 (development) or pgx's stdlib driver (production).
type SQLStore struct {
	db *sql.DB
	pg bool
}

// StoreOption configures a SQLStore at construction.
type StoreOption func(*SQLStore)

// WithPostgresPlaceholders rewrites '?' placeholders to the $N form
// the pgx driver expects. Required when the store is backed by pgx.
func WithPostgresPlaceholders() StoreOption {
	return func(s *SQLStore) { s.pg = true }
}

func NewSQLStore(db *sql.DB, opts ...StoreOption) *SQLStore {
	s := &SQLStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLStore) q(query string) string {
	if !s.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Initialize creates the session, attempt, and fix-attempt tables
// if they do not exist.
func (s *SQLStore) Initialize(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS healing_sessions (
	id                    TEXT PRIMARY KEY,
	incident_id           TEXT NOT NULL,
	phase                 TEXT NOT NULL,
	status                TEXT NOT NULL,
	strategy              TEXT NOT NULL,
	model_tag             TEXT,
	worker_job_id         TEXT,
	kb_match_id           TEXT,
	kb_match_confidence   INTEGER,
	diagnosis_notes       TEXT,
	proposed_fix          TEXT,
	files_changed         TEXT,
	verification_passed   INTEGER,
	verification_details  TEXT,
	commit_hash           TEXT,
	deployment_status     TEXT,
	pr_number             INTEGER,
	pr_url                TEXT,
	error                 TEXT,
	created_at            TIMESTAMP NOT NULL,
	completed_at          TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_healing_sessions_incident ON healing_sessions(incident_id);

CREATE TABLE IF NOT EXISTS heal_attempts (
	id                   TEXT PRIMARY KEY,
	incident_id          TEXT NOT NULL,
	session_id           TEXT NOT NULL,
	attempt_number       INTEGER NOT NULL,
	strategy             TEXT NOT NULL,
	actions_taken        TEXT NOT NULL DEFAULT '[]',
	success              INTEGER NOT NULL,
	verification_passed  INTEGER NOT NULL,
	error                TEXT,
	completed_at         TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_heal_attempts_session ON heal_attempts(session_id);

CREATE TABLE IF NOT EXISTS fix_attempts (
	id                    TEXT PRIMARY KEY,
	error_signature       TEXT NOT NULL,
	session_id            TEXT NOT NULL,
	proposed_fix          TEXT,
	confidence_score      INTEGER NOT NULL,
	outcome               TEXT NOT NULL,
	verification_details  TEXT,
	pr_number             INTEGER,
	pr_url                TEXT,
	completed_at          TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_fix_attempts_completed ON fix_attempts(completed_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("audit: initialize schema: %w", err)
	}
	return nil
}

func (s *SQLStore) PutSession(ctx context.Context, sess *types.HealingSession) error {
	filesJSON, err := json.Marshal(sess.FilesChanged)
	if err != nil {
		return fmt.Errorf("audit: marshal files_changed: %w", err)
	}

	var verificationPassed *int
	var verificationDetails string
	if sess.VerificationResults != nil {
		v := boolToInt(sess.VerificationResults.Passed)
		verificationPassed = &v
		verificationDetails = sess.VerificationResults.ErrorDetails
	}

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, s.q(`
INSERT INTO healing_sessions (
	id, incident_id, phase, status, strategy, model_tag, worker_job_id, kb_match_id,
	kb_match_confidence, diagnosis_notes, proposed_fix, files_changed, verification_passed,
	verification_details, commit_hash, deployment_status, pr_number, pr_url, error, created_at, completed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	phase = excluded.phase,
	status = excluded.status,
	strategy = excluded.strategy,
	worker_job_id = excluded.worker_job_id,
	kb_match_id = excluded.kb_match_id,
	kb_match_confidence = excluded.kb_match_confidence,
	diagnosis_notes = excluded.diagnosis_notes,
	proposed_fix = excluded.proposed_fix,
	files_changed = excluded.files_changed,
	verification_passed = excluded.verification_passed,
	verification_details = excluded.verification_details,
	commit_hash = excluded.commit_hash,
	deployment_status = excluded.deployment_status,
	pr_number = excluded.pr_number,
	pr_url = excluded.pr_url,
	error = excluded.error,
	completed_at = excluded.completed_at`),
		sess.ID, sess.IncidentID, string(sess.Phase), string(sess.Status), string(sess.Strategy),
		sess.ModelTag, sess.WorkerJobID, sess.KBMatchID, sess.KBMatchConfidence, sess.DiagnosisNotes,
		sess.ProposedFix, string(filesJSON), verificationPassed, verificationDetails, sess.CommitHash,
		string(sess.DeploymentStatus), nullableInt(sess.PRNumber), sess.PRURL, sess.Error, createdAt, sess.CompletedAt)
	if err != nil {
		return fmt.Errorf("audit: put session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession reloads a session for resuming after an asynchronous
// suspension point (worker callback, deployment webhook). Returns nil,
// nil if no such session exists.
func (s *SQLStore) GetSession(ctx context.Context, id string) (*types.HealingSession, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT id, incident_id, phase, status, strategy, model_tag, worker_job_id, kb_match_id,
	kb_match_confidence, diagnosis_notes, proposed_fix, files_changed, verification_passed,
	verification_details, commit_hash, deployment_status, pr_number, pr_url, error, created_at, completed_at
FROM healing_sessions WHERE id = ?`), id)

	var sess types.HealingSession
	var phase, status, strategy, deploymentStatus string
	var filesJSON string
	var verificationPassed *int
	var verificationDetails sql.NullString
	var prNumber *int
	var modelTag, workerJobID, kbMatchID, diagnosisNotes, proposedFix, commitHash, prURL, errText sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.IncidentID, &phase, &status, &strategy, &modelTag,
		&workerJobID, &kbMatchID, &sess.KBMatchConfidence, &diagnosisNotes, &proposedFix, &filesJSON,
		&verificationPassed, &verificationDetails, &commitHash, &deploymentStatus, &prNumber, &prURL,
		&errText, &sess.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: get session %s: %w", id, err)
	}

	sess.Phase = types.SessionPhase(phase)
	sess.Status = types.SessionStatus(status)
	sess.Strategy = types.RepairStrategy(strategy)
	sess.DeploymentStatus = types.DeploymentStatus(deploymentStatus)
	sess.ModelTag = modelTag.String
	sess.WorkerJobID = workerJobID.String
	sess.KBMatchID = kbMatchID.String
	sess.DiagnosisNotes = diagnosisNotes.String
	sess.ProposedFix = proposedFix.String
	sess.CommitHash = commitHash.String
	sess.PRURL = prURL.String
	sess.Error = errText.String
	if prNumber != nil {
		sess.PRNumber = *prNumber
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	if filesJSON != "" {
		if err := json.Unmarshal([]byte(filesJSON), &sess.FilesChanged); err != nil {
			return nil, fmt.Errorf("audit: unmarshal files_changed for %s: %w", id, err)
		}
	}
	if verificationPassed != nil {
		sess.VerificationPassed = *verificationPassed != 0
		sess.VerificationResults = &types.VerificationResults{
			Passed:       sess.VerificationPassed,
			ErrorDetails: verificationDetails.String,
		}
	}
	return &sess, nil
}

func (s *SQLStore) AppendAttempt(ctx context.Context, a *types.HealAttempt) error {
	actionsJSON, err := json.Marshal(a.ActionsTaken)
	if err != nil {
		return fmt.Errorf("audit: marshal actions_taken: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
INSERT INTO heal_attempts (id, incident_id, session_id, attempt_number, strategy, actions_taken, success, verification_passed, error, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.IncidentID, a.SessionID, a.AttemptNumber, string(a.Strategy), string(actionsJSON),
		boolToInt(a.Success), boolToInt(a.VerificationPassed), a.Error, a.CompletedAt)
	if err != nil {
		return fmt.Errorf("audit: append attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) PutFixAttempt(ctx context.Context, f *types.FixAttempt) error {
	var verificationDetails string
	if f.VerificationResults != nil {
		verificationDetails = f.VerificationResults.ErrorDetails
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO fix_attempts (id, error_signature, session_id, proposed_fix, confidence_score, outcome, verification_details, pr_number, pr_url, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	outcome = excluded.outcome,
	verification_details = excluded.verification_details,
	pr_number = excluded.pr_number,
	pr_url = excluded.pr_url,
	completed_at = excluded.completed_at`),
		f.ID, f.ErrorSignature, f.SessionID, f.ProposedFix, f.ConfidenceScore, string(f.Outcome),
		verificationDetails, nullableInt(f.PRNumber), f.PRURL, f.CompletedAt)
	if err != nil {
		return fmt.Errorf("audit: put fix attempt %s: %w", f.ID, err)
	}
	return nil
}

func (s *SQLStore) RecentFixOutcomes(ctx context.Context, limit int) ([]bool, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT outcome FROM fix_attempts ORDER BY completed_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent fix outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []bool
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return nil, fmt.Errorf("audit: scan outcome: %w", err)
		}
		outcomes = append(outcomes, types.FixOutcome(outcome) == types.FixOutcomeSuccess)
	}
	// reverse to chronological order, oldest first, matching the
	// scorer's "most-recent last" convention.
	for i, j := 0, len(outcomes)-1; i < j; i, j = i+1, j-1 {
		outcomes[i], outcomes[j] = outcomes[j], outcomes[i]
	}
	return outcomes, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
