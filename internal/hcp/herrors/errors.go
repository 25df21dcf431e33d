// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package herrors defines the Healing Control Plane's error taxonomy
// as sentinel errors. Call sites wrap these with fmt.Errorf("%w", ...)
// so callers can branch with errors.Is instead of matching strings.
package herrors

import "errors"

var (
	// ErrAdmissionDenied covers kill-switch, rate-limit, lock-held, and
	// attempt-cap rejections. Recovered locally; no state change beyond
	// the incident's own attemptCount when the cap was the cause.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrRepairProposalFailed covers a failed Tier 1 apply or a failed
	// Tier 2 submit. Surfaces to the session as a failed note; never
	// auto-escalates to Tier 3.
	ErrRepairProposalFailed = errors.New("repair proposal failed")

	// ErrVerificationFailed covers a failed existence or type-check.
	// Mandates rollback before the session reaches failed.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrCommitFailed is treated identically to ErrVerificationFailed:
	// rollback, then fail.
	ErrCommitFailed = errors.New("commit failed")

	// ErrDeploymentFailed is reported by the deployment webhook.
	// Rollback, then fail.
	ErrDeploymentFailed = errors.New("deployment failed")

	// ErrTransient covers database/I/O errors. The supervisor releases
	// the lock and aborts the session; the incident is retried later.
	ErrTransient = errors.New("transient error")

	// ErrInvariantViolation covers path traversal, undefined content,
	// and truncation-heuristic failures. Rejected before any write;
	// never partially applied.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrEscalationNotInvoked marks Tier 3 as an intentionally inert
	// path: it is never auto-invoked by the orchestrator.
	ErrEscalationNotInvoked = errors.New("escalation requires explicit user request")
)
