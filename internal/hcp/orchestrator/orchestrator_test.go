// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/traylinx/healctl/internal/hcp/commit"
	"github.com/traylinx/healctl/internal/hcp/confidence"
	"github.com/traylinx/healctl/internal/hcp/identity"
	"github.com/traylinx/healctl/internal/hcp/safety"
	"github.com/traylinx/healctl/internal/hcp/signature"
	"github.com/traylinx/healctl/internal/hcp/types"
	"github.com/traylinx/healctl/internal/hcp/webhook"
)

// --- fakes ---------------------------------------------------------

type fakeKB struct {
	mu      sync.Mutex
	entries map[string]*types.KBEntry
}

func newFakeKB() *fakeKB { return &fakeKB{entries: make(map[string]*types.KBEntry)} }

func (f *fakeKB) Lookup(ctx context.Context, sig string) (*types.KBEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[sig]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeKB) Record(ctx context.Context, sig string, kind types.IncidentKind, context_ string, successfulFix string, wasSuccessful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[sig]
	if !ok {
		e = &types.KBEntry{ErrorSignature: sig, ErrorKind: kind, Context: context_, Confidence: 60}
		f.entries[sig] = e
	}
	e.TimesEncountered++
	if wasSuccessful {
		e.TimesFixed++
		e.SuccessfulFix = successfulFix
	}
	e.LastEncountered = time.Now().UTC()
	return nil
}

func (f *fakeKB) UpdateCounters(ctx context.Context, sig string, wasSuccessful bool) error {
	return f.Record(ctx, sig, "", "", "", wasSuccessful)
}

func (f *fakeKB) seed(sig string, confidence, timesEncountered, timesFixed int, fix FixPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[sig] = &types.KBEntry{
		ErrorSignature:   sig,
		Confidence:       confidence,
		TimesEncountered: timesEncountered,
		TimesFixed:       timesFixed,
		SuccessfulFix:    encodeFixPayload(fix),
	}
}

type fakeVerifier struct {
	passed bool
	detail string
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, filesModified []string) (*types.VerificationResults, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.VerificationResults{Passed: f.passed, ErrorDetails: f.detail, CheckedAt: time.Now().UTC()}, nil
}

type fakeCommits struct {
	mu              sync.Mutex
	commits         int
	nothingToCommit bool
	commitErr       error
	prErr           error
	branches        []string
	pushed          []string
	prs             []commit.PRResult
}

func (f *fakeCommits) CommitToMain(ctx context.Context, files []commit.FileEdit, message string) (*commit.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	if f.nothingToCommit {
		return nil, commit.ErrNothingToCommit
	}
	f.commits++
	return &commit.CommitResult{Hash: "deadbeef"}, nil
}

func (f *fakeCommits) CreateBranchFromDefault(ctx context.Context, branchName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, branchName)
	return nil
}

func (f *fakeCommits) PushBranch(ctx context.Context, branch string, files []commit.FileEdit, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, branch)
	return nil
}

func (f *fakeCommits) OpenOrUpdatePR(ctx context.Context, branch, title, body string) (*commit.PRResult, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	pr := commit.PRResult{Number: len(f.prs) + 1, URL: "https://forge.example/pr/" + branch}
	f.mu.Lock()
	f.prs = append(f.prs, pr)
	f.mu.Unlock()
	return &pr, nil
}

type fakeWorker struct {
	mu     sync.Mutex
	jobs   []string
	jobErr error
	nextID string
}

func (f *fakeWorker) SubmitJob(ctx context.Context, systemUserID, diagnosticMessage string) (string, error) {
	if f.jobErr != nil {
		return "", f.jobErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	if id == "" {
		id = "job-1"
	}
	f.jobs = append(f.jobs, id)
	return id, nil
}

type memWorkspace struct {
	mu       sync.Mutex
	files    map[string][]byte
	original map[string][]byte
}

func newMemWorkspace() *memWorkspace {
	return &memWorkspace{files: make(map[string][]byte), original: make(map[string][]byte)}
}

func (w *memWorkspace) ReadFile(ctx context.Context, path string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path], nil
}

func (w *memWorkspace) WriteFile(ctx context.Context, path string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.original[path]; !ok {
		w.original[path] = w.files[path]
	}
	w.files[path] = data
	return nil
}

func (w *memWorkspace) RevertFile(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if orig, ok := w.original[path]; ok {
		w.files[path] = orig
		delete(w.original, path)
	}
	return nil
}

func (w *memWorkspace) FileExists(ctx context.Context, path string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[path]
	return ok, nil
}

func (w *memWorkspace) TypeCheck(ctx context.Context) (bool, string, error) { return true, "", nil }

func (w *memWorkspace) ListFiles(ctx context.Context, dir string) ([]string, error) { return nil, nil }

type fakeAuditStore struct {
	mu       sync.Mutex
	sessions map[string]*types.HealingSession
	attempts []*types.HealAttempt
	fixes    []*types.FixAttempt
	outcomes []bool
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{sessions: make(map[string]*types.HealingSession)}
}

func (s *fakeAuditStore) PutSession(ctx context.Context, sess *types.HealingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeAuditStore) GetSession(ctx context.Context, id string) (*types.HealingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeAuditStore) AppendAttempt(ctx context.Context, a *types.HealAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *fakeAuditStore) PutFixAttempt(ctx context.Context, f *types.FixAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixes = append(s.fixes, f)
	return nil
}

func (s *fakeAuditStore) RecentFixOutcomes(ctx context.Context, limit int) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes, nil
}

// --- harness ---------------------------------------------------------

type harness struct {
	o         *Orchestrator
	incidents *MemoryIncidentRepository
	kb        *fakeKB
	verifier  *fakeVerifier
	commits   *fakeCommits
	worker    *fakeWorker
	ws        *memWorkspace
	store     *fakeAuditStore
	safetyEnv *safety.Envelope
}

func newHarness(t *testing.T, verifyPassed bool) *harness {
	t.Helper()
	kb := newFakeKB()
	verifier := &fakeVerifier{passed: verifyPassed}
	commits := &fakeCommits{}
	w := &fakeWorker{}
	ws := newMemWorkspace()
	store := newFakeAuditStore()
	incidents := NewMemoryIncidentRepository()
	resolver := identity.New(identity.FixedOwner("owner-1"))
	scorer := confidence.New(70)
	safetyEnv := safety.New(safety.Config{
		MaxAttemptsPerIncident: 3,
		MaxSessionsPerWindow:   10,
		WindowDuration:         time.Hour,
		KillSwitchThreshold:    3,
		KillSwitchDuration:     time.Hour,
		Cooldown:               time.Millisecond,
	})

	o := New(safetyEnv, kb, scorer, verifier, commits, ws, w, store, incidents, resolver,
		WithKBAutoApplyThreshold(90),
	)

	return &harness{o: o, incidents: incidents, kb: kb, verifier: verifier, commits: commits, worker: w, ws: ws, store: store, safetyEnv: safetyEnv}
}

func baseIncident(id string) *types.Incident {
	return &types.Incident{
		ID:          id,
		Kind:        types.IncidentKindRuntimeError,
		Severity:    types.SeverityHigh,
		Title:       "nil pointer in handler",
		Description: "panic: nil pointer dereference",
		StackTrace:  "handler.go:42\nmore.go:10",
		Status:      types.IncidentStatusOpen,
	}
}

// --- tests ---------------------------------------------------------

func TestEnqueueIncident_KnowledgeBaseHit_Tier1AutoCommits(t *testing.T) {
	h := newHarness(t, true)
	inc := baseIncident("inc-1")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	sig := signatureFor(inc)
	h.kb.seed(sig, 95, 10, 9, FixPayload{
		Description: "guard nil before deref",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("fixed")}},
	})

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	saved, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusResolved, saved.Status)
	require.Equal(t, 1, h.commits.commits)
	require.Empty(t, h.worker.jobs)
}

func TestEnqueueIncident_NoKBMatch_DispatchesToWorker(t *testing.T) {
	h := newHarness(t, true)
	inc := baseIncident("inc-2")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	saved, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusHealing, saved.Status)
	require.Len(t, h.worker.jobs, 1)
	require.Equal(t, 0, h.commits.commits)
}

func TestEnqueueIncident_VerificationFails_RollsBackAndFails(t *testing.T) {
	h := newHarness(t, false)
	h.verifier.detail = "type check failed"
	inc := baseIncident("inc-3")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	sig := signatureFor(inc)
	h.kb.seed(sig, 95, 10, 9, FixPayload{
		Description: "guard nil before deref",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("fixed")}},
	})
	h.ws.files["handler.go"] = []byte("original")

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	saved, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusFailed, saved.Status)
	require.Equal(t, []byte("original"), h.ws.files["handler.go"])
	require.Equal(t, 0, h.commits.commits)
}

func TestEnqueueIncident_LowConfidence_OpensPullRequest(t *testing.T) {
	h := newHarness(t, true)
	inc := baseIncident("inc-4")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	sig := signatureFor(inc)
	// High enough empirical success rate to clear the tier-1 floor, but
	// not the historical-success/test-coverage factors the confidence
	// scorer also weighs, so the blended score lands below the
	// auto-commit threshold.
	h.kb.seed(sig, 100, 20, 17, FixPayload{
		Description: "speculative fix",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("fixed")}},
	})

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	saved, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusResolved, saved.Status)
	require.Len(t, h.commits.prs, 1)
	require.Equal(t, 0, h.commits.commits)
}

func TestThreeConsecutiveFailures_ActivatesKillSwitch(t *testing.T) {
	h := newHarness(t, false)
	h.verifier.detail = "boom"

	// Seed a tier-1 match once: every incident below shares the same
	// kind/description/stack frame and therefore the same signature, so
	// each attempt takes the synchronous knowledge-base path straight
	// into a verification failure instead of suspending on a worker
	// dispatch.
	sig := signatureFor(baseIncident("inc-fail"))
	h.kb.seed(sig, 95, 990, 950, FixPayload{
		Description: "guard nil before deref",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("fixed")}},
	})

	for i := 0; i < 3; i++ {
		inc := baseIncident("inc-fail")
		inc.AttemptCount = i
		require.NoError(t, h.incidents.Save(context.Background(), inc))
		require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))
		time.Sleep(20 * time.Millisecond)
	}

	snap := h.safetyEnv.Snapshot()
	require.True(t, snap.KillSwitchActive)

	inc2 := baseIncident("inc-other")
	require.NoError(t, h.incidents.Save(context.Background(), inc2))
	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc2.ID))

	saved, err := h.incidents.Get(context.Background(), inc2.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusOpen, saved.Status)
}

func TestHandleWorkerCompletion_ReentersVerifyScorePipeline(t *testing.T) {
	h := newHarness(t, true)
	inc := baseIncident("inc-5")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))
	saved, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusHealing, saved.Status)

	var sessionID string
	for id, sess := range h.store.sessions {
		if sess.IncidentID == inc.ID {
			sessionID = id
		}
	}
	require.NotEmpty(t, sessionID)

	time.Sleep(20 * time.Millisecond)
	err = h.o.HandleWorkerCompletion(context.Background(), sessionID, WorkerCompletion{
		JobID:       "job-1",
		Success:     true,
		Description: "worker-proposed fix",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("worker fix")}},
	})
	require.NoError(t, err)

	final, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusResolved, final.Status)
	// No knowledge-base history exists for this signature, so the
	// blended confidence score lands below the auto-commit threshold
	// and the worker's fix goes out for review instead.
	require.Len(t, h.commits.prs, 1)
	require.Equal(t, 0, h.commits.commits)
}

func TestHandleWorkerCompletion_WorkerFailure_FailsSession(t *testing.T) {
	h := newHarness(t, true)
	inc := baseIncident("inc-6")
	require.NoError(t, h.incidents.Save(context.Background(), inc))
	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	var sessionID string
	for id, sess := range h.store.sessions {
		if sess.IncidentID == inc.ID {
			sessionID = id
		}
	}
	require.NotEmpty(t, sessionID)

	time.Sleep(20 * time.Millisecond)
	err := h.o.HandleWorkerCompletion(context.Background(), sessionID, WorkerCompletion{
		JobID:   "job-1",
		Success: false,
		Error:   "agent gave up",
	})
	require.NoError(t, err)

	final, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusFailed, final.Status)
}

func TestHandleDeploymentReport_SucceededCompletesSession(t *testing.T) {
	h := newHarness(t, true)
	h.o.requireDeployment = true
	inc := baseIncident("inc-7")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	sig := signatureFor(inc)
	h.kb.seed(sig, 95, 10, 9, FixPayload{
		Description: "guard nil before deref",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("fixed")}},
	})

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	mid, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusHealing, mid.Status)

	var sessionID string
	for id, sess := range h.store.sessions {
		if sess.IncidentID == inc.ID {
			sessionID = id
		}
	}
	require.NotEmpty(t, sessionID)

	time.Sleep(20 * time.Millisecond)
	err = h.o.HandleDeploymentReport(webhook.DeploymentReport{
		SessionID: sessionID,
		CommitSHA: "cafebabe",
		Status:    "succeeded",
	})
	require.NoError(t, err)

	final, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusResolved, final.Status)
	require.Equal(t, "cafebabe", final.CommitHash)
}

func TestHandleDeploymentReport_FailedRollsBackAndFails(t *testing.T) {
	h := newHarness(t, true)
	h.o.requireDeployment = true
	inc := baseIncident("inc-8")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	sig := signatureFor(inc)
	h.kb.seed(sig, 95, 10, 9, FixPayload{
		Description: "guard nil before deref",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("fixed")}},
	})
	h.ws.files["handler.go"] = []byte("original")

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	var sessionID string
	for id, sess := range h.store.sessions {
		if sess.IncidentID == inc.ID {
			sessionID = id
		}
	}
	require.NotEmpty(t, sessionID)

	time.Sleep(20 * time.Millisecond)
	err := h.o.HandleDeploymentReport(webhook.DeploymentReport{
		SessionID: sessionID,
		Status:    "failed",
		Detail:    "rollout crash-looped",
	})
	require.NoError(t, err)

	final, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusFailed, final.Status)
	require.Equal(t, []byte("original"), h.ws.files["handler.go"])
}

func TestHandleDeploymentReport_InProgress_LeavesSessionActive(t *testing.T) {
	h := newHarness(t, true)
	h.o.requireDeployment = true
	inc := baseIncident("inc-9")
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	sig := signatureFor(inc)
	h.kb.seed(sig, 95, 10, 9, FixPayload{
		Description: "guard nil before deref",
		Files:       []commit.FileEdit{{Path: "handler.go", Content: []byte("fixed")}},
	})

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	var sessionID string
	for id, sess := range h.store.sessions {
		if sess.IncidentID == inc.ID {
			sessionID = id
		}
	}
	require.NotEmpty(t, sessionID)

	time.Sleep(20 * time.Millisecond)
	err := h.o.HandleDeploymentReport(webhook.DeploymentReport{
		SessionID: sessionID,
		Status:    "rolling_out",
	})
	require.NoError(t, err)

	sess, err := h.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.False(t, sess.Status.IsTerminal())
	require.Equal(t, types.DeploymentStatus("rolling_out"), sess.DeploymentStatus)

	mid, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusHealing, mid.Status)
}

func TestAdmitAndStart_AttemptCapFailsWithoutHealing(t *testing.T) {
	h := newHarness(t, true)
	inc := baseIncident("inc-10")
	inc.AttemptCount = 3
	require.NoError(t, h.incidents.Save(context.Background(), inc))

	require.NoError(t, h.o.EnqueueIncident(context.Background(), inc.ID))

	saved, err := h.incidents.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, types.IncidentStatusFailed, saved.Status)
	require.Equal(t, 0, h.commits.commits)
	require.Empty(t, h.worker.jobs)
}

func signatureFor(inc *types.Incident) string {
	return signature.ErrorSignature(string(inc.Kind), inc.Description, firstStackFrame(inc.StackTrace))
}
