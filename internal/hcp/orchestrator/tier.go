// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/traylinx/healctl/internal/hcp/commit"
	"github.com/traylinx/healctl/internal/hcp/confidence"
	"github.com/traylinx/healctl/internal/hcp/types"
)

// FixPayload is the concrete shape a tier stores/produces: a human
// description plus the set of file edits it proposes. A knowledge-base
// entry's SuccessfulFix column carries one of these JSON-encoded, so a
// future tier-1 match can replay the exact same edits rather than just
// a textual note.
type FixPayload struct {
	Description string            `json:"description"`
	Files       []commit.FileEdit `json:"files"`
}

func encodeFixPayload(p FixPayload) string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeFixPayload(s string) (FixPayload, error) {
	var p FixPayload
	if s == "" {
		return p, fmt.Errorf("orchestrator: empty fix payload")
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return p, err
	}
	return p, nil
}

// kbLookupConfidence blends the entry's empirical success rate with
// its stored confidence score into a single 0-100 figure gating
// whether tier 1 may apply the fix without worker-agent involvement.
func kbLookupConfidence(e *types.KBEntry) int {
	if e == nil || e.TimesEncountered <= 0 {
		return 0
	}
	return int(math.Round(60*e.SuccessRate() + 0.4*float64(e.Confidence)))
}

// diagnosticTemplates renders a per-kind instruction for the worker
// agent, falling back to a generic prompt for kinds it doesn't know.
var diagnosticTemplates = map[types.IncidentKind]string{
	types.IncidentKindHighCPU:      "High CPU usage (severity=%s): %s. cpu_percent=%s. Diagnose the root cause and propose a fix.",
	types.IncidentKindHighMemory:   "High memory usage (severity=%s): %s. memory_mb=%s. Diagnose the root cause and propose a fix.",
	types.IncidentKindSafetyIssue:  "Safety issue (severity=%s): %s. Diagnose and propose a fix, prioritizing correctness over speed.",
	types.IncidentKindBuildFailure: "Build failure (severity=%s): %s. Diagnose the compile/build error and propose a fix.",
	types.IncidentKindRuntimeError: "Runtime error (severity=%s): %s. Diagnose the root cause from the stack trace and propose a fix.",
	types.IncidentKindAgentFailure: "Agent execution failure (severity=%s): %s. Diagnose what the agent did wrong and propose a fix.",
}

func diagnosticMessage(inc *types.Incident) string {
	tmpl, ok := diagnosticTemplates[inc.Kind]
	if !ok {
		return "Diagnose and fix: " + inc.Description
	}
	switch inc.Kind {
	case types.IncidentKindHighCPU:
		return fmt.Sprintf(tmpl, inc.Severity, inc.Description, metricString(inc.Metrics, "cpu_percent"))
	case types.IncidentKindHighMemory:
		return fmt.Sprintf(tmpl, inc.Severity, inc.Description, metricString(inc.Metrics, "memory_mb"))
	default:
		return fmt.Sprintf(tmpl, inc.Severity, inc.Description)
	}
}

func metricString(metrics map[string]float64, key string) string {
	if v, ok := metrics[key]; ok {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return "unknown"
}

// prBody delegates to commit.BuildPRBody for the structured JSON PR
// body handed to OpenOrUpdatePR, translating
// the scorer's Result into commit's gateway-local factor shape so this
// package never needs to import sjson directly.
func prBody(fixDescription string, result confidence.Result, vr *types.VerificationResults) (string, error) {
	verified := vr != nil && vr.Passed
	var details string
	if vr != nil {
		details = vr.ErrorDetails
	}
	return commit.BuildPRBody(fixDescription, result.Score, commit.ConfidenceFactors{
		KBMatch:           result.Factors.KBMatch,
		TestCoverage:      result.Factors.TestCoverage,
		CodeComplexity:    result.Factors.CodeComplexity,
		HistoricalSuccess: result.Factors.HistoricalSuccess,
		VerificationBonus: result.Factors.VerificationBonus,
	}, verified, details)
}

func appendAction(a *types.HealAttempt, action string, detail map[string]any) {
	a.ActionsTaken = append(a.ActionsTaken, types.ActionEntry{
		Action:    action,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// firstStackFrame returns the first line of trace verbatim; callers
// must not normalize whitespace or case, since two signatures
// differing only by that are, by design, distinct.
func firstStackFrame(trace string) string {
	if idx := strings.IndexByte(trace, '\n'); idx >= 0 {
		return trace[:idx]
	}
	return trace
}

func filePathsOf(files []commit.FileEdit) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

func shortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}

func timePtr(t time.Time) *time.Time { return &t }
