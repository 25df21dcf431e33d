// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package confidence computes the 0-100 score gating auto-commit
// versus PR review. The formula is additive-then-clamped: each factor
// is computed independently, summed, and the total is clamped once the
// optional bonus has been added.
package confidence

import (
	"math"
	"strconv"

	"github.com/traylinx/healctl/internal/hcp/types"
)

// FileStat summarizes one modified file for the test-coverage and
// complexity factors.
type FileStat struct {
	HasTestSibling bool
	Lines          int
	Functions      int
	Classes        int
	Conditionals   int
	Loops          int
}

// Input bundles the already-fetched data the scorer needs. The scorer
// itself performs no I/O; callers resolve the KB entry, per-file
// stats, and recent outcome history before calling Score.
type Input struct {
	// KBEntry is the knowledge-base match for this error signature, if any.
	KBEntry *types.KBEntry

	// FilesModified lists the paths changed by the proposed fix.
	FilesModified []string

	// FileStats maps each path in FilesModified to its heuristic stats.
	// A missing entry is treated as a zero-value FileStat.
	FileStats map[string]FileStat

	// RecentOutcomes holds up to the last 10 FixAttempt outcomes (any
	// error kind), most-recent last. True means the attempt succeeded.
	RecentOutcomes []bool

	// VerificationPassed is nil when verification has not yet run.
	VerificationPassed *bool
}

// Factors is the breakdown of the four scoring components plus bonus.
type Factors struct {
	KBMatch           float64
	TestCoverage      float64
	CodeComplexity    float64
	HistoricalSuccess float64
	VerificationBonus float64
}

// Result is the scorer's output: a 0-100 score, its factor breakdown,
// and the commit-vs-PR recommendation.
type Result struct {
	Score          int
	Factors        Factors
	Recommendation string
	Reasoning      []string
}

// Scorer computes confidence scores with a configurable auto-commit threshold.
type Scorer struct {
	autoCommitThreshold int
}

// New creates a Scorer. autoCommitThreshold defaults to 95 if <= 0.
func New(autoCommitThreshold int) *Scorer {
	if autoCommitThreshold <= 0 {
		autoCommitThreshold = 95
	}
	return &Scorer{autoCommitThreshold: autoCommitThreshold}
}

const (
	recommendationAutoCommit = "auto_commit"
	recommendationCreatePR   = "create_pr"
)

// Score computes the four-factor score and the commit/PR recommendation.
func (s *Scorer) Score(in Input) Result {
	var reasoning []string

	kbFactor := kbMatchFactor(in.KBEntry)
	reasoning = append(reasoning, factorReason("kb_match", kbFactor))

	testFactor := testCoverageFactor(in.FilesModified, in.FileStats)
	reasoning = append(reasoning, factorReason("test_coverage", testFactor))

	complexityFactor := codeComplexityFactor(in.FilesModified, in.FileStats)
	reasoning = append(reasoning, factorReason("code_complexity", complexityFactor))

	historyFactor := historicalSuccessFactor(in.RecentOutcomes)
	reasoning = append(reasoning, factorReason("historical_success", historyFactor))

	total := kbFactor + testFactor + complexityFactor + historyFactor
	total = clamp(total, 0, 100)

	var bonus float64
	if in.VerificationPassed != nil && *in.VerificationPassed {
		bonus = 5
		reasoning = append(reasoning, "verification_bonus: +5 (verification passed)")
	}
	total = clamp(total+bonus, 0, 100)

	recommendation := recommendationCreatePR
	if int(math.Round(total)) >= s.autoCommitThreshold {
		recommendation = recommendationAutoCommit
	}

	return Result{
		Score: int(math.Round(total)),
		Factors: Factors{
			KBMatch:           kbFactor,
			TestCoverage:      testFactor,
			CodeComplexity:    complexityFactor,
			HistoricalSuccess: historyFactor,
			VerificationBonus: bonus,
		},
		Recommendation: recommendation,
		Reasoning:      reasoning,
	}
}

// kbMatchFactor contributes 0-40: 40 * successRate if an entry exists,
// else a baseline of 10 (no history to penalize against).
func kbMatchFactor(entry *types.KBEntry) float64 {
	if entry == nil || entry.TimesEncountered <= 0 {
		return 10
	}
	return 40 * entry.SuccessRate()
}

// testCoverageFactor contributes 0-20: the fraction of modified files
// with a conventional test sibling, times 20.
func testCoverageFactor(files []string, stats map[string]FileStat) float64 {
	if len(files) == 0 {
		return 0
	}
	covered := 0
	for _, f := range files {
		if stats[f].HasTestSibling {
			covered++
		}
	}
	return 20 * float64(covered) / float64(len(files))
}

// codeComplexityFactor contributes 0-20 via a per-file heuristic score
// averaged across modified files, then piecewise-linear mapped:
// <10 -> 20, 10..30 -> 20..10, >30 -> 10..0 (floor 0).
func codeComplexityFactor(files []string, stats map[string]FileStat) float64 {
	if len(files) == 0 {
		return 20
	}
	var sum float64
	for _, f := range files {
		st := stats[f]
		sum += float64(st.Lines)/100 + float64(st.Functions) + 2*float64(st.Classes) + float64(st.Conditionals) + float64(st.Loops)
	}
	avg := sum / float64(len(files))
	return complexityToScore(avg)
}

func complexityToScore(complexity float64) float64 {
	switch {
	case complexity < 10:
		return 20
	case complexity <= 30:
		// linear interpolation from 20 at 10 down to 10 at 30
		return 20 - (complexity-10)/20*10
	default:
		// linear interpolation from 10 at 30 down to 0, floored at 0
		score := 10 - (complexity-30)/30*10
		return math.Max(0, score)
	}
}

// historicalSuccessFactor contributes 0-20: success rate over the last
// 10 recorded FixAttempts (any kind) times 20; baseline 10 if empty.
func historicalSuccessFactor(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 10
	}
	window := outcomes
	if len(window) > 10 {
		window = window[len(window)-10:]
	}
	successes := 0
	for _, ok := range window {
		if ok {
			successes++
		}
	}
	return 20 * float64(successes) / float64(len(window))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func factorReason(name string, value float64) string {
	return name + ": " + strconv.FormatFloat(value, 'f', 2, 64)
}
