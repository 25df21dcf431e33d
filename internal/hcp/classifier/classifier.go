// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package classifier provides informational classification of an
// Incident into a platform-failure/agent-failure category, to help
// with triage. It never overrides the KB/threshold tier-selection
// rules; its output is advisory only.
package classifier

import (
	"regexp"

	"github.com/traylinx/healctl/internal/hcp/types"
)

// Result is the classifier's output for one incident.
type Result struct {
	Category          string
	IsAgentFailure    bool
	Evidence          []string
	SuggestedStrategy types.RepairStrategy
}

// FailureClassifier classifies an incident as platform_failure vs
// agent_failure and returns a suggested tier.
type FailureClassifier interface {
	Classify(incident *types.Incident) Result
}

// signal is one ordered classification rule, evaluated against an
// incident's description/stack trace/logs.
type signal struct {
	name              string
	pattern           *regexp.Regexp
	category          string
	isAgentFailure    bool
	suggestedStrategy types.RepairStrategy
}

// defaultSignals is an ordered table, highest-priority first: specific
// agent signatures before generic platform ones.
var defaultSignals = []signal{
	{
		name:              "agent_tool_error",
		pattern:           regexp.MustCompile(`(?i)tool (call|invocation) (failed|error)`),
		category:          "agent_failure",
		isAgentFailure:    true,
		suggestedStrategy: types.StrategyWorkerAgent,
	},
	{
		name:              "agent_hallucinated_path",
		pattern:           regexp.MustCompile(`(?i)no such file or directory`),
		category:          "agent_failure",
		isAgentFailure:    true,
		suggestedStrategy: types.StrategyWorkerAgent,
	},
	{
		name:              "build_failure",
		pattern:           regexp.MustCompile(`(?i)(compilation|build) (failed|error)`),
		category:          "platform_failure",
		isAgentFailure:    false,
		suggestedStrategy: types.StrategyKnowledgeBase,
	},
	{
		name:              "runtime_error",
		pattern:           regexp.MustCompile(`(?i)(undefined|null pointer|panic|segmentation fault)`),
		category:          "platform_failure",
		isAgentFailure:    false,
		suggestedStrategy: types.StrategyKnowledgeBase,
	},
	{
		name:              "resource_pressure",
		pattern:           regexp.MustCompile(`(?i)(out of memory|cpu throttl|oom)`),
		category:          "platform_failure",
		isAgentFailure:    false,
		suggestedStrategy: types.StrategyWorkerAgent,
	},
}

// DefaultClassifier matches an incident's text fields against an
// ordered table of regex signals, first match wins.
type DefaultClassifier struct {
	signals []signal
}

// NewDefaultClassifier builds a classifier with the default signal table.
func NewDefaultClassifier() *DefaultClassifier {
	return &DefaultClassifier{signals: defaultSignals}
}

func (c *DefaultClassifier) Classify(incident *types.Incident) Result {
	haystack := incident.Description + "\n" + incident.StackTrace + "\n" + incident.Logs

	for _, sig := range c.signals {
		if sig.pattern.MatchString(haystack) {
			return Result{
				Category:          sig.category,
				IsAgentFailure:    sig.isAgentFailure,
				Evidence:          []string{sig.name + " matched"},
				SuggestedStrategy: sig.suggestedStrategy,
			}
		}
	}

	// No signal matched: fall back to the incident's own declared kind.
	if incident.Kind == types.IncidentKindAgentFailure {
		return Result{
			Category:          "agent_failure",
			IsAgentFailure:    true,
			Evidence:          []string{"incident.kind=agent_failure"},
			SuggestedStrategy: types.StrategyWorkerAgent,
		}
	}
	return Result{
		Category:          "platform_failure",
		IsAgentFailure:    false,
		Evidence:          []string{"no signal matched; defaulted by incident.kind"},
		SuggestedStrategy: types.StrategyKnowledgeBase,
	}
}
