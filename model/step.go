package model

import "strings"

// Step is a named stage of the use-case-3 workflow. The vocabulary is fixed
// and ordered: match, request, response, data-exchange, offline-analysis.
type Step string

const (
	StepMatch           Step = "match"
	StepRequest         Step = "request"
	StepResponse        Step = "response"
	StepDataExchange    Step = "data-exchange"
	StepOfflineAnalysis Step = "offline-analysis"
)

// Steps returns the step vocabulary in workflow order.
func Steps() []Step {
	return []Step{StepMatch, StepRequest, StepResponse, StepDataExchange, StepOfflineAnalysis}
}

// ParseStep returns the step matching s (case-insensitive), or false if s is
// not part of the vocabulary.
func ParseStep(s string) (Step, bool) {
	lowered := strings.ToLower(strings.TrimSpace(s))
	for _, step := range Steps() {
		if string(step) == lowered {
			return step, true
		}
	}
	return "", false
}

// MatchesTaskName reports whether the engine task's human-readable name
// refers to this step. Task names are free text ("Step2: Match"), so the
// check is case-insensitive substring containment, a heuristic rather than
// an exact key lookup.
func (s Step) MatchesTaskName(taskName string) bool {
	return strings.Contains(strings.ToLower(taskName), string(s))
}
