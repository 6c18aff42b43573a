// Package camunda is the gateway to the remote workflow engine's REST API.
// It is a thin remote-call abstraction: every operation is one HTTP round
// trip with no local caching and no business logic. The engine is the sole
// source of truth and the sole serialization point for case state.
package camunda

import (
	"fmt"
	"strings"

	"github.com/thridium/casetrack/model"
)

// Task is an active user task as returned by the engine's task query API.
type Task struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Created           string `json:"created"`
	ProcessInstanceID string `json:"processInstanceId"`
	TaskDefinitionKey string `json:"taskDefinitionKey"`
	Assignee          string `json:"assignee"`
}

// ProcessInstance is a running process as returned by the start endpoint.
type ProcessInstance struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definitionId"`
	BusinessKey  string `json:"businessKey"`
	Ended        bool   `json:"ended"`
	Suspended    bool   `json:"suspended"`
}

// HistoricProcessInstance is a finished process run from the historical store.
type HistoricProcessInstance struct {
	ID                   string `json:"id"`
	BusinessKey          string `json:"businessKey"`
	ProcessDefinitionKey string `json:"processDefinitionKey"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
	RemovalTime          string `json:"removalTime"`
	State                string `json:"state"`
}

// HistoricVariableInstance is one archived variable value.
type HistoricVariableInstance struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Value      any            `json:"value"`
	ValueInfo  map[string]any `json:"valueInfo"`
	State      string         `json:"state"`
	CreateTime string         `json:"createTime"`
}

// countResult is the engine's count-endpoint payload.
type countResult struct {
	Count int `json:"count"`
}

// filterOperators are the comparison operators accepted in variable filter
// expressions, matching the engine's own query syntax.
var filterOperators = map[string]bool{
	"eq":   true,
	"neq":  true,
	"gt":   true,
	"gteq": true,
	"lt":   true,
	"lteq": true,
	"like": true,
}

// ValidateFilter checks a comma-separated list of key_operator_value clauses.
// The expression is forwarded verbatim to the engine's processVariables query
// parameter, so only the clause shape is validated here.
func ValidateFilter(filter string) error {
	if filter == "" {
		return nil
	}
	for _, clause := range strings.Split(filter, ",") {
		parts := strings.Split(clause, "_")
		if len(parts) < 3 {
			return fmt.Errorf("filter clause %q is not of the form key_operator_value", clause)
		}
		// The operator is the second-to-last segment; keys and values may
		// themselves contain underscores.
		if !containsOperator(parts) {
			return fmt.Errorf("filter clause %q has no recognised operator (eq, neq, gt, gteq, lt, lteq, like)", clause)
		}
	}
	return nil
}

func containsOperator(parts []string) bool {
	for _, p := range parts[1 : len(parts)-1] {
		if filterOperators[p] {
			return true
		}
	}
	return false
}

// foldVariableInstances collapses the history API's list-of-variables shape
// into the name-keyed envelope map used everywhere else.
func foldVariableInstances(instances []HistoricVariableInstance) model.Variables {
	vars := make(model.Variables, len(instances))
	for _, inst := range instances {
		vars[inst.Name] = model.Variable{
			Type:      inst.Type,
			Value:     inst.Value,
			ValueInfo: inst.ValueInfo,
		}
	}
	return vars
}
