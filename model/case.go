// Package model contains the shared domain types exchanged between the
// transport layer, the case state machine, and the workflow engine gateway.
package model

import (
	"encoding/json"
	"time"
)

// Well-known case variable names.
const (
	VarTemplate            = "uc_template"
	VarBusinessKey         = "businessKey"
	VarEvidence            = "evidence"
	VarIntermediateResults = "intermediate_results"
)

// Variable is the typed value envelope used by the workflow engine.
// Type carries engine-internal serialization metadata; it must be stripped
// before resubmitting a previously read composite value, because the engine
// rejects its own type tag on the write path.
type Variable struct {
	Type      string         `json:"type,omitempty"`
	Value     any            `json:"value"`
	ValueInfo map[string]any `json:"valueInfo,omitempty"`
}

// StripType returns a copy of the variable without engine type metadata.
func (v Variable) StripType() Variable {
	return Variable{Value: v.Value}
}

// StringValue returns the variable's value as a string, or "" if it is not one.
func (v Variable) StringValue() string {
	s, _ := v.Value.(string)
	return s
}

// MapValue returns the variable's value as an object, or false if it is not one.
func (v Variable) MapValue() (map[string]any, bool) {
	m, ok := v.Value.(map[string]any)
	return m, ok
}

// Variables is the per-case variable map keyed by variable name.
type Variables map[string]Variable

// CaseTask identifies the engine task representing a case's current step.
type CaseTask struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Created           string `json:"created"`
	ProcessInstanceID string `json:"processInstanceId"`
}

// Case is an open case: the active engine task plus the case variables.
type Case struct {
	Task CaseTask  `json:"task"`
	Vars Variables `json:"caseVars"`
}

// BusinessKey returns the case's externally visible identifier.
func (c Case) BusinessKey() string {
	return c.Vars[VarBusinessKey].StringValue()
}

// Template returns the case's use-case template name.
func (c Case) Template() string {
	return c.Vars[VarTemplate].StringValue()
}

// IntermediateResults returns the per-step result accumulator, or false if
// the case has none yet.
func (c Case) IntermediateResults() (map[string]any, bool) {
	v, ok := c.Vars[VarIntermediateResults]
	if !ok {
		return nil, false
	}
	return v.MapValue()
}

// Evidence returns the case's evidence records, or false if the evidence
// collection is entirely absent.
func (c Case) Evidence() ([]EvidenceRecord, bool) {
	v, ok := c.Vars[VarEvidence]
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(v.Value)
	if err != nil {
		return nil, false
	}
	var records []EvidenceRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false
	}
	return records, true
}

// HistoricCaseRun identifies a finished process run in the historical store.
type HistoricCaseRun struct {
	ID                   string `json:"id"`
	BusinessKey          string `json:"businessKey"`
	ProcessDefinitionKey string `json:"processDefinitionKey"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
	RemovalTime          string `json:"removalTime"`
	State                string `json:"state"`
}

// HistoricCase is a closed case as read from the engine's historical store.
// Historical records are read-only; no further mutation once archived.
type HistoricCase struct {
	Run  HistoricCaseRun `json:"task"`
	Vars Variables       `json:"caseVars"`
}

// Evidence returns the archived case's evidence records, or false if absent.
func (c HistoricCase) Evidence() ([]EvidenceRecord, bool) {
	return Case{Vars: c.Vars}.Evidence()
}

// CasePage is the pagination envelope returned by case listings.
type CasePage struct {
	Page        int   `json:"page"`
	HasNextPage bool  `json:"hasNextPage"`
	TotalPages  int   `json:"totalPages"`
	TotalItems  int   `json:"totalItems"`
	Data        []any `json:"data"`
}

// EvidenceRecord describes one piece of file evidence attached to a case.
// Records are owned exclusively by their case and ordered by insertion.
type EvidenceRecord struct {
	ID             string    `json:"id"`
	MimeType       string    `json:"type"`
	CreatedAt      time.Time `json:"createdAt"`
	StorageLocator string    `json:"url"`
	Description    string    `json:"description"`
	Tag            string    `json:"tag"`
	Title          string    `json:"title"`
	Source         string    `json:"source"`
	Comment        string    `json:"comment"`
	Datetime       string    `json:"datetime"`
	Size           int64     `json:"size"`
}

// PendingRequest is one outstanding data request recorded under the
// "request" step of a case's intermediate results. resIndex is a correlation
// token chosen by the originator and is not guaranteed globally unique.
type PendingRequest struct {
	From        string `json:"from"`
	RecipientID string `json:"recipientId"`
	ResIndex    string `json:"resIndex"`
}

// InboundResponse is an unsolicited asynchronous response arriving from a
// remote party, to be correlated back to the pending request that caused it.
type InboundResponse struct {
	From     string `json:"from"`
	ToID     string `json:"toId"`
	ResIndex string `json:"resIndex"`
}
