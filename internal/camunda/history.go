package camunda

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/thridium/casetrack/model"
)

// HistoryClient reads the engine's historical store: finished process
// instances and their archived variables. Historical records are append-only
// from the engine's side; this client never mutates them except for whole
// instance deletion.
type HistoryClient struct {
	runtime *Client
}

// ListFinished returns finished process runs for a definition key, newest
// first, with offset pagination and the same variable filter semantics as
// the runtime task query.
func (h *HistoryClient) ListFinished(ctx context.Context, definitionKey string, firstResult, maxResults int, filter string) ([]HistoricProcessInstance, error) {
	q := url.Values{}
	q.Set("finished", "true")
	q.Set("sortBy", "startTime")
	q.Set("sortOrder", "desc")
	q.Set("processDefinitionKeyIn", definitionKey)
	q.Set("firstResult", strconv.Itoa(firstResult))
	q.Set("maxResults", strconv.Itoa(maxResults))
	if filter != "" {
		q.Set("processVariables", filter)
		q.Set("variableNamesIgnoreCase", "true")
		q.Set("variableValuesIgnoreCase", "true")
	}

	var instances []HistoricProcessInstance
	if err := h.runtime.doJSON(ctx, "history_list", http.MethodGet, "/history/process-instance?"+q.Encode(), nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// CountFinished returns the number of finished process runs for a definition
// key, counted with the same filter semantics as ListFinished.
func (h *HistoryClient) CountFinished(ctx context.Context, definitionKey, filter string) (int, error) {
	q := url.Values{}
	q.Set("finished", "true")
	q.Set("processDefinitionKeyIn", definitionKey)
	if filter != "" {
		q.Set("variables", filter)
		q.Set("variableNamesIgnoreCase", "true")
		q.Set("variableValuesIgnoreCase", "true")
	}

	var res countResult
	if err := h.runtime.doJSON(ctx, "history_count", http.MethodGet, "/history/process-instance/count?"+q.Encode(), nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// FindByBusinessKey returns finished process runs carrying the business key,
// newest first. Multiple runs per key should not happen; callers take the
// first that carries a template variable.
func (h *HistoryClient) FindByBusinessKey(ctx context.Context, businessKey string) ([]HistoricProcessInstance, error) {
	q := url.Values{}
	q.Set("finished", "true")
	q.Set("sortBy", "startTime")
	q.Set("sortOrder", "desc")
	q.Set("processInstanceBusinessKey", businessKey)

	var instances []HistoricProcessInstance
	if err := h.runtime.doJSON(ctx, "history_find", http.MethodGet, "/history/process-instance?"+q.Encode(), nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// Variables returns a finished run's archived variables folded into the
// name-keyed envelope map.
func (h *HistoryClient) Variables(ctx context.Context, processInstanceID string) (model.Variables, error) {
	q := url.Values{}
	q.Set("processInstanceId", processInstanceID)

	var instances []HistoricVariableInstance
	if err := h.runtime.doJSON(ctx, "history_variables", http.MethodGet, "/history/variable-instance?"+q.Encode(), nil, &instances); err != nil {
		return nil, err
	}
	return foldVariableInstances(instances), nil
}

// DeleteInstance removes a finished run from the historical store.
func (h *HistoryClient) DeleteInstance(ctx context.Context, processInstanceID string) error {
	path := fmt.Sprintf("/history/process-instance/%s?failIfNotExists=true", url.PathEscape(processInstanceID))
	return h.runtime.doJSON(ctx, "history_delete", http.MethodDelete, path, nil, nil)
}
