package camunda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/config"
	"github.com/thridium/casetrack/internal/observability"
	"github.com/thridium/casetrack/internal/remote"
	"github.com/thridium/casetrack/model"
)

// Client talks to the engine's runtime REST API. All methods map a single
// remote operation; failures surface as REMOTE_UNAVAILABLE, REMOTE_TIMEOUT,
// NOT_FOUND, or CONFLICT error envelopes. There is no engine-side idempotency
// key: repeating a CompleteTask call after an ambiguous failure may
// double-advance the case, which callers must tolerate or prevent.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *remote.CircuitBreaker
	logger  *zap.Logger
	metrics *observability.Metrics

	// History exposes the read-only endpoints for closed instances.
	History *HistoryClient
}

// NewClient creates an engine gateway from configuration.
func NewClient(cfg config.EngineConfig, logger *zap.Logger, metrics *observability.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	c := &Client{
		baseURL: cfg.BaseURL,
		http:    httpClient,
		breaker: remote.NewCircuitBreaker(cfg.CircuitBreaker),
		logger:  logger,
		metrics: metrics,
	}
	c.History = &HistoryClient{runtime: c}
	return c
}

// ActiveTask returns the case's current task, or nil if the case has no
// active task (closed or never existed). Multiple active tasks per business
// key should not happen; if they do, the first is used and a warning logged.
func (c *Client) ActiveTask(ctx context.Context, businessKey string) (*Task, error) {
	q := url.Values{}
	q.Set("processInstanceBusinessKey", businessKey)
	q.Set("sortBy", "created")
	q.Set("sortOrder", "desc")

	var tasks []Task
	if err := c.doJSON(ctx, "active_task", http.MethodGet, "/task?"+q.Encode(), nil, &tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	if len(tasks) > 1 {
		c.logger.Warn("business key resolves to more than one active task",
			zap.String("business_key", businessKey),
			zap.Int("tasks", len(tasks)))
	}
	return &tasks[0], nil
}

// ListTasks returns active tasks for a process definition, newest first,
// with offset pagination and an optional variable filter expression.
func (c *Client) ListTasks(ctx context.Context, definitionKey string, firstResult, maxResults int, filter string) ([]Task, error) {
	q := url.Values{}
	q.Set("sortBy", "created")
	q.Set("sortOrder", "desc")
	q.Set("processDefinitionKeyIn", definitionKey)
	q.Set("firstResult", strconv.Itoa(firstResult))
	q.Set("maxResults", strconv.Itoa(maxResults))
	if filter != "" {
		q.Set("processVariables", filter)
		q.Set("variableNamesIgnoreCase", "true")
		q.Set("variableValuesIgnoreCase", "true")
	}

	var tasks []Task
	if err := c.doJSON(ctx, "list_tasks", http.MethodGet, "/task?"+q.Encode(), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountTasks returns the number of active tasks for a process definition,
// counted with the same filter semantics as ListTasks.
func (c *Client) CountTasks(ctx context.Context, definitionKey, filter string) (int, error) {
	q := url.Values{}
	q.Set("processDefinitionKeyIn", definitionKey)
	if filter != "" {
		q.Set("processVariables", filter)
		q.Set("variableNamesIgnoreCase", "true")
		q.Set("variableValuesIgnoreCase", "true")
	}

	var res countResult
	if err := c.doJSON(ctx, "count_tasks", http.MethodGet, "/task/count?"+q.Encode(), nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// TaskVariables fetches all variables visible to a task, deserialized.
func (c *Client) TaskVariables(ctx context.Context, taskID string) (model.Variables, error) {
	var vars model.Variables
	path := fmt.Sprintf("/task/%s/variables?deserializeValues=true", url.PathEscape(taskID))
	if err := c.doJSON(ctx, "task_variables", http.MethodGet, path, nil, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// FormVariables fetches the task's form variables, deserialized. The form
// variable set is what case listings expose.
func (c *Client) FormVariables(ctx context.Context, taskID string) (model.Variables, error) {
	var vars model.Variables
	path := fmt.Sprintf("/task/%s/form-variables?deserializeValues=true", url.PathEscape(taskID))
	if err := c.doJSON(ctx, "form_variables", http.MethodGet, path, nil, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// CompleteTask completes a task, optionally submitting variables, which
// advances the process to its next step.
func (c *Client) CompleteTask(ctx context.Context, taskID string, variables model.Variables) error {
	body := map[string]any{}
	if variables != nil {
		body["variables"] = variables
	}
	path := fmt.Sprintf("/task/%s/complete", url.PathEscape(taskID))
	return c.doJSON(ctx, "complete_task", http.MethodPost, path, body, nil)
}

// PatchProcessVariables writes variable modifications on a process instance
// without completing any task. A 409 from the engine surfaces as CONFLICT,
// which is transient: re-read, re-merge, re-write.
func (c *Client) PatchProcessVariables(ctx context.Context, processInstanceID string, modifications model.Variables) error {
	body := map[string]any{"modifications": modifications}
	path := fmt.Sprintf("/process-instance/%s/variables", url.PathEscape(processInstanceID))
	return c.doJSON(ctx, "patch_variables", http.MethodPost, path, body, nil)
}

// DeleteProcessInstance removes a running process instance.
func (c *Client) DeleteProcessInstance(ctx context.Context, processInstanceID string) error {
	q := url.Values{}
	q.Set("skipCustomListeners", "false")
	q.Set("skipIoMappings", "false")
	q.Set("skipSubprocesses", "false")
	q.Set("failIfNotExists", "true")
	path := fmt.Sprintf("/process-instance/%s?%s", url.PathEscape(processInstanceID), q.Encode())
	return c.doJSON(ctx, "delete_instance", http.MethodDelete, path, nil, nil)
}

// StartProcess starts a new process instance for a definition key with the
// given business key and initial variables.
func (c *Client) StartProcess(ctx context.Context, definitionKey, businessKey string, variables model.Variables) (*ProcessInstance, error) {
	body := map[string]any{
		"variables":   variables,
		"businessKey": businessKey,
	}
	var inst ProcessInstance
	path := fmt.Sprintf("/process-definition/key/%s/start", url.PathEscape(definitionKey))
	if err := c.doJSON(ctx, "start_process", http.MethodPost, path, body, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// HealthCheck probes the engine's version endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doJSON(ctx, "health", http.MethodGet, "/version", nil, nil)
}

// doJSON performs one engine round trip with circuit breaker protection,
// JSON encoding/decoding, metrics, and failure classification. out may be
// nil when the response body is irrelevant.
func (c *Client) doJSON(ctx context.Context, operation, method, path string, body any, out any) error {
	if err := c.breaker.Allow(); err != nil {
		c.recordMetrics(operation, "breaker_open", 0)
		return model.NewRemoteUnavailableError()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("camunda: marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("camunda: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.breaker.RecordFailure()
		c.recordMetrics(operation, "error", elapsed)
		if remote.IsTimeoutError(err) {
			return model.NewRemoteTimeoutError()
		}
		if remote.IsConnectionError(err) {
			return model.NewRemoteUnavailableError()
		}
		return fmt.Errorf("camunda: %s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.breaker.RecordFailure()
		c.recordMetrics(operation, "error", elapsed)
		return fmt.Errorf("camunda: read response: %w", err)
	}

	if remote.IsServerError(resp.StatusCode) {
		c.breaker.RecordFailure()
	} else if !remote.IsClientError(resp.StatusCode) {
		c.breaker.RecordSuccess()
	}
	c.recordMetrics(operation, strconv.Itoa(resp.StatusCode), elapsed)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.NewNotFoundError(engineMessage(respBody, "resource not found"))
	case resp.StatusCode == http.StatusConflict:
		return model.NewConflictError(engineMessage(respBody, "concurrent modification"))
	case remote.IsServerError(resp.StatusCode):
		return model.NewRemoteUnavailableError()
	case remote.IsClientError(resp.StatusCode):
		return model.NewBadRequestError(engineMessage(respBody, fmt.Sprintf("engine rejected %s", operation)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("camunda: decode %s response: %w", operation, err)
		}
	}
	return nil
}

func (c *Client) recordMetrics(operation, status string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordEngineRequest(operation, status, elapsed)
	c.metrics.EngineCircuitBreakerState.WithLabelValues("engine").Set(float64(c.breaker.State()))
}

// engineMessage extracts the engine's error message from a response body,
// falling back to a fixed message.
func engineMessage(body []byte, fallback string) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return fallback
}
