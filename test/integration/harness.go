// Package integration provides a reusable test harness for end-to-end
// testing of the case API. It starts a full HTTP server backed by an
// in-memory workflow engine and a mock dataspace connector.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/camunda"
	"github.com/thridium/casetrack/internal/cases"
	"github.com/thridium/casetrack/internal/config"
	"github.com/thridium/casetrack/internal/correlate"
	"github.com/thridium/casetrack/internal/dataspace"
	"github.com/thridium/casetrack/internal/evidence"
	"github.com/thridium/casetrack/internal/transport"
	"github.com/thridium/casetrack/model"
)

const internalToken = "integration-test-token"

// taskNames is the workflow step sequence of the in-memory engine. The first
// task is the bootstrap that case creation completes immediately.
var taskNames = []string{
	"Step1: Case Setup",
	"Step2: Collect Evidence",
	"Step3: Request Creation",
	"Step4: Data-Exchange",
	"Step5: Offline-Analysis",
}

// TestHarness wraps a fully wired casetrack server with an in-memory engine
// and a mock connector.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	Engine    *MockEngine
	Connector *MockConnector
}

// NewTestHarness creates and starts a full test instance. Servers are cleaned
// up when the test completes.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	engine := NewMockEngine()
	engineSrv := httptest.NewServer(engine)
	t.Cleanup(engineSrv.Close)

	connector := NewMockConnector()
	connectorSrv := httptest.NewServer(connector)
	t.Cleanup(connectorSrv.Close)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Engine.BaseURL = engineSrv.URL
	cfg.Dataspace.BaseURL = connectorSrv.URL
	cfg.Evidence.UploadDir = t.TempDir()
	cfg.Identity.InternalToken = internalToken

	logger := zap.NewNop()
	engineClient := camunda.NewClient(cfg.Engine, logger, nil)
	store := evidence.NewStore(cfg.Evidence)
	connectorClient := dataspace.NewClient(cfg.Dataspace, logger)

	manager := cases.NewManager(engineClient, store, cfg.Templates, logger, nil)
	history := cases.NewHistory(engineClient.History, store, cfg.Templates, logger)
	ledger := evidence.NewLedger(manager, engineClient, store, cfg.Evidence, logger, nil)
	correlator := correlate.NewCorrelator(manager, "uc_3", logger, nil)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: transport.Authenticator(cfg.Identity, jwks),
		Cases:        manager,
		History:      history,
		Evidence:     ledger,
		Payloads:     store,
		Exchange:     connectorClient,
		Correlator:   correlator,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &TestHarness{
		t:         t,
		server:    srv,
		Engine:    engine,
		Connector: connector,
	}
}

// Do sends an authenticated request to the server.
func (h *TestHarness) Do(method, path string, body io.Reader, contentType string) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, body)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "InternalWS "+internalToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// JSON sends an authenticated request with a JSON body.
func (h *TestHarness) JSON(method, path string, body any) *http.Response {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	return h.Do(method, path, reader, "application/json")
}

// Upload sends an authenticated multipart evidence upload.
func (h *TestHarness) Upload(path string, fields map[string]string, files map[string]string) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		mw.WriteField(name, value)
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("evidence", name)
		if err != nil {
			h.t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	return h.Do("POST", path, &buf, mw.FormDataContentType())
}

// ParseJSON decodes the response body.
func (h *TestHarness) ParseJSON(resp *http.Response, out any) {
	h.t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// AssertStatus fails the test when the response status differs.
func (h *TestHarness) AssertStatus(resp *http.Response, want int) {
	h.t.Helper()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("status = %d, want %d, body %s", resp.StatusCode, want, raw)
	}
}

// ==========================================================================
// In-memory workflow engine
// ==========================================================================

// engineInstance is one process instance held by the mock engine.
type engineInstance struct {
	ID            string
	BusinessKey   string
	DefinitionKey string
	Vars          model.Variables
	StepIndex     int
	Finished      bool
	StartTime     string
	EndTime       string
}

func (i *engineInstance) taskID() string {
	return fmt.Sprintf("%s-t%d", i.ID, i.StepIndex)
}

func (i *engineInstance) taskJSON() map[string]any {
	return map[string]any{
		"id":                i.taskID(),
		"name":              taskNames[i.StepIndex],
		"created":           i.StartTime,
		"processInstanceId": i.ID,
	}
}

// MockEngine is an in-memory stand-in for the engine's REST API, covering the
// runtime and history endpoints the gateway uses.
type MockEngine struct {
	mu        sync.Mutex
	instances map[string]*engineInstance
	nextID    int
}

func NewMockEngine() *MockEngine {
	return &MockEngine{instances: make(map[string]*engineInstance)}
}

// Instance returns the live instance for a business key, or nil.
func (e *MockEngine) Instance(businessKey string) *engineInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inst := range e.instances {
		if inst.BusinessKey == businessKey && !inst.Finished {
			return inst
		}
	}
	return nil
}

// TaskName returns the name of the active task for a business key.
func (e *MockEngine) TaskName(businessKey string) string {
	inst := e.Instance(businessKey)
	if inst == nil {
		return ""
	}
	return taskNames[inst.StepIndex]
}

// SetTask moves a business key's instance to the named workflow step.
func (e *MockEngine) SetTask(businessKey, taskName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inst := range e.instances {
		if inst.BusinessKey != businessKey || inst.Finished {
			continue
		}
		for i, name := range taskNames {
			if name == taskName {
				inst.StepIndex = i
				return
			}
		}
	}
}

func (e *MockEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := r.URL.Path
	q := r.URL.Query()

	switch {
	case path == "/version":
		writeJSON(w, 200, map[string]string{"version": "7.20.0"})

	case path == "/task" && r.Method == "GET":
		var out []map[string]any
		for _, inst := range e.sorted() {
			if inst.Finished {
				continue
			}
			if bk := q.Get("processInstanceBusinessKey"); bk != "" && inst.BusinessKey != bk {
				continue
			}
			if dk := q.Get("processDefinitionKeyIn"); dk != "" && inst.DefinitionKey != dk {
				continue
			}
			out = append(out, inst.taskJSON())
		}
		out = paginate(out, q)
		writeJSON(w, 200, out)

	case path == "/task/count":
		count := 0
		for _, inst := range e.instances {
			if inst.Finished {
				continue
			}
			if dk := q.Get("processDefinitionKeyIn"); dk != "" && inst.DefinitionKey != dk {
				continue
			}
			count++
		}
		writeJSON(w, 200, map[string]int{"count": count})

	case strings.HasPrefix(path, "/task/") && strings.HasSuffix(path, "/variables"):
		inst := e.byTaskID(strings.TrimSuffix(strings.TrimPrefix(path, "/task/"), "/variables"))
		if inst == nil {
			writeJSON(w, 404, map[string]string{"message": "task not found"})
			return
		}
		writeJSON(w, 200, inst.Vars)

	case strings.HasPrefix(path, "/task/") && strings.HasSuffix(path, "/form-variables"):
		inst := e.byTaskID(strings.TrimSuffix(strings.TrimPrefix(path, "/task/"), "/form-variables"))
		if inst == nil {
			writeJSON(w, 404, map[string]string{"message": "task not found"})
			return
		}
		writeJSON(w, 200, inst.Vars)

	case strings.HasPrefix(path, "/task/") && strings.HasSuffix(path, "/complete"):
		inst := e.byTaskID(strings.TrimSuffix(strings.TrimPrefix(path, "/task/"), "/complete"))
		if inst == nil {
			writeJSON(w, 404, map[string]string{"message": "task not found"})
			return
		}
		var body struct {
			Variables model.Variables `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for name, v := range body.Variables {
			inst.Vars[name] = v
		}
		if inst.StepIndex < len(taskNames)-1 {
			inst.StepIndex++
		} else {
			inst.Finished = true
			inst.EndTime = time.Now().UTC().Format(time.RFC3339)
		}
		w.WriteHeader(204)

	case strings.HasPrefix(path, "/process-definition/key/") && strings.HasSuffix(path, "/start"):
		definitionKey := strings.TrimSuffix(strings.TrimPrefix(path, "/process-definition/key/"), "/start")
		var body struct {
			BusinessKey string          `json:"businessKey"`
			Variables   model.Variables `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		e.nextID++
		inst := &engineInstance{
			ID:            fmt.Sprintf("pi-%d", e.nextID),
			BusinessKey:   body.BusinessKey,
			DefinitionKey: definitionKey,
			Vars:          body.Variables,
			StartTime:     time.Now().UTC().Format(time.RFC3339),
		}
		if inst.Vars == nil {
			inst.Vars = model.Variables{}
		}
		e.instances[inst.ID] = inst
		writeJSON(w, 200, map[string]any{"id": inst.ID, "businessKey": inst.BusinessKey})

	case strings.HasPrefix(path, "/process-instance/") && strings.HasSuffix(path, "/variables"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/process-instance/"), "/variables")
		inst := e.instances[id]
		if inst == nil || inst.Finished {
			writeJSON(w, 404, map[string]string{"message": "process instance not found"})
			return
		}
		var body struct {
			Modifications model.Variables `json:"modifications"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for name, v := range body.Modifications {
			inst.Vars[name] = v
		}
		w.WriteHeader(204)

	case strings.HasPrefix(path, "/process-instance/") && r.Method == "DELETE":
		id := strings.TrimPrefix(path, "/process-instance/")
		if _, ok := e.instances[id]; !ok {
			writeJSON(w, 404, map[string]string{"message": "process instance not found"})
			return
		}
		delete(e.instances, id)
		w.WriteHeader(204)

	case path == "/history/process-instance/count":
		count := 0
		for _, inst := range e.instances {
			if inst.Finished {
				count++
			}
		}
		writeJSON(w, 200, map[string]int{"count": count})

	case strings.HasPrefix(path, "/history/process-instance/") && r.Method == "DELETE":
		id := strings.TrimPrefix(path, "/history/process-instance/")
		inst := e.instances[id]
		if inst == nil || !inst.Finished {
			writeJSON(w, 404, map[string]string{"message": "historic instance not found"})
			return
		}
		delete(e.instances, id)
		w.WriteHeader(204)

	case path == "/history/process-instance":
		var out []map[string]any
		for _, inst := range e.sorted() {
			if !inst.Finished {
				continue
			}
			if bk := q.Get("processInstanceBusinessKey"); bk != "" && inst.BusinessKey != bk {
				continue
			}
			if dk := q.Get("processDefinitionKeyIn"); dk != "" && inst.DefinitionKey != dk {
				continue
			}
			out = append(out, map[string]any{
				"id":                   inst.ID,
				"businessKey":          inst.BusinessKey,
				"processDefinitionKey": inst.DefinitionKey,
				"startTime":            inst.StartTime,
				"endTime":              inst.EndTime,
				"state":                "COMPLETED",
			})
		}
		out = paginate(out, q)
		writeJSON(w, 200, out)

	case path == "/history/variable-instance":
		inst := e.instances[q.Get("processInstanceId")]
		var out []map[string]any
		if inst != nil {
			for name, v := range inst.Vars {
				out = append(out, map[string]any{"name": name, "value": v.Value})
			}
		}
		writeJSON(w, 200, out)

	default:
		writeJSON(w, 404, map[string]string{"message": "unmapped engine path " + path})
	}
}

func (e *MockEngine) byTaskID(taskID string) *engineInstance {
	for _, inst := range e.instances {
		if !inst.Finished && inst.taskID() == taskID {
			return inst
		}
	}
	return nil
}

// sorted returns instances in creation order so pagination is stable.
func (e *MockEngine) sorted() []*engineInstance {
	out := make([]*engineInstance, 0, len(e.instances))
	for i := 1; i <= e.nextID; i++ {
		if inst, ok := e.instances[fmt.Sprintf("pi-%d", i)]; ok {
			out = append(out, inst)
		}
	}
	return out
}

func paginate(items []map[string]any, q map[string][]string) []map[string]any {
	first, _ := strconv.Atoi(firstValue(q, "firstResult"))
	max, _ := strconv.Atoi(firstValue(q, "maxResults"))
	if first >= len(items) {
		return nil
	}
	items = items[first:]
	if max > 0 && max < len(items) {
		items = items[:max]
	}
	return items
}

func firstValue(q map[string][]string, key string) string {
	if v := q[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// ==========================================================================
// Mock dataspace connector
// ==========================================================================

// MockConnector records requests to the connector endpoints and serves
// canned replies.
type MockConnector struct {
	mu       sync.Mutex
	Requests map[string][]map[string]any

	MatchResult  map[string]any
	ExchangeBody []byte
}

func NewMockConnector() *MockConnector {
	return &MockConnector{
		Requests:     make(map[string][]map[string]any),
		MatchResult:  map[string]any{"score": 0.91},
		ExchangeBody: []byte(`{"data": "exchange-payload"}`),
	}
}

// LastRequest returns the most recent body received on a connector path.
func (c *MockConnector) LastRequest(path string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	reqs := c.Requests[path]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func (c *MockConnector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	c.mu.Lock()
	c.Requests[r.URL.Path] = append(c.Requests[r.URL.Path], body)
	c.mu.Unlock()

	switch r.URL.Path {
	case "/match":
		writeJSON(w, 200, c.MatchResult)
	case "/dsp-request", "/dsp-response":
		writeJSON(w, 200, "0xabc123")
	case "/data-exchange":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write(c.ExchangeBody)
	case "/health":
		w.WriteHeader(200)
	default:
		writeJSON(w, 404, map[string]string{"message": "unmapped connector path"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
