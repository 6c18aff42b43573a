package integration

import (
	"net/http"
	"testing"
)

func TestCaseLifecycle_createGetCloseDelete(t *testing.T) {
	h := NewTestHarness(t)

	// Create: the bootstrap task is completed immediately, so the case
	// lands on the evidence collection step.
	resp := h.JSON("POST", "/api/cases", map[string]any{
		"uc_template": map[string]any{"value": "uc_3"},
		"title":       map[string]any{"value": "identity fraud"},
	})
	h.AssertStatus(resp, http.StatusCreated)

	var created map[string]string
	h.ParseJSON(resp, &created)
	businessKey := created["businessKey"]
	if businessKey == "" {
		t.Fatal("no businessKey in create response")
	}
	if got := h.Engine.TaskName(businessKey); got != "Step2: Collect Evidence" {
		t.Fatalf("task after create = %q", got)
	}

	// Get echoes the stored variables.
	resp = h.JSON("GET", "/api/cases/"+businessKey, nil)
	h.AssertStatus(resp, http.StatusOK)
	var c struct {
		Task struct {
			Name string `json:"name"`
		} `json:"task"`
		Vars map[string]struct {
			Value any `json:"value"`
		} `json:"caseVars"`
	}
	h.ParseJSON(resp, &c)
	if c.Vars["title"].Value != "identity fraud" {
		t.Errorf("title = %v", c.Vars["title"].Value)
	}
	if c.Vars["businessKey"].Value != businessKey {
		t.Errorf("businessKey var = %v", c.Vars["businessKey"].Value)
	}

	// Listing includes the case.
	resp = h.JSON("GET", "/api/cases", nil)
	h.AssertStatus(resp, http.StatusOK)
	var page struct {
		TotalItems int   `json:"totalItems"`
		Data       []any `json:"data"`
	}
	h.ParseJSON(resp, &page)
	if page.TotalItems != 1 || len(page.Data) != 1 {
		t.Errorf("page = %+v", page)
	}

	// Update writes a variable onto the instance.
	resp = h.JSON("PUT", "/api/cases/"+businessKey, map[string]any{
		"status": map[string]any{"value": "in-progress"},
	})
	h.AssertStatus(resp, http.StatusNoContent)
	inst := h.Engine.Instance(businessKey)
	if inst.Vars["status"].Value != "in-progress" {
		t.Errorf("status var = %v", inst.Vars["status"].Value)
	}

	// Close drives the workflow to its end; the case moves to history.
	resp = h.JSON("PUT", "/api/cases/"+businessKey+"/close", nil)
	h.AssertStatus(resp, http.StatusResetContent)
	if h.Engine.Instance(businessKey) != nil {
		t.Error("case should have no live instance after close")
	}

	resp = h.JSON("GET", "/api/cases/"+businessKey, nil)
	h.AssertStatus(resp, http.StatusNotFound)

	// The closed case is visible in history with its variables.
	resp = h.JSON("GET", "/api/history/"+businessKey, nil)
	h.AssertStatus(resp, http.StatusOK)
	h.ParseJSON(resp, &c)
	if c.Vars["title"].Value != "identity fraud" {
		t.Errorf("historic title = %v", c.Vars["title"].Value)
	}

	// Deleting the historic case removes it for good.
	resp = h.JSON("DELETE", "/api/history/"+businessKey, nil)
	h.AssertStatus(resp, http.StatusNoContent)
	resp = h.JSON("GET", "/api/history/"+businessKey, nil)
	h.AssertStatus(resp, http.StatusNotFound)
}

func TestCaseLifecycle_deleteOpenCase(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.JSON("POST", "/api/cases", map[string]any{
		"uc_template": map[string]any{"value": "uc_3"},
	})
	h.AssertStatus(resp, http.StatusCreated)
	var created map[string]string
	h.ParseJSON(resp, &created)
	businessKey := created["businessKey"]

	resp = h.JSON("DELETE", "/api/cases/"+businessKey, nil)
	h.AssertStatus(resp, http.StatusNoContent)

	if h.Engine.Instance(businessKey) != nil {
		t.Error("instance should be gone after delete")
	}
	resp = h.JSON("GET", "/api/cases/"+businessKey, nil)
	h.AssertStatus(resp, http.StatusNotFound)
}

func TestAdvance_recordsAndCompletes(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.JSON("POST", "/api/cases", map[string]any{
		"uc_template": map[string]any{"value": "uc_3"},
	})
	h.AssertStatus(resp, http.StatusCreated)
	var created map[string]string
	h.ParseJSON(resp, &created)
	businessKey := created["businessKey"]

	// The case sits on evidence collection; a data-exchange result arrives
	// early and is recorded without advancing.
	resp = h.JSON("PUT", "/api/cases/"+businessKey+"/advance?step=data-exchange",
		map[string]any{"timestamp": 1700000000000, "status": 200})
	h.AssertStatus(resp, http.StatusOK)
	var outcome map[string]bool
	h.ParseJSON(resp, &outcome)
	if outcome["advanced"] {
		t.Error("early result should not advance the case")
	}
	if got := h.Engine.TaskName(businessKey); got != "Step2: Collect Evidence" {
		t.Errorf("task = %q, case should not have moved", got)
	}

	inst := h.Engine.Instance(businessKey)
	results, _ := inst.Vars["intermediate_results"].Value.(map[string]any)
	if results["data-exchange"] == nil {
		t.Errorf("accumulator = %v", results)
	}

	// Move the case onto the request step; an advance for that step
	// completes the task.
	h.Engine.SetTask(businessKey, "Step3: Request Creation")
	resp = h.JSON("PUT", "/api/cases/"+businessKey+"/advance?step=request",
		map[string]any{"k1": []any{map[string]any{"resIndex": "R1"}}})
	h.AssertStatus(resp, http.StatusOK)
	h.ParseJSON(resp, &outcome)
	if !outcome["advanced"] {
		t.Error("advance on the matching step should complete the task")
	}
	if got := h.Engine.TaskName(businessKey); got != "Step4: Data-Exchange" {
		t.Errorf("task = %q after advance", got)
	}
}

func TestAdvance_templateMismatch_persistsNothing(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.JSON("POST", "/api/cases", map[string]any{
		"uc_template": map[string]any{"value": "uc_3"},
	})
	h.AssertStatus(resp, http.StatusCreated)
	var created map[string]string
	h.ParseJSON(resp, &created)
	businessKey := created["businessKey"]

	resp = h.JSON("PUT", "/api/cases/"+businessKey+"/advance?step=match&template=uc_9",
		map[string]any{"score": 0.5})
	h.AssertStatus(resp, http.StatusOK)
	var outcome map[string]bool
	h.ParseJSON(resp, &outcome)
	if !outcome["templateMismatch"] {
		t.Error("expected templateMismatch outcome")
	}

	inst := h.Engine.Instance(businessKey)
	if _, ok := inst.Vars["intermediate_results"]; ok {
		t.Error("mismatched advance must not write the accumulator")
	}
}

func TestAuth_rejectsMissingAndWrongToken(t *testing.T) {
	h := NewTestHarness(t)

	req, _ := http.NewRequest("GET", h.server.URL+"/api/cases", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", h.server.URL+"/api/cases", nil)
	req.Header.Set("Authorization", "InternalWS wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("wrong token: status = %d, want 403", resp.StatusCode)
	}
}
