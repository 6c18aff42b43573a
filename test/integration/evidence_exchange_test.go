package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func createCase(t *testing.T, h *TestHarness) string {
	t.Helper()
	resp := h.JSON("POST", "/api/cases", map[string]any{
		"uc_template": map[string]any{"value": "uc_3"},
	})
	h.AssertStatus(resp, http.StatusCreated)
	var created map[string]string
	h.ParseJSON(resp, &created)
	return created["businessKey"]
}

func TestEvidence_uploadDownloadDelete(t *testing.T) {
	h := NewTestHarness(t)
	businessKey := createCase(t, h)

	// The case sits on the evidence collection step, so the upload
	// completes it.
	resp := h.Upload("/api/cases/"+businessKey+"/evidence",
		map[string]string{"descriptions": "face still,voice note", "tags": "face,voice"},
		map[string]string{"face.png": "png-bytes", "voice.wav": "wav-bytes"})
	h.AssertStatus(resp, http.StatusCreated)

	var records []struct {
		ID          string `json:"id"`
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	h.ParseJSON(resp, &records)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[1].Description != "voice note" {
		t.Errorf("description = %q", records[1].Description)
	}
	if got := h.Engine.TaskName(businessKey); got != "Step3: Request Creation" {
		t.Errorf("task = %q, upload on the collection step should advance", got)
	}

	// Download streams the stored bytes back.
	resp = h.Do("GET", "/api/cases/"+businessKey+"/evidence/"+records[0].ID, nil, "")
	h.AssertStatus(resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "png-bytes" {
		t.Errorf("payload = %q", body)
	}

	// A second upload past the collection step only patches the list.
	resp = h.Upload("/api/cases/"+businessKey+"/evidence",
		map[string]string{"descriptions": "late print", "tags": "fingerprint"},
		map[string]string{"print.bin": "print-bytes"})
	h.AssertStatus(resp, http.StatusCreated)
	if got := h.Engine.TaskName(businessKey); got != "Step3: Request Creation" {
		t.Errorf("task = %q, late upload must not advance", got)
	}

	inst := h.Engine.Instance(businessKey)
	list, _ := inst.Vars["evidence"].Value.([]any)
	if len(list) != 3 {
		t.Fatalf("evidence list = %d entries, want 3", len(list))
	}

	// Duplicate filenames within a case are rejected.
	resp = h.Upload("/api/cases/"+businessKey+"/evidence",
		map[string]string{"descriptions": "face again", "tags": "face"},
		map[string]string{"face.png": "other-bytes"})
	h.AssertStatus(resp, http.StatusConflict)

	// Remove deletes the record and its payload.
	resp = h.JSON("DELETE", "/api/cases/"+businessKey+"/evidence/"+records[0].ID, nil)
	h.AssertStatus(resp, http.StatusResetContent)
	resp = h.Do("GET", "/api/cases/"+businessKey+"/evidence/"+records[0].ID, nil, "")
	h.AssertStatus(resp, http.StatusNotFound)
}

func TestEvidence_mismatchedMetadataCounts(t *testing.T) {
	h := NewTestHarness(t)
	businessKey := createCase(t, h)

	resp := h.Upload("/api/cases/"+businessKey+"/evidence",
		map[string]string{"descriptions": "one,two,three", "tags": "face"},
		map[string]string{"face.png": "png-bytes"})
	h.AssertStatus(resp, http.StatusBadRequest)

	// Leaving descriptions and tags out entirely is the same mismatch.
	resp = h.Upload("/api/cases/"+businessKey+"/evidence", nil,
		map[string]string{"face.png": "png-bytes"})
	h.AssertStatus(resp, http.StatusBadRequest)
}

func TestExchange_matchRewritesEvidenceIDs(t *testing.T) {
	h := NewTestHarness(t)
	businessKey := createCase(t, h)

	resp := h.JSON("POST", "/api/uc3/"+businessKey+"/match",
		map[string]any{"faceId": "ev-1", "threshold": 0.8})
	h.AssertStatus(resp, http.StatusOK)

	var result map[string]any
	h.ParseJSON(resp, &result)
	if result["score"] != 0.91 {
		t.Errorf("match result = %v", result)
	}

	sent := h.Connector.LastRequest("/match")
	if sent == nil {
		t.Fatal("connector never received the match query")
	}
	url, _ := sent["sampleFaceUrl"].(string)
	if !strings.Contains(url, "/api/cases/"+businessKey+"/evidence/ev-1") {
		t.Errorf("sampleFaceUrl = %q", url)
	}
	if _, ok := sent["faceId"]; ok {
		t.Error("raw faceId should be replaced by its URL")
	}

	// The result lands in the accumulator keyed by the evidence ids.
	inst := h.Engine.Instance(businessKey)
	results, _ := inst.Vars["intermediate_results"].Value.(map[string]any)
	matches, _ := results["match"].(map[string]any)
	if matches["ev-1,,"] == nil {
		t.Errorf("match accumulator = %v", matches)
	}
}

func TestExchange_responseCorrelation(t *testing.T) {
	h := NewTestHarness(t)
	businessKey := createCase(t, h)

	// Record a pending request on the case.
	resp := h.JSON("PUT", "/api/cases/"+businessKey+"/advance?step=request",
		map[string]any{
			"ev-face,,": []any{map[string]any{
				"from":        "org-a",
				"recipientId": "org-b",
				"resIndex":    "R1",
			}},
		})
	h.AssertStatus(resp, http.StatusOK)

	// The connector calls back with the matching triple.
	resp = h.JSON("POST", "/api/uc3/receive-dsp-response", map[string]any{
		"response": map[string]any{"data": "0xsigned"},
		"request":  map[string]any{"from": "org-a", "toId": "org-b", "resIndex": "R1"},
	})
	h.AssertStatus(resp, http.StatusOK)

	var stored map[string]any
	h.ParseJSON(resp, &stored)
	if stored["resIndex"] != "R1" {
		t.Errorf("resIndex = %v, should be copied onto the response", stored["resIndex"])
	}

	inst := h.Engine.Instance(businessKey)
	results, _ := inst.Vars["intermediate_results"].Value.(map[string]any)
	responses, _ := results["response"].(map[string]any)
	arr, _ := responses["ev-face,,"].([]any)
	if len(arr) != 1 {
		t.Fatalf("response accumulator = %v", results)
	}

	// A triple no case issued is a 404.
	resp = h.JSON("POST", "/api/uc3/receive-dsp-response", map[string]any{
		"response": map[string]any{},
		"request":  map[string]any{"from": "org-x", "toId": "org-y", "resIndex": "R9"},
	})
	h.AssertStatus(resp, http.StatusNotFound)
}

func TestExchange_dataExchangeProxiesConnector(t *testing.T) {
	h := NewTestHarness(t)
	businessKey := createCase(t, h)

	resp := h.JSON("POST", "/api/uc3/"+businessKey+"/data-exchange",
		map[string]any{"hashIndex": 1})
	h.AssertStatus(resp, http.StatusOK)

	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(h.Connector.ExchangeBody) {
		t.Errorf("body = %q, want connector reply verbatim", body)
	}

	sent := h.Connector.LastRequest("/data-exchange")
	if sent["businessKey"] != businessKey {
		t.Errorf("connector payload = %v", sent)
	}

	inst := h.Engine.Instance(businessKey)
	results, _ := inst.Vars["intermediate_results"].Value.(map[string]any)
	exchange, _ := results["data-exchange"].(map[string]any)
	if exchange["status"] == nil {
		t.Errorf("exchange accumulator = %v", results)
	}
}

func TestExchange_completeAnalysis(t *testing.T) {
	h := NewTestHarness(t)
	businessKey := createCase(t, h)

	h.Engine.SetTask(businessKey, "Step5: Offline-Analysis")
	resp := h.JSON("PUT", "/api/uc3/"+businessKey+"/complete-analysis", nil)
	h.AssertStatus(resp, http.StatusOK)

	var outcome map[string]bool
	h.ParseJSON(resp, &outcome)
	if !outcome["advanced"] {
		t.Error("complete-analysis on the analysis step should advance")
	}
	if h.Engine.Instance(businessKey) != nil {
		t.Error("completing the final step should finish the workflow")
	}
}
