package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thridium/casetrack/internal/evidence"
)

func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	template, page, itemsPerPage, filter, err := listParams(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.deps.History.List(r.Context(), template, page, itemsPerPage, filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) getHistoricCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.History.Get(r.Context(), chi.URLParam(r, "businessKey"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h *handlers) deleteHistoricCase(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.History.Delete(r.Context(), chi.URLParam(r, "businessKey")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getHistoricEvidence streams a payload still on disk for a case whose
// workflow has finished. Evidence outlives the running process until the
// historic case itself is deleted.
func (h *handlers) getHistoricEvidence(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")
	evidenceID := chi.URLParam(r, "evidenceId")

	c, err := h.deps.History.Get(r.Context(), businessKey)
	if err != nil {
		WriteError(w, err)
		return
	}

	records, ok := c.Evidence()
	record, err := evidence.Lookup(records, ok, businessKey, evidenceID)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.streamPayload(w, record)
}
