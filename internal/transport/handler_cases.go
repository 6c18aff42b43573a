package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thridium/casetrack/internal/camunda"
	"github.com/thridium/casetrack/model"
)

// defaultTemplate backs the listing endpoints when the caller does not name
// a use-case template.
const defaultTemplate = "uc_3"

// listDefaultPageSize matches the unbounded-feeling default of the listing
// endpoints: callers that do not paginate get everything.
const listDefaultPageSize = 100000

func (h *handlers) createCase(w http.ResponseWriter, r *http.Request) {
	var initial model.Variables
	if err := decodeJSONBody(r, &initial); err != nil {
		WriteError(w, err)
		return
	}

	template := initial[model.VarTemplate].StringValue()
	if template == "" {
		WriteError(w, model.NewBadRequestError("uc_template variable is required"))
		return
	}

	businessKey, err := h.deps.Cases.Create(r.Context(), template, initial)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"businessKey": businessKey})
}

func (h *handlers) listCases(w http.ResponseWriter, r *http.Request) {
	template, page, itemsPerPage, filter, err := listParams(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.deps.Cases.List(r.Context(), template, page, itemsPerPage, filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Cases.Get(r.Context(), chi.URLParam(r, "businessKey"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h *handlers) updateCase(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")

	var modifications model.Variables
	if err := decodeJSONBody(r, &modifications); err != nil {
		WriteError(w, err)
		return
	}
	if len(modifications) == 0 {
		WriteError(w, model.NewBadRequestError("no variables to update"))
		return
	}
	// Identity variables are fixed at creation; a different identity means a
	// different case.
	for _, protected := range []string{model.VarBusinessKey, model.VarTemplate} {
		if _, ok := modifications[protected]; ok {
			WriteError(w, model.NewBadRequestError(
				protected+" cannot be updated, create a new case instead"))
			return
		}
	}

	if err := h.deps.Cases.Update(r.Context(), businessKey, modifications); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteCase(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Cases.Delete(r.Context(), chi.URLParam(r, "businessKey")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) advanceCase(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")

	step, ok := model.ParseStep(r.URL.Query().Get("step"))
	if !ok {
		WriteError(w, model.NewBadRequestError(
			r.URL.Query().Get("step")+" is not a recognised analysis step"))
		return
	}
	template := r.URL.Query().Get("template")
	if template == "" {
		template = defaultTemplate
	}

	var partial any
	if err := decodeJSONBody(r, &partial); err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.deps.Cases.Advance(r.Context(), businessKey, template, step, partial)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{
		"advanced":         result.Advanced,
		"templateMismatch": result.TemplateMismatch,
	})
}

func (h *handlers) closeCase(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Cases.Close(r.Context(), chi.URLParam(r, "businessKey")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusResetContent)
}

// listParams parses the shared pagination and filter query parameters of the
// listing endpoints.
func listParams(r *http.Request) (template string, page, itemsPerPage int, filter string, err error) {
	q := r.URL.Query()

	template = q.Get("template")
	if template == "" {
		template = defaultTemplate
	}

	page = 0
	if raw := q.Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 0 {
			return "", 0, 0, "", model.NewBadRequestError("page must be a non-negative integer")
		}
	}

	itemsPerPage = listDefaultPageSize
	if raw := q.Get("itemsPerPage"); raw != "" {
		itemsPerPage, err = strconv.Atoi(raw)
		if err != nil || itemsPerPage < 1 {
			return "", 0, 0, "", model.NewBadRequestError("itemsPerPage must be a positive integer")
		}
	}

	filter = q.Get("filter")
	if verr := camunda.ValidateFilter(filter); verr != nil {
		return "", 0, 0, "", model.NewBadRequestError(verr.Error())
	}
	return template, page, itemsPerPage, filter, nil
}
