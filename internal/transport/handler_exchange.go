package transport

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/dataspace"
	"github.com/thridium/casetrack/model"
)

// match forwards a biometric match query to the connector and folds the
// result into the case's match step. Evidence ids in the query are rewritten
// to URLs the connector can fetch back from this API.
func (h *handlers) match(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")

	var query map[string]any
	if err := decodeJSONBody(r, &query); err != nil {
		WriteError(w, err)
		return
	}

	urls := dataspace.TransformIDsToURLs(query, h.externalURL(), businessKey)
	result, err := h.deps.Exchange.Match(r.Context(), r.Header.Get("Authorization"), urls)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.foldExchangeResult(r, businessKey, model.StepMatch, map[string]any{
		evidenceGroupKey(query): result,
	})
	WriteJSON(w, http.StatusOK, result)
}

// createRequest asks the connector to create a data request and records it
// as a pending request under the evidence group key, as an array so later
// responses append rather than overwrite.
func (h *handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")

	var query map[string]any
	if err := decodeJSONBody(r, &query); err != nil {
		WriteError(w, err)
		return
	}

	urls := dataspace.TransformIDsToURLs(query, h.externalURL(), businessKey)
	result, err := h.deps.Exchange.CreateRequest(r.Context(), urls, businessKey, r.Header.Get("solidToken"))
	if err != nil {
		WriteError(w, err)
		return
	}

	h.foldExchangeResult(r, businessKey, model.StepRequest, map[string]any{
		evidenceGroupKey(query): []any{result},
	})
	WriteJSON(w, http.StatusOK, result)
}

// createResponse forwards a data response creation to the connector. The
// case bookkeeping happens on the other side of the exchange, so nothing is
// recorded here.
func (h *handlers) createResponse(w http.ResponseWriter, r *http.Request) {
	var payload any
	if err := decodeJSONBody(r, &payload); err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.deps.Exchange.CreateResponse(r.Context(), payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// receiveResponse is the asynchronous callback from a remote connector. The
// body carries the response plus a copy of the original request triple; the
// correlator finds the case that issued it.
func (h *handlers) receiveResponse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Response map[string]any `json:"response"`
		Request  map[string]any `json:"request"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	if body.Response == nil || body.Request == nil {
		WriteError(w, model.NewBadRequestError("body must contain response and request objects"))
		return
	}

	inbound := model.InboundResponse{
		From:     stringField(body.Request, "from"),
		ToID:     stringField(body.Request, "toId"),
		ResIndex: stringField(body.Request, "resIndex"),
	}
	// The dashboard reads resIndex off the stored response directly.
	body.Response["resIndex"] = inbound.ResIndex

	match, err := h.deps.Correlator.Correlate(r.Context(), inbound)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.foldExchangeResult(r, match.BusinessKey, model.StepResponse, map[string]any{
		match.GroupKey: []any{body.Response},
	})
	WriteJSON(w, http.StatusOK, body.Response)
}

// dataExchange performs the actual data retrieval and proxies the
// connector's reply verbatim, recording the exchange outcome on the case.
func (h *handlers) dataExchange(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")

	var payload map[string]any
	if err := decodeJSONBody(r, &payload); err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.deps.Exchange.DataExchange(r.Context(), payload, businessKey)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.foldExchangeResult(r, businessKey, model.StepDataExchange, map[string]any{
		"timestamp": time.Now().UnixMilli(),
		"status":    result.Status,
	})

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// completeAnalysis marks the end of the investigator's offline analysis
// period, which advances the case past its final waiting step.
func (h *handlers) completeAnalysis(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")

	result, err := h.deps.Cases.Advance(r.Context(), businessKey, defaultTemplate,
		model.StepOfflineAnalysis, map[string]any{
			"timestamp": time.Now().UnixMilli(),
			"status":    "OK!",
		})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{
		"advanced":         result.Advanced,
		"templateMismatch": result.TemplateMismatch,
	})
}

// foldExchangeResult records an exchange outcome on the case, advancing it
// when it sits on the step. Bookkeeping failures do not fail the exchange
// request itself; the remote side already acted.
func (h *handlers) foldExchangeResult(r *http.Request, businessKey string, step model.Step, contribution map[string]any) {
	result, err := h.deps.Cases.Advance(r.Context(), businessKey, defaultTemplate, step, contribution)
	switch {
	case err != nil:
		h.deps.Logger.Error("exchange result could not be recorded",
			zap.String("business_key", businessKey),
			zap.String("step", string(step)),
			zap.Error(err))
	case result.TemplateMismatch:
		h.deps.Logger.Warn("exchange result targeted a case of another template",
			zap.String("business_key", businessKey),
			zap.String("step", string(step)))
	case result.Advanced:
		h.deps.Logger.Info("case advanced",
			zap.String("business_key", businessKey),
			zap.String("step", string(step)))
	}
}

// evidenceGroupKey derives the accumulator key for an exchange operation
// from the evidence ids it referenced, in a fixed modality order.
func evidenceGroupKey(query map[string]any) string {
	ids := []string{
		stringField(query, "faceId"),
		stringField(query, "voiceId"),
		stringField(query, "fingerprintId"),
	}
	return strings.Join(ids, ",")
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (h *handlers) externalURL() string {
	if u := h.deps.Config.Server.ExternalURL; u != "" {
		return u
	}
	return fmt.Sprintf("http://localhost:%d", h.deps.Config.Server.Port)
}
