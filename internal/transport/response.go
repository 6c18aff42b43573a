// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the case API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/thridium/casetrack/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:          http.StatusBadRequest,
	model.ErrUnauthorized:        http.StatusUnauthorized,
	model.ErrForbidden:           http.StatusForbidden,
	model.ErrNotFound:            http.StatusNotFound,
	model.ErrConflict:            http.StatusConflict,
	model.ErrInternalError:       http.StatusInternalServerError,
	model.ErrRemoteUnavailable:   http.StatusBadGateway,
	model.ErrRemoteTimeout:       http.StatusGatewayTimeout,
	model.ErrCaseNotFound:        http.StatusNotFound,
	model.ErrCorrelationNotFound: http.StatusNotFound,
	model.ErrMismatchedCounts:    http.StatusBadRequest,
	model.ErrEvidenceNotFound:    http.StatusNotFound,
	model.ErrCaseNoEvidence:      http.StatusBadRequest,
	model.ErrRetriesExhausted:    http.StatusServiceUnavailable,
	model.ErrPartialDelete:       http.StatusInternalServerError,
	model.ErrCloseRejected:       http.StatusConflict,
	model.ErrDuplicateEvidence:   http.StatusConflict,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// decodeJSONBody decodes a request body into out, returning a BAD_REQUEST
// envelope on malformed JSON.
func decodeJSONBody(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return model.NewBadRequestError("request body is not valid JSON")
	}
	return nil
}
