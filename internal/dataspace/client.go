// Package dataspace is the client for the dataspace connector, the remote
// party behind the use-case-3 exchange flow: biometric matching, data
// requests and responses, and the final data exchange.
package dataspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/config"
	"github.com/thridium/casetrack/internal/observability"
	"github.com/thridium/casetrack/internal/remote"
	"github.com/thridium/casetrack/model"
)

// Client talks to the dataspace connector. Unlike the engine gateway it
// returns loosely typed payloads; the connector's response shapes are its
// own and are forwarded to callers mostly untouched.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *remote.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a connector client from configuration.
func NewClient(cfg config.DataspaceConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: remote.NewCircuitBreaker(cfg.CircuitBreaker),
		logger:  logger,
	}
}

// ExchangeResult is the raw outcome of a data exchange, proxied back to the
// caller with the connector's own status and content type.
type ExchangeResult struct {
	Status      int
	ContentType string
	Body        []byte
}

// Match submits biometric sample URLs for matching across the dataspace.
// The caller's bearer token is forwarded so the connector can enforce its
// own access control.
func (c *Client) Match(ctx context.Context, authorization string, query map[string]any) (any, error) {
	headers := http.Header{}
	if authorization != "" {
		headers.Set("Authorization", authorization)
	}
	return c.postJSON(ctx, "/match", query, headers)
}

// CreateRequest asks the connector to create a data request. The business
// key rides along inside the payload so the asynchronous response can be
// correlated back, and the optional solid token authenticates the requestor
// against the data owner's pod.
func (c *Client) CreateRequest(ctx context.Context, payload map[string]any, businessKey, solidToken string) (any, error) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body[model.VarBusinessKey] = businessKey

	headers := http.Header{}
	if solidToken != "" {
		headers.Set("solidToken", solidToken)
	}
	return c.postJSON(ctx, "/dsp-request", body, headers)
}

// CreateResponse asks the connector to create a data response.
func (c *Client) CreateResponse(ctx context.Context, payload any) (any, error) {
	return c.postJSON(ctx, "/dsp-response", payload, nil)
}

// DataExchange performs the actual data retrieval. The connector's reply can
// be file bytes of any content type, so it is captured verbatim instead of
// being decoded.
func (c *Client) DataExchange(ctx context.Context, payload map[string]any, businessKey string) (*ExchangeResult, error) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body[model.VarBusinessKey] = businessKey

	resp, raw, err := c.post(ctx, "/data-exchange", body, nil)
	if err != nil {
		return nil, err
	}
	return &ExchangeResult{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        raw,
	}, nil
}

// HealthCheck probes the connector.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("dataspace: connector unhealthy (%d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, headers http.Header) (any, error) {
	resp, raw, err := c.post(ctx, path, body, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.classifyStatus(path, resp.StatusCode, raw)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		// Some connector endpoints answer with bare strings.
		return string(raw), nil
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, headers http.Header) (*http.Response, []byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, nil, model.NewRemoteUnavailableError()
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("dataspace: marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("dataspace: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if remote.IsTimeoutError(err) {
			return nil, nil, model.NewRemoteTimeoutError()
		}
		if remote.IsConnectionError(err) {
			return nil, nil, model.NewRemoteUnavailableError()
		}
		return nil, nil, fmt.Errorf("dataspace: %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, nil, fmt.Errorf("dataspace: read response: %w", err)
	}

	if remote.IsServerError(resp.StatusCode) {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	return resp, payload, nil
}

func (c *Client) classifyStatus(path string, status int, body []byte) error {
	c.logger.Warn("connector rejected request",
		zap.String("path", path),
		zap.Int("status", status),
		zap.ByteString("body", body[:min(len(body), 512)]))
	switch {
	case status == http.StatusNotFound:
		return model.NewNotFoundError("connector resource not found")
	case remote.IsServerError(status):
		return model.NewRemoteUnavailableError()
	default:
		return model.NewBadRequestError(fmt.Sprintf("connector rejected %s (%d)", path, status))
	}
}

// biometricIDFields maps evidence-id request fields to the sample URL fields
// the connector expects.
var biometricIDFields = []string{"faceId", "voiceId", "fingerprintId"}

// TransformIDsToURLs rewrites evidence-id fields into externally resolvable
// evidence URLs. The three sample URL fields are always present, empty when
// the caller supplied no id for that modality; every other field passes
// through untouched.
func TransformIDsToURLs(query map[string]any, externalURL, businessKey string) map[string]any {
	out := map[string]any{
		"sampleFaceUrl":        "",
		"sampleVoiceUrl":       "",
		"sampleFingerprintUrl": "",
	}
	base := strings.TrimSuffix(externalURL, "/")

	for key, value := range query {
		if !isBiometricID(key) {
			out[key] = value
			continue
		}
		id, _ := value.(string)
		if id == "" {
			continue
		}
		modality := []rune(strings.TrimSuffix(key, "Id"))
		modality[0] = unicode.ToUpper(modality[0])
		out["sample"+string(modality)+"Url"] = fmt.Sprintf(
			"%s/api/cases/%s/evidence/%s", base, businessKey, id)
	}
	return out
}

func isBiometricID(key string) bool {
	for _, f := range biometricIDFields {
		if key == f {
			return true
		}
	}
	return false
}
