package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/cases"
	"github.com/thridium/casetrack/internal/config"
	"github.com/thridium/casetrack/internal/correlate"
	"github.com/thridium/casetrack/internal/dataspace"
	"github.com/thridium/casetrack/internal/evidence"
	"github.com/thridium/casetrack/internal/observability"
	"github.com/thridium/casetrack/model"
)

// CaseService is the open-case lifecycle surface the handlers depend on.
type CaseService interface {
	Create(ctx context.Context, template string, initial model.Variables) (string, error)
	Get(ctx context.Context, businessKey string) (model.Case, error)
	List(ctx context.Context, template string, page, itemsPerPage int, filter string) (model.CasePage, error)
	Advance(ctx context.Context, businessKey, template string, step model.Step, partial any) (cases.AdvanceResult, error)
	InsertResults(ctx context.Context, businessKey string, step model.Step, partial any) error
	Update(ctx context.Context, businessKey string, modifications model.Variables) error
	Close(ctx context.Context, businessKey string) error
	Delete(ctx context.Context, businessKey string) error
}

// HistoryService is the closed-case surface.
type HistoryService interface {
	List(ctx context.Context, template string, page, itemsPerPage int, filter string) (model.CasePage, error)
	Get(ctx context.Context, businessKey string) (model.HistoricCase, error)
	Delete(ctx context.Context, businessKey string) error
}

// EvidenceService maintains the per-case evidence ledger.
type EvidenceService interface {
	Add(ctx context.Context, businessKey string, files []evidence.IncomingFile, meta evidence.Metadata) ([]model.EvidenceRecord, error)
	Remove(ctx context.Context, businessKey, evidenceID string) error
}

// PayloadOpener streams stored evidence payloads.
type PayloadOpener interface {
	Open(locator string) (io.ReadCloser, error)
}

// Exchanger is the dataspace connector surface.
type Exchanger interface {
	Match(ctx context.Context, authorization string, query map[string]any) (any, error)
	CreateRequest(ctx context.Context, payload map[string]any, businessKey, solidToken string) (any, error)
	CreateResponse(ctx context.Context, payload any) (any, error)
	DataExchange(ctx context.Context, payload map[string]any, businessKey string) (*dataspace.ExchangeResult, error)
}

// ResponseCorrelator resolves inbound responses to their originating case.
type ResponseCorrelator interface {
	Correlate(ctx context.Context, resp model.InboundResponse) (correlate.Match, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Authenticate func(http.Handler) http.Handler
	Ready        http.HandlerFunc

	Cases      CaseService
	History    HistoryService
	Evidence   EvidenceService
	Payloads   PayloadOpener
	Exchange   Exchanger
	Correlator ResponseCorrelator
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	h := &handlers{deps: deps}
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	if deps.Ready != nil {
		r.Get("/ready", deps.Ready)
	}
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path,
			promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Authenticated routes.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		r.Use(MetricsRecording(deps.Metrics))

		r.Route("/api/cases", func(r chi.Router) {
			r.Post("/", h.createCase)
			r.Get("/", h.listCases)
			r.Get("/{businessKey}", h.getCase)
			r.Put("/{businessKey}", h.updateCase)
			r.Delete("/{businessKey}", h.deleteCase)
			r.Put("/{businessKey}/advance", h.advanceCase)
			r.Put("/{businessKey}/close", h.closeCase)
			r.Post("/{businessKey}/evidence", h.addEvidence)
			r.Get("/{businessKey}/evidence/{evidenceId}", h.getEvidence)
			r.Delete("/{businessKey}/evidence/{evidenceId}", h.deleteEvidence)
		})

		r.Route("/api/history", func(r chi.Router) {
			r.Get("/", h.listHistory)
			r.Get("/{businessKey}", h.getHistoricCase)
			r.Delete("/{businessKey}", h.deleteHistoricCase)
			r.Get("/{businessKey}/evidence/{evidenceId}", h.getHistoricEvidence)
		})

		r.Route("/api/uc3", func(r chi.Router) {
			r.Post("/receive-dsp-response", h.receiveResponse)
			r.Post("/dsp-response", h.createResponse)
			r.Post("/{businessKey}/match", h.match)
			r.Post("/{businessKey}/dsp-request", h.createRequest)
			r.Post("/{businessKey}/data-exchange", h.dataExchange)
			r.Put("/{businessKey}/complete-analysis", h.completeAnalysis)
		})
	})

	return r
}

// handlers groups the request handlers around their shared dependencies.
type handlers struct {
	deps Dependencies
}
