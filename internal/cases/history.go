package cases

import (
	"context"

	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/camunda"
	"github.com/thridium/casetrack/model"
)

// HistoryGateway is the slice of the engine's historical store the history
// service depends on.
type HistoryGateway interface {
	ListFinished(ctx context.Context, definitionKey string, firstResult, maxResults int, filter string) ([]camunda.HistoricProcessInstance, error)
	CountFinished(ctx context.Context, definitionKey, filter string) (int, error)
	FindByBusinessKey(ctx context.Context, businessKey string) ([]camunda.HistoricProcessInstance, error)
	Variables(ctx context.Context, processInstanceID string) (model.Variables, error)
	DeleteInstance(ctx context.Context, processInstanceID string) error
}

// History reads closed cases from the engine's historical store. Archived
// cases are immutable; the only write operation is whole-case deletion.
type History struct {
	gw        HistoryGateway
	files     FileStore
	templates map[string]string
	logger    *zap.Logger
}

// NewHistory creates the closed-case read service.
func NewHistory(gw HistoryGateway, files FileStore, templates map[string]string, logger *zap.Logger) *History {
	return &History{gw: gw, files: files, templates: templates, logger: logger}
}

// List returns one page of closed cases for a template, newest first, using
// the same pagination envelope and accumulator stripping as the open-case
// listing.
func (h *History) List(ctx context.Context, template string, page, itemsPerPage int, filter string) (model.CasePage, error) {
	definitionKey, ok := h.templates[template]
	if !ok {
		return model.CasePage{}, model.NewBadRequestError("template " + template + " is not supported")
	}
	if itemsPerPage < 1 {
		itemsPerPage = 10
	}
	if page < 0 {
		page = 0
	}

	runs, err := h.gw.ListFinished(ctx, definitionKey, page*itemsPerPage, itemsPerPage, filter)
	if err != nil {
		return model.CasePage{}, err
	}
	total, err := h.gw.CountFinished(ctx, definitionKey, filter)
	if err != nil {
		return model.CasePage{}, err
	}

	data := make([]any, 0, len(runs))
	for _, run := range runs {
		vars, err := h.gw.Variables(ctx, run.ID)
		if err != nil {
			return model.CasePage{}, err
		}
		if vars[model.VarTemplate].StringValue() != template {
			continue
		}
		delete(vars, model.VarIntermediateResults)
		data = append(data, model.HistoricCase{Run: historicRun(run), Vars: vars})
	}

	totalPages := (total + itemsPerPage - 1) / itemsPerPage
	return model.CasePage{
		Page:        page,
		HasNextPage: (page+1)*itemsPerPage < total,
		TotalPages:  totalPages,
		TotalItems:  total,
		Data:        data,
	}, nil
}

// Get returns the closed case identified by businessKey. When multiple
// finished runs carry the key the newest one with a template variable wins.
func (h *History) Get(ctx context.Context, businessKey string) (model.HistoricCase, error) {
	runs, err := h.gw.FindByBusinessKey(ctx, businessKey)
	if err != nil {
		return model.HistoricCase{}, err
	}

	for _, run := range runs {
		vars, err := h.gw.Variables(ctx, run.ID)
		if err != nil {
			return model.HistoricCase{}, err
		}
		if vars[model.VarTemplate].StringValue() == "" {
			continue
		}
		return model.HistoricCase{Run: historicRun(run), Vars: vars}, nil
	}
	return model.HistoricCase{}, model.NewCaseNotFoundError(businessKey)
}

// Delete removes the closed case from the historical store and then its
// stored evidence payloads, with the same partial-failure semantics as the
// open-case delete.
func (h *History) Delete(ctx context.Context, businessKey string) error {
	c, err := h.Get(ctx, businessKey)
	if err != nil {
		return err
	}

	if err := h.gw.DeleteInstance(ctx, c.Run.ID); err != nil {
		return err
	}

	if err := h.files.RemoveAll(businessKey); err != nil {
		h.logger.Error("historic case deleted but evidence cleanup failed",
			zap.String("business_key", businessKey),
			zap.Error(err))
		return model.NewPartialDeleteError(businessKey, err)
	}

	h.logger.Info("historic case deleted", zap.String("business_key", businessKey))
	return nil
}

func historicRun(run camunda.HistoricProcessInstance) model.HistoricCaseRun {
	return model.HistoricCaseRun{
		ID:                   run.ID,
		BusinessKey:          run.BusinessKey,
		ProcessDefinitionKey: run.ProcessDefinitionKey,
		StartTime:            run.StartTime,
		EndTime:              run.EndTime,
		RemovalTime:          run.RemovalTime,
		State:                run.State,
	}
}
