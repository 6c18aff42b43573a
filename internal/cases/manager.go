// Package cases implements the case state machine layered over the workflow
// engine. The engine is the single source of truth; this package holds no
// case state of its own and serializes every transition through engine calls.
package cases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/camunda"
	"github.com/thridium/casetrack/internal/observability"
	"github.com/thridium/casetrack/model"
)

const (
	// updateMaxRetries bounds the retry loop of Update. The first call plus
	// the retries gives six attempts before the terminal failure.
	updateMaxRetries = 5
	updateRetryDelay = 2 * time.Second

	// maxCloseCompletions bounds the close loop so a cyclic workflow graph
	// cannot spin it forever.
	maxCloseCompletions = 50

	// maxListResults caps unpaginated scans (correlation, close checks).
	maxListResults = 100000
)

// Gateway is the slice of the engine API the state manager depends on.
type Gateway interface {
	ActiveTask(ctx context.Context, businessKey string) (*camunda.Task, error)
	ListTasks(ctx context.Context, definitionKey string, firstResult, maxResults int, filter string) ([]camunda.Task, error)
	CountTasks(ctx context.Context, definitionKey, filter string) (int, error)
	TaskVariables(ctx context.Context, taskID string) (model.Variables, error)
	FormVariables(ctx context.Context, taskID string) (model.Variables, error)
	CompleteTask(ctx context.Context, taskID string, variables model.Variables) error
	PatchProcessVariables(ctx context.Context, processInstanceID string, modifications model.Variables) error
	DeleteProcessInstance(ctx context.Context, processInstanceID string) error
	StartProcess(ctx context.Context, definitionKey, businessKey string, variables model.Variables) (*camunda.ProcessInstance, error)
}

// FileStore is the slice of the evidence store the state manager needs when
// deleting a case.
type FileStore interface {
	RemoveAll(businessKey string) error
}

// Manager drives case lifecycle transitions against the engine.
type Manager struct {
	gw        Gateway
	files     FileStore
	templates map[string]string
	logger    *zap.Logger
	metrics   *observability.Metrics

	retryDelay time.Duration
}

// NewManager creates a case state manager. templates maps use-case template
// names to engine process definition keys and is immutable after startup.
func NewManager(gw Gateway, files FileStore, templates map[string]string, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		gw:         gw,
		files:      files,
		templates:  templates,
		logger:     logger,
		metrics:    metrics,
		retryDelay: updateRetryDelay,
	}
}

// AdvanceResult reports what Advance did with a contribution.
type AdvanceResult struct {
	// Advanced is true when the current task was completed and the case
	// moved to its next step.
	Advanced bool
	// TemplateMismatch is true when the case belongs to a different template
	// and nothing was persisted. It is an outcome, not an error.
	TemplateMismatch bool
}

// Get returns the open case identified by businessKey. A case exists exactly
// as long as the engine holds an active task carrying a template variable for
// its business key.
func (m *Manager) Get(ctx context.Context, businessKey string) (model.Case, error) {
	task, err := m.gw.ActiveTask(ctx, businessKey)
	if err != nil {
		return model.Case{}, err
	}
	if task == nil {
		return model.Case{}, model.NewCaseNotFoundError(businessKey)
	}

	vars, err := m.gw.FormVariables(ctx, task.ID)
	if err != nil {
		return model.Case{}, err
	}
	if vars[model.VarTemplate].StringValue() == "" {
		m.logger.Warn("active task has no template variable, treating case as absent",
			zap.String("business_key", businessKey),
			zap.String("task_id", task.ID))
		return model.Case{}, model.NewCaseNotFoundError(businessKey)
	}

	return model.Case{
		Task: model.CaseTask{
			ID:                task.ID,
			Name:              task.Name,
			Created:           task.Created,
			ProcessInstanceID: task.ProcessInstanceID,
		},
		Vars: vars,
	}, nil
}

// List returns one page of open cases for a template. Pages are zero-based.
// The intermediate result accumulator is stripped from listing payloads; it
// is internal to the result merging machinery and can grow large.
func (m *Manager) List(ctx context.Context, template string, page, itemsPerPage int, filter string) (model.CasePage, error) {
	definitionKey, ok := m.templates[template]
	if !ok {
		return model.CasePage{}, model.NewBadRequestError("template " + template + " is not supported")
	}
	if itemsPerPage < 1 {
		itemsPerPage = 10
	}
	if page < 0 {
		page = 0
	}

	tasks, err := m.gw.ListTasks(ctx, definitionKey, page*itemsPerPage, itemsPerPage, filter)
	if err != nil {
		return model.CasePage{}, err
	}
	total, err := m.gw.CountTasks(ctx, definitionKey, filter)
	if err != nil {
		return model.CasePage{}, err
	}

	data := make([]any, 0, len(tasks))
	for _, task := range tasks {
		vars, err := m.gw.FormVariables(ctx, task.ID)
		if err != nil {
			return model.CasePage{}, err
		}
		if vars[model.VarTemplate].StringValue() != template {
			continue
		}
		delete(vars, model.VarIntermediateResults)
		data = append(data, model.Case{
			Task: model.CaseTask{
				ID:                task.ID,
				Name:              task.Name,
				Created:           task.Created,
				ProcessInstanceID: task.ProcessInstanceID,
			},
			Vars: vars,
		})
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

// Create starts a new case for a template. The engine assigns the process
// instance; the generated business key is the case's external identity. The
// workflow's bootstrap task is completed immediately with the initial
// variables so that the case lands on its first real step.
func (m *Manager) Create(ctx context.Context, template string, initial model.Variables) (string, error) {
	definitionKey, ok := m.templates[template]
	if !ok {
		return "", model.NewBadRequestError("template " + template + " is not supported")
	}

	businessKey := uuid.NewString()

	vars := make(model.Variables, len(initial)+2)
	for name, v := range initial {
		vars[name] = v.StripType()
	}
	vars[model.VarBusinessKey] = model.Variable{Value: businessKey}
	vars[model.VarTemplate] = model.Variable{Value: template}

	if _, err := m.gw.StartProcess(ctx, definitionKey, businessKey, vars); err != nil {
		return "", err
	}

	task, err := m.gw.ActiveTask(ctx, businessKey)
	if err != nil {
		return "", err
	}
	if task != nil {
		if err := m.gw.CompleteTask(ctx, task.ID, vars); err != nil {
			return "", err
		}
	}

	if m.metrics != nil {
		m.metrics.CasesCreatedTotal.Inc()
	}
	m.logger.Info("case created",
		zap.String("business_key", businessKey),
		zap.String("template", template))
	return businessKey, nil
}

// Advance folds a partial result into the case's accumulator for step and, if
// the case currently sits on that step, completes the task so the workflow
// moves on. When the case is on a different step the merged value is patched
// onto the instance and the task is left pending. A template mismatch
// persists nothing and is reported as an outcome rather than an error.
func (m *Manager) Advance(ctx context.Context, businessKey, template string, step model.Step, partial any) (res AdvanceResult, err error) {
	ctx, span := observability.StartSpan(ctx, "cases.advance",
		observability.AttrBusinessKey.String(businessKey),
		observability.AttrTemplate.String(template),
		observability.AttrStep.String(string(step)))
	defer func() { observability.EndSpan(span, err) }()

	task, err := m.gw.ActiveTask(ctx, businessKey)
	if err != nil {
		return AdvanceResult{}, err
	}
	if task == nil {
		return AdvanceResult{}, model.NewCaseNotFoundError(businessKey)
	}

	vars, err := m.gw.TaskVariables(ctx, task.ID)
	if err != nil {
		return AdvanceResult{}, err
	}

	if vars[model.VarTemplate].StringValue() != template {
		m.logger.Warn("advance refused, case belongs to a different template",
			zap.String("business_key", businessKey),
			zap.String("requested_template", template),
			zap.String("case_template", vars[model.VarTemplate].StringValue()),
			zap.String("step", string(step)))
		m.recordAdvance(step, "mismatch")
		return AdvanceResult{TemplateMismatch: true}, nil
	}

	results, _ := vars[model.VarIntermediateResults].MapValue()
	merged, err := MergeStepValue(results[string(step)], partial)
	if err != nil {
		return AdvanceResult{}, err
	}
	if results == nil {
		results = map[string]any{}
	}
	results[string(step)] = merged

	// The variable is rebuilt without the engine's type tag; resubmitting a
	// previously read tag makes the engine reject the write.
	modifications := model.Variables{
		model.VarIntermediateResults: {Value: results},
	}

	if step.MatchesTaskName(task.Name) {
		if err := m.gw.CompleteTask(ctx, task.ID, modifications); err != nil {
			return AdvanceResult{}, err
		}
		m.recordAdvance(step, "advanced")
		m.logger.Info("case advanced",
			zap.String("business_key", businessKey),
			zap.String("step", string(step)),
			zap.String("task", task.Name))
		return AdvanceResult{Advanced: true}, nil
	}

	if err := m.gw.PatchProcessVariables(ctx, task.ProcessInstanceID, modifications); err != nil {
		return AdvanceResult{}, err
	}
	m.recordAdvance(step, "patched")
	m.logger.Info("result recorded without advancing, case is on another step",
		zap.String("business_key", businessKey),
		zap.String("step", string(step)),
		zap.String("task", task.Name))
	return AdvanceResult{}, nil
}

// InsertResults folds a partial result into the accumulator and persists it
// via a plain variable patch. It never completes a task and, unlike Update,
// never retries; callers on the inbound response path treat a failure here
// as a hard stop.
func (m *Manager) InsertResults(ctx context.Context, businessKey string, step model.Step, partial any) error {
	c, err := m.Get(ctx, businessKey)
	if err != nil {
		return err
	}

	results, _ := c.IntermediateResults()
	merged, err := MergeStepValue(results[string(step)], partial)
	if err != nil {
		return err
	}
	if results == nil {
		results = map[string]any{}
	}
	results[string(step)] = merged

	return m.gw.PatchProcessVariables(ctx, c.Task.ProcessInstanceID, model.Variables{
		model.VarIntermediateResults: {Value: results},
	})
}

// Update writes caller-supplied variable modifications onto the case's
// process instance. Transient engine failures and write conflicts are retried
// with a fixed delay; after the attempts are exhausted the terminal
// RETRIES_EXHAUSTED failure is returned so the caller can tell it apart from
// success and from a still-retrying state.
func (m *Manager) Update(ctx context.Context, businessKey string, modifications model.Variables) error {
	c, err := m.Get(ctx, businessKey)
	if err != nil {
		return err
	}

	stripped := make(model.Variables, len(modifications))
	for name, v := range modifications {
		stripped[name] = v.StripType()
	}

	var lastErr error
	for attempt := 0; attempt <= updateMaxRetries; attempt++ {
		if attempt > 0 {
			if m.metrics != nil {
				m.metrics.CaseUpdateRetries.Inc()
			}
			m.logger.Warn("retrying case update",
				zap.String("business_key", businessKey),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}

		err := m.gw.PatchProcessVariables(ctx, c.Task.ProcessInstanceID, stripped)
		if err == nil {
			return nil
		}
		if !isRetryableUpdate(err) {
			return err
		}
		lastErr = err
	}

	m.logger.Error("case update failed after exhausting retries",
		zap.String("business_key", businessKey),
		zap.Error(lastErr))
	return model.NewRetriesExhaustedError(businessKey, updateMaxRetries+1)
}

// Close drives the case to its terminal workflow state by repeatedly
// completing the active task with no variables until none remains. The
// workflow graph decides how many completions that takes. An engine
// rejection of an empty completion is fatal and needs operator attention.
func (m *Manager) Close(ctx context.Context, businessKey string) error {
	completed := 0
	for {
		task, err := m.gw.ActiveTask(ctx, businessKey)
		if err != nil {
			return err
		}
		if task == nil {
			if completed == 0 {
				return model.NewCaseNotFoundError(businessKey)
			}
			if m.metrics != nil {
				m.metrics.CasesClosedTotal.Inc()
			}
			m.logger.Info("case closed",
				zap.String("business_key", businessKey),
				zap.Int("steps_completed", completed))
			return nil
		}
		if completed >= maxCloseCompletions {
			return model.NewCloseRejectedError(businessKey, errors.New("workflow did not terminate"))
		}
		if err := m.gw.CompleteTask(ctx, task.ID, nil); err != nil {
			return model.NewCloseRejectedError(businessKey, err)
		}
		completed++
	}
}

// Delete removes the case's process instance and then its stored evidence
// payloads. The two deletions are not atomic: when the instance is gone but
// file cleanup fails, PARTIAL_DELETE is returned and operators reconcile the
// orphaned files by hand.
func (m *Manager) Delete(ctx context.Context, businessKey string) error {
	c, err := m.Get(ctx, businessKey)
	if err != nil {
		return err
	}

	if err := m.gw.DeleteProcessInstance(ctx, c.Task.ProcessInstanceID); err != nil {
		return err
	}

	if err := m.files.RemoveAll(businessKey); err != nil {
		if m.metrics != nil {
			m.metrics.CasesDeletedTotal.WithLabelValues("partial").Inc()
		}
		m.logger.Error("case instance deleted but evidence cleanup failed",
			zap.String("business_key", businessKey),
			zap.Error(err))
		return model.NewPartialDeleteError(businessKey, err)
	}

	if m.metrics != nil {
		m.metrics.CasesDeletedTotal.WithLabelValues("ok").Inc()
	}
	m.logger.Info("case deleted", zap.String("business_key", businessKey))
	return nil
}

// OpenCases returns every open case of a template including the intermediate
// result accumulator. The correlation scan needs the full variable set, so
// nothing is stripped here.
func (m *Manager) OpenCases(ctx context.Context, template string) ([]model.Case, error) {
	definitionKey, ok := m.templates[template]
	if !ok {
		return nil, model.NewBadRequestError("template " + template + " is not supported")
	}

	tasks, err := m.gw.ListTasks(ctx, definitionKey, 0, maxListResults, "")
	if err != nil {
		return nil, err
	}

	out := make([]model.Case, 0, len(tasks))
	for _, task := range tasks {
		vars, err := m.gw.FormVariables(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if vars[model.VarTemplate].StringValue() != template {
			continue
		}
		out = append(out, model.Case{
			Task: model.CaseTask{
				ID:                task.ID,
				Name:              task.Name,
				Created:           task.Created,
				ProcessInstanceID: task.ProcessInstanceID,
			},
			Vars: vars,
		})
	}
	return out, nil
}

func (m *Manager) recordAdvance(step model.Step, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordAdvance(string(step), outcome)
	}
}

// isRetryableUpdate reports whether an update failure is worth retrying.
// Engine write conflicts clear once the competing writer finishes, and
// unavailability is expected to be transient.
func isRetryableUpdate(err error) bool {
	return model.IsCode(err, model.ErrConflict) ||
		model.IsCode(err, model.ErrRemoteUnavailable) ||
		model.IsCode(err, model.ErrRemoteTimeout)
}
