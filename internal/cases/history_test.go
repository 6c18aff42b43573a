package cases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/camunda"
	"github.com/thridium/casetrack/model"
)

type fakeHistoryGateway struct {
	listFn   func(definitionKey string, first, max int, filter string) ([]camunda.HistoricProcessInstance, error)
	countFn  func(definitionKey, filter string) (int, error)
	findFn   func(businessKey string) ([]camunda.HistoricProcessInstance, error)
	varsFn   func(processInstanceID string) (model.Variables, error)
	deleteFn func(processInstanceID string) error
}

func (f *fakeHistoryGateway) ListFinished(_ context.Context, definitionKey string, first, max int, filter string) ([]camunda.HistoricProcessInstance, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(definitionKey, first, max, filter)
}

func (f *fakeHistoryGateway) CountFinished(_ context.Context, definitionKey, filter string) (int, error) {
	if f.countFn == nil {
		return 0, nil
	}
	return f.countFn(definitionKey, filter)
}

func (f *fakeHistoryGateway) FindByBusinessKey(_ context.Context, businessKey string) ([]camunda.HistoricProcessInstance, error) {
	if f.findFn == nil {
		return nil, nil
	}
	return f.findFn(businessKey)
}

func (f *fakeHistoryGateway) Variables(_ context.Context, processInstanceID string) (model.Variables, error) {
	if f.varsFn == nil {
		return model.Variables{}, nil
	}
	return f.varsFn(processInstanceID)
}

func (f *fakeHistoryGateway) DeleteInstance(_ context.Context, processInstanceID string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(processInstanceID)
}

func testHistory(gw HistoryGateway, files FileStore) *History {
	return NewHistory(gw, files, map[string]string{"uc_3": "process_uc3"}, zap.NewNop())
}

func finishedRun(id, businessKey string) camunda.HistoricProcessInstance {
	return camunda.HistoricProcessInstance{
		ID:                   id,
		BusinessKey:          businessKey,
		ProcessDefinitionKey: "process_uc3",
		State:                "COMPLETED",
	}
}

func TestHistoryGet_picks_run_with_template(t *testing.T) {
	gw := &fakeHistoryGateway{
		findFn: func(string) ([]camunda.HistoricProcessInstance, error) {
			return []camunda.HistoricProcessInstance{
				finishedRun("pi-stray", "bk-1"),
				finishedRun("pi-real", "bk-1"),
			}, nil
		},
		varsFn: func(id string) (model.Variables, error) {
			if id == "pi-stray" {
				return model.Variables{}, nil
			}
			return caseVars("uc_3", nil), nil
		},
	}
	h := testHistory(gw, &fakeFiles{})

	c, err := h.Get(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "pi-real", c.Run.ID)
	assert.Equal(t, "uc_3", c.Vars[model.VarTemplate].StringValue())
}

func TestHistoryGet_not_found(t *testing.T) {
	h := testHistory(&fakeHistoryGateway{}, &fakeFiles{})

	_, err := h.Get(context.Background(), "bk-gone")
	require.True(t, model.IsCode(err, model.ErrCaseNotFound), "err = %v", err)
}

func TestHistoryList_strips_results_accumulator(t *testing.T) {
	gw := &fakeHistoryGateway{
		listFn: func(definitionKey string, first, max int, filter string) ([]camunda.HistoricProcessInstance, error) {
			assert.Equal(t, "process_uc3", definitionKey)
			assert.Equal(t, 0, first)
			return []camunda.HistoricProcessInstance{finishedRun("pi-1", "bk-1")}, nil
		},
		countFn: func(string, string) (int, error) { return 1, nil },
		varsFn: func(string) (model.Variables, error) {
			return caseVars("uc_3", map[string]any{"match": map[string]any{"score": 0.9}}), nil
		},
	}
	h := testHistory(gw, &fakeFiles{})

	page, err := h.List(context.Background(), "uc_3", 0, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalItems)
	assert.False(t, page.HasNextPage)
	require.Len(t, page.Data, 1)

	c := page.Data[0].(model.HistoricCase)
	_, hasResults := c.Vars[model.VarIntermediateResults]
	assert.False(t, hasResults)
}

func TestHistoryDelete_removes_run_then_files(t *testing.T) {
	var deleted string
	files := &fakeFiles{}
	gw := &fakeHistoryGateway{
		findFn: func(string) ([]camunda.HistoricProcessInstance, error) {
			return []camunda.HistoricProcessInstance{finishedRun("pi-1", "bk-1")}, nil
		},
		varsFn: func(string) (model.Variables, error) { return caseVars("uc_3", nil), nil },
		deleteFn: func(id string) error {
			deleted = id
			return nil
		},
	}
	h := testHistory(gw, files)

	err := h.Delete(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "pi-1", deleted)
	assert.Equal(t, []string{"bk-1"}, files.removed)
}
