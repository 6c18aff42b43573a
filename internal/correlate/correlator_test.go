package correlate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/model"
)

type fakeLister struct {
	cases []model.Case
	err   error
}

func (f *fakeLister) OpenCases(context.Context, string) ([]model.Case, error) {
	return f.cases, f.err
}

func caseWithRequests(businessKey string, groups map[string]any) model.Case {
	return model.Case{
		Task: model.CaseTask{ID: "t-" + businessKey, Name: "Step4: Response"},
		Vars: model.Variables{
			model.VarBusinessKey: {Value: businessKey},
			model.VarTemplate:    {Value: "uc_3"},
			model.VarIntermediateResults: {Value: map[string]any{
				"request": groups,
			}},
		},
	}
}

func pending(from, recipientID, resIndex string) map[string]any {
	return map[string]any{"from": from, "recipientId": recipientID, "resIndex": resIndex}
}

func testCorrelator(lister CaseLister) *Correlator {
	return NewCorrelator(lister, "uc_3", zap.NewNop(), nil)
}

func TestCorrelate_matches_triple(t *testing.T) {
	lister := &fakeLister{cases: []model.Case{
		caseWithRequests("bk-other", map[string]any{
			"k1": []any{pending("x", "y", "R9")},
		}),
		caseWithRequests("bk-1", map[string]any{
			"k1": []any{pending("a", "b", "R1")},
			"k2": []any{pending("c", "d", "R2")},
		}),
	}}

	m, err := testCorrelator(lister).Correlate(context.Background(), model.InboundResponse{
		From: "c", ToID: "d", ResIndex: "R2",
	})
	require.NoError(t, err)
	assert.Equal(t, "bk-1", m.BusinessKey)
	assert.Equal(t, "k2", m.GroupKey)
}

func TestCorrelate_is_case_insensitive(t *testing.T) {
	lister := &fakeLister{cases: []model.Case{
		caseWithRequests("bk-1", map[string]any{
			"k1": []any{pending("A", "B", "r1")},
		}),
	}}

	m, err := testCorrelator(lister).Correlate(context.Background(), model.InboundResponse{
		From: "a", ToID: "b", ResIndex: "R1",
	})
	require.NoError(t, err)
	assert.Equal(t, "bk-1", m.BusinessKey)
	assert.Equal(t, "k1", m.GroupKey)
}

func TestCorrelate_not_found(t *testing.T) {
	lister := &fakeLister{cases: []model.Case{
		caseWithRequests("bk-1", map[string]any{
			"k1": []any{pending("a", "b", "R1")},
		}),
	}}

	_, err := testCorrelator(lister).Correlate(context.Background(), model.InboundResponse{
		From: "a", ToID: "b", ResIndex: "R2",
	})
	require.True(t, model.IsCode(err, model.ErrCorrelationNotFound), "err = %v", err)
}

func TestCorrelate_first_match_wins_on_ambiguity(t *testing.T) {
	lister := &fakeLister{cases: []model.Case{
		caseWithRequests("bk-first", map[string]any{
			"k1": []any{pending("a", "b", "R1")},
		}),
		caseWithRequests("bk-second", map[string]any{
			"k1": []any{pending("a", "b", "R1")},
		}),
	}}

	m, err := testCorrelator(lister).Correlate(context.Background(), model.InboundResponse{
		From: "a", ToID: "b", ResIndex: "R1",
	})
	require.NoError(t, err)
	assert.Equal(t, "bk-first", m.BusinessKey, "scan order decides ambiguous matches")
}

func TestCorrelate_skips_malformed_entries(t *testing.T) {
	lister := &fakeLister{cases: []model.Case{
		{
			Task: model.CaseTask{ID: "t-bare"},
			Vars: model.Variables{model.VarBusinessKey: {Value: "bk-bare"}},
		},
		caseWithRequests("bk-odd", map[string]any{
			"k1": "not an array",
			"k2": []any{"not an object", pending("a", "b", "R1")},
		}),
	}}

	m, err := testCorrelator(lister).Correlate(context.Background(), model.InboundResponse{
		From: "a", ToID: "b", ResIndex: "R1",
	})
	require.NoError(t, err)
	assert.Equal(t, "bk-odd", m.BusinessKey)
	assert.Equal(t, "k2", m.GroupKey)
}

func TestCorrelate_propagates_listing_failure(t *testing.T) {
	lister := &fakeLister{err: errors.New("engine down")}

	_, err := testCorrelator(lister).Correlate(context.Background(), model.InboundResponse{
		From: "a", ToID: "b", ResIndex: "R1",
	})
	require.Error(t, err)
	assert.False(t, model.IsCode(err, model.ErrCorrelationNotFound))
}
