// Package correlate resolves unsolicited asynchronous responses back to the
// open case that issued the matching request. There is no correlation index:
// every lookup is a full scan over the open cases of the template, which is
// acceptable at the case counts this system sees.
package correlate

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/observability"
	"github.com/thridium/casetrack/model"
)

// CaseLister returns every open case of a template with its intermediate
// result accumulator intact.
type CaseLister interface {
	OpenCases(ctx context.Context, template string) ([]model.Case, error)
}

// Match is the correlation result: which case issued the request and under
// which grouping key it was recorded.
type Match struct {
	BusinessKey string
	GroupKey    string
}

// Correlator scans pending requests for the originator of a response.
type Correlator struct {
	cases    CaseLister
	template string
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewCorrelator creates a correlator over the open cases of one template.
func NewCorrelator(cases CaseLister, template string, logger *zap.Logger, metrics *observability.Metrics) *Correlator {
	return &Correlator{cases: cases, template: template, logger: logger, metrics: metrics}
}

// Correlate finds the pending request matching an inbound response. A
// request matches when its from, recipientId, and resIndex equal the
// response's from, toId, and resIndex, compared case-insensitively. The
// resIndex token is not globally unique, so several cases can match; the
// first in scan order wins and the ambiguity is logged. Scan order is case
// listing order, then grouping keys in sorted order, then array order.
func (c *Correlator) Correlate(ctx context.Context, resp model.InboundResponse) (_ Match, err error) {
	ctx, span := observability.StartSpan(ctx, "correlate.scan",
		observability.AttrTemplate.String(c.template))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()

	open, err := c.cases.OpenCases(ctx, c.template)
	if err != nil {
		return Match{}, err
	}

	var first *Match
	ambiguous := 0
	for _, openCase := range open {
		results, ok := openCase.IntermediateResults()
		if !ok {
			continue
		}
		groups, ok := results[string(model.StepRequest)].(map[string]any)
		if !ok {
			continue
		}

		keys := make([]string, 0, len(groups))
		for key := range groups {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			requests, ok := groups[key].([]any)
			if !ok {
				continue
			}
			for _, raw := range requests {
				if !requestMatches(raw, resp) {
					continue
				}
				if first == nil {
					first = &Match{BusinessKey: openCase.BusinessKey(), GroupKey: key}
				} else {
					ambiguous++
				}
			}
		}
	}

	elapsed := time.Since(start)
	if first == nil {
		c.record("not_found", elapsed, len(open))
		return Match{}, model.NewCorrelationNotFoundError()
	}

	if ambiguous > 0 {
		c.record("ambiguous", elapsed, len(open))
		c.logger.Warn("response matches more than one pending request, using the first",
			zap.String("business_key", first.BusinessKey),
			zap.String("res_index", resp.ResIndex),
			zap.Int("extra_matches", ambiguous))
	} else {
		c.record("matched", elapsed, len(open))
	}

	span.SetAttributes(observability.AttrBusinessKey.String(first.BusinessKey))
	c.logger.Info("response correlated",
		zap.String("business_key", first.BusinessKey),
		zap.String("group_key", first.GroupKey),
		zap.String("from", resp.From))
	return *first, nil
}

// requestMatches compares one recorded pending request against the response
// triple. Requests are stored as loosely typed JSON objects; anything that
// does not carry the three string fields simply does not match.
func requestMatches(raw any, resp model.InboundResponse) bool {
	req, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	from, _ := req["from"].(string)
	recipient, _ := req["recipientId"].(string)
	resIndex, _ := req["resIndex"].(string)

	return strings.EqualFold(from, resp.From) &&
		strings.EqualFold(recipient, resp.ToID) &&
		strings.EqualFold(resIndex, resp.ResIndex)
}

func (c *Correlator) record(outcome string, elapsed time.Duration, scanned int) {
	if c.metrics != nil {
		c.metrics.RecordCorrelation(outcome, elapsed, scanned)
	}
}
