package evidence

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/config"
	"github.com/thridium/casetrack/internal/observability"
	"github.com/thridium/casetrack/model"
)

// defaultCollectMarker identifies the evidence-collection step by task name
// when the configuration does not override it. Task names are free text, so
// matching is substring containment like the step matching in the advance
// path.
const defaultCollectMarker = "step2"

// CaseReader resolves the open case an upload targets.
type CaseReader interface {
	Get(ctx context.Context, businessKey string) (model.Case, error)
}

// CaseWriter is the slice of the engine gateway the ledger writes through.
type CaseWriter interface {
	CompleteTask(ctx context.Context, taskID string, variables model.Variables) error
	PatchProcessVariables(ctx context.Context, processInstanceID string, modifications model.Variables) error
}

// IncomingFile is one uploaded payload before it has a record.
type IncomingFile struct {
	Name     string
	MimeType string
	Data     io.Reader
}

// Metadata carries the parallel per-file metadata arrays of an upload.
// Descriptions and Tags must have exactly one entry per file; the remaining
// slices are either empty or the same length as the file list.
type Metadata struct {
	Descriptions []string
	Tags         []string
	Titles       []string
	Sources      []string
	Comments     []string
	Datetimes    []string
}

// Ledger maintains the evidence list stored in the case's engine variables.
// The list only ever grows through Add; records are appended in upload order
// and never reordered.
type Ledger struct {
	cases         CaseReader
	engine        CaseWriter
	store         *Store
	collectMarker string
	logger        *zap.Logger
	metrics       *observability.Metrics

	now func() time.Time
}

// NewLedger creates the evidence ledger. The collection-step marker comes
// from configuration and is fixed for the process lifetime, like the
// template table.
func NewLedger(cases CaseReader, engine CaseWriter, store *Store, cfg config.EvidenceConfig, logger *zap.Logger, metrics *observability.Metrics) *Ledger {
	marker := strings.ToLower(cfg.CollectStepMarker)
	if marker == "" {
		marker = defaultCollectMarker
	}
	return &Ledger{
		cases:         cases,
		engine:        engine,
		store:         store,
		collectMarker: marker,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Add stores the uploaded payloads and appends one record per file to the
// case's evidence list. When the case currently sits on the evidence
// collection step the combined list goes out with the task completion;
// otherwise it is patched onto the instance without advancing. A duplicate
// filename rejects the whole upload before anything is persisted.
func (l *Ledger) Add(ctx context.Context, businessKey string, files []IncomingFile, meta Metadata) ([]model.EvidenceRecord, error) {
	if len(files) == 0 {
		return nil, model.NewBadRequestError("upload contains no files")
	}
	if err := meta.validate(len(files)); err != nil {
		return nil, err
	}

	c, err := l.cases.Get(ctx, businessKey)
	if err != nil {
		return nil, err
	}

	records := make([]model.EvidenceRecord, 0, len(files))
	saved := make([]string, 0, len(files))
	for i, file := range files {
		locator, size, err := l.store.Save(businessKey, file.Name, file.Data)
		if err != nil {
			l.discard(saved)
			return nil, err
		}
		saved = append(saved, locator)
		records = append(records, model.EvidenceRecord{
			ID:             uuid.NewString(),
			MimeType:       file.MimeType,
			CreatedAt:      l.now().UTC(),
			StorageLocator: locator,
			Description:    meta.at(meta.Descriptions, i),
			Tag:            meta.at(meta.Tags, i),
			Title:          meta.at(meta.Titles, i),
			Source:         meta.at(meta.Sources, i),
			Comment:        meta.at(meta.Comments, i),
			Datetime:       meta.at(meta.Datetimes, i),
			Size:           size,
		})
	}

	combined := appendRecords(c.Vars[model.VarEvidence].Value, records)
	modifications := model.Variables{
		model.VarEvidence: {Value: combined},
	}

	if strings.Contains(strings.ToLower(c.Task.Name), l.collectMarker) {
		err = l.engine.CompleteTask(ctx, c.Task.ID, modifications)
	} else {
		err = l.engine.PatchProcessVariables(ctx, c.Task.ProcessInstanceID, modifications)
	}
	if err != nil {
		l.discard(saved)
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.EvidenceRecordsAdded.Add(float64(len(records)))
	}
	l.logger.Info("evidence added",
		zap.String("business_key", businessKey),
		zap.Int("files", len(records)))
	return records, nil
}

// Remove deletes one evidence record and its payload from an open case.
func (l *Ledger) Remove(ctx context.Context, businessKey, evidenceID string) error {
	c, err := l.cases.Get(ctx, businessKey)
	if err != nil {
		return err
	}

	records, ok := c.Evidence()
	if !ok {
		return model.NewCaseNoEvidenceError(businessKey)
	}

	target, remaining := splitRecord(records, evidenceID)
	if target == nil {
		return model.NewEvidenceNotFoundError(businessKey, evidenceID)
	}

	// The ledger record goes first: a failure after the patch orphans a
	// payload file, never a live record pointing at a deleted one.
	err = l.engine.PatchProcessVariables(ctx, c.Task.ProcessInstanceID, model.Variables{
		model.VarEvidence: {Value: remaining},
	})
	if err != nil {
		return err
	}

	if err := l.store.Remove(target.StorageLocator); err != nil {
		l.logger.Warn("leaking payload after removed record",
			zap.String("locator", target.StorageLocator),
			zap.Error(err))
	}

	l.logger.Info("evidence removed",
		zap.String("business_key", businessKey),
		zap.String("evidence_id", evidenceID))
	return nil
}

// Lookup finds one record in a case's evidence list without touching the
// engine. It works for open and archived cases alike.
func Lookup(records []model.EvidenceRecord, ok bool, businessKey, evidenceID string) (model.EvidenceRecord, error) {
	if !ok {
		return model.EvidenceRecord{}, model.NewCaseNoEvidenceError(businessKey)
	}
	for _, r := range records {
		if r.ID == evidenceID {
			return r, nil
		}
	}
	return model.EvidenceRecord{}, model.NewEvidenceNotFoundError(businessKey, evidenceID)
}

// discard removes payloads written before an upload failed part-way.
func (l *Ledger) discard(locators []string) {
	for _, locator := range locators {
		if err := l.store.Remove(locator); err != nil {
			l.logger.Warn("leaking payload after failed upload",
				zap.String("locator", locator),
				zap.Error(err))
		}
	}
}

func (m Metadata) validate(files int) error {
	for _, field := range []struct {
		name     string
		values   []string
		optional bool
	}{
		{"descriptions", m.Descriptions, false},
		{"tags", m.Tags, false},
		{"titles", m.Titles, true},
		{"sources", m.Sources, true},
		{"comments", m.Comments, true},
		{"datetimes", m.Datetimes, true},
	} {
		if field.optional && len(field.values) == 0 {
			continue
		}
		if len(field.values) != files {
			return model.NewMismatchedCountsError(fmt.Sprintf(
				"%s has %d entries for %d files", field.name, len(field.values), files))
		}
	}
	return nil
}

func (m Metadata) at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

// appendRecords concatenates new records onto the raw existing list, keeping
// whatever shape the engine returned for the old entries.
func appendRecords(existing any, records []model.EvidenceRecord) []any {
	var combined []any
	if arr, ok := existing.([]any); ok {
		combined = append(combined, arr...)
	}
	for _, r := range records {
		combined = append(combined, r)
	}
	return combined
}

// splitRecord removes the record with the given id, returning it and the
// remaining list in original order.
func splitRecord(records []model.EvidenceRecord, evidenceID string) (*model.EvidenceRecord, []model.EvidenceRecord) {
	remaining := make([]model.EvidenceRecord, 0, len(records))
	var target *model.EvidenceRecord
	for i := range records {
		if records[i].ID == evidenceID && target == nil {
			target = &records[i]
			continue
		}
		remaining = append(remaining, records[i])
	}
	return target, remaining
}
