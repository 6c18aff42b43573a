package transport

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/evidence"
	"github.com/thridium/casetrack/model"
)

// evidenceFieldName is the multipart field carrying the uploaded files.
const evidenceFieldName = "evidence"

func (h *handlers) addEvidence(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")

	maxSize := h.deps.Config.Evidence.MaxUploadSize
	if maxSize <= 0 {
		maxSize = 64 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		WriteError(w, model.NewBadRequestError("request is not a valid multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fileHeaders := r.MultipartForm.File[evidenceFieldName]
	files := make([]evidence.IncomingFile, 0, len(fileHeaders))
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			WriteError(w, model.NewBadRequestError("cannot read uploaded file "+fh.Filename))
			return
		}
		closers = append(closers, f)
		files = append(files, evidence.IncomingFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     f,
		})
	}

	meta := evidence.Metadata{
		Descriptions: metadataValues(r, "descriptions"),
		Tags:         metadataValues(r, "tags"),
		Titles:       metadataValues(r, "titles"),
		Sources:      metadataValues(r, "sources"),
		Comments:     metadataValues(r, "comments"),
		Datetimes:    metadataValues(r, "datetimes"),
	}

	records, err := h.deps.Evidence.Add(r.Context(), businessKey, files, meta)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, records)
}

func (h *handlers) getEvidence(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")
	evidenceID := chi.URLParam(r, "evidenceId")

	c, err := h.deps.Cases.Get(r.Context(), businessKey)
	if err != nil {
		WriteError(w, err)
		return
	}

	records, ok := c.Evidence()
	record, err := evidence.Lookup(records, ok, businessKey, evidenceID)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.streamPayload(w, record)
}

func (h *handlers) deleteEvidence(w http.ResponseWriter, r *http.Request) {
	businessKey := chi.URLParam(r, "businessKey")
	evidenceID := chi.URLParam(r, "evidenceId")

	if err := h.deps.Evidence.Remove(r.Context(), businessKey, evidenceID); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusResetContent)
}

// streamPayload writes the stored file bytes with the MIME type recorded at
// upload time.
func (h *handlers) streamPayload(w http.ResponseWriter, record model.EvidenceRecord) {
	f, err := h.deps.Payloads.Open(record.StorageLocator)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer f.Close()

	contentType := record.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.deps.Logger.Warn("evidence stream interrupted",
			zap.String("evidence_id", record.ID),
			zap.Error(err))
	}
}

// metadataValues reads a parallel metadata field as a comma-separated list.
// Repeated form fields are folded into the same list. An absent field means
// no metadata of that kind rather than zero entries.
func metadataValues(r *http.Request, field string) []string {
	values := r.MultipartForm.Value[field]
	if len(values) == 0 {
		return nil
	}
	return strings.Split(strings.Join(values, ","), ",")
}
