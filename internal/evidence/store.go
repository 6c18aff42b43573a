// Package evidence manages file evidence attached to cases: the on-disk
// payload store and the ledger of evidence records kept inside the case's
// engine variables. A record and its payload belong to exactly one case and
// are removed with it.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/thridium/casetrack/internal/config"
	"github.com/thridium/casetrack/model"
)

// Store keeps evidence payloads on the local filesystem, one directory per
// business key. Locators returned by Save are paths relative to the store
// root and are what evidence records carry in their url field.
type Store struct {
	root    string
	maxSize int64
}

// NewStore creates a payload store rooted at the configured upload directory.
func NewStore(cfg config.EvidenceConfig) *Store {
	return &Store{root: cfg.UploadDir, maxSize: cfg.MaxUploadSize}
}

// Save writes one payload under the case's directory. Filenames are unique
// per case; saving a name that already exists fails with DUPLICATE_EVIDENCE
// and leaves the existing payload untouched.
func (s *Store) Save(businessKey, filename string, data io.Reader) (string, int64, error) {
	dir := filepath.Join(s.root, filepath.Base(businessKey))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("evidence: create case directory: %w", err)
	}

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return "", 0, model.NewBadRequestError("evidence file has no usable name")
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", 0, model.NewDuplicateEvidenceError(name, businessKey)
		}
		return "", 0, fmt.Errorf("evidence: create payload file: %w", err)
	}

	reader := data
	if s.maxSize > 0 {
		reader = io.LimitReader(data, s.maxSize)
	}
	size, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("evidence: write payload: %w", err)
	}

	return filepath.Join(filepath.Base(businessKey), name), size, nil
}

// Open returns the payload behind a locator for streaming to a client.
func (s *Store) Open(locator string) (io.ReadCloser, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.NewNotFoundError("evidence payload is missing from storage")
		}
		return nil, fmt.Errorf("evidence: open payload: %w", err)
	}
	return f, nil
}

// Remove deletes one payload. A payload that is already gone is not an
// error; the ledger entry is what matters.
func (s *Store) Remove(locator string) error {
	path, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("evidence: remove payload: %w", err)
	}
	return nil
}

// RemoveAll deletes the case's whole payload directory.
func (s *Store) RemoveAll(businessKey string) error {
	dir := filepath.Join(s.root, filepath.Base(businessKey))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("evidence: remove case directory: %w", err)
	}
	return nil
}

// HealthCheck verifies that the store root exists and is a directory.
func (s *Store) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("evidence: store root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("evidence: store root %s is not a directory", s.root)
	}
	return nil
}

// resolve maps a locator back to an absolute path, refusing anything that
// escapes the store root.
func (s *Store) resolve(locator string) (string, error) {
	clean := filepath.Clean(locator)
	if clean == "" || clean == "." || filepath.IsAbs(clean) || clean[0] == '.' {
		return "", model.NewBadRequestError("invalid evidence locator")
	}
	return filepath.Join(s.root, clean), nil
}
