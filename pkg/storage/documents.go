package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DocumentStore persists uploaded clinical documents on disk under a base
// directory. Filenames are namespaced by the submitting user so concurrent
// uploads never collide across accounts.
type DocumentStore struct {
	baseDir string
}

// NewDocumentStore ensures the base directory exists and returns a handle.
func NewDocumentStore(baseDir string) (*DocumentStore, error) {
	if baseDir == "" {
		baseDir = "./documents"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents directory: %w", err)
	}
	return &DocumentStore{baseDir: baseDir}, nil
}

// Save copies the uploaded stream into <base>/<userID>/<docID>_<name> and
// returns the relative path. The original filename is sanitised to its base
// component so callers cannot traverse outside the store.
func (s *DocumentStore) Save(userID, docID, filename string, r io.Reader) (string, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "document"
	}
	rel := filepath.Join(userID, fmt.Sprintf("%s_%s", docID, name))
	path := filepath.Join(s.baseDir, rel)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare document directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create document file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("write document stream: %w", err)
	}
	return rel, nil
}

// Open returns a read-only handle for a stored document.
func (s *DocumentStore) Open(rel string) (*os.File, error) {
	file, err := os.Open(filepath.Join(s.baseDir, rel))
	if err != nil {
		return nil, fmt.Errorf("open document file: %w", err)
	}
	return file, nil
}

// Delete removes a stored document if present.
func (s *DocumentStore) Delete(rel string) error {
	if err := os.Remove(filepath.Join(s.baseDir, rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document file: %w", err)
	}
	return nil
}
