package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/pretty"

	"b3quant/internal/domain"
)

// ResultWriter writes JSON result documents into a directory. Writes are
// serialized so concurrent callers never interleave output.
type ResultWriter struct {
	mu  sync.Mutex
	dir string
}

// NewResultWriter creates a ResultWriter rooted at dir.
func NewResultWriter(dir string) *ResultWriter {
	return &ResultWriter{dir: dir}
}

// Dir returns the output directory.
func (w *ResultWriter) Dir() string { return w.dir }

// Path returns the full path of the named document.
func (w *ResultWriter) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// WriteJSON encodes v as indented JSON into <dir>/<name>. The file is
// written to a temporary name first and renamed, so a failed write leaves any
// previous file intact. Failures wrap domain.ErrPersistence.
func (w *ResultWriter) WriteJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %v: %w", name, err, domain.ErrPersistence)
	}
	data = pretty.Pretty(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %v: %w", w.dir, err, domain.ErrPersistence)
	}
	path := w.Path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %v: %w", path, err, domain.ErrPersistence)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %v: %w", path, err, domain.ErrPersistence)
	}
	return nil
}

// ReadJSON decodes <dir>/<name> into v.
func (w *ResultWriter) ReadJSON(name string, v any) error {
	return ReadJSONFile(w.Path(name), v)
}

// ReadJSONFile decodes the JSON document at path into v.
func ReadJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
