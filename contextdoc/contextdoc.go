// Package contextdoc manages the machine-readable JSON file through which
// agents report their findings back to the orchestrator. The file lives at
// the root of the sandbox working tree and accumulates fields across the
// repo_setup, reproducing, and fixing phases.
package contextdoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the context document's filename at the sandbox repo root.
const FileName = "panic_context.json"

var (
	// ErrNotFound means the context file does not exist.
	ErrNotFound = errors.New("context file not found")
	// ErrCorrupt means the context file exists but is not valid JSON.
	ErrCorrupt = errors.New("context file is corrupt")
)

// Document reads and writes the context file in one sandbox working tree.
type Document struct {
	path string
}

// New creates a Document rooted at the given sandbox working directory.
func New(dir string) *Document {
	return &Document{path: filepath.Join(dir, FileName)}
}

// Path returns the full path of the context file.
func (d *Document) Path() string {
	return d.path
}

// Read returns the parsed context data. Absence and corruption are
// distinguished via ErrNotFound and ErrCorrupt.
func (d *Document) Read() (map[string]any, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading context file: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return data, nil
}

// Write replaces the context file atomically (write to a temp file in the
// same directory, then rename).
func (d *Document) Write(data map[string]any) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}

	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing context file: %w", err)
	}
	return nil
}

// Merge shallow-merges partial into the current document. It refuses to
// create the file on absence: repo_setup must have written the required
// fields first, and creating here would silently lose that invariant.
// Unknown fields already present are preserved.
func (d *Document) Merge(partial map[string]any) error {
	current, err := d.Read()
	if err != nil {
		return err
	}
	for k, v := range partial {
		current[k] = v
	}
	return d.Write(current)
}

// Delete removes the context file. Removing an absent file is not an error.
func (d *Document) Delete() error {
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting context file: %w", err)
	}
	return nil
}
