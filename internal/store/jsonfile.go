package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
)

// JSONFile stores a value as an indented JSON document.
type JSONFile[T any] struct {
	path string
}

// NewJSONFile returns a store backed by path.
func NewJSONFile[T any](path string) *JSONFile[T] {
	return &JSONFile[T]{path: path}
}

// Path returns the backing file path.
func (f *JSONFile[T]) Path() string {
	return f.path
}

// Load reads and decodes the file. Missing or malformed files load as absent.
func (f *JSONFile[T]) Load() (T, bool) {
	var v T
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			L_warn("store: read failed, starting empty", "path", f.path, "error", err)
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		L_warn("store: malformed file, starting empty", "path", f.path, "error", err)
		var zero T
		return zero, false
	}
	return v, true
}

// Save atomically replaces the file.
func (f *JSONFile[T]) Save(v T) error {
	if err := AtomicWriteJSON(f.path, v, 0600); err != nil {
		return err
	}
	L_trace("store: saved", "path", f.path)
	return nil
}

// AtomicWriteJSON marshals data as JSON and writes it atomically.
func AtomicWriteJSON(path string, data interface{}, perm os.FileMode) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return AtomicWrite(path, jsonData, perm)
}

// AtomicWrite writes data to path using temp file + rename in the same
// directory, so readers never observe a truncated file.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".discordbridge-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp to target: %w", err)
	}

	success = true
	return nil
}
