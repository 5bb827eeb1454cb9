package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONFile is a KV stored as a flat JSON object of strings. Only the declared
// keys are read; unknown keys are dropped on the next write.
type JSONFile struct {
	mu   sync.Mutex
	path string
	keys []string
}

// NewJSONFile creates a JSONFile at path with the given key set.
func NewJSONFile(path string, keys []string) *JSONFile {
	return &JSONFile{path: path, keys: keys}
}

// Load reads the record. A missing file yields all-empty values. An unreadable
// or malformed file yields all-empty values and an error.
func (f *JSONFile) Load(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *JSONFile) load() (map[string]string, error) {
	values := defaults(f.keys)

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return values, fmt.Errorf("read %s: %w", filepath.Base(f.path), err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return values, fmt.Errorf("parse %s: %w: %w", filepath.Base(f.path), ErrCorrupt, err)
	}
	for _, k := range f.keys {
		if v, ok := raw[k].(string); ok {
			values[k] = v
		}
	}
	return values, nil
}

// Update merges values and rewrites the file via a temp file and rename so a
// crash never leaves a truncated record behind.
func (f *JSONFile) Update(ctx context.Context, values map[string]string) error {
	if err := checkKeys(f.keys, values); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.load()
	switch {
	case errors.Is(err, ErrCorrupt):
		// Kept next to the new file so the old values can be recovered by hand.
		if err := os.Rename(f.path, f.path+CorruptSuffix); err != nil {
			return fmt.Errorf("move aside %s: %w", filepath.Base(f.path), err)
		}
	case err != nil:
		return err
	}
	for k, v := range values {
		current[k] = v
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, append(data, '\n'), 0o600)
}

// Check reports whether the record parses and its directory accepts new
// files. The record itself is not written.
func (f *JSONFile) Check(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.load(); err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".check-*")
	if err != nil {
		return fmt.Errorf("state dir not writable: %w", err)
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
