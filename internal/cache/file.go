package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const fileName = "store.json"

// FileCache keeps one JSON file per module
type FileCache struct {
	root string
}

// NewFileCache creates a file cache rooted at root, creating it if needed
func NewFileCache(root string) (*FileCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	return &FileCache{root: root}, nil
}

// Path returns the file a module's state is written to
func (c *FileCache) Path(name string) string {
	return filepath.Join(c.root, name, fileName)
}

// Prepare creates the module's directory
func (c *FileCache) Prepare(name string) error {
	if err := os.MkdirAll(filepath.Join(c.root, name), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory for %s: %w", name, err)
	}
	return nil
}

// ReadCache implements Cache
func (c *FileCache) ReadCache(_ context.Context, name string) (map[string]any, error) {
	data, err := os.ReadFile(c.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache for %s: %w", name, err)
	}

	state := map[string]any{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode cache for %s: %w", name, err)
	}
	if state == nil {
		state = map[string]any{}
	}
	return state, nil
}

// WriteCache implements Cache. The file is replaced atomically.
func (c *FileCache) WriteCache(_ context.Context, name string, state any) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache for %s: %w", name, err)
	}

	if err := c.Prepare(name); err != nil {
		return err
	}

	dir := filepath.Join(c.root, name)
	tmp, err := os.CreateTemp(dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache for %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), c.Path(name)); err != nil {
		return fmt.Errorf("failed to replace cache for %s: %w", name, err)
	}
	return nil
}

// Close implements Cache
func (c *FileCache) Close() error {
	return nil
}
