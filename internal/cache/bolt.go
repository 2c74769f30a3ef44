package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketModuleState = []byte("module_state")

// BoltCache keeps every module's state in one bbolt database
type BoltCache struct {
	db *bolt.DB
}

// NewBoltCache opens (or creates) <dir>/modhub.db
func NewBoltCache(dir string) (*BoltCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "modhub.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketModuleState); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketModuleState, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCache{db: db}, nil
}

// Prepare is a no-op; all modules share one bucket
func (c *BoltCache) Prepare(string) error {
	return nil
}

// ReadCache implements Cache
func (c *BoltCache) ReadCache(_ context.Context, name string) (map[string]any, error) {
	state := map[string]any{}
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketModuleState).Get([]byte(name))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cache for %s: %w", name, err)
	}
	if state == nil {
		state = map[string]any{}
	}
	return state, nil
}

// WriteCache implements Cache
func (c *BoltCache) WriteCache(_ context.Context, name string, state any) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode cache for %s: %w", name, err)
		}
		return tx.Bucket(bucketModuleState).Put([]byte(name), data)
	})
}

// Close closes the database
func (c *BoltCache) Close() error {
	return c.db.Close()
}
