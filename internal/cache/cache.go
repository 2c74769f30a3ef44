// Package cache persists module state snapshots on disk.
//
// Two drivers are available: "file" writes one JSON document per module
// under <root>/<module>/store.json, "bolt" keeps every module in a single
// bbolt database at <root>/modhub.db.
package cache

import (
	"context"
	"errors"
	"fmt"
)

// Driver names
const (
	DriverFile = "file"
	DriverBolt = "bolt"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name
var ErrUnknownDriver = errors.New("unknown cache driver")

// Cache stores the last committed state of each module
type Cache interface {
	// ReadCache returns the cached state of a module, or an empty map when
	// nothing has been written yet
	ReadCache(ctx context.Context, name string) (map[string]any, error)

	// WriteCache replaces the cached state of a module
	WriteCache(ctx context.Context, name string, state any) error

	// Prepare readies storage for a module before it registers
	Prepare(name string) error

	Close() error
}

// Open creates the cache for driver rooted at dir
func Open(driver, dir string) (Cache, error) {
	switch driver {
	case "", DriverFile:
		return NewFileCache(dir)
	case DriverBolt:
		return NewBoltCache(dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
