// Package kv provides the on-device key-value storage that backs the
// session. All backends store string values under string keys and apply
// multi-key writes as a single batch.
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/patientctl/internal/config"
)

// ErrClosed is returned by operations on a store after Close.
var ErrClosed = errors.New("kv: store closed")

// Store is the storage contract the session container depends on.
type Store interface {
	// Get returns the value for key. A missing key is reported through the
	// boolean, not as an error.
	Get(ctx context.Context, key string) (string, bool, error)
	// MultiGet returns the values present for keys. Missing keys are absent
	// from the result.
	MultiGet(ctx context.Context, keys ...string) (map[string]string, error)
	// MultiSet writes every pair or none of them.
	MultiSet(ctx context.Context, pairs map[string]string) error
	// MultiRemove deletes keys. Deleting a missing key is not an error.
	MultiRemove(ctx context.Context, keys ...string) error
	Close() error
}

// Open builds the store selected by STORAGE_DRIVER.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageFile, "":
		key, err := cfg.EncryptionKey()
		if err != nil {
			return nil, err
		}
		var sealer *Sealer
		if key != nil {
			sealer, err = NewSealer(key)
			if err != nil {
				return nil, err
			}
		}
		return NewFileStore(cfg.StoragePath, sealer)
	case config.StorageSQLite:
		return NewSQLiteStore(ctx, cfg.StoragePath)
	case config.StorageRedis:
		return NewRedisStore(ctx, cfg.RedisURL, DefaultRedisPrefix)
	case config.StoragePostgres:
		return NewPostgresStore(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	default:
		return nil, fmt.Errorf("kv: unknown storage driver %q", cfg.StorageDriver)
	}
}
