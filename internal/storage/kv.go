// Package storage provides the key-value backends used to persist draw history.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is a flat key-value store holding opaque values.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string // bolt, redis or memory
	Path   string
	Bucket string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Breaker BreakerSettings
}

// Open creates the backend named by opts.Driver, wrapped in a circuit breaker
// when opts.Breaker.Enabled is set.
func Open(opts Options) (KV, error) {
	var (
		kv  KV
		err error
	)
	switch opts.Driver {
	case "", "bolt":
		kv, err = OpenBolt(opts.Path, opts.Bucket, time.Second)
	case "redis":
		kv = NewRedis(NewRedisClient(opts.RedisAddr, opts.RedisPassword, opts.RedisDB))
	case "memory":
		kv = NewMemory()
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.Breaker.Enabled {
		kv = WithBreaker(kv, opts.Breaker)
	}
	return kv, nil
}
