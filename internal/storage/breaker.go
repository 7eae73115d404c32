package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/logger"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the breaker rejects calls.
var ErrUnavailable = errors.New("storage: backend unavailable")

// BreakerSettings configures the circuit breaker around a backend.
type BreakerSettings struct {
	Enabled      bool
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

type breakerKV struct {
	kv      KV
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker wraps kv so that repeated failures open the circuit and later
// calls fail fast with ErrUnavailable. A missing key does not count as a failure.
func WithBreaker(kv KV, cfg BreakerSettings) KV {
	name := cfg.Name
	if name == "" {
		name = "history-store"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warningf("Circuit breaker %q changed from %s to %s", name, from, to)
		},
	}

	return &breakerKV{kv: kv, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerKV) execute(op func() (any, error)) (any, error) {
	result, err := b.breaker.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return result, err
}

func (b *breakerKV) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.execute(func() (any, error) {
		return b.kv.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (b *breakerKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.kv.Put(ctx, key, value)
	})
	return err
}

func (b *breakerKV) Delete(ctx context.Context, key string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.kv.Delete(ctx, key)
	})
	return err
}

func (b *breakerKV) Close() error {
	return b.kv.Close()
}
