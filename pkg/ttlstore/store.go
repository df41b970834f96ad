// Package ttlstore provides the time-bounded key/value primitive every stateful
// component of the proxy is built on.
//
// An entry set with a positive TTL becomes unreadable once the TTL has elapsed since
// its most recent Set. A store built with a zero TTL never expires entries on its own.
// Expiry is a read-time predicate in every backing; sweeping only reclaims space.
package ttlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is a keyed, optionally expiring set of values
type Store[V any] interface {
	// Set inserts or replaces the value for key and restarts its expiry.
	Set(ctx context.Context, key string, value V) error
	// Get returns the live value for key.
	Get(ctx context.Context, key string) (V, bool, error)
	// Delete removes key and reports whether a live value existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Take atomically reads and removes the live value for key. Of several
	// concurrent callers at most one observes the value.
	Take(ctx context.Context, key string) (V, bool, error)
}

// Sweeper reclaims storage held by expired entries
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Option configures a store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used to evaluate expiry
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func encode[V any](value V) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}

func decode[V any](data string) (V, error) {
	var value V
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return value, fmt.Errorf("failed to decode value: %w", err)
	}
	return value, nil
}
