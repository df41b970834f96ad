package ttlstore

import (
	"context"
	"time"
)

// EntryStore is the row-level persistence a Durable store is layered on
type EntryStore interface {
	PutEntry(ctx context.Context, namespace, key, value string, expiresAt *time.Time) error
	GetEntry(ctx context.Context, namespace, key string, now time.Time) (string, bool, error)
	DeleteEntry(ctx context.Context, namespace, key string, now time.Time) (bool, error)
	TakeEntry(ctx context.Context, namespace, key string, now time.Time) (string, bool, error)
	CleanupExpiredEntries(ctx context.Context, now time.Time) (int64, error)
}

// Durable stores JSON encoded values as rows with an expiry column. Rows past their
// expiry are filtered out of every read, so correctness never depends on Sweep.
type Durable[V any] struct {
	entries   EntryStore
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

var (
	_ Store[string] = (*Durable[string])(nil)
	_ Sweeper       = (*Durable[string])(nil)
)

// NewDurable creates a store over entries scoped to namespace. A zero ttl keeps
// entries until deleted.
func NewDurable[V any](entries EntryStore, namespace string, ttl time.Duration, opts ...Option) *Durable[V] {
	o := buildOptions(opts)
	return &Durable[V]{
		entries:   entries,
		namespace: namespace,
		ttl:       ttl,
		now:       o.now,
	}
}

func (d *Durable[V]) Set(ctx context.Context, key string, value V) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if d.ttl > 0 {
		t := d.now().Add(d.ttl)
		expiresAt = &t
	}
	return d.entries.PutEntry(ctx, d.namespace, key, data, expiresAt)
}

func (d *Durable[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, ok, err := d.entries.GetEntry(ctx, d.namespace, key, d.now())
	if err != nil || !ok {
		return zero, false, err
	}
	value, err := decode[V](data)
	if err != nil {
		return zero, false, err
	}
	return value, true, nil
}

func (d *Durable[V]) Delete(ctx context.Context, key string) (bool, error) {
	return d.entries.DeleteEntry(ctx, d.namespace, key, d.now())
}

func (d *Durable[V]) Take(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, ok, err := d.entries.TakeEntry(ctx, d.namespace, key, d.now())
	if err != nil || !ok {
		return zero, false, err
	}
	value, err := decode[V](data)
	if err != nil {
		return zero, false, err
	}
	return value, true, nil
}

// Sweep deletes expired rows. The underlying table is shared by every namespace,
// so one call reclaims space for all durable stores on the same database.
func (d *Durable[V]) Sweep(ctx context.Context) (int64, error) {
	return d.entries.CleanupExpiredEntries(ctx, d.now())
}
