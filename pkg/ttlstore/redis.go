package ttlstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores JSON encoded values under "<prefix>:<key>" and relies on native key
// expiry. Take uses GETDEL (Redis 6.2+), which is atomic on the server.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store[string] = (*Redis[string])(nil)

// NewRedis creates a store whose keys live under prefix. A zero ttl keeps entries
// until deleted.
func NewRedis[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *Redis[V] {
	return &Redis[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *Redis[V]) key(key string) string {
	return r.prefix + ":" + key
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	// A zero expiration persists the key and clears any previous TTL.
	return r.client.Set(ctx, r.key(key), data, r.ttl).Err()
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	return r.read(r.client.Get(ctx, r.key(key)))
}

func (r *Redis[V]) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis[V]) Take(ctx context.Context, key string) (V, bool, error) {
	return r.read(r.client.GetDel(ctx, r.key(key)))
}

func (r *Redis[V]) read(cmd *redis.StringCmd) (V, bool, error) {
	var zero V
	data, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	} else if err != nil {
		return zero, false, err
	}
	value, err := decode[V](data)
	if err != nil {
		return zero, false, err
	}
	return value, true, nil
}
