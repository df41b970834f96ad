package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obot-platform/mcp-entra-proxy/pkg/db"
	"github.com/obot-platform/mcp-entra-proxy/pkg/ttlstore"
	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
	BackendRedis    = "redis"

	redisKeyPrefix = "entra-proxy"
)

// backend owns the connection every store of the proxy is layered on
type backend struct {
	kind  string
	db    *db.Store
	redis redis.UniversalClient
}

func openBackend(kind, databaseDSN, redisURL string) (*backend, error) {
	switch kind {
	case "", BackendMemory:
		return &backend{kind: BackendMemory}, nil
	case BackendDatabase:
		store, err := db.New(databaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return &backend{kind: kind, db: store}, nil
	case BackendRedis:
		if redisURL == "" {
			return nil, errors.New("redis backend requires a redis URL")
		}
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return &backend{kind: kind, redis: redis.NewClient(opts)}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q, expected %s, %s or %s", kind, BackendMemory, BackendDatabase, BackendRedis)
	}
}

// newStore returns a store for namespace on b
func newStore[V any](b *backend, namespace string, ttl time.Duration) ttlstore.Store[V] {
	switch b.kind {
	case BackendDatabase:
		return ttlstore.NewDurable[V](b.db, namespace, ttl)
	case BackendRedis:
		return ttlstore.NewRedis[V](b.redis, redisKeyPrefix+":"+namespace, ttl)
	default:
		return ttlstore.NewMemory[V](ttl)
	}
}

func (b *backend) describe() string {
	switch b.kind {
	case BackendDatabase:
		return b.db.Type()
	case BackendRedis:
		return "redis"
	default:
		return "memory"
	}
}

func (b *backend) ping(ctx context.Context) error {
	switch b.kind {
	case BackendDatabase:
		return b.db.Ping(ctx)
	case BackendRedis:
		return b.redis.Ping(ctx).Err()
	default:
		return nil
	}
}

func (b *backend) close() error {
	switch b.kind {
	case BackendDatabase:
		return b.db.Close()
	case BackendRedis:
		return b.redis.Close()
	default:
		return nil
	}
}
