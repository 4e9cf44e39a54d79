package lattice

import (
	"context"
	"fmt"
	"time"
)

// Cache is the interface for caching shaped read results. Implement it
// with any backing store; the table engine invalidates by table-path
// prefix on every committed write.
type Cache interface {
	// Get retrieves a value. Returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single value.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes everything.
	Clear(ctx context.Context) error
}

// CacheKey identifies one shaped collection read.
type CacheKey struct {
	Table  string // schema-qualified table path
	Op     string // "collection", "item", "count", "ids"
	Params string // canonical encoding of filters, sort, include
	Tenant string // tenant value, empty when the table has none
	Limit  int
	Offset int
}

// String renders the key. The table path leads so writes can invalidate
// every cached read of a table with one DeletePrefix call.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d", k.Table, k.Op, k.Tenant, k.Params, k.Limit, k.Offset)
}

// TablePrefix returns the invalidation prefix for the key's table.
func (k CacheKey) TablePrefix() string { return k.Table + ":" }
