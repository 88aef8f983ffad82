package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for a missing key in either store.
	ErrNotFound = errors.New("not found")
)

// Hot is the fast key/value store holding live game state, sessions and
// move logs. Implementations must serialize per-key operations.
type Hot interface {
	Close() error
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// List operations back the per-hand move log.
	RPush(ctx context.Context, key string, values ...[]byte) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
}
