package state

import "context"

// Store is the per-run persistence surface: a small kv namespace plus an
// append-only journal keyed by record kind.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Append(ctx context.Context, kind string, payload []byte) error
	List(ctx context.Context, kind string, limit int) ([][]byte, error)
	Close() error
}
