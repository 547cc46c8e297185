// Package system stores client-wide key/value state, most importantly the
// sync cursor returned by the metadata service.
package system

import (
	"context"
	"time"
)

// KeyLastSyncTime holds the sync cursor.
const KeyLastSyncTime = "last_sync_time"

type Repository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) (map[string]string, error)

	// Cursor returns the stored sync cursor, or the epoch before the first
	// successful round.
	Cursor(ctx context.Context) (time.Time, error)
	// AdvanceCursor stores to unless it is older than the current cursor.
	// It reports whether the stored value changed.
	AdvanceCursor(ctx context.Context, to time.Time) (bool, error)
}
