package chunks

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/firebox/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, chunk *models.Chunk) error
	Confirm(ctx context.Context, chunk *models.Chunk) error
	ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error)
	DeleteByFile(ctx context.Context, fileID string) (int64, error)
	DeletePending(ctx context.Context, fileID string) (int64, error)
	ListConfirmedSince(ctx context.Context, since time.Time) ([]*models.ChangedChunk, error)
	OldestPendingSince(ctx context.Context, notBefore time.Time) (sql.NullTime, error)
}
