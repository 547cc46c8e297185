// Package chunks persists the client's per-file chunk records. Each record
// points at a blob named {chunk_id}.chunk in the chunk directory.
package chunks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/firebox/internal/client/models"
)

type Repository interface {
	// Upsert inserts the chunk, replacing any record with the same id or the
	// same (file_id, part_number).
	Upsert(ctx context.Context, chunk *models.Chunk) error
	GetByID(ctx context.Context, id string) (*models.Chunk, error)
	GetByPart(ctx context.Context, fileID string, partNumber int) (*models.Chunk, error)
	// ListByFile returns the file's chunks ordered by part number.
	ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error)
	// ListIDs returns every chunk id known locally.
	ListIDs(ctx context.Context) (map[string]struct{}, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByFile(ctx context.Context, fileID string) (int64, error)
	// DeleteFromPart drops parts numbered above lastPart.
	DeleteFromPart(ctx context.Context, fileID string, lastPart int) (int64, error)
}
