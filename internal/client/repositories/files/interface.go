package files

import (
	"context"

	"github.com/dmitrijs2005/firebox/internal/client/models"
)

// Repository describes CRUD and path operations for File records.
// Lookups that find nothing return common.ErrorNotFound.
type Repository interface {
	// Upsert inserts the file or replaces all of its columns.
	Upsert(ctx context.Context, file *models.File) error

	GetByID(ctx context.Context, id string) (*models.File, error)
	GetByPath(ctx context.Context, path string) (*models.File, error)

	// List returns every file ordered by path.
	List(ctx context.Context) ([]*models.File, error)
	ListByFolder(ctx context.Context, folderID string) ([]*models.File, error)
	// ListUnderPath returns files strictly below the directory prefix.
	ListUnderPath(ctx context.Context, prefix string) ([]*models.File, error)

	// SetHash records the content state after a completed upload or rebuild.
	SetHash(ctx context.Context, id, fileHash, masterFingerprint string) error

	UpdateLocation(ctx context.Context, id, name, path, folderID string) error
	// RewritePathPrefix moves every file below oldPrefix under newPrefix.
	RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error)

	// Delete removes the file; its chunks go with it.
	Delete(ctx context.Context, id string) error
	DeleteUnderPath(ctx context.Context, prefix string) (int64, error)
}
