package files

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/firebox/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
	GetByPath(ctx context.Context, path string) (*models.File, error)
	SetUploadID(ctx context.Context, id string, uploadID sql.NullString) error
	MarkCompleted(ctx context.Context, id, completeETag, masterFingerprint string) error
	UpdateLocation(ctx context.Context, id, name, path, folderID string) error
	RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error)
	ListUnderPath(ctx context.Context, prefix string) ([]*models.File, error)
	ReassignFolder(ctx context.Context, oldFolderID, newFolderID string) (int64, error)
	Delete(ctx context.Context, id string) error
}
