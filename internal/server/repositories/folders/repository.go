package folders

import (
	"context"

	"github.com/dmitrijs2005/firebox/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, folder *models.Folder) error
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	GetByPath(ctx context.Context, path string) (*models.Folder, error)
	Update(ctx context.Context, folder *models.Folder) error
	RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error)
	ReparentChildren(ctx context.Context, oldParentID, newParentID string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteTree(ctx context.Context, path string) (int64, error)
}
