// Package folders persists the client's directory records.
package folders

import (
	"context"

	"github.com/dmitrijs2005/firebox/internal/client/models"
)

type Repository interface {
	Upsert(ctx context.Context, folder *models.Folder) error
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	GetByPath(ctx context.Context, path string) (*models.Folder, error)
	GetRoot(ctx context.Context) (*models.Folder, error)
	List(ctx context.Context) ([]*models.Folder, error)
	ListChildren(ctx context.Context, parentID string) ([]*models.Folder, error)
	// ListTree returns the folder at path and every folder below it.
	ListTree(ctx context.Context, path string) ([]*models.Folder, error)
	UpdateLocation(ctx context.Context, id, name, path, parentID string) error
	RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error)
	DeleteTree(ctx context.Context, path string) (int64, error)
}
