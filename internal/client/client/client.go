package client

import (
	"context"

	"github.com/dmitrijs2005/firebox/internal/api"
)

// Client is the metadata service contract used by the sync engine.
type Client interface {
	Health(ctx context.Context) error
	CreateFile(ctx context.Context, req *api.CreateFileRequest) (*api.CreateFileResponse, error)
	ConfirmChunks(ctx context.Context, req *api.ConfirmRequest) (*api.ConfirmResponse, error)
	Download(ctx context.Context, req *api.DownloadRequest) (*api.DownloadResponse, error)
	Sync(ctx context.Context, lastSyncTime string) (*api.SyncResponse, error)
	UpdateFile(ctx context.Context, req *api.UpdateFileRequest) error
	DeleteFile(ctx context.Context, fileID string) error
	UpsertFolder(ctx context.Context, req *api.FolderRequest) error
	UpdateFolder(ctx context.Context, req *api.FolderRequest) error
	DeleteFolder(ctx context.Context, folderID string) error
}
