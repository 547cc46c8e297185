// Package services contains read-side application services for the firebox
// client: browsing the local index and summarizing sync state for the CLI
// and the local HTTP API.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/firebox/internal/client/repositories/system"
	"github.com/dmitrijs2005/firebox/internal/common"
)

// BrowseService exposes the local index without mutating it.
//
// Contract:
//   - Folder, File and Chunks return common.ErrorNotFound for unknown ids.
//   - Status counts files whose last upload was not fully confirmed as pending.
//
// All methods must honor context cancellation/timeouts.
type BrowseService interface {
	Folders(ctx context.Context) ([]*models.Folder, error)
	Folder(ctx context.Context, id string) (*FolderDetail, error)
	Files(ctx context.Context) ([]*models.File, error)
	File(ctx context.Context, id string) (*models.File, error)
	Chunks(ctx context.Context, fileID string) ([]*models.Chunk, error)
	System(ctx context.Context) (map[string]string, error)
	Status(ctx context.Context) (*Status, error)
}

// FolderDetail is a folder with its direct children.
type FolderDetail struct {
	Folder  *models.Folder
	Folders []*models.Folder
	Files   []*models.File
}

type Status struct {
	Folders        int    `json:"folders"`
	Files          int    `json:"files"`
	PendingFiles   int    `json:"pending_files"`
	Chunks         int    `json:"chunks"`
	UnsyncedChunks int    `json:"unsynced_chunks"`
	LastSyncTime   string `json:"last_sync_time"`
}

type browseService struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func NewBrowseService(db *sql.DB, repos repomanager.RepositoryManager) BrowseService {
	return &browseService{db: db, repos: repos}
}

func (s *browseService) Folders(ctx context.Context) ([]*models.Folder, error) {
	return s.repos.Folders(s.db).List(ctx)
}

func (s *browseService) Folder(ctx context.Context, id string) (*FolderDetail, error) {
	folders := s.repos.Folders(s.db)
	f, err := folders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := folders.ListChildren(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list child folders: %w", err)
	}
	files, err := s.repos.Files(s.db).ListByFolder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list folder files: %w", err)
	}
	return &FolderDetail{Folder: f, Folders: children, Files: files}, nil
}

func (s *browseService) Files(ctx context.Context) ([]*models.File, error) {
	return s.repos.Files(s.db).List(ctx)
}

func (s *browseService) File(ctx context.Context, id string) (*models.File, error) {
	return s.repos.Files(s.db).GetByID(ctx, id)
}

func (s *browseService) Chunks(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	if _, err := s.repos.Files(s.db).GetByID(ctx, fileID); err != nil {
		return nil, err
	}
	return s.repos.Chunks(s.db).ListByFile(ctx, fileID)
}

func (s *browseService) System(ctx context.Context) (map[string]string, error) {
	return s.repos.System(s.db).List(ctx)
}

func (s *browseService) Status(ctx context.Context) (*Status, error) {
	folders, err := s.repos.Folders(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.repos.Files(s.db).List(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{Folders: len(folders), Files: len(files), LastSyncTime: common.EpochCursor}
	chunks := s.repos.Chunks(s.db)
	for _, f := range files {
		if f.FileHash == "" {
			st.PendingFiles++
		}
		cs, err := chunks.ListByFile(ctx, f.FileID)
		if err != nil {
			return nil, err
		}
		st.Chunks += len(cs)
		for _, c := range cs {
			if !c.LastSynced.Valid {
				st.UnsyncedChunks++
			}
		}
	}

	v, ok, err := s.repos.System(s.db).Get(ctx, system.KeyLastSyncTime)
	if err != nil {
		return nil, err
	}
	if ok {
		st.LastSyncTime = v
	}
	return st, nil
}
