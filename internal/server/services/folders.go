package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/dmitrijs2005/firebox/internal/server/models"
	"github.com/dmitrijs2005/firebox/internal/server/objectstore"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/repomanager"
)

// FolderService maintains the folder tree. Folder paths are unique; a
// folder registered under a path another id already holds takes over that
// folder's children and files.
type FolderService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       objectstore.Store
	log         logging.Logger
}

func NewFolderService(db *sql.DB, repomanager repomanager.RepositoryManager, store objectstore.Store, log logging.Logger) *FolderService {
	return &FolderService{db: db, repomanager: repomanager, store: store, log: log}
}

func folderFromRequest(req *api.FolderRequest) *models.Folder {
	f := &models.Folder{
		FolderID:   req.FolderID,
		FolderPath: req.FolderPath,
		FolderName: req.FolderName,
	}
	if f.FolderName == "" {
		f.FolderName = filepath.Base(req.FolderPath)
	}
	if req.ParentFolderID != nil && *req.ParentFolderID != "" {
		f.ParentFolderID = sql.NullString{String: *req.ParentFolderID, Valid: true}
	}
	return f
}

func (s *FolderService) Upsert(ctx context.Context, req *api.FolderRequest) (*api.FolderResponse, error) {
	folder := folderFromRequest(req)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folders := s.repomanager.Folders(tx)

		other, err := folders.GetByPath(ctx, folder.FolderPath)
		switch {
		case err == nil && other.FolderID != folder.FolderID:
			if _, err := folders.ReparentChildren(ctx, other.FolderID, folder.FolderID); err != nil {
				return err
			}
			if _, err := s.repomanager.Files(tx).ReassignFolder(ctx, other.FolderID, folder.FolderID); err != nil {
				return err
			}
			if err := folders.Delete(ctx, other.FolderID); err != nil {
				return err
			}
			s.log.Info(ctx, "folder id replaced", "folder_path", folder.FolderPath, "old_folder_id", other.FolderID, "folder_id", folder.FolderID)
		case err != nil && !errors.Is(err, common.ErrorNotFound):
			return err
		}

		return folders.Upsert(ctx, folder)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert folder %s: %w", req.FolderID, err)
	}

	return &api.FolderResponse{FolderID: folder.FolderID, Success: true}, nil
}

// Update renames or moves a folder. Descendant folder and file paths are
// rewritten in the same transaction.
func (s *FolderService) Update(ctx context.Context, req *api.FolderRequest) (*api.FolderResponse, error) {
	folder := folderFromRequest(req)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folders := s.repomanager.Folders(tx)

		current, err := folders.GetByID(ctx, folder.FolderID)
		if err != nil {
			return err
		}

		if current.FolderPath != folder.FolderPath {
			if _, err := folders.RewritePathPrefix(ctx, current.FolderPath, folder.FolderPath); err != nil {
				return err
			}
			if _, err := s.repomanager.Files(tx).RewritePathPrefix(ctx, current.FolderPath, folder.FolderPath); err != nil {
				return err
			}
		}

		return folders.Update(ctx, folder)
	})
	if err != nil {
		return nil, fmt.Errorf("update folder %s: %w", req.FolderID, err)
	}

	s.log.Info(ctx, "folder updated", "folder_id", folder.FolderID, "folder_path", folder.FolderPath)
	return &api.FolderResponse{FolderID: folder.FolderID, Success: true}, nil
}

// Delete removes a folder, its subfolders and every file beneath it. Stored
// objects of the removed files are released afterwards.
func (s *FolderService) Delete(ctx context.Context, folderID string) error {
	var removed []*models.File

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folders := s.repomanager.Folders(tx)
		files := s.repomanager.Files(tx)

		folder, err := folders.GetByID(ctx, folderID)
		if err != nil {
			return err
		}

		removed, err = files.ListUnderPath(ctx, folder.FolderPath)
		if err != nil {
			return err
		}
		for _, f := range removed {
			if err := files.Delete(ctx, f.FileID); err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
		}

		_, err = folders.DeleteTree(ctx, folder.FolderPath)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete folder %s: %w", folderID, err)
	}

	for _, f := range removed {
		purgeObjects(ctx, s.store, s.log, f)
	}
	s.log.Info(ctx, "folder deleted", "folder_id", folderID, "files", len(removed))
	return nil
}
