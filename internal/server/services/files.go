// Package services implements the metadata service's use cases: multipart
// upload coordination, download verification, change feeds for polling
// clients, and folder bookkeeping.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/logging"
	sc "github.com/dmitrijs2005/firebox/internal/server/config"
	"github.com/dmitrijs2005/firebox/internal/server/metrics"
	"github.com/dmitrijs2005/firebox/internal/server/models"
	"github.com/dmitrijs2005/firebox/internal/server/objectstore"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/repomanager"
)

// FileService coordinates file records, their chunk sets and the backing
// multipart uploads.
type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       objectstore.Store
	config      *sc.Config
	log         logging.Logger
	metrics     *metrics.Metrics
	locks       *keyedMutex
	now         func() time.Time
}

func NewFileService(db *sql.DB, repomanager repomanager.RepositoryManager, store objectstore.Store,
	config *sc.Config, log logging.Logger, m *metrics.Metrics) *FileService {
	return &FileService{
		db:          db,
		repomanager: repomanager,
		store:       store,
		config:      config,
		log:         log,
		metrics:     m,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

// purge releases the object store side of a deleted file. Failures are
// logged only; the metadata is already gone.
func purgeObjects(ctx context.Context, store objectstore.Store, log logging.Logger, f *models.File) {
	if f.HasOpenUpload() {
		if err := store.AbortMultipartUpload(ctx, f.FileID, f.UploadID.String); err != nil {
			log.Warn(ctx, "abort upload failed", "file_id", f.FileID, "upload_id", f.UploadID.String, "error", err)
		}
	}
	if err := store.DeleteObject(ctx, f.FileID); err != nil {
		log.Warn(ctx, "delete object failed", "file_id", f.FileID, "error", err)
	}
}

// UpdateFile renames or moves a file. Content and chunks are unchanged. A
// different file already registered at the target path is replaced.
func (s *FileService) UpdateFile(ctx context.Context, req *api.UpdateFileRequest) (*api.UpdateFileResponse, error) {
	unlock := s.locks.Lock(req.FileID)
	defer unlock()

	name := req.FileName
	if name == "" {
		name = filepath.Base(req.FilePath)
	}

	var displaced *models.File
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		files := s.repomanager.Files(tx)

		f, err := files.GetByID(ctx, req.FileID)
		if err != nil {
			return err
		}

		other, err := files.GetByPath(ctx, req.FilePath)
		switch {
		case err == nil && other.FileID != f.FileID:
			if err := files.Delete(ctx, other.FileID); err != nil {
				return err
			}
			displaced = other
		case err != nil && !errors.Is(err, common.ErrorNotFound):
			return err
		}

		folderID := req.FolderID
		if folderID == "" {
			folderID = f.FolderID
		}
		return files.UpdateLocation(ctx, f.FileID, name, req.FilePath, folderID)
	})
	if err != nil {
		return nil, fmt.Errorf("update file %s: %w", req.FileID, err)
	}

	if displaced != nil {
		s.log.Info(ctx, "file at target path replaced", "file_id", req.FileID, "replaced_file_id", displaced.FileID)
		purgeObjects(ctx, s.store, s.log, displaced)
	}

	s.log.Info(ctx, "file moved", "file_id", req.FileID, "file_path", req.FilePath)
	return &api.UpdateFileResponse{FileID: req.FileID, Success: true}, nil
}

// DeleteFile removes a file with its chunks, aborts any open upload and
// deletes the assembled object.
func (s *FileService) DeleteFile(ctx context.Context, fileID string) error {
	unlock := s.locks.Lock(fileID)
	defer unlock()

	var deleted *models.File
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		files := s.repomanager.Files(tx)
		f, err := files.GetByID(ctx, fileID)
		if err != nil {
			return err
		}
		if err := files.Delete(ctx, fileID); err != nil {
			return err
		}
		deleted = f
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete file %s: %w", fileID, err)
	}

	purgeObjects(ctx, s.store, s.log, deleted)
	s.log.Info(ctx, "file deleted", "file_id", fileID)
	return nil
}
