package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/chunker"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/server/models"
	"github.com/dmitrijs2005/firebox/internal/server/objectstore"
)

// CreateFile registers (or replaces) a file's metadata, opens a multipart
// upload and returns one presigned PUT URL per part.
//
// The file row and its pending chunk rows are written in one transaction
// before the object store is touched, so a concurrent Changes call already
// holds its cursor back for them. Any failure after that is compensated:
// the record is removed and the upload aborted before the error is
// returned.
func (s *FileService) CreateFile(ctx context.Context, req *api.CreateFileRequest) (*api.CreateFileResponse, error) {
	unlock := s.locks.Lock(req.FileID)
	defer unlock()

	now := s.now().UTC()
	file := &models.File{
		FileID:   req.FileID,
		FilePath: req.FilePath,
		FileName: req.FileName,
		FileType: req.FileType,
		FolderID: req.FolderID,
		FileHash: req.FileHash,
	}

	chunks := make([]*models.Chunk, 0, req.ChunkCount)
	for i := 0; i < req.ChunkCount; i++ {
		chunks = append(chunks, &models.Chunk{ChunkID: chunker.ChunkID(req.FileID, i), FileID: req.FileID, PartNumber: i + 1, CreatedAt: now})
	}

	var (
		displaced *models.File
		stale     sql.NullString
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		displaced, stale = nil, sql.NullString{}
		files := s.repomanager.Files(tx)

		other, err := files.GetByPath(ctx, req.FilePath)
		switch {
		case err == nil && other.FileID != req.FileID:
			if err := files.Delete(ctx, other.FileID); err != nil {
				return err
			}
			displaced = other
		case err != nil && !errors.Is(err, common.ErrorNotFound):
			return err
		}

		existing, err := files.GetByID(ctx, req.FileID)
		switch {
		case err == nil:
			stale = existing.UploadID
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}

		if err := files.Upsert(ctx, file); err != nil {
			return err
		}
		if err := files.SetUploadID(ctx, req.FileID, sql.NullString{}); err != nil {
			return err
		}
		repo := s.repomanager.Chunks(tx)
		if _, err := repo.DeleteByFile(ctx, req.FileID); err != nil {
			return err
		}
		for _, c := range chunks {
			if err := repo.Create(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create file %s: %w", req.FileID, err)
	}

	if displaced != nil {
		s.log.Info(ctx, "file at path replaced", "file_id", req.FileID, "replaced_file_id", displaced.FileID)
		purgeObjects(ctx, s.store, s.log, displaced)
	}
	if stale.Valid && stale.String != "" {
		if err := s.store.AbortMultipartUpload(ctx, req.FileID, stale.String); err != nil {
			s.log.Warn(ctx, "abort stale upload failed", "file_id", req.FileID, "upload_id", stale.String, "error", err)
		}
	}

	resp := &api.CreateFileResponse{FileID: req.FileID, PresignedURLs: []api.PresignedURL{}}

	if req.ChunkCount == 0 {
		// Empty content: nothing to upload, and any previous object is stale.
		if err := s.store.DeleteObject(ctx, req.FileID); err != nil {
			s.log.Warn(ctx, "delete object failed", "file_id", req.FileID, "error", err)
		}
		s.metrics.FileCreated()
		s.log.Info(ctx, "empty file registered", "file_id", req.FileID, "file_path", req.FilePath)
		return resp, nil
	}

	uploadID, err := s.store.CreateMultipartUpload(ctx, req.FileID)
	if err != nil {
		s.cleanup(ctx, req.FileID, "")
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	for _, c := range chunks {
		u, err := s.store.PresignUploadPart(ctx, req.FileID, uploadID, c.PartNumber, s.config.PresignExpiry)
		if err != nil {
			s.cleanup(ctx, req.FileID, uploadID)
			return nil, fmt.Errorf("presign part %d: %w", c.PartNumber, err)
		}
		resp.PresignedURLs = append(resp.PresignedURLs, api.PresignedURL{ChunkID: c.ChunkID, PresignedURL: u, PartNumber: c.PartNumber})
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Files(tx).SetUploadID(ctx, req.FileID, sql.NullString{String: uploadID, Valid: true})
	})
	if err != nil {
		s.cleanup(ctx, req.FileID, uploadID)
		return nil, fmt.Errorf("record upload for %s: %w", req.FileID, err)
	}

	s.metrics.FileCreated()
	s.log.Info(ctx, "upload initiated", "file_id", req.FileID, "upload_id", uploadID, "chunks", req.ChunkCount)
	return resp, nil
}

// Cleanup drops a file record and aborts its open multipart upload, if any.
// Both steps are best effort.
func (s *FileService) Cleanup(ctx context.Context, fileID string) {
	unlock := s.locks.Lock(fileID)
	defer unlock()

	uploadID := ""
	if f, err := s.repomanager.Files(s.db).GetByID(ctx, fileID); err == nil && f.HasOpenUpload() {
		uploadID = f.UploadID.String
	}
	s.cleanup(ctx, fileID, uploadID)
}

// cleanup undoes a failed CreateFile. The caller holds the file lock.
func (s *FileService) cleanup(ctx context.Context, fileID, uploadID string) {
	s.metrics.Compensated()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repomanager.Files(tx).Delete(ctx, fileID)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		s.log.Error(ctx, "compensation: delete file failed", "file_id", fileID, "error", err)
	}

	if uploadID != "" {
		if err := s.store.AbortMultipartUpload(ctx, fileID, uploadID); err != nil {
			s.log.Error(ctx, "compensation: abort upload failed", "file_id", fileID, "upload_id", uploadID, "error", err)
		}
	}
	s.log.Warn(ctx, "file creation rolled back", "file_id", fileID)
}

// ConfirmChunks records the parts the client reports as uploaded and, while
// the multipart upload is still open, completes it with every confirmed
// part. Completion happens even when only some of the requested chunks
// were confirmed; the response then carries success=false.
//
// Calls for the same file are serialized. Once an upload is completed a
// repeated confirm only refreshes chunk rows and returns the stored
// fingerprint. A file that never had parts to upload (empty content, or an
// upload that was never recorded) yields common.ErrNoOpenUpload.
func (s *FileService) ConfirmChunks(ctx context.Context, req *api.ConfirmRequest) (*api.ConfirmResponse, error) {
	unlock := s.locks.Lock(req.FileID)
	defer unlock()

	files := s.repomanager.Files(s.db)
	chunks := s.repomanager.Chunks(s.db)

	file, err := files.GetByID(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", req.FileID, err)
	}
	if !file.HasOpenUpload() && file.CompleteETag == "" {
		return nil, fmt.Errorf("confirm %s: %w", req.FileID, common.ErrNoOpenUpload)
	}

	byID := make(map[string]api.ChunkETag, len(req.ChunkETags))
	for _, e := range req.ChunkETags {
		byID[e.ChunkID] = e
	}

	now := s.now().UTC()
	confirmed := 0
	for _, id := range req.ChunkIDs {
		e, ok := byID[id]
		if !ok {
			continue
		}
		err := chunks.Confirm(ctx, &models.Chunk{
			ChunkID:     id,
			FileID:      req.FileID,
			PartNumber:  e.PartNumber,
			Fingerprint: e.Fingerprint,
			ETag:        e.ETag,
			CreatedAt:   now,
			LastSynced:  sql.NullTime{Time: now, Valid: true},
		})
		if err != nil {
			s.metrics.ChunkConfirmFailed()
			s.log.Warn(ctx, "chunk confirm failed, skipping", "file_id", req.FileID, "chunk_id", id, "error", err)
			continue
		}
		s.metrics.ChunkConfirmed()
		confirmed++
	}

	resp := &api.ConfirmResponse{
		FileID:          req.FileID,
		ConfirmedChunks: confirmed,
		Success:         confirmed == len(req.ChunkIDs),
	}

	stored, err := chunks.ListByFile(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", req.FileID, err)
	}
	var (
		parts        []objectstore.CompletedPart
		fingerprints []chunker.Part
	)
	for _, c := range stored {
		if !c.Confirmed() {
			continue
		}
		parts = append(parts, objectstore.CompletedPart{PartNumber: c.PartNumber, ETag: c.ETag})
		fingerprints = append(fingerprints, chunker.Part{PartNumber: c.PartNumber, Fingerprint: c.Fingerprint})
	}

	if !file.HasOpenUpload() {
		resp.MasterFileFingerprint = file.MasterFileFingerprint
		if resp.MasterFileFingerprint == "" && len(fingerprints) > 0 {
			if master, err := chunker.MasterFingerprint(fingerprints); err == nil {
				resp.MasterFileFingerprint = master
			}
		}
		return resp, nil
	}

	if len(parts) == 0 {
		return resp, nil
	}

	completeETag, err := s.store.CompleteMultipartUpload(ctx, req.FileID, file.UploadID.String, parts)
	if err != nil {
		s.log.Error(ctx, "complete multipart upload failed", "file_id", req.FileID, "upload_id", file.UploadID.String, "error", err)
		return nil, fmt.Errorf("complete upload for %s: %w", req.FileID, err)
	}

	master, err := chunker.MasterFingerprint(fingerprints)
	if err != nil {
		return nil, fmt.Errorf("master fingerprint for %s: %w", req.FileID, err)
	}
	if err := files.MarkCompleted(ctx, req.FileID, completeETag, master); err != nil {
		return nil, fmt.Errorf("mark %s completed: %w", req.FileID, err)
	}
	// Parts that never arrived are not part of the object.
	if n, err := chunks.DeletePending(ctx, req.FileID); err != nil {
		s.log.Warn(ctx, "delete pending chunks failed", "file_id", req.FileID, "error", err)
	} else if n > 0 {
		s.log.Warn(ctx, "upload completed without all parts", "file_id", req.FileID, "missing", n)
	}

	partial := len(parts) < len(stored)
	s.metrics.UploadCompleted(partial)
	s.log.Info(ctx, "upload completed", "file_id", req.FileID, "parts", len(parts), "partial", partial)

	resp.MasterFileFingerprint = master
	return resp, nil
}
