package syncer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/chunker"
	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/filex"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// UploadFile syncs one local file to the server. A file whose content hash
// matches the last synced hash is left alone.
func (e *Engine) UploadFile(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploadFile(ctx, path)
}

func (e *Engine) uploadFile(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if e.ignored(path) {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	folder, err := e.ensureFolder(ctx, filepath.Dir(path), "")
	if err != nil {
		return err
	}

	hash, err := chunker.HashFile(path)
	if err != nil {
		return err
	}

	files := e.repos.Files(e.db)
	f, err := files.GetByPath(ctx, path)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		f = &models.File{
			FileID:    uuid.NewString(),
			FilePath:  path,
			FileName:  filepath.Base(path),
			FileType:  filex.FileType(path),
			FolderID:  folder.FolderID,
			CreatedAt: e.now(),
		}
		if err := files.Upsert(ctx, f); err != nil {
			return err
		}
	case err != nil:
		return err
	case f.FileHash == hash:
		e.log.Debug(ctx, "file unchanged", "path", path)
		return nil
	default:
		err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if _, err := e.repos.Chunks(tx).DeleteByFile(ctx, f.FileID); err != nil {
				return err
			}
			if f.FolderID == folder.FolderID {
				return nil
			}
			f.FolderID = folder.FolderID
			return e.repos.Files(tx).UpdateLocation(ctx, f.FileID, f.FileName, f.FilePath, f.FolderID)
		})
		if err != nil {
			return err
		}
	}

	return e.push(ctx, f, path, hash, info.Size())
}

// push chunks the file, uploads the parts in parallel and confirms them.
// The file hash is recorded only once every part is confirmed, so a failed
// or partial upload is retried by the next pass. The chunked bytes are
// hashed as they are read; if they no longer match hash the file was edited
// after it was hashed and nothing is confirmed.
func (e *Engine) push(ctx context.Context, f *models.File, path, hash string, size int64) error {
	count := chunker.Count(size, e.chunkSize)

	created, err := e.api.CreateFile(ctx, &api.CreateFileRequest{
		FileID:     f.FileID,
		FileName:   f.FileName,
		FilePath:   f.FilePath,
		FileType:   f.FileType,
		FolderID:   f.FolderID,
		ChunkCount: count,
		FileHash:   hash,
	})
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	if len(created.PresignedURLs) != count {
		return fmt.Errorf("server returned %d upload urls for %d chunks", len(created.PresignedURLs), count)
	}
	urls := make(map[int]api.PresignedURL, count)
	for _, u := range created.PresignedURLs {
		urls[u.PartNumber] = u
	}

	now := e.now()
	etags := make([]api.ChunkETag, count)
	records := make([]*models.Chunk, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	read := 0
	digest := sha256.New()
	var splitErr error
	for c, err := range chunker.SplitFile(path, e.chunkSize) {
		if err != nil {
			splitErr = err
			break
		}
		digest.Write(c.Data)
		u, ok := urls[c.PartNumber]
		if !ok {
			splitErr = fmt.Errorf("%w: %s", ErrChangedDuringUpload, path)
			break
		}
		if err := e.blobs.Put(u.ChunkID, c.Data); err != nil {
			splitErr = err
			break
		}
		records[c.Index] = &models.Chunk{
			ChunkID:     u.ChunkID,
			FileID:      f.FileID,
			PartNumber:  c.PartNumber,
			Fingerprint: c.Fingerprint,
			CreatedAt:   now,
		}
		read++

		g.Go(func() error {
			etag, err := e.transport.UploadPart(gctx, u.PresignedURL, c.Data)
			if err != nil {
				return fmt.Errorf("upload part %d of %s: %w", c.PartNumber, path, err)
			}
			etags[c.Index] = api.ChunkETag{
				ChunkID:     u.ChunkID,
				PartNumber:  c.PartNumber,
				ETag:        etag,
				Fingerprint: c.Fingerprint,
			}
			return nil
		})
		if gctx.Err() != nil {
			break
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if splitErr != nil {
		return splitErr
	}
	if read != count || hex.EncodeToString(digest.Sum(nil)) != hash {
		return fmt.Errorf("%w: %s", ErrChangedDuringUpload, path)
	}

	master := ""
	success := true
	confirmed := 0
	if count > 0 {
		ids := make([]string, count)
		for i, r := range records {
			ids[i] = r.ChunkID
		}
		resp, err := e.api.ConfirmChunks(ctx, &api.ConfirmRequest{FileID: f.FileID, ChunkIDs: ids, ChunkETags: etags})
		if err != nil {
			return fmt.Errorf("confirm chunks of %s: %w", path, err)
		}
		success, confirmed = resp.Success, resp.ConfirmedChunks
		master = resp.MasterFileFingerprint
		if master == "" {
			parts := make([]chunker.Part, count)
			for i, r := range records {
				parts[i] = chunker.Part{PartNumber: r.PartNumber, Fingerprint: r.Fingerprint}
			}
			if master, err = chunker.MasterFingerprint(parts); err != nil {
				return err
			}
		}
	}

	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		chunks := e.repos.Chunks(tx)
		for _, r := range records {
			if success {
				r.LastSynced = sql.NullTime{Time: now, Valid: true}
			}
			if err := chunks.Upsert(ctx, r); err != nil {
				return err
			}
		}
		if _, err := chunks.DeleteFromPart(ctx, f.FileID, count); err != nil {
			return err
		}
		if !success {
			return nil
		}
		return e.repos.Files(tx).SetHash(ctx, f.FileID, hash, master)
	})
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s: %d of %d chunks", ErrPartialUpload, path, confirmed, count)
	}

	e.log.Info(ctx, "File uploaded", "path", path, "file_id", f.FileID, "chunks", count)
	return nil
}
