package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/chunker"
	"github.com/dmitrijs2005/firebox/internal/client/client"
	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/filex"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"golang.org/x/sync/errgroup"
)

// errStale marks a file whose server state moved on after the changeset was
// produced; the next changeset carries the newer version.
var errStale = errors.New("remote file changed since poll")

// ReconcileFromServer applies a changeset from the sync poll. Every file is
// attempted; the returned error joins the failures so the caller can keep
// its cursor and retry.
func (e *Engine) ReconcileFromServer(ctx context.Context, cs *api.SyncResponse) error {
	if cs == nil || cs.UpToDate || len(cs.UpdatedFiles) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, sf := range cs.UpdatedFiles {
		err := e.reconcileFile(logging.ContextWith(ctx, "file_id", sf.FileID), sf)
		switch {
		case err == nil:
		case errors.Is(err, errStale):
			e.log.Warn(ctx, "skipping file changed on server", "path", sf.FilePath, "file_id", sf.FileID, "error", err)
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error(ctx, "reconcile failed", "path", sf.FilePath, "file_id", sf.FileID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sf.FilePath, err))
		}
	}

	if err := e.cleanupOrphans(ctx); err != nil {
		e.log.Warn(ctx, "orphan cleanup failed", "error", err)
	}
	return errors.Join(errs...)
}

func (e *Engine) reconcileFile(ctx context.Context, sf api.SyncFile) error {
	path := filepath.Clean(sf.FilePath)
	if e.ignored(path) {
		e.log.Warn(ctx, "ignoring remote file outside sync dir", "path", sf.FilePath)
		return nil
	}
	if len(sf.Chunks) == 0 {
		return nil
	}

	folder, err := e.ensureFolder(ctx, filepath.Dir(path), sf.FolderID)
	if err != nil {
		return err
	}
	f, err := e.localFileFor(ctx, sf, path, folder)
	if err != nil {
		return err
	}

	chunks := e.repos.Chunks(e.db)
	var current []*models.Chunk
	var need []api.ChunkRef
	lastPart := 0
	for _, c := range sf.Chunks {
		lastPart = max(lastPart, c.PartNumber)

		local, err := chunks.GetByPart(ctx, f.FileID, c.PartNumber)
		if errors.Is(err, common.ErrorNotFound) {
			local, err = chunks.GetByID(ctx, c.ChunkID)
		}
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		if local != nil && local.Fingerprint == c.Fingerprint && e.hasBlob(local.ChunkID) {
			local.FileID, local.PartNumber = f.FileID, c.PartNumber
			current = append(current, local)
			continue
		}
		need = append(need, api.ChunkRef{ChunkID: c.ChunkID, PartNumber: c.PartNumber, Fingerprint: c.Fingerprint})
	}

	fetched, err := e.fetch(ctx, f.FileID, need)
	if err != nil && !errors.Is(err, errStale) {
		return err
	}
	stale := err

	now := e.now()
	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := e.repos.Chunks(tx)
		for _, c := range append(current, fetched...) {
			c.LastSynced = sql.NullTime{Time: now, Valid: true}
			if err := repo.Upsert(ctx, c); err != nil {
				return err
			}
		}
		_, err := repo.DeleteFromPart(ctx, f.FileID, lastPart)
		return err
	})
	if err != nil {
		return err
	}
	if stale != nil {
		return stale
	}

	return e.rebuild(ctx, f, sf.MasterFileFingerprint)
}

// localFileFor finds or creates the local record matching a remote file,
// looking it up by path first and by id second.
func (e *Engine) localFileFor(ctx context.Context, sf api.SyncFile, path string, folder *models.Folder) (*models.File, error) {
	files := e.repos.Files(e.db)
	name := filepath.Base(path)

	byPath, err := files.GetByPath(ctx, path)
	switch {
	case err == nil && byPath.FileID == sf.FileID:
		if byPath.FolderID != folder.FolderID || byPath.FileName != name {
			if err := files.UpdateLocation(ctx, byPath.FileID, name, path, folder.FolderID); err != nil {
				return nil, err
			}
			byPath.FileName, byPath.FolderID = name, folder.FolderID
		}
		return byPath, nil
	case err == nil:
		// the server now knows a different file at this path
		if err := files.Delete(ctx, byPath.FileID); err != nil {
			return nil, err
		}
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	byID, err := files.GetByID(ctx, sf.FileID)
	switch {
	case err == nil:
		if err := e.relocate(byID.FilePath, path); err != nil {
			return nil, err
		}
		if err := files.UpdateLocation(ctx, byID.FileID, name, path, folder.FolderID); err != nil {
			return nil, err
		}
		byID.FilePath, byID.FileName, byID.FolderID = path, name, folder.FolderID
		return byID, nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	fileType := sf.FileType
	if fileType == "" {
		fileType = filex.FileType(path)
	}
	f := &models.File{
		FileID:    sf.FileID,
		FilePath:  path,
		FileName:  name,
		FileType:  fileType,
		FolderID:  folder.FolderID,
		CreatedAt: e.now(),
	}
	if err := files.Upsert(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// relocate follows a remote rename on disk when the old file is still there
// and nothing occupies the new path.
func (e *Engine) relocate(from, to string) error {
	if from == to || e.ignored(from) {
		return nil
	}
	if _, err := os.Stat(to); err == nil {
		return nil
	}
	if _, err := os.Stat(from); err != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o770); err != nil {
		return err
	}
	return os.Rename(from, to)
}

// fetch resolves download URLs for the needed chunks, downloads them in
// parallel and verifies every payload before storing its blob.
func (e *Engine) fetch(ctx context.Context, fileID string, need []api.ChunkRef) ([]*models.Chunk, error) {
	if len(need) == 0 {
		return nil, nil
	}

	resp, err := e.api.Download(ctx, &api.DownloadRequest{FileID: fileID, Chunks: need})
	if errors.Is(err, client.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", errStale, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve download: %w", err)
	}
	for _, inv := range resp.InvalidChunks {
		e.log.Warn(ctx, "chunk not downloadable", "chunk_id", inv.ChunkID, "reason", inv.Reason)
	}

	now := e.now()
	records := make([]*models.Chunk, len(resp.DownloadURLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, du := range resp.DownloadURLs {
		g.Go(func() error {
			data, err := e.transport.Download(gctx, du.PresignedURL, du.RangeHeader)
			if err != nil {
				return fmt.Errorf("download chunk %s: %w", du.ChunkID, err)
			}
			if got := chunker.Fingerprint(data); got != du.Fingerprint {
				return fmt.Errorf("%w: %s: want %s, got %s", ErrCorruptChunk, du.ChunkID, du.Fingerprint, got)
			}
			if err := e.blobs.Put(du.ChunkID, data); err != nil {
				return err
			}
			records[i] = &models.Chunk{
				ChunkID:     du.ChunkID,
				FileID:      fileID,
				PartNumber:  du.PartNumber,
				Fingerprint: du.Fingerprint,
				CreatedAt:   now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !resp.Success || len(resp.InvalidChunks) > 0 {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("%d invalid chunks", len(resp.InvalidChunks))
		}
		return records, fmt.Errorf("%w: %s", errStale, msg)
	}
	return records, nil
}

// rebuild writes the file from its chunk blobs in part order. A file whose
// remote content is unchanged since the last sync is not rewritten, so a
// local edit that is still waiting for upload survives.
func (e *Engine) rebuild(ctx context.Context, f *models.File, wantMaster string) error {
	recs, err := e.repos.Chunks(e.db).ListByFile(ctx, f.FileID)
	if err != nil {
		return err
	}
	parts := make([]chunker.Part, len(recs))
	for i, r := range recs {
		if r.PartNumber != i+1 {
			return fmt.Errorf("%w: part %d missing", errStale, i+1)
		}
		parts[i] = chunker.Part{PartNumber: r.PartNumber, Fingerprint: r.Fingerprint}
	}
	master, err := chunker.MasterFingerprint(parts)
	if err != nil {
		return err
	}
	if wantMaster != "" && master != wantMaster {
		return fmt.Errorf("%w: master fingerprint %s, server has %s", errStale, master, wantMaster)
	}

	if master == f.MasterFileFingerprint && f.FileHash != "" {
		// nothing new remotely; the disk copy is either current or a pending local edit
		if _, err := os.Stat(f.FilePath); err == nil {
			return nil
		}
	}

	if err := e.assemble(f.FilePath, recs); err != nil {
		return err
	}
	hash, err := chunker.HashFile(f.FilePath)
	if err != nil {
		return err
	}
	if err := e.repos.Files(e.db).SetHash(ctx, f.FileID, hash, master); err != nil {
		return err
	}
	e.log.Info(ctx, "File rebuilt", "path", f.FilePath, "chunks", len(recs))
	return nil
}

// assemble concatenates the blobs into a hidden temp file next to path and
// renames it into place.
func (e *Engine) assemble(path string, recs []*models.Chunk) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	for _, r := range recs {
		if err := appendBlob(tmp, e.blobs.Path(r.ChunkID)); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func appendBlob(w io.Writer, blob string) error {
	src, err := os.Open(blob)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: blob %s missing", errStale, filepath.Base(blob))
	}
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(w, src)
	return err
}
