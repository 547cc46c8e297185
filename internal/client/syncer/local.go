package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/client/watcher"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
)

// MoveFile rewrites the path of a known file in place; no chunk is uploaded
// again unless the content changed as well. An unknown source is treated as
// a new file at dst.
func (e *Engine) MoveFile(ctx context.Context, src, dst string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moveFile(ctx, filepath.Clean(src), filepath.Clean(dst))
}

func (e *Engine) moveFile(ctx context.Context, src, dst string) error {
	if e.ignored(dst) {
		return e.deleteFile(ctx, src)
	}
	f, err := e.repos.Files(e.db).GetByPath(ctx, src)
	if errors.Is(err, common.ErrorNotFound) {
		return e.uploadFile(ctx, dst)
	}
	if err != nil {
		return err
	}

	folder, err := e.ensureFolder(ctx, filepath.Dir(dst), "")
	if err != nil {
		return err
	}

	var displaced *models.File
	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		files := e.repos.Files(tx)
		other, err := files.GetByPath(ctx, dst)
		switch {
		case err == nil && other.FileID != f.FileID:
			displaced = other
			if err := files.Delete(ctx, other.FileID); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, common.ErrorNotFound):
			return err
		}
		return files.UpdateLocation(ctx, f.FileID, filepath.Base(dst), dst, folder.FolderID)
	})
	if err != nil {
		return err
	}
	e.log.Info(ctx, "File moved", "from", src, "to", dst, "file_id", f.FileID)

	if displaced != nil {
		e.bestEffort(ctx, "delete replaced file", e.api.DeleteFile(ctx, displaced.FileID), "file_id", displaced.FileID)
	}
	e.bestEffort(ctx, "update file location", e.api.UpdateFile(ctx, &api.UpdateFileRequest{
		FileID:   f.FileID,
		FileName: filepath.Base(dst),
		FilePath: dst,
		FolderID: folder.FolderID,
	}), "file_id", f.FileID)

	// the content may have changed along with the name
	return e.uploadFile(ctx, dst)
}

// MoveFolder rewrites the folder's path and the paths of every folder and
// file below it.
func (e *Engine) MoveFolder(ctx context.Context, src, dst string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moveFolder(ctx, filepath.Clean(src), filepath.Clean(dst))
}

func (e *Engine) moveFolder(ctx context.Context, src, dst string) error {
	if src == e.root {
		return fmt.Errorf("cannot move the sync root")
	}
	if e.ignored(dst) {
		return e.deleteFolder(ctx, src)
	}
	folder, err := e.repos.Folders(e.db).GetByPath(ctx, src)
	if errors.Is(err, common.ErrorNotFound) {
		return e.scanTree(ctx, dst)
	}
	if err != nil {
		return err
	}

	parent, err := e.ensureFolder(ctx, filepath.Dir(dst), "")
	if err != nil {
		return err
	}

	name := filepath.Base(dst)
	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folders := e.repos.Folders(tx)
		if err := folders.UpdateLocation(ctx, folder.FolderID, name, dst, parent.FolderID); err != nil {
			return err
		}
		if _, err := folders.RewritePathPrefix(ctx, src, dst); err != nil {
			return err
		}
		_, err := e.repos.Files(tx).RewritePathPrefix(ctx, src, dst)
		return err
	})
	if err != nil {
		return err
	}
	e.log.Info(ctx, "Folder moved", "from", src, "to", dst, "folder_id", folder.FolderID)

	e.bestEffort(ctx, "update folder location", e.api.UpdateFolder(ctx, &api.FolderRequest{
		FolderID:       folder.FolderID,
		FolderPath:     dst,
		FolderName:     name,
		ParentFolderID: &parent.FolderID,
	}), "folder_id", folder.FolderID)
	return nil
}

// DeleteFile removes the file record and its chunk records. Blobs are left
// for CleanupOrphans.
func (e *Engine) DeleteFile(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteFile(ctx, filepath.Clean(path))
}

func (e *Engine) deleteFile(ctx context.Context, path string) error {
	files := e.repos.Files(e.db)
	f, err := files.GetByPath(ctx, path)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := files.Delete(ctx, f.FileID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	e.log.Info(ctx, "File deleted", "path", path, "file_id", f.FileID)
	e.bestEffort(ctx, "delete file on server", e.api.DeleteFile(ctx, f.FileID), "file_id", f.FileID)
	return nil
}

// DeleteFolder removes the folder, every folder and file below it, and
// their chunk records. Blobs are left for CleanupOrphans.
func (e *Engine) DeleteFolder(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteFolder(ctx, filepath.Clean(path))
}

func (e *Engine) deleteFolder(ctx context.Context, path string) error {
	if path == e.root {
		e.log.Warn(ctx, "sync root removed, keeping local state", "path", path)
		return nil
	}
	folder, err := e.repos.Folders(e.db).GetByPath(ctx, path)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	var removed []*models.File
	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		files := e.repos.Files(tx)
		var err error
		if removed, err = files.ListUnderPath(ctx, path); err != nil {
			return err
		}
		if _, err := files.DeleteUnderPath(ctx, path); err != nil {
			return err
		}
		_, err = e.repos.Folders(tx).DeleteTree(ctx, path)
		return err
	})
	if err != nil {
		return err
	}
	e.log.Info(ctx, "Folder deleted", "path", path, "files", len(removed))

	if folder != nil {
		e.bestEffort(ctx, "delete folder on server", e.api.DeleteFolder(ctx, folder.FolderID), "folder_id", folder.FolderID)
		return nil
	}
	for _, f := range removed {
		e.bestEffort(ctx, "delete file on server", e.api.DeleteFile(ctx, f.FileID), "file_id", f.FileID)
	}
	return nil
}

// deletePath removes whatever is registered at path.
func (e *Engine) deletePath(ctx context.Context, path string) error {
	_, err := e.repos.Files(e.db).GetByPath(ctx, path)
	if err == nil {
		return e.deleteFile(ctx, path)
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return e.deleteFolder(ctx, path)
}

// ScanSyncDirectory registers every non-hidden folder and uploads every
// changed file below the root, then sweeps orphaned blobs. Failures on
// single files are collected and do not stop the walk.
func (e *Engine) ScanSyncDirectory(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Info(ctx, "Scanning sync directory", "root", e.root)
	err := e.scanTree(ctx, e.root)
	if cerr := e.cleanupOrphans(ctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (e *Engine) scanTree(ctx context.Context, dir string) error {
	var errs []error
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			errs = append(errs, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if e.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, err := e.ensureFolder(ctx, path, ""); err != nil {
				errs = append(errs, err)
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := e.uploadFile(ctx, path); err != nil {
			e.log.Error(ctx, "upload failed", "path", path, "error", err)
			errs = append(errs, err)
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return errors.Join(errs...)
}

// HandleEvent applies one watcher event.
func (e *Engine) HandleEvent(ctx context.Context, ev watcher.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Clean(ev.Path)
	switch ev.Op {
	case watcher.Created, watcher.Modified:
		if ev.Kind == watcher.Directory {
			return e.scanTree(ctx, path)
		}
		return e.uploadFile(ctx, path)
	case watcher.Deleted, watcher.MovedFrom:
		if err := e.deletePath(ctx, path); err != nil {
			return err
		}
		return e.cleanupOrphans(ctx)
	case watcher.MovedTo:
		if ev.From == "" {
			if ev.Kind == watcher.Directory {
				return e.scanTree(ctx, path)
			}
			return e.uploadFile(ctx, path)
		}
		from := filepath.Clean(ev.From)
		if ev.Kind == watcher.Directory {
			return e.moveFolder(ctx, from, path)
		}
		return e.moveFile(ctx, from, path)
	default:
		return fmt.Errorf("unknown event op %v", ev.Op)
	}
}
