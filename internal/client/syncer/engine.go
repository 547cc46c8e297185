// Package syncer keeps a local directory tree and the metadata service in
// agreement. Local changes are chunked and uploaded through presigned URLs;
// remote changesets are downloaded chunk by chunk, verified, and used to
// rebuild files on disk. Identity is the absolute path.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/client/blobstore"
	"github.com/dmitrijs2005/firebox/internal/client/client"
	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/filex"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/google/uuid"
)

var (
	ErrChangedDuringUpload = errors.New("file changed during upload")
	ErrPartialUpload       = errors.New("upload only partially confirmed")
	ErrCorruptChunk        = errors.New("downloaded chunk fingerprint mismatch")
)

// Transport moves chunk bytes to and from presigned URLs.
type Transport interface {
	UploadPart(ctx context.Context, url string, data []byte) (string, error)
	Download(ctx context.Context, url, rangeHeader string) ([]byte, error)
}

type Options struct {
	SyncDir       string
	ChunkSize     int
	UploadWorkers int
}

// Engine is safe for concurrent use; mutating passes run one at a time.
type Engine struct {
	mu sync.Mutex

	db        *sql.DB
	repos     repomanager.RepositoryManager
	api       client.Client
	transport Transport
	blobs     *blobstore.Store
	log       logging.Logger

	root      string
	chunkSize int
	workers   int
	now       func() time.Time
}

func New(db *sql.DB, repos repomanager.RepositoryManager, api client.Client, transport Transport,
	blobs *blobstore.Store, log logging.Logger, opts Options) (*Engine, error) {
	root, err := filepath.Abs(opts.SyncDir)
	if err != nil {
		return nil, fmt.Errorf("resolve sync dir: %w", err)
	}
	if filex.IsWithin(root, blobs.Dir()) {
		return nil, fmt.Errorf("chunk dir %s must not be inside sync dir %s", blobs.Dir(), root)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = common.DefaultChunkSize
	}
	if opts.UploadWorkers <= 0 {
		opts.UploadWorkers = 1
	}
	return &Engine{
		db:        db,
		repos:     repos,
		api:       api,
		transport: transport,
		blobs:     blobs,
		log:       log,
		root:      filepath.Clean(root),
		chunkSize: opts.ChunkSize,
		workers:   opts.UploadWorkers,
		now:       time.Now,
	}, nil
}

func (e *Engine) Root() string { return e.root }

// ignored reports paths the engine never syncs: anything outside the root
// and anything with a hidden component.
func (e *Engine) ignored(path string) bool {
	return !filex.IsWithin(e.root, path) || filex.HasHiddenComponent(e.root, path)
}

func (e *Engine) hasBlob(chunkID string) bool {
	info, err := os.Stat(e.blobs.Path(chunkID))
	return err == nil && info.Mode().IsRegular()
}

// bestEffort logs a failed server-side propagation. Local state stays
// authoritative; the server catches up on the next change.
func (e *Engine) bestEffort(ctx context.Context, what string, err error, args ...any) {
	if err == nil {
		return
	}
	e.log.Warn(ctx, what+" failed", append(args, "error", err)...)
}

// ensureFolder returns the record for dir, creating every missing ancestor
// top-down. New folders are registered with the server before they are
// stored locally, unless remoteID is set: then dir itself adopts that id.
func (e *Engine) ensureFolder(ctx context.Context, dir, remoteID string) (*models.Folder, error) {
	dir = filepath.Clean(dir)
	if !filex.IsWithin(e.root, dir) {
		return nil, fmt.Errorf("%s is outside %s", dir, e.root)
	}
	repo := e.repos.Folders(e.db)

	var missing []string
	var parent *models.Folder
	for cur := dir; ; cur = filepath.Dir(cur) {
		f, err := repo.GetByPath(ctx, cur)
		if err == nil {
			parent = f
			break
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		missing = append(missing, cur)
		if cur == e.root {
			break
		}
	}
	if len(missing) == 0 {
		return parent, nil
	}

	for i := len(missing) - 1; i >= 0; i-- {
		id := ""
		if i == 0 {
			id = remoteID
		}
		f, err := e.createFolder(ctx, missing[i], parent, id)
		if err != nil {
			return nil, err
		}
		parent = f
	}
	return parent, nil
}

func (e *Engine) createFolder(ctx context.Context, path string, parent *models.Folder, remoteID string) (*models.Folder, error) {
	f := &models.Folder{
		FolderID:   remoteID,
		FolderPath: path,
		FolderName: filepath.Base(path),
		CreatedAt:  e.now(),
	}
	if parent != nil {
		f.ParentFolderID = sql.NullString{String: parent.FolderID, Valid: true}
	}

	if f.FolderID == "" {
		f.FolderID = uuid.NewString()
		req := &api.FolderRequest{FolderID: f.FolderID, FolderPath: path, FolderName: f.FolderName}
		if parent != nil {
			req.ParentFolderID = &f.ParentFolderID.String
		}
		if err := e.api.UpsertFolder(ctx, req); err != nil {
			return nil, fmt.Errorf("register folder %s: %w", path, err)
		}
	}

	if err := e.repos.Folders(e.db).Upsert(ctx, f); err != nil {
		return nil, err
	}
	e.log.Info(ctx, "Folder registered", "path", path, "folder_id", f.FolderID)
	return f, nil
}

// CleanupOrphans deletes chunk blobs that no chunk record references.
func (e *Engine) CleanupOrphans(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleanupOrphans(ctx)
}

func (e *Engine) cleanupOrphans(ctx context.Context) error {
	ids, err := e.repos.Chunks(e.db).ListIDs(ctx)
	if err != nil {
		return err
	}
	removed, err := e.blobs.Sweep(ids)
	if len(removed) > 0 {
		e.log.Info(ctx, "Orphaned chunks removed", "count", len(removed))
	}
	return err
}
