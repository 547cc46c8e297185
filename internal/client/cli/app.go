package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/firebox/internal/client/blobstore"
	"github.com/dmitrijs2005/firebox/internal/client/client"
	"github.com/dmitrijs2005/firebox/internal/client/config"
	"github.com/dmitrijs2005/firebox/internal/client/localapi"
	"github.com/dmitrijs2005/firebox/internal/client/poller"
	"github.com/dmitrijs2005/firebox/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/firebox/internal/client/services"
	"github.com/dmitrijs2005/firebox/internal/client/syncer"
	"github.com/dmitrijs2005/firebox/internal/client/watcher"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/dmitrijs2005/firebox/internal/netx"
	"golang.org/x/sync/errgroup"
)

// App wires the client components around one local database.
type App struct {
	cfg    *config.Config
	log    logging.Logger
	db     *sql.DB
	api    client.Client
	engine *syncer.Engine
	poller *poller.Poller
	browse services.BrowseService
}

func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabaseDSN), 0o770); err != nil {
		return nil, fmt.Errorf("database dir: %w", err)
	}
	db, err := client.InitDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	blobs, err := blobstore.New(cfg.ChunkDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.MkdirAll(cfg.SyncDir, 0o770); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync dir: %w", err)
	}

	policy := netx.DefaultRetryPolicy()
	policy.MaxRetries = uint64(max(cfg.MaxRetries, 0))
	hc := netx.NewHTTPClient(cfg.RequestTimeout)
	api := client.NewHTTPClient(cfg.ServerURL, hc, policy)
	repos := repomanager.NewSQLiteRepositoryManager()

	engine, err := syncer.New(db, repos, api, netx.NewTransfer(hc, policy), blobs, log.With("module", "syncer"), syncer.Options{
		SyncDir:       cfg.SyncDir,
		ChunkSize:     cfg.ChunkSize,
		UploadWorkers: cfg.UploadWorkers,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		log:    log,
		db:     db,
		api:    api,
		engine: engine,
		poller: poller.New(api, engine, repos.System(db), cfg.PollInterval, log.With("module", "poller")),
		browse: services.NewBrowseService(db, repos),
	}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}

func (a *App) Scan(ctx context.Context) error {
	return a.engine.ScanSyncDirectory(ctx)
}

func (a *App) Sync(ctx context.Context) (*poller.Result, error) {
	return a.poller.Round(ctx)
}

func (a *App) Status(ctx context.Context) (*services.Status, error) {
	return a.browse.Status(ctx)
}

// Run performs the initial scan and poll, then watches the sync directory,
// polls the server and serves the local API until ctx is done.
func (a *App) Run(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.api.Health(hctx); err != nil {
		a.log.Warn(ctx, "metadata service not reachable, continuing", "url", a.cfg.ServerURL, "error", err)
	}
	cancel()

	w, err := watcher.New(a.engine.Root(), a.log.With("module", "watcher"))
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	api := localapi.NewServer(a.cfg.APIAddr, a.log, a.browse, a.poller)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		for ev := range w.Events() {
			a.log.Debug(gctx, "event", "event", ev.String())
			if err := a.engine.HandleEvent(gctx, ev); err != nil && gctx.Err() == nil {
				a.log.Error(gctx, "event handling failed", "event", ev.String(), "error", err)
			}
		}
		return nil
	})
	g.Go(func() error { return api.Run(gctx) })
	g.Go(func() error {
		if err := a.engine.ScanSyncDirectory(gctx); err != nil && gctx.Err() == nil {
			a.log.Error(gctx, "initial scan incomplete", "error", err)
		}
		if _, err := a.poller.Round(gctx); err != nil && gctx.Err() == nil {
			a.log.Error(gctx, "initial sync failed", "error", err)
		}
		return a.poller.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
