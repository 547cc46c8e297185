// Package server wires the metadata service: database, migrations, object
// store, services and the HTTP listeners, with graceful shutdown on SIGINT,
// SIGTERM or SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/dmitrijs2005/firebox/internal/server/config"
	"github.com/dmitrijs2005/firebox/internal/server/metrics"
	"github.com/dmitrijs2005/firebox/internal/server/objectstore"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/firebox/internal/server/rest"
	"github.com/dmitrijs2005/firebox/internal/server/services"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	metrics       *metrics.Metrics
	fileService   *services.FileService
	folderService *services.FolderService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slog := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slog)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := objectstore.NewS3Store(ctx, objectstore.Options{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("object store init error: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bucket %s: %w", c.S3Bucket, err)
	}

	m := metrics.New()
	fs := services.NewFileService(db, rm, store, c, logger.With("module", "files"), m)
	ds := services.NewFolderService(db, rm, store, logger.With("module", "folders"))

	return &App{config: c, logger: logger, db: db, metrics: m, fileService: fs, folderService: ds}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startAPIServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := rest.NewServer(app.config.APIAddr, app.logger, app.fileService, app.folderService, app.metrics, app.config.MetricsAddr == "")

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := rest.RunMetrics(ctx, app.config.MetricsAddr, app.metrics, app.logger); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "chunk_size", app.config.ChunkSize, "presign_expiry", app.config.PresignExpiry)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startAPIServer(ctx, cancelFunc)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
