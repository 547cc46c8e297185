// Package rest exposes the metadata service over JSON/HTTP.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/dmitrijs2005/firebox/internal/server/metrics"
)

// FileService is the file side of the metadata service.
type FileService interface {
	CreateFile(ctx context.Context, req *api.CreateFileRequest) (*api.CreateFileResponse, error)
	ConfirmChunks(ctx context.Context, req *api.ConfirmRequest) (*api.ConfirmResponse, error)
	ResolveDownload(ctx context.Context, req *api.DownloadRequest) (*api.DownloadResponse, error)
	Changes(ctx context.Context, since time.Time) (*api.SyncResponse, error)
	UpdateFile(ctx context.Context, req *api.UpdateFileRequest) (*api.UpdateFileResponse, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// FolderService is the folder side of the metadata service.
type FolderService interface {
	Upsert(ctx context.Context, req *api.FolderRequest) (*api.FolderResponse, error)
	Update(ctx context.Context, req *api.FolderRequest) (*api.FolderResponse, error)
	Delete(ctx context.Context, folderID string) error
}

type Server struct {
	address string
	files   FileService
	folders FolderService
	logger  logging.Logger
	metrics *metrics.Metrics

	// serveMetrics mounts /metrics on the API listener.
	serveMetrics bool
}

func NewServer(a string, l logging.Logger, fs FileService, ds FolderService, m *metrics.Metrics, serveMetrics bool) *Server {
	return &Server{
		address:      a,
		logger:       l.With("module", "rest_server"),
		files:        fs,
		folders:      ds,
		metrics:      m,
		serveMetrics: serveMetrics,
	}
}

// Handler returns the routed API wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+api.PathHealth, s.health)
	mux.HandleFunc("POST "+api.PathFiles, s.createFile)
	mux.HandleFunc("POST "+api.PathFilesConfirm, s.confirmChunks)
	mux.HandleFunc("POST "+api.PathFilesDownload, s.download)
	mux.HandleFunc("POST "+api.PathFilesUpdate, s.updateFile)
	mux.HandleFunc("POST "+api.PathFilesDelete, s.deleteFile)
	mux.HandleFunc("POST "+api.PathFolders, s.upsertFolder)
	mux.HandleFunc("POST "+api.PathFoldersUpdate, s.updateFolder)
	mux.HandleFunc("POST "+api.PathFoldersDelete, s.deleteFolder)
	mux.HandleFunc("POST "+api.PathSync, s.sync)

	if s.serveMetrics {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.recoverer(s.observe(mux))
}

func (s *Server) Run(ctx context.Context) error {
	return serve(ctx, s.address, s.Handler(), s.logger)
}

// RunMetrics serves only /metrics on address until ctx is done.
func RunMetrics(ctx context.Context, address string, m *metrics.Metrics, l logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	return serve(ctx, address, mux, l.With("module", "metrics_server"))
}

func serve(ctx context.Context, address string, h http.Handler, logger logging.Logger) error {
	// announces address
	listen, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
