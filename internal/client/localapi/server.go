// Package localapi serves a read-only JSON view of the client index on a
// loopback address, plus an endpoint that runs a sync round on demand.
package localapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/firebox/internal/client/poller"
	"github.com/dmitrijs2005/firebox/internal/client/services"
	"github.com/dmitrijs2005/firebox/internal/logging"
)

// Syncer runs one poll round.
type Syncer interface {
	Round(ctx context.Context) (*poller.Result, error)
}

type Server struct {
	address string
	browse  services.BrowseService
	syncer  Syncer
	logger  logging.Logger
}

func NewServer(a string, l logging.Logger, b services.BrowseService, s Syncer) *Server {
	return &Server{
		address: a,
		logger:  l.With("module", "local_api"),
		browse:  b,
		syncer:  s,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /api/folders", s.listFolders)
	mux.HandleFunc("GET /api/folders/{id}", s.getFolder)
	mux.HandleFunc("GET /api/files", s.listFiles)
	mux.HandleFunc("GET /api/files/{id}", s.getFile)
	mux.HandleFunc("GET /api/chunks/{file_id}", s.listChunks)
	mux.HandleFunc("GET /api/system", s.system)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("POST /api/sync", s.sync)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting local API", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
