package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/google/uuid"
)

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs each request and records it in the request metrics, labelled
// by route pattern rather than raw path.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		r = r.WithContext(logging.ContextWith(r.Context(), "request_id", uuid.NewString()))

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(route, strconv.Itoa(rec.code), elapsed.Seconds())
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "status", rec.code, "duration", elapsed)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.writeError(w, r, fmt.Errorf("panic: %v", p))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
