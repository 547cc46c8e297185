package localapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/client/client"
	"github.com/dmitrijs2005/firebox/internal/common"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code != http.StatusNotFound {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, api.ErrorResponse{Detail: err.Error()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
}

func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.browse.Folders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(folders, folderView))
}

func (s *Server) getFolder(w http.ResponseWriter, r *http.Request) {
	d, err := s.browse.Folder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FolderDetailView{
		Folder:  folderView(d.Folder),
		Folders: mapViews(d.Folders, folderView),
		Files:   mapViews(d.Files, fileView),
	})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.browse.Files(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(files, fileView))
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.browse.File(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileView(f))
}

func (s *Server) listChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.browse.Chunks(r.Context(), r.PathValue("file_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(chunks, chunkView))
}

func (s *Server) system(w http.ResponseWriter, r *http.Request) {
	kv, err := s.browse.System(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kv)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.browse.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(st))
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	res, err := s.syncer.Round(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
