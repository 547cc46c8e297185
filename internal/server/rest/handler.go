package rest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/common"
)

// maxBody caps request bodies; a confirm for the maximum part count stays
// well below it.
const maxBody = 8 << 20

type validator interface {
	Validate() error
}

// decode reads a JSON body into v and validates it when v supports that.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", common.ErrorValidation, err)
	}
	if val, ok := v.(validator); ok {
		return val.Validate()
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
}

func (s *Server) createFile(w http.ResponseWriter, r *http.Request) {
	var req api.CreateFileRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.files.CreateFile(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) confirmChunks(w http.ResponseWriter, r *http.Request) {
	var req api.ConfirmRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.files.ConfirmChunks(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	var req api.DownloadRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.files.ResolveDownload(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateFile(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateFileRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.files.UpdateFile(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteFileRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.FileID == "" {
		s.writeError(w, r, fmt.Errorf("%w: file_id is required", common.ErrorValidation))
		return
	}

	if err := s.files.DeleteFile(r.Context(), req.FileID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DeleteResponse{Success: true})
}

func (s *Server) upsertFolder(w http.ResponseWriter, r *http.Request) {
	var req api.FolderRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.folders.Upsert(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateFolder(w http.ResponseWriter, r *http.Request) {
	var req api.FolderRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.folders.Update(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteFolderRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.FolderID == "" {
		s.writeError(w, r, fmt.Errorf("%w: folder_id is required", common.ErrorValidation))
		return
	}

	if err := s.folders.Delete(r.Context(), req.FolderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DeleteResponse{Success: true})
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	var req api.SyncRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	since, err := common.ParseTime(req.LastSyncTime)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}

	resp, err := s.files.Changes(r.Context(), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
