package syncer

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/chunker"
	"github.com/dmitrijs2005/firebox/internal/client/client"
	"github.com/dmitrijs2005/firebox/internal/common"
)

// objectStore is a presigned-URL bucket: PUT stores a part and answers with
// an ETag, GET serves it back.
type objectStore struct {
	*httptest.Server
	mu      sync.Mutex
	objects map[string][]byte
}

func newObjectStore(t *testing.T) *objectStore {
	t.Helper()
	s := &objectStore{objects: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *objectStore) serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.objects[key] = b
		w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("%x", md5.Sum(b))))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		b, ok := s.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(b)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *objectStore) corrupt(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte("garbage"), s.objects[key]...)
}

func (s *objectStore) object(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

type remoteFile struct {
	req     api.CreateFileRequest
	chunks  []api.SyncChunk
	master  string
	updated time.Time
}

// fakeServer is an in-memory metadata service shared by every engine in a
// test, so one engine's uploads show up in another one's changeset.
type fakeServer struct {
	mu    sync.Mutex
	store *objectStore

	files   map[string]*remoteFile
	folders map[string]api.FolderRequest

	partial bool
	// onCreate runs after CreateFile has answered, outside the lock.
	onCreate func(req *api.CreateFileRequest)

	creates        int
	updates        []api.UpdateFileRequest
	deletedFiles   []string
	folderUpdates  []api.FolderRequest
	deletedFolders []string
}

var _ client.Client = (*fakeServer)(nil)

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		store:   newObjectStore(t),
		files:   map[string]*remoteFile{},
		folders: map[string]api.FolderRequest{},
	}
}

func (s *fakeServer) url(chunkID string) string { return s.store.URL + "/" + chunkID }

func (s *fakeServer) Health(context.Context) error { return nil }

func (s *fakeServer) CreateFile(_ context.Context, req *api.CreateFileRequest) (*api.CreateFileResponse, error) {
	if s.onCreate != nil {
		defer s.onCreate(req)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++

	rf, ok := s.files[req.FileID]
	if !ok {
		rf = &remoteFile{}
		s.files[req.FileID] = rf
	}
	rf.req = *req

	resp := &api.CreateFileResponse{FileID: req.FileID}
	for i := range req.ChunkCount {
		id := chunker.ChunkID(req.FileID, i)
		resp.PresignedURLs = append(resp.PresignedURLs, api.PresignedURL{ChunkID: id, PresignedURL: s.url(id), PartNumber: i + 1})
	}
	return resp, nil
}

func (s *fakeServer) ConfirmChunks(_ context.Context, req *api.ConfirmRequest) (*api.ConfirmResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rf, ok := s.files[req.FileID]
	if !ok {
		return nil, client.ErrNotFound
	}
	if s.partial {
		return &api.ConfirmResponse{FileID: req.FileID, ConfirmedChunks: len(req.ChunkETags) - 1}, nil
	}

	rf.chunks = rf.chunks[:0]
	parts := make([]chunker.Part, 0, len(req.ChunkETags))
	for _, et := range req.ChunkETags {
		fp := chunker.Fingerprint(s.store.object(et.ChunkID))
		rf.chunks = append(rf.chunks, api.SyncChunk{ChunkID: et.ChunkID, PartNumber: et.PartNumber, Fingerprint: fp})
		parts = append(parts, chunker.Part{PartNumber: et.PartNumber, Fingerprint: fp})
	}
	master, err := chunker.MasterFingerprint(parts)
	if err != nil {
		return nil, err
	}
	rf.master = master
	rf.updated = time.Now()
	return &api.ConfirmResponse{FileID: req.FileID, ConfirmedChunks: len(parts), Success: true, MasterFileFingerprint: master}, nil
}

func (s *fakeServer) Download(_ context.Context, req *api.DownloadRequest) (*api.DownloadResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rf, ok := s.files[req.FileID]
	if !ok {
		return nil, client.ErrNotFound
	}
	resp := &api.DownloadResponse{FileID: req.FileID}
	for _, ref := range req.Chunks {
		i := slices.IndexFunc(rf.chunks, func(c api.SyncChunk) bool { return c.ChunkID == ref.ChunkID })
		switch {
		case i < 0:
			resp.InvalidChunks = append(resp.InvalidChunks, api.InvalidChunk{ChunkID: ref.ChunkID, Reason: api.ReasonNotFound})
		case rf.chunks[i].Fingerprint != ref.Fingerprint:
			resp.InvalidChunks = append(resp.InvalidChunks, api.InvalidChunk{ChunkID: ref.ChunkID, Reason: api.ReasonFingerprintModified})
		default:
			resp.DownloadURLs = append(resp.DownloadURLs, api.DownloadURL{
				ChunkID:      ref.ChunkID,
				PartNumber:   ref.PartNumber,
				Fingerprint:  ref.Fingerprint,
				PresignedURL: s.url(ref.ChunkID),
			})
		}
	}
	resp.Success = len(resp.InvalidChunks) == 0
	return resp, nil
}

func (s *fakeServer) Sync(_ context.Context, lastSyncTime string) (*api.SyncResponse, error) {
	since, err := common.ParseTime(lastSyncTime)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &api.SyncResponse{LastSyncTime: common.FormatTime(time.Now())}
	for id, rf := range s.files {
		if len(rf.chunks) == 0 || !rf.updated.After(since) {
			continue
		}
		resp.UpdatedFiles = append(resp.UpdatedFiles, api.SyncFile{
			FileID:                id,
			FilePath:              rf.req.FilePath,
			FileName:              rf.req.FileName,
			FileType:              rf.req.FileType,
			FolderID:              rf.req.FolderID,
			MasterFileFingerprint: rf.master,
			Chunks:                slices.Clone(rf.chunks),
		})
	}
	resp.UpToDate = len(resp.UpdatedFiles) == 0
	return resp, nil
}

func (s *fakeServer) UpdateFile(_ context.Context, req *api.UpdateFileRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, *req)
	if rf, ok := s.files[req.FileID]; ok {
		rf.req.FilePath, rf.req.FileName, rf.req.FolderID = req.FilePath, req.FileName, req.FolderID
	}
	return nil
}

func (s *fakeServer) DeleteFile(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedFiles = append(s.deletedFiles, fileID)
	delete(s.files, fileID)
	return nil
}

func (s *fakeServer) UpsertFolder(_ context.Context, req *api.FolderRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[req.FolderID] = *req
	return nil
}

func (s *fakeServer) UpdateFolder(_ context.Context, req *api.FolderRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folderUpdates = append(s.folderUpdates, *req)
	s.folders[req.FolderID] = *req
	return nil
}

func (s *fakeServer) DeleteFolder(_ context.Context, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedFolders = append(s.deletedFolders, folderID)
	delete(s.folders, folderID)
	return nil
}
