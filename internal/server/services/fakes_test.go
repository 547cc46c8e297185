package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/dmitrijs2005/firebox/internal/server/config"
	"github.com/dmitrijs2005/firebox/internal/server/models"
	"github.com/dmitrijs2005/firebox/internal/server/objectstore"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/files"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/folders"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/repomanager"
)

// -------- test fakes --------

// state is an in-memory stand-in for the three tables. All fake repos
// share it, so a cascade on file delete behaves like the real schema.
type state struct {
	mu      sync.Mutex
	files   map[string]*models.File
	chunks  map[string]*models.Chunk
	folders map[string]*models.Folder
}

func newState() *state {
	return &state{
		files:   map[string]*models.File{},
		chunks:  map[string]*models.Chunk{},
		folders: map[string]*models.Folder{},
	}
}

type fakeFilesRepo struct {
	files.Repository
	st *state

	upsertErr    error
	deleteErr    error
	setUploadErr error
}

func (r *fakeFilesRepo) Upsert(ctx context.Context, f *models.File) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *f
	if old, ok := r.st.files[f.FileID]; ok {
		cp.UploadID = old.UploadID
		cp.CreatedAt = old.CreatedAt
	}
	cp.CompleteETag = ""
	cp.MasterFileFingerprint = ""
	r.st.files[f.FileID] = &cp
	return nil
}

func (r *fakeFilesRepo) GetByID(ctx context.Context, id string) (*models.File, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeFilesRepo) GetByPath(ctx context.Context, path string) (*models.File, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, f := range r.st.files {
		if f.FilePath == path {
			cp := *f
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeFilesRepo) SetUploadID(ctx context.Context, id string, uploadID sql.NullString) error {
	if uploadID.Valid && r.setUploadErr != nil {
		return r.setUploadErr
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok {
		return common.ErrorNotFound
	}
	f.UploadID = uploadID
	return nil
}

func (r *fakeFilesRepo) MarkCompleted(ctx context.Context, id, completeETag, master string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok {
		return common.ErrorNotFound
	}
	f.CompleteETag = completeETag
	f.MasterFileFingerprint = master
	f.UploadID = sql.NullString{}
	return nil
}

func (r *fakeFilesRepo) UpdateLocation(ctx context.Context, id, name, path, folderID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok {
		return common.ErrorNotFound
	}
	f.FileName, f.FilePath, f.FolderID = name, path, folderID
	return nil
}

func underPrefix(path, prefix string) bool {
	return strings.HasPrefix(path, prefix+"/")
}

func (r *fakeFilesRepo) RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, f := range r.st.files {
		if underPrefix(f.FilePath, oldPrefix) {
			f.FilePath = newPrefix + strings.TrimPrefix(f.FilePath, oldPrefix)
			n++
		}
	}
	return n, nil
}

func (r *fakeFilesRepo) ListUnderPath(ctx context.Context, prefix string) ([]*models.File, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.File
	for _, f := range r.st.files {
		if underPrefix(f.FilePath, prefix) {
			cp := *f
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.File) int { return strings.Compare(a.FilePath, b.FilePath) })
	return out, nil
}

func (r *fakeFilesRepo) ReassignFolder(ctx context.Context, oldID, newID string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, f := range r.st.files {
		if f.FolderID == oldID {
			f.FolderID = newID
			n++
		}
	}
	return n, nil
}

func (r *fakeFilesRepo) Delete(ctx context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.files[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.st.files, id)
	for cid, c := range r.st.chunks {
		if c.FileID == id {
			delete(r.st.chunks, cid)
		}
	}
	return nil
}

type fakeChunksRepo struct {
	chunks.Repository
	st *state

	createErr  error
	confirmErr map[string]error
}

func (r *fakeChunksRepo) Create(ctx context.Context, c *models.Chunk) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *c
	r.st.chunks[c.ChunkID] = &cp
	return nil
}

func (r *fakeChunksRepo) Confirm(ctx context.Context, c *models.Chunk) error {
	if err := r.confirmErr[c.ChunkID]; err != nil {
		return err
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	old, ok := r.st.chunks[c.ChunkID]
	if !ok {
		cp := *c
		r.st.chunks[c.ChunkID] = &cp
		return nil
	}
	if old.FileID != c.FileID {
		return common.ErrVersionConflict
	}
	if old.ETag != c.ETag || old.Fingerprint != c.Fingerprint || !old.LastSynced.Valid {
		old.LastSynced = c.LastSynced
	}
	old.PartNumber, old.Fingerprint, old.ETag = c.PartNumber, c.Fingerprint, c.ETag
	return nil
}

func (r *fakeChunksRepo) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Chunk
	for _, c := range r.st.chunks {
		if c.FileID == fileID {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.Chunk) int { return a.PartNumber - b.PartNumber })
	return out, nil
}

func (r *fakeChunksRepo) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	return r.deleteWhere(func(c *models.Chunk) bool { return c.FileID == fileID }), nil
}

func (r *fakeChunksRepo) DeletePending(ctx context.Context, fileID string) (int64, error) {
	return r.deleteWhere(func(c *models.Chunk) bool { return c.FileID == fileID && !c.Confirmed() }), nil
}

func (r *fakeChunksRepo) deleteWhere(match func(*models.Chunk) bool) int64 {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for id, c := range r.st.chunks {
		if match(c) {
			delete(r.st.chunks, id)
			n++
		}
	}
	return n
}

func (r *fakeChunksRepo) ListConfirmedSince(ctx context.Context, since time.Time) ([]*models.ChangedChunk, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.ChangedChunk
	for _, c := range r.st.chunks {
		f, ok := r.st.files[c.FileID]
		if !ok || !c.Confirmed() || f.HasOpenUpload() || !c.CreatedAt.After(since) {
			continue
		}
		out = append(out, &models.ChangedChunk{File: *f, Chunk: *c})
	}
	slices.SortFunc(out, func(a, b *models.ChangedChunk) int {
		if n := strings.Compare(a.File.FileID, b.File.FileID); n != 0 {
			return n
		}
		return a.Chunk.PartNumber - b.Chunk.PartNumber
	})
	return out, nil
}

func (r *fakeChunksRepo) OldestPendingSince(ctx context.Context, notBefore time.Time) (sql.NullTime, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var oldest sql.NullTime
	for _, c := range r.st.chunks {
		f, ok := r.st.files[c.FileID]
		if !ok || (c.Confirmed() && !f.HasOpenUpload()) || !c.CreatedAt.After(notBefore) {
			continue
		}
		if !oldest.Valid || c.CreatedAt.Before(oldest.Time) {
			oldest = sql.NullTime{Time: c.CreatedAt, Valid: true}
		}
	}
	return oldest, nil
}

type fakeFoldersRepo struct {
	folders.Repository
	st *state
}

func (r *fakeFoldersRepo) Upsert(ctx context.Context, f *models.Folder) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *f
	r.st.folders[f.FolderID] = &cp
	return nil
}

func (r *fakeFoldersRepo) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.folders[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeFoldersRepo) GetByPath(ctx context.Context, path string) (*models.Folder, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, f := range r.st.folders {
		if f.FolderPath == path {
			cp := *f
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeFoldersRepo) Update(ctx context.Context, f *models.Folder) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.folders[f.FolderID]; !ok {
		return common.ErrorNotFound
	}
	cp := *f
	r.st.folders[f.FolderID] = &cp
	return nil
}

func (r *fakeFoldersRepo) RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, f := range r.st.folders {
		if underPrefix(f.FolderPath, oldPrefix) {
			f.FolderPath = newPrefix + strings.TrimPrefix(f.FolderPath, oldPrefix)
			n++
		}
	}
	return n, nil
}

func (r *fakeFoldersRepo) ReparentChildren(ctx context.Context, oldID, newID string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, f := range r.st.folders {
		if f.ParentFolderID.Valid && f.ParentFolderID.String == oldID {
			f.ParentFolderID.String = newID
			n++
		}
	}
	return n, nil
}

func (r *fakeFoldersRepo) Delete(ctx context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.folders[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.st.folders, id)
	return nil
}

func (r *fakeFoldersRepo) DeleteTree(ctx context.Context, path string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for id, f := range r.st.folders {
		if f.FolderPath == path || underPrefix(f.FolderPath, path) {
			delete(r.st.folders, id)
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	f  *fakeFilesRepo
	c  *fakeChunksRepo
	fo *fakeFoldersRepo
}

func newFakeRepoManager() *fakeRepoManager {
	st := newState()
	return &fakeRepoManager{
		f:  &fakeFilesRepo{st: st},
		c:  &fakeChunksRepo{st: st},
		fo: &fakeFoldersRepo{st: st},
	}
}

func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository     { return m.f }
func (m *fakeRepoManager) Chunks(db dbx.DBTX) chunks.Repository   { return m.c }
func (m *fakeRepoManager) Folders(db dbx.DBTX) folders.Repository { return m.fo }

type fakeStore struct {
	objectstore.Store
	mu sync.Mutex

	uploads     int
	createErr   error
	presignErr  error
	completeErr error

	// onCreateUpload runs inside CreateMultipartUpload, before it returns.
	onCreateUpload func()

	completions int
	completed   map[string][]objectstore.CompletedPart
	aborted     []string
	deleted     []string
	getPresigns int
}

func newFakeStore() *fakeStore {
	return &fakeStore{completed: map[string][]objectstore.CompletedPart{}}
}

func (s *fakeStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	if s.onCreateUpload != nil {
		s.onCreateUpload()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	return fmt.Sprintf("upload-%d", s.uploads), nil
}

func (s *fakeStore) PresignUploadPart(ctx context.Context, key, uploadID string, part int, expiry time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return fmt.Sprintf("http://store/%s?uploadId=%s&partNumber=%d", key, uploadID, part), nil
}

func (s *fakeStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []objectstore.CompletedPart) (string, error) {
	if s.completeErr != nil {
		return "", s.completeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions++
	s.completed[key] = append([]objectstore.CompletedPart(nil), parts...)
	return `"complete-` + key + `"`, nil
}

func (s *fakeStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, key+"/"+uploadID)
	return nil
}

func (s *fakeStore) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getPresigns++
	return "http://store/" + key + "?sig=get", nil
}

func (s *fakeStore) DeleteObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

// -------- helpers --------

var errBoom = errors.New("boom")

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectTx(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func testConfig() *config.Config {
	return &config.Config{
		S3Bucket:      "bucket",
		ChunkSize:     common.DefaultChunkSize,
		PresignExpiry: time.Hour,
	}
}

func newFileService(t *testing.T, db *sql.DB, m *fakeRepoManager, store *fakeStore) *FileService {
	t.Helper()
	s := NewFileService(db, m, store, testConfig(), logging.NewDiscard(), nil)
	s.now = func() time.Time { return testNow }
	return s
}

// expectMore points s at a fresh mock database expecting n more committed
// transactions.
func expectMore(t *testing.T, s *FileService, n int) sqlmock.Sqlmock {
	t.Helper()
	db, mock := newSQLMockDB(t)
	expectTx(mock, n)
	s.db = db
	return mock
}
