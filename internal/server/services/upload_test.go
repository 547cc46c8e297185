package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/chunker"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/server/metrics"
	"github.com/dmitrijs2005/firebox/internal/server/models"
	"github.com/dmitrijs2005/firebox/internal/server/objectstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createReq(fileID string, n int) *api.CreateFileRequest {
	return &api.CreateFileRequest{
		FileID:     fileID,
		FileName:   "a.bin",
		FilePath:   "/sync/a.bin",
		FileType:   "bin",
		FolderID:   "root",
		ChunkCount: n,
	}
}

func etags(fileID string, parts ...int) []api.ChunkETag {
	out := make([]api.ChunkETag, 0, len(parts))
	for _, p := range parts {
		out = append(out, api.ChunkETag{
			ChunkID:     chunker.ChunkID(fileID, p-1),
			PartNumber:  p,
			ETag:        fmt.Sprintf(`"etag-%d"`, p),
			Fingerprint: fmt.Sprintf("fp-%d", p),
		})
	}
	return out
}

func chunkIDs(fileID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = chunker.ChunkID(fileID, i)
	}
	return ids
}

func TestCreateFile_TwelveMiBFile(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 2)

	m := newFakeRepoManager()
	store := newFakeStore()
	s := newFileService(t, db, m, store)

	n := chunker.Count(12<<20, common.DefaultChunkSize)
	require.Equal(t, 3, n)

	resp, err := s.CreateFile(context.Background(), createReq("f", n))
	require.NoError(t, err)
	require.Len(t, resp.PresignedURLs, 3)
	for i, u := range resp.PresignedURLs {
		assert.Equal(t, chunker.ChunkID("f", i), u.ChunkID)
		assert.Equal(t, i+1, u.PartNumber)
		assert.Contains(t, u.PresignedURL, fmt.Sprintf("partNumber=%d", i+1))
	}

	f := m.f.st.files["f"]
	require.NotNil(t, f)
	assert.Equal(t, sql.NullString{String: "upload-1", Valid: true}, f.UploadID)

	stored, _ := m.c.ListByFile(context.Background(), "f")
	require.Len(t, stored, 3)
	for _, c := range stored {
		assert.False(t, c.Confirmed())
		assert.Equal(t, testNow, c.CreatedAt)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_EmptyFileHasNoUpload(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)

	m := newFakeRepoManager()
	store := newFakeStore()
	s := newFileService(t, db, m, store)

	resp, err := s.CreateFile(context.Background(), createReq("f", 0))
	require.NoError(t, err)
	assert.Empty(t, resp.PresignedURLs)
	assert.Equal(t, 0, store.uploads)
	assert.Equal(t, []string{"f"}, store.deleted)
	assert.False(t, m.f.st.files["f"].HasOpenUpload())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_ReplacesFileAtSamePath(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 2)

	m := newFakeRepoManager()
	m.f.st.files["old"] = &models.File{FileID: "old", FilePath: "/sync/a.bin", UploadID: sql.NullString{String: "u-old", Valid: true}}
	m.c.st.chunks["old_0"] = &models.Chunk{ChunkID: "old_0", FileID: "old", PartNumber: 1}
	store := newFakeStore()
	s := newFileService(t, db, m, store)

	_, err := s.CreateFile(context.Background(), createReq("new", 1))
	require.NoError(t, err)

	assert.NotContains(t, m.f.st.files, "old")
	assert.NotContains(t, m.c.st.chunks, "old_0")
	assert.Contains(t, store.aborted, "old/u-old")
	assert.Contains(t, store.deleted, "old")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_ReinitiateAbortsStaleUpload(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 4)

	m := newFakeRepoManager()
	store := newFakeStore()
	s := newFileService(t, db, m, store)
	ctx := context.Background()

	_, err := s.CreateFile(ctx, createReq("f", 2))
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, createReq("f", 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"f/upload-1"}, store.aborted)
	assert.Equal(t, "upload-2", m.f.st.files["f"].UploadID.String)
	stored, _ := m.c.ListByFile(ctx, "f")
	assert.Len(t, stored, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_CompensatesWhenPresignFails(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 2) // record, compensation

	m := newFakeRepoManager()
	store := newFakeStore()
	store.presignErr = errBoom
	met := metrics.New()
	s := newFileService(t, db, m, store)
	s.metrics = met

	_, err := s.CreateFile(context.Background(), createReq("f", 3))
	require.ErrorIs(t, err, errBoom)

	assert.NotContains(t, m.f.st.files, "f")
	assert.Equal(t, []string{"f/upload-1"}, store.aborted)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.Compensations))
	assert.Equal(t, 0.0, testutil.ToFloat64(met.FilesCreated))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_CompensatesWhenUploadCannotStart(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 2)

	m := newFakeRepoManager()
	store := newFakeStore()
	store.createErr = errBoom
	s := newFileService(t, db, m, store)

	_, err := s.CreateFile(context.Background(), createReq("f", 3))
	require.ErrorIs(t, err, errBoom)
	assert.NotContains(t, m.f.st.files, "f")
	assert.Empty(t, store.aborted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_ChunkRowsFailBeforeUploadStarts(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	m := newFakeRepoManager()
	m.c.createErr = errBoom
	store := newFakeStore()
	s := newFileService(t, db, m, store)

	_, err := s.CreateFile(context.Background(), createReq("f", 2))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, store.uploads)
	assert.Empty(t, store.aborted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_CompensatesWhenUploadIDCannotBeRecorded(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	m := newFakeRepoManager()
	m.f.setUploadErr = errBoom
	store := newFakeStore()
	s := newFileService(t, db, m, store)

	_, err := s.CreateFile(context.Background(), createReq("f", 2))
	require.ErrorIs(t, err, errBoom)
	assert.NotContains(t, m.f.st.files, "f")
	assert.Empty(t, m.c.st.chunks)
	assert.Equal(t, []string{"f/upload-1"}, store.aborted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_PendingChunksVisibleWhileUploadStarts(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 2)
	m := newFakeRepoManager()
	store := newFakeStore()
	s := newFileService(t, db, m, store)
	ctx := context.Background()

	// A replica polls while the object store is still opening the upload.
	var cursor string
	store.onCreateUpload = func() {
		s.now = func() time.Time { return testNow.Add(2 * time.Second) }
		resp, err := s.Changes(ctx, epoch(t))
		require.NoError(t, err)
		cursor = resp.LastSyncTime
	}
	_, err := s.CreateFile(ctx, createReq("f", 2))
	require.NoError(t, err)
	assert.Equal(t, common.FormatTime(testNow.Add(-time.Microsecond)), cursor)

	_, err = s.ConfirmChunks(ctx, &api.ConfirmRequest{FileID: "f", ChunkIDs: chunkIDs("f", 2), ChunkETags: etags("f", 1, 2)})
	require.NoError(t, err)

	since, err := common.ParseTime(cursor)
	require.NoError(t, err)
	resp, err := s.Changes(ctx, since)
	require.NoError(t, err)
	require.Len(t, resp.UpdatedFiles, 1)
	assert.Equal(t, "f", resp.UpdatedFiles[0].FileID)
	assert.Len(t, resp.UpdatedFiles[0].Chunks, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFile_FirstTxError(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	m := newFakeRepoManager()
	m.f.upsertErr = errBoom
	store := newFakeStore()
	s := newFileService(t, db, m, store)

	_, err := s.CreateFile(context.Background(), createReq("f", 2))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, store.uploads)
	require.NoError(t, mock.ExpectationsWereMet())
}

// initiated returns a service with file "f" created with n chunks.
func initiated(t *testing.T, n int) (*FileService, *fakeRepoManager, *fakeStore) {
	t.Helper()
	db, mock := newSQLMockDB(t)
	expectTx(mock, 2)
	m := newFakeRepoManager()
	store := newFakeStore()
	s := newFileService(t, db, m, store)
	_, err := s.CreateFile(context.Background(), createReq("f", n))
	require.NoError(t, err)
	return s, m, store
}

func TestConfirmChunks_AllParts(t *testing.T) {
	s, m, store := initiated(t, 3)
	met := metrics.New()
	s.metrics = met

	resp, err := s.ConfirmChunks(context.Background(), &api.ConfirmRequest{
		FileID: "f", ChunkIDs: chunkIDs("f", 3), ChunkETags: etags("f", 3, 1, 2),
	})
	require.NoError(t, err)

	want, err := chunker.MasterFingerprint([]chunker.Part{
		{PartNumber: 1, Fingerprint: "fp-1"},
		{PartNumber: 2, Fingerprint: "fp-2"},
		{PartNumber: 3, Fingerprint: "fp-3"},
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.ConfirmedChunks)
	assert.Equal(t, want, resp.MasterFileFingerprint)

	assert.Equal(t, []objectstore.CompletedPart{
		{PartNumber: 1, ETag: `"etag-1"`},
		{PartNumber: 2, ETag: `"etag-2"`},
		{PartNumber: 3, ETag: `"etag-3"`},
	}, store.completed["f"])

	f := m.f.st.files["f"]
	assert.False(t, f.HasOpenUpload())
	assert.Equal(t, `"complete-f"`, f.CompleteETag)
	assert.Equal(t, want, f.MasterFileFingerprint)

	assert.Equal(t, 3.0, testutil.ToFloat64(met.ChunksConfirmed))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.UploadsCompleted.WithLabelValues("full")))
}

func TestConfirmChunks_PartialStillCompletes(t *testing.T) {
	s, m, store := initiated(t, 3)
	met := metrics.New()
	s.metrics = met

	resp, err := s.ConfirmChunks(context.Background(), &api.ConfirmRequest{
		FileID: "f", ChunkIDs: chunkIDs("f", 3), ChunkETags: etags("f", 1, 2),
	})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, 2, resp.ConfirmedChunks)
	assert.NotEmpty(t, resp.MasterFileFingerprint)
	assert.Len(t, store.completed["f"], 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.UploadsCompleted.WithLabelValues("partial")))

	// The missing part is dropped so it cannot hold back the change feed.
	stored, _ := m.c.ListByFile(context.Background(), "f")
	assert.Len(t, stored, 2)
}

func TestConfirmChunks_SkipsFailingChunk(t *testing.T) {
	s, m, store := initiated(t, 3)
	m.c.confirmErr = map[string]error{"f_1": errBoom}
	met := metrics.New()
	s.metrics = met

	resp, err := s.ConfirmChunks(context.Background(), &api.ConfirmRequest{
		FileID: "f", ChunkIDs: chunkIDs("f", 3), ChunkETags: etags("f", 1, 2, 3),
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 2, resp.ConfirmedChunks)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.ChunkConfirmErrors))
	assert.Equal(t, []objectstore.CompletedPart{
		{PartNumber: 1, ETag: `"etag-1"`},
		{PartNumber: 3, ETag: `"etag-3"`},
	}, store.completed["f"])
}

func TestConfirmChunks_Idempotent(t *testing.T) {
	s, m, store := initiated(t, 3)
	ctx := context.Background()
	clock := testNow
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	req := &api.ConfirmRequest{FileID: "f", ChunkIDs: chunkIDs("f", 3), ChunkETags: etags("f", 1, 2, 3)}

	first, err := s.ConfirmChunks(ctx, req)
	require.NoError(t, err)
	before, _ := m.c.ListByFile(ctx, "f")

	second, err := s.ConfirmChunks(ctx, req)
	require.NoError(t, err)
	after, _ := m.c.ListByFile(ctx, "f")

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, store.completions)
}

func TestConfirmChunks_ConcurrentCallsCompleteOnce(t *testing.T) {
	s, _, store := initiated(t, 3)
	req := &api.ConfirmRequest{FileID: "f", ChunkIDs: chunkIDs("f", 3), ChunkETags: etags("f", 1, 2, 3)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := s.ConfirmChunks(context.Background(), req)
			assert.NoError(t, err)
			assert.True(t, resp.Success)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.completions)
}

func TestConfirmChunks_UnknownFile(t *testing.T) {
	db, mock := newSQLMockDB(t)
	s := newFileService(t, db, newFakeRepoManager(), newFakeStore())

	_, err := s.ConfirmChunks(context.Background(), &api.ConfirmRequest{FileID: "nope", ChunkIDs: []string{"nope_0"}})
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmChunks_CompletionError(t *testing.T) {
	s, m, store := initiated(t, 1)
	store.completeErr = errBoom

	_, err := s.ConfirmChunks(context.Background(), &api.ConfirmRequest{
		FileID: "f", ChunkIDs: chunkIDs("f", 1), ChunkETags: etags("f", 1),
	})
	require.ErrorIs(t, err, errBoom)
	assert.True(t, m.f.st.files["f"].HasOpenUpload())
}

func TestConfirmChunks_OpenUploadHiddenFromChanges(t *testing.T) {
	s, _, store := initiated(t, 3)
	ctx := context.Background()
	store.completeErr = errBoom
	req := &api.ConfirmRequest{FileID: "f", ChunkIDs: chunkIDs("f", 3), ChunkETags: etags("f", 1, 2, 3)}

	_, err := s.ConfirmChunks(ctx, req)
	require.ErrorIs(t, err, errBoom)

	resp, err := s.Changes(ctx, epoch(t))
	require.NoError(t, err)
	assert.True(t, resp.UpToDate)
	assert.Empty(t, resp.UpdatedFiles)
	assert.Equal(t, common.FormatTime(testNow.Add(-time.Microsecond)), resp.LastSyncTime,
		"cursor must stay behind chunks of the open upload")

	store.completeErr = nil
	_, err = s.ConfirmChunks(ctx, req)
	require.NoError(t, err)

	since, err := common.ParseTime(resp.LastSyncTime)
	require.NoError(t, err)
	resp, err = s.Changes(ctx, since)
	require.NoError(t, err)
	require.Len(t, resp.UpdatedFiles, 1)
	assert.Len(t, resp.UpdatedFiles[0].Chunks, 3)
}

func TestConfirmChunks_NoUploadToConfirm(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)
	m := newFakeRepoManager()
	store := newFakeStore()
	s := newFileService(t, db, m, store)
	ctx := context.Background()

	_, err := s.CreateFile(ctx, createReq("f", 0))
	require.NoError(t, err)

	_, err = s.ConfirmChunks(ctx, &api.ConfirmRequest{FileID: "f", ChunkIDs: chunkIDs("f", 1), ChunkETags: etags("f", 1)})
	require.ErrorIs(t, err, common.ErrNoOpenUpload)
	assert.Empty(t, m.c.st.chunks)
	assert.Equal(t, 0, store.completions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmChunks_NothingConfirmedLeavesUploadOpen(t *testing.T) {
	s, m, store := initiated(t, 2)

	resp, err := s.ConfirmChunks(context.Background(), &api.ConfirmRequest{FileID: "f", ChunkIDs: chunkIDs("f", 2)})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, resp.ConfirmedChunks)
	assert.Equal(t, 0, store.completions)
	assert.True(t, m.f.st.files["f"].HasOpenUpload())
}

func TestCleanup_DropsRecordAndAbortsUpload(t *testing.T) {
	s, m, store := initiated(t, 2)
	expectMore(t, s, 1)

	s.Cleanup(context.Background(), "f")
	assert.NotContains(t, m.f.st.files, "f")
	assert.Empty(t, m.c.st.chunks)
	assert.Equal(t, []string{"f/upload-1"}, store.aborted)
}
