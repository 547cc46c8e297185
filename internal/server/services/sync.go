package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/common"
)

// Changes returns every confirmed chunk created after since, grouped by
// file, together with the cursor the caller should send next time.
//
// The returned cursor is the server clock, held back to just before the
// oldest chunk that is still waiting for confirmation. A chunk is created
// when its upload is initiated but only becomes visible once confirmed, so
// without the holdback a slow upload could land behind a cursor that has
// already moved past it. Pending chunks older than the presign expiry can
// no longer be uploaded and stop holding the cursor.
func (s *FileService) Changes(ctx context.Context, since time.Time) (*api.SyncResponse, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	repo := s.repomanager.Chunks(s.db)

	rows, err := repo.ListConfirmedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}

	oldest, err := repo.OldestPendingSince(ctx, now.Add(-s.config.PresignExpiry))
	if err != nil {
		return nil, fmt.Errorf("pending chunks: %w", err)
	}

	cursor := now
	if oldest.Valid {
		if held := oldest.Time.UTC().Add(-time.Microsecond); held.Before(cursor) {
			cursor = held
		}
	}
	if cursor.Before(since) {
		cursor = since
	}

	resp := &api.SyncResponse{UpdatedFiles: []api.SyncFile{}, UpToDate: len(rows) == 0, LastSyncTime: common.FormatTime(cursor)}

	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.File.FileID]
		if !ok {
			i = len(resp.UpdatedFiles)
			index[r.File.FileID] = i
			resp.UpdatedFiles = append(resp.UpdatedFiles, api.SyncFile{
				FileID:                r.File.FileID,
				FilePath:              r.File.FilePath,
				FileName:              r.File.FileName,
				FileType:              r.File.FileType,
				FolderID:              r.File.FolderID,
				MasterFileFingerprint: r.File.MasterFileFingerprint,
				Chunks:                []api.SyncChunk{},
			})
		}
		resp.UpdatedFiles[i].Chunks = append(resp.UpdatedFiles[i].Chunks, api.SyncChunk{
			ChunkID:     r.Chunk.ChunkID,
			PartNumber:  r.Chunk.PartNumber,
			Fingerprint: r.Chunk.Fingerprint,
			CreatedAt:   common.FormatTime(r.Chunk.CreatedAt),
		})
	}

	s.metrics.SyncReturned(len(resp.UpdatedFiles))
	s.log.Debug(ctx, "sync served", "since", common.FormatTime(since), "files", len(resp.UpdatedFiles), "cursor", resp.LastSyncTime)
	return resp, nil
}
