package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/server/models"
)

// ResolveDownload checks each requested chunk against the stored record and
// returns a ranged GET for every chunk that still matches. A fingerprint
// mismatch means the remote file changed since the caller last synced; such
// chunks never get a URL.
func (s *FileService) ResolveDownload(ctx context.Context, req *api.DownloadRequest) (*api.DownloadResponse, error) {
	if _, err := s.repomanager.Files(s.db).GetByID(ctx, req.FileID); err != nil {
		return nil, fmt.Errorf("download %s: %w", req.FileID, err)
	}

	stored, err := s.repomanager.Chunks(s.db).ListByFile(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", req.FileID, err)
	}

	resp := &api.DownloadResponse{FileID: req.FileID, DownloadURLs: []api.DownloadURL{}}
	if len(stored) == 0 {
		resp.ErrorMessage = fmt.Sprintf("No chunks found for file %s", req.FileID)
		return resp, nil
	}

	byID := make(map[string]*models.Chunk, len(stored))
	for _, c := range stored {
		byID[c.ChunkID] = c
	}

	size := int64(s.config.ChunkSize)
	var url string
	for _, want := range req.Chunks {
		c, ok := byID[want.ChunkID]
		reason := ""
		switch {
		case !ok:
			reason = api.ReasonNotFound
		case c.PartNumber != want.PartNumber:
			reason = api.ReasonPartNumberMismatch
		case c.Fingerprint != want.Fingerprint:
			reason = api.ReasonFingerprintModified
		}
		if reason != "" {
			s.metrics.InvalidChunk(reason)
			resp.InvalidChunks = append(resp.InvalidChunks, api.InvalidChunk{ChunkID: want.ChunkID, Reason: reason})
			continue
		}

		// One object per file, so a single presigned GET serves every range.
		if url == "" {
			url, err = s.store.PresignGetObject(ctx, req.FileID, s.config.PresignExpiry)
			if err != nil {
				return nil, fmt.Errorf("presign get for %s: %w", req.FileID, err)
			}
		}

		start := int64(c.PartNumber-1) * size
		end := int64(c.PartNumber)*size - 1
		resp.DownloadURLs = append(resp.DownloadURLs, api.DownloadURL{
			ChunkID:      c.ChunkID,
			PartNumber:   c.PartNumber,
			Fingerprint:  c.Fingerprint,
			PresignedURL: url,
			StartByte:    start,
			EndByte:      end,
			RangeHeader:  fmt.Sprintf("bytes=%d-%d", start, end),
		})
	}

	switch {
	case len(resp.DownloadURLs) == 0:
		resp.ErrorMessage = "No valid chunks found for download. Fingerprints may have changed."
	case len(resp.InvalidChunks) > 0:
		resp.Success = true
		resp.ErrorMessage = fmt.Sprintf("%d chunks had errors", len(resp.InvalidChunks))
		s.log.Warn(ctx, "download request had invalid chunks", "file_id", req.FileID, "invalid", len(resp.InvalidChunks))
	default:
		resp.Success = true
	}
	return resp, nil
}
