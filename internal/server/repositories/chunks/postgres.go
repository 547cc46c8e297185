// Package chunks stores per-part upload state for server files.
package chunks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an unconfirmed chunk row.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Chunk) error {
	query := `
		INSERT INTO chunks (chunk_id, file_id, part_number, fingerprint, etag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.ChunkID, c.FileID, c.PartNumber, c.Fingerprint, c.ETag, c.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Confirm records the uploader's ETag and fingerprint for a part. Repeating
// the call with the same ETag and fingerprint keeps the first last_synced,
// so the stored row does not change. A chunk id owned by another file
// yields common.ErrVersionConflict.
func (r *PostgresRepository) Confirm(ctx context.Context, c *models.Chunk) error {
	query := `
		INSERT INTO chunks (chunk_id, file_id, part_number, fingerprint, etag, created_at, last_synced)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (chunk_id)
		DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			etag = EXCLUDED.etag,
			last_synced = CASE
				WHEN chunks.etag = EXCLUDED.etag AND chunks.fingerprint = EXCLUDED.fingerprint
				THEN COALESCE(chunks.last_synced, EXCLUDED.last_synced)
				ELSE EXCLUDED.last_synced
			END
			WHERE chunks.file_id = EXCLUDED.file_id
	`
	res, err := r.db.ExecContext(ctx, query,
		c.ChunkID, c.FileID, c.PartNumber, c.Fingerprint, c.ETag, c.LastSynced.Time)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// ListByFile returns the file's chunks ordered by part number.
func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	query := `SELECT chunk_id, file_id, part_number, fingerprint, etag, created_at, last_synced
		FROM chunks WHERE file_id=$1 ORDER BY part_number`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ChunkID, &c.FileID, &c.PartNumber, &c.Fingerprint, &c.ETag, &c.CreatedAt, &c.LastSynced); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByFile drops the whole chunk set of a file.
func (r *PostgresRepository) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id=$1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeletePending drops the file's chunks that were never confirmed.
func (r *PostgresRepository) DeletePending(ctx context.Context, fileID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id=$1 AND last_synced IS NULL`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListConfirmedSince returns confirmed chunks created after since, joined
// with their files and ordered by file then part. Chunks of a file whose
// multipart upload is still open are left out: the object they belong to
// has not been assembled yet.
func (r *PostgresRepository) ListConfirmedSince(ctx context.Context, since time.Time) ([]*models.ChangedChunk, error) {
	query := `
		SELECT f.file_id, f.file_path, f.file_name, f.file_type, f.folder_id, f.master_file_fingerprint,
			c.chunk_id, c.part_number, c.fingerprint, c.etag, c.created_at, c.last_synced
		FROM chunks c
		JOIN files f ON f.file_id = c.file_id
		WHERE c.last_synced IS NOT NULL AND f.upload_id IS NULL AND c.created_at > $1
		ORDER BY f.file_id, c.part_number
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select changed chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.ChangedChunk
	for rows.Next() {
		var cc models.ChangedChunk
		f, c := &cc.File, &cc.Chunk
		if err := rows.Scan(&f.FileID, &f.FilePath, &f.FileName, &f.FileType, &f.FolderID, &f.MasterFileFingerprint,
			&c.ChunkID, &c.PartNumber, &c.Fingerprint, &c.ETag, &c.CreatedAt, &c.LastSynced); err != nil {
			return nil, err
		}
		c.FileID = f.FileID
		result = append(result, &cc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// OldestPendingSince returns the earliest created_at, after notBefore, among
// chunks that are not yet visible to ListConfirmedSince: unconfirmed ones and
// those of a file whose upload is still open. The result is invalid when
// none exist.
func (r *PostgresRepository) OldestPendingSince(ctx context.Context, notBefore time.Time) (sql.NullTime, error) {
	var oldest sql.NullTime
	query := `
		SELECT MIN(c.created_at)
		FROM chunks c
		JOIN files f ON f.file_id = c.file_id
		WHERE (c.last_synced IS NULL OR f.upload_id IS NOT NULL) AND c.created_at > $1
	`
	if err := r.db.QueryRowContext(ctx, query, notBefore).Scan(&oldest); err != nil {
		return sql.NullTime{}, fmt.Errorf("failed to select pending chunks: %w", err)
	}
	return oldest, nil
}
