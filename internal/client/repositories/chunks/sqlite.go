package chunks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
)

const chunkColumns = `chunk_id, file_id, part_number, fingerprint, created_at, last_synced`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(s scanner) (*models.Chunk, error) {
	var c models.Chunk
	var created string
	var synced sql.NullString
	if err := s.Scan(&c.ChunkID, &c.FileID, &c.PartNumber, &c.Fingerprint, &created, &synced); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = common.ParseTime(created); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	if synced.Valid {
		ts, err := common.ParseTime(synced.String)
		if err != nil {
			return nil, fmt.Errorf("bad last_synced %q: %w", synced.String, err)
		}
		c.LastSynced = sql.NullTime{Time: ts, Valid: true}
	}
	return &c, nil
}

func nullTime(t sql.NullTime) sql.NullString {
	if !t.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: common.FormatTime(t.Time), Valid: true}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, c *models.Chunk) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	// a different chunk may already hold this part of the file
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE file_id = ? AND part_number = ? AND chunk_id <> ?`,
		c.FileID, c.PartNumber, c.ChunkID); err != nil {
		return fmt.Errorf("failed to clear part %d: %w", c.PartNumber, err)
	}
	query := `
		INSERT INTO chunks (chunk_id, file_id, part_number, fingerprint, created_at, last_synced)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			file_id = excluded.file_id,
			part_number = excluded.part_number,
			fingerprint = excluded.fingerprint,
			created_at = excluded.created_at,
			last_synced = excluded.last_synced
	`
	_, err := r.db.ExecContext(ctx, query, c.ChunkID, c.FileID, c.PartNumber, c.Fingerprint,
		common.FormatTime(created), nullTime(c.LastSynced))
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, args ...any) (*models.Chunk, error) {
	c, err := scanChunk(r.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select chunk: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Chunk, error) {
	return r.getOne(ctx, `chunk_id = ?`, id)
}

func (r *SQLiteRepository) GetByPart(ctx context.Context, fileID string, partNumber int) (*models.Chunk, error) {
	return r.getOne(ctx, `file_id = ? AND part_number = ?`, fileID, partNumber)
}

func (r *SQLiteRepository) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE file_id = ? ORDER BY part_number`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chunk_id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunk ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk ids: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chunks SET last_synced = ? WHERE chunk_id = ?`,
		common.FormatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark chunk synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) deleteWhere(ctx context.Context, where string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	return r.deleteWhere(ctx, `file_id = ?`, fileID)
}

func (r *SQLiteRepository) DeleteFromPart(ctx context.Context, fileID string, lastPart int) (int64, error) {
	return r.deleteWhere(ctx, `file_id = ? AND part_number > ?`, fileID, lastPart)
}
