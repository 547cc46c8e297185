package files

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

const fileColumns = `file_id, file_path, file_name, file_type, folder_id, file_hash,
	master_file_fingerprint, created_at, updated_at`

// below matches paths strictly under the directory given as the first argument.
const below = `substr(file_path, 1, length(?1) + 1) = ?1 || '/'`

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var f models.File
	var created, updated string
	err := s.Scan(&f.FileID, &f.FilePath, &f.FileName, &f.FileType, &f.FolderID, &f.FileHash,
		&f.MasterFileFingerprint, &created, &updated)
	if err != nil {
		return nil, err
	}
	if f.CreatedAt, err = common.ParseTime(created); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	if f.UpdatedAt, err = common.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("bad updated_at %q: %w", updated, err)
	}
	return &f, nil
}

func (r *SQLiteRepository) stamp() string {
	return common.FormatTime(r.now())
}

func (r *SQLiteRepository) Upsert(ctx context.Context, f *models.File) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	query := `
		INSERT INTO files (file_id, file_path, file_name, file_type, folder_id, file_hash,
			master_file_fingerprint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			file_path = excluded.file_path,
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			folder_id = excluded.folder_id,
			file_hash = excluded.file_hash,
			master_file_fingerprint = excluded.master_file_fingerprint,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, f.FileID, f.FilePath, f.FileName, f.FileType, f.FolderID,
		f.FileHash, f.MasterFileFingerprint, common.FormatTime(created), r.stamp())
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, arg any) (*models.File, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	return r.getOne(ctx, `file_id = ?`, id)
}

func (r *SQLiteRepository) GetByPath(ctx context.Context, path string) (*models.File, error) {
	return r.getOne(ctx, `file_path = ?`, path)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.File, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files ORDER BY file_path`)
}

func (r *SQLiteRepository) ListByFolder(ctx context.Context, folderID string) ([]*models.File, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE folder_id = ? ORDER BY file_path`, folderID)
}

func (r *SQLiteRepository) ListUnderPath(ctx context.Context, prefix string) ([]*models.File, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE `+below+` ORDER BY file_path`, prefix)
}

func exactlyOne(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	if n != 1 {
		return fmt.Errorf("wrong rows affected count: %d", n)
	}
	return nil
}

func (r *SQLiteRepository) SetHash(ctx context.Context, id, fileHash, masterFingerprint string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files SET file_hash = ?, master_file_fingerprint = ?, updated_at = ? WHERE file_id = ?`,
		fileHash, masterFingerprint, r.stamp(), id)
	return exactlyOne(res, err, "set file hash")
}

func (r *SQLiteRepository) UpdateLocation(ctx context.Context, id, name, path, folderID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files SET file_name = ?, file_path = ?, folder_id = ?, updated_at = ? WHERE file_id = ?`,
		name, path, folderID, r.stamp(), id)
	return exactlyOne(res, err, "update file location")
}

func affected(res sql.Result, err error, what string) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error) {
	query := `UPDATE files SET file_path = ?2 || substr(file_path, length(?1) + 1), updated_at = ?3 WHERE ` + below
	res, err := r.db.ExecContext(ctx, query, oldPrefix, newPrefix, r.stamp())
	return affected(res, err, "rewrite file paths")
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, id)
	return exactlyOne(res, err, "delete file")
}

func (r *SQLiteRepository) DeleteUnderPath(ctx context.Context, prefix string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE `+below, prefix)
	return affected(res, err, "delete files")
}
