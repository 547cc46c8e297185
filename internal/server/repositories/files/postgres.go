package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/server/models"
)

const fileColumns = `file_id, file_path, file_name, file_type, folder_id, file_hash,
	upload_id, complete_etag, master_file_fingerprint, created_at, updated_at`

// PostgresRepository implements file metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var f models.File
	err := s.Scan(&f.FileID, &f.FilePath, &f.FileName, &f.FileType, &f.FolderID, &f.FileHash,
		&f.UploadID, &f.CompleteETag, &f.MasterFileFingerprint, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Upsert inserts the file or replaces its descriptive fields. Derived
// completion state is reset because the content is about to change.
func (r *PostgresRepository) Upsert(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (file_id, file_path, file_name, file_type, folder_id, file_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_id)
		DO UPDATE SET
			file_path = EXCLUDED.file_path,
			file_name = EXCLUDED.file_name,
			file_type = EXCLUDED.file_type,
			folder_id = EXCLUDED.folder_id,
			file_hash = EXCLUDED.file_hash,
			complete_etag = '',
			master_file_fingerprint = '',
			updated_at = now()
	`
	res, err := r.db.ExecContext(ctx, query,
		file.FileID, file.FilePath, file.FileName, file.FileType, file.FolderID, file.FileHash)
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

// GetByID returns the file or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE file_id=$1`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// GetByPath returns the file registered at path or common.ErrorNotFound.
func (r *PostgresRepository) GetByPath(ctx context.Context, path string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE file_path=$1`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) exactlyOne(res sql.Result, err error, what string) error {
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

// SetUploadID records (or clears, when invalid) the open multipart upload.
func (r *PostgresRepository) SetUploadID(ctx context.Context, id string, uploadID sql.NullString) error {
	query := `UPDATE files SET upload_id=$2, updated_at=now() WHERE file_id=$1`
	res, err := r.db.ExecContext(ctx, query, id, uploadID)
	return r.exactlyOne(res, err, "set upload id")
}

// MarkCompleted stores the completion result and closes the upload.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id, completeETag, masterFingerprint string) error {
	query := `UPDATE files SET complete_etag=$2, master_file_fingerprint=$3, upload_id=NULL, updated_at=now() WHERE file_id=$1`
	res, err := r.db.ExecContext(ctx, query, id, completeETag, masterFingerprint)
	return r.exactlyOne(res, err, "mark completed")
}

// UpdateLocation renames or moves a file without touching its content.
func (r *PostgresRepository) UpdateLocation(ctx context.Context, id, name, path, folderID string) error {
	query := `UPDATE files SET file_name=$2, file_path=$3, folder_id=$4, updated_at=now() WHERE file_id=$1`
	res, err := r.db.ExecContext(ctx, query, id, name, path, folderID)
	return r.exactlyOne(res, err, "update file location")
}

// RewritePathPrefix moves every file below oldPrefix to newPrefix and
// returns the number of rewritten rows.
func (r *PostgresRepository) RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error) {
	query := `
		UPDATE files
		SET file_path = $2::text || substr(file_path, length($1::text) + 1), updated_at = now()
		WHERE left(file_path, length($1::text) + 1) = $1::text || '/'
	`
	res, err := r.db.ExecContext(ctx, query, oldPrefix, newPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite file paths: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListUnderPath returns every file whose path lies below prefix.
func (r *PostgresRepository) ListUnderPath(ctx context.Context, prefix string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE left(file_path, length($1::text) + 1) = $1::text || '/'
		ORDER BY file_path`
	rows, err := r.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReassignFolder moves every file of oldFolderID to newFolderID.
func (r *PostgresRepository) ReassignFolder(ctx context.Context, oldFolderID, newFolderID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files SET folder_id=$2, updated_at=now() WHERE folder_id=$1`, oldFolderID, newFolderID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign folder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Delete removes the file; its chunks go with it via ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE file_id=$1`, id)
	return r.exactlyOne(res, err, "delete file")
}
