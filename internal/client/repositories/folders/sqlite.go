package folders

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

const folderColumns = `folder_id, folder_path, folder_name, parent_folder_id, created_at`

const below = `substr(folder_path, 1, length(?1) + 1) = ?1 || '/'`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(s scanner) (*models.Folder, error) {
	var f models.Folder
	var created string
	if err := s.Scan(&f.FolderID, &f.FolderPath, &f.FolderName, &f.ParentFolderID, &created); err != nil {
		return nil, err
	}
	var err error
	if f.CreatedAt, err = common.ParseTime(created); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	return &f, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, f *models.Folder) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	query := `
		INSERT INTO folders (folder_id, folder_path, folder_name, parent_folder_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(folder_id) DO UPDATE SET
			folder_path = excluded.folder_path,
			folder_name = excluded.folder_name,
			parent_folder_id = excluded.parent_folder_id
	`
	_, err := r.db.ExecContext(ctx, query, f.FolderID, f.FolderPath, f.FolderName, f.ParentFolderID,
		common.FormatTime(created))
	if err != nil {
		return fmt.Errorf("failed to upsert folder: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, args ...any) (*models.Folder, error) {
	f, err := scanFolder(r.db.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	return r.getOne(ctx, `folder_id = ?`, id)
}

func (r *SQLiteRepository) GetByPath(ctx context.Context, path string) (*models.Folder, error) {
	return r.getOne(ctx, `folder_path = ?`, path)
}

func (r *SQLiteRepository) GetRoot(ctx context.Context) (*models.Folder, error) {
	return r.getOne(ctx, `parent_folder_id IS NULL ORDER BY created_at LIMIT 1`)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.Folder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select folders: %w", err)
	}
	defer rows.Close()

	var result []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder row: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate folder rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Folder, error) {
	return r.list(ctx, `SELECT `+folderColumns+` FROM folders ORDER BY folder_path`)
}

func (r *SQLiteRepository) ListChildren(ctx context.Context, parentID string) ([]*models.Folder, error) {
	return r.list(ctx, `SELECT `+folderColumns+` FROM folders WHERE parent_folder_id = ? ORDER BY folder_path`, parentID)
}

func (r *SQLiteRepository) ListTree(ctx context.Context, path string) ([]*models.Folder, error) {
	return r.list(ctx, `SELECT `+folderColumns+` FROM folders WHERE folder_path = ?1 OR `+below+` ORDER BY folder_path`, path)
}

func (r *SQLiteRepository) UpdateLocation(ctx context.Context, id, name, path, parentID string) error {
	parent := sql.NullString{String: parentID, Valid: parentID != ""}
	res, err := r.db.ExecContext(ctx,
		`UPDATE folders SET folder_name = ?, folder_path = ?, parent_folder_id = ? WHERE folder_id = ?`,
		name, path, parent, id)
	if err != nil {
		return fmt.Errorf("failed to update folder location: %w", err)
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

func (r *SQLiteRepository) affected(res sql.Result, err error, what string) (int64, error) {
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
	res, err := r.db.ExecContext(ctx,
		`UPDATE folders SET folder_path = ?2 || substr(folder_path, length(?1) + 1) WHERE `+below,
		oldPrefix, newPrefix)
	return r.affected(res, err, "rewrite folder paths")
}

func (r *SQLiteRepository) DeleteTree(ctx context.Context, path string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM folders WHERE folder_path = ?1 OR `+below, path)
	return r.affected(res, err, "delete folders")
}
