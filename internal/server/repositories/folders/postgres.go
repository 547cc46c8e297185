// Package folders stores the server-side folder tree.
package folders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// Upsert registers a folder or refreshes its path, name and parent.
func (r *PostgresRepository) Upsert(ctx context.Context, f *models.Folder) error {
	query := `
		INSERT INTO folders (folder_id, folder_path, folder_name, parent_folder_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (folder_id)
		DO UPDATE SET
			folder_path = EXCLUDED.folder_path,
			folder_name = EXCLUDED.folder_name,
			parent_folder_id = EXCLUDED.parent_folder_id
	`
	res, err := r.db.ExecContext(ctx, query, f.FolderID, f.FolderPath, f.FolderName, f.ParentFolderID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) get(ctx context.Context, where string, arg string) (*models.Folder, error) {
	query := `SELECT folder_id, folder_path, folder_name, parent_folder_id, created_at FROM folders WHERE ` + where
	var f models.Folder
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&f.FolderID, &f.FolderPath, &f.FolderName, &f.ParentFolderID, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	return &f, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	return r.get(ctx, "folder_id=$1", id)
}

func (r *PostgresRepository) GetByPath(ctx context.Context, path string) (*models.Folder, error) {
	return r.get(ctx, "folder_path=$1", path)
}

// Update changes an existing folder; common.ErrorNotFound if it is unknown.
func (r *PostgresRepository) Update(ctx context.Context, f *models.Folder) error {
	query := `UPDATE folders SET folder_path=$2, folder_name=$3, parent_folder_id=$4 WHERE folder_id=$1`
	res, err := r.db.ExecContext(ctx, query, f.FolderID, f.FolderPath, f.FolderName, f.ParentFolderID)
	if err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
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

func (r *PostgresRepository) affected(res sql.Result, err error, what string) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// RewritePathPrefix moves every descendant folder of oldPrefix under newPrefix.
func (r *PostgresRepository) RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) (int64, error) {
	query := `
		UPDATE folders
		SET folder_path = $2::text || substr(folder_path, length($1::text) + 1)
		WHERE left(folder_path, length($1::text) + 1) = $1::text || '/'
	`
	res, err := r.db.ExecContext(ctx, query, oldPrefix, newPrefix)
	return r.affected(res, err, "rewrite folder paths")
}

func (r *PostgresRepository) ReparentChildren(ctx context.Context, oldParentID, newParentID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE folders SET parent_folder_id=$2 WHERE parent_folder_id=$1`, oldParentID, newParentID)
	return r.affected(res, err, "reparent folders")
}

// Delete removes a single folder row, leaving descendants in place.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM folders WHERE folder_id=$1`, id)
	n, err := r.affected(res, err, "delete folder")
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// DeleteTree removes the folder at path and every folder below it.
func (r *PostgresRepository) DeleteTree(ctx context.Context, path string) (int64, error) {
	query := `
		DELETE FROM folders
		WHERE folder_path = $1::text OR left(folder_path, length($1::text) + 1) = $1::text || '/'
	`
	res, err := r.db.ExecContext(ctx, query, path)
	return r.affected(res, err, "delete folders")
}
