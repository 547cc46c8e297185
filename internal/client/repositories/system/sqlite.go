package system

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM system WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get system[%s]: %w", key, err)
	}
	return value, true, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set system[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM system`)
	if err != nil {
		return nil, fmt.Errorf("failed to list system: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan system row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate system rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Cursor(ctx context.Context) (time.Time, error) {
	v, ok, err := r.Get(ctx, KeyLastSyncTime)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		v = common.EpochCursor
	}
	t, err := common.ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored cursor %q: %w", v, err)
	}
	return t, nil
}

func (r *SQLiteRepository) AdvanceCursor(ctx context.Context, to time.Time) (bool, error) {
	cur, err := r.Cursor(ctx)
	if err != nil {
		return false, err
	}
	if to.Before(cur) {
		return false, nil
	}
	if err := r.Set(ctx, KeyLastSyncTime, common.FormatTime(to)); err != nil {
		return false, err
	}
	return to.After(cur), nil
}
