package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chunks (id TEXT PRIMARY KEY, part INTEGER)`)
	require.NoError(t, err)
	return db
}

func countChunks(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&n))
	return n
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks(id, part) VALUES ('a_0', 0)`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO chunks(id, part) VALUES ('a_1', 1)`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, countChunks(t, db))
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)

	calls := 0
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		calls++
		_, e := tx.ExecContext(ctx, `INSERT INTO chunks(id, part) VALUES ('a_0', 0)`)
		require.NoError(t, e)
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls, "plain errors are not replayed")
	require.Equal(t, 0, countChunks(t, db))
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countChunks(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO chunks(id, part) VALUES ('a_0', 0)`)
		require.NoError(t, e)
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err)
}

func TestWithTx_ReplaysOnContention(t *testing.T) {
	db := setupDB(t)
	old := txBackoff
	txBackoff = time.Nanosecond
	t.Cleanup(func() { txBackoff = old })

	calls := 0
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		calls++
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks(id, part) VALUES ('a_0', 0)`); err != nil {
			return err
		}
		if calls < 2 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, countChunks(t, db), "first attempt must be rolled back")
}

func TestWithTx_GivesUpAfterAttempts(t *testing.T) {
	db := setupDB(t)
	old := txBackoff
	txBackoff = time.Nanosecond
	t.Cleanup(func() { txBackoff = old })

	calls := 0
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	assert.True(t, IsContention(err))
	assert.Equal(t, txAttempts, calls)
}

func TestIsContention(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("no such table"), false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"sqlite locked", errors.New("SQLITE_LOCKED"), true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock wrapped", fmt.Errorf("upsert: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pg unique", &pgconn.PgError{Code: "23505"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsContention(tt.err))
		})
	}
}
