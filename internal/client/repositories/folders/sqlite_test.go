package folders

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/firebox/internal/client/client"
	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "folders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func folder(id, path, parent string) *models.Folder {
	return &models.Folder{
		FolderID:       id,
		FolderPath:     path,
		FolderName:     filepath.Base(path),
		ParentFolderID: sql.NullString{String: parent, Valid: parent != ""},
	}
}

func seed(t *testing.T, r *SQLiteRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, folder("root", "/s", "")))
	require.NoError(t, r.Upsert(ctx, folder("a", "/s/a", "root")))
	require.NoError(t, r.Upsert(ctx, folder("ab", "/s/a/b", "a")))
	require.NoError(t, r.Upsert(ctx, folder("a2", "/s/a2", "root")))
}

func TestUpsertAndGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	seed(t, r)

	root, err := r.GetRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root", root.FolderID)
	assert.True(t, root.IsRoot())

	a, err := r.GetByPath(ctx, "/s/a")
	require.NoError(t, err)
	assert.Equal(t, "a", a.FolderID)
	assert.Equal(t, "root", a.ParentFolderID.String)

	_, err = r.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	kids, err := r.ListChildren(ctx, "root")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "/s/a", kids[0].FolderPath)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGetRoot_Empty(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetRoot(context.Background())
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMoveTree(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	seed(t, r)

	require.NoError(t, r.UpdateLocation(ctx, "a", "z", "/s/z", "root"))
	n, err := r.RewritePathPrefix(ctx, "/s/a", "/s/z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ab, err := r.GetByID(ctx, "ab")
	require.NoError(t, err)
	assert.Equal(t, "/s/z/b", ab.FolderPath)

	a2, err := r.GetByID(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "/s/a2", a2.FolderPath)

	assert.ErrorIs(t, r.UpdateLocation(ctx, "missing", "x", "/x", ""), common.ErrorNotFound)
}

func TestDeleteTree(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	seed(t, r)

	tree, err := r.ListTree(ctx, "/s/a")
	require.NoError(t, err)
	require.Len(t, tree, 2)

	n, err := r.DeleteTree(ctx, "/s/a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = r.GetByID(ctx, "a2")
	require.NoError(t, err, "sibling with shared prefix survives")
}
