// Package files provides the client-side persistence layer for File records.
//
// # Overview
//
// Files are keyed by absolute path on disk; FileID is the identity shared
// with the metadata service. A SQLite-backed implementation (SQLiteRepository)
// persists data via a dbx.DBTX (*sql.DB or *sql.Tx), so every method can run
// inside a transaction opened with dbx.WithTx.
//
// Typical Usage
//
//	repo := files.NewSQLiteRepository(tx)
//	f, err := repo.GetByPath(ctx, "/home/me/firebox/a.txt")
//	if errors.Is(err, common.ErrorNotFound) { ... }
//	_ = repo.Upsert(ctx, f)
//	_, _ = repo.RewritePathPrefix(ctx, "/home/me/firebox/old", "/home/me/firebox/new")
//
// See also: internal/client/models.File for field semantics.
package files
