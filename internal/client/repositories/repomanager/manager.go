// Package repomanager vends the client's SQLite repositories bound to a
// dbx.DBTX, so callers can switch between *sql.DB and a transaction.
package repomanager

import (
	"github.com/dmitrijs2005/firebox/internal/client/repositories/chunks"
	"github.com/dmitrijs2005/firebox/internal/client/repositories/files"
	"github.com/dmitrijs2005/firebox/internal/client/repositories/folders"
	"github.com/dmitrijs2005/firebox/internal/client/repositories/system"
	"github.com/dmitrijs2005/firebox/internal/dbx"
)

type RepositoryManager interface {
	Files(db dbx.DBTX) files.Repository
	Chunks(db dbx.DBTX) chunks.Repository
	Folders(db dbx.DBTX) folders.Repository
	System(db dbx.DBTX) system.Repository
}

type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Files(db dbx.DBTX) files.Repository {
	return files.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Chunks(db dbx.DBTX) chunks.Repository {
	return chunks.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Folders(db dbx.DBTX) folders.Repository {
	return folders.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) System(db dbx.DBTX) system.Repository {
	return system.NewSQLiteRepository(db)
}
