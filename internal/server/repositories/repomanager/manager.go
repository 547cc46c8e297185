package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/firebox/internal/dbx"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/files"
	"github.com/dmitrijs2005/firebox/internal/server/repositories/folders"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	Chunks(db dbx.DBTX) chunks.Repository
	Folders(db dbx.DBTX) folders.Repository
}
