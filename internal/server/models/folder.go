package models

import (
	"database/sql"
	"time"
)

type Folder struct {
	FolderID   string
	FolderPath string
	FolderName string
	// ParentFolderID is null only for a sync root.
	ParentFolderID sql.NullString
	CreatedAt      time.Time
}
