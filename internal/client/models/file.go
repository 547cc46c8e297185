// Package models defines the records the sync client keeps in its local
// SQLite database.
package models

import (
	"database/sql"
	"time"
)

// File is a regular file below the sync root, keyed by absolute path.
type File struct {
	FileID   string
	FilePath string
	FileName string
	FileType string
	FolderID string

	// FileHash is the whole-file digest of the last content that was fully
	// uploaded or rebuilt. Empty means the content was never synced.
	FileHash              string
	MasterFileFingerprint string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is one downloaded or uploaded part of a File. The payload lives in
// the chunk directory as {ChunkID}.chunk.
type Chunk struct {
	ChunkID     string
	FileID      string
	PartNumber  int
	Fingerprint string
	CreatedAt   time.Time
	LastSynced  sql.NullTime
}

// Folder is a directory below (or equal to) the sync root.
type Folder struct {
	FolderID   string
	FolderPath string
	FolderName string
	// ParentFolderID is null for the sync root.
	ParentFolderID sql.NullString
	CreatedAt      time.Time
}

// IsRoot reports whether f is the sync root folder.
func (f *Folder) IsRoot() bool {
	return !f.ParentFolderID.Valid
}
