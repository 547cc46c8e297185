// Package models defines server-side data models persisted in the database.
package models

import (
	"database/sql"
	"time"
)

// File is the server record of one synced file. The assembled content lives
// in object storage under FileID.
type File struct {
	FileID   string
	FilePath string
	FileName string
	FileType string
	FolderID string
	FileHash string

	// UploadID is the open multipart upload, if any. It is cleared once the
	// upload has been completed or aborted.
	UploadID sql.NullString
	// CompleteETag is the ETag returned by the store on completion.
	CompleteETag string
	// MasterFileFingerprint is derived from the confirmed chunk fingerprints.
	MasterFileFingerprint string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasOpenUpload reports whether a multipart upload is still in progress.
func (f *File) HasOpenUpload() bool {
	return f.UploadID.Valid && f.UploadID.String != ""
}
