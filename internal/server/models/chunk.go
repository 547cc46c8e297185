package models

import (
	"database/sql"
	"time"
)

// Chunk is one part of a File's multipart upload.
type Chunk struct {
	ChunkID     string
	FileID      string
	PartNumber  int
	Fingerprint string
	ETag        string
	CreatedAt   time.Time
	// LastSynced is null until the client has confirmed the part.
	LastSynced sql.NullTime
}

// Confirmed reports whether the part was acknowledged by the uploader.
func (c *Chunk) Confirmed() bool {
	return c.LastSynced.Valid
}

// ChangedChunk is a confirmed chunk joined with its owning file, as returned
// to polling clients.
type ChangedChunk struct {
	File  File
	Chunk Chunk
}
