// Package api defines the JSON request and response bodies exchanged between
// the sync client and the metadata service. Every request type validates its
// required fields once, at the boundary.
package api

import (
	"fmt"

	"github.com/dmitrijs2005/firebox/internal/common"
)

// Endpoint paths.
const (
	PathHealth        = "/health"
	PathFiles         = "/files"
	PathFilesConfirm  = "/files/confirm"
	PathFilesDownload = "/files/download"
	PathFilesUpdate   = "/files/update"
	PathFilesDelete   = "/files/delete"
	PathFolders       = "/folders"
	PathFoldersUpdate = "/folders/update"
	PathFoldersDelete = "/folders/delete"
	PathSync          = "/sync"
)

// Download invalid-chunk reasons.
const (
	ReasonNotFound            = "not found"
	ReasonPartNumberMismatch  = "part number mismatch"
	ReasonFingerprintModified = "fingerprint changed, retry"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrorValidation, fmt.Sprintf(format, args...))
}

type CreateFileRequest struct {
	FileID     string `json:"file_id"`
	FileName   string `json:"file_name"`
	FilePath   string `json:"file_path"`
	FileType   string `json:"file_type"`
	FolderID   string `json:"folder_id"`
	ChunkCount int    `json:"chunk_count"`
	FileHash   string `json:"file_hash,omitempty"`
}

func (r *CreateFileRequest) Validate() error {
	switch {
	case r.FileID == "":
		return invalid("file_id is required")
	case r.FilePath == "":
		return invalid("file_path is required")
	case r.FileName == "":
		return invalid("file_name is required")
	case r.ChunkCount < 0:
		return invalid("chunk_count must not be negative")
	case r.ChunkCount > MaxParts:
		return invalid("chunk_count exceeds %d", MaxParts)
	}
	return nil
}

// MaxParts is the multipart upload part limit of S3-compatible stores.
const MaxParts = 10000

type PresignedURL struct {
	ChunkID      string `json:"chunk_id"`
	PresignedURL string `json:"presigned_url"`
	PartNumber   int    `json:"part_number"`
}

type CreateFileResponse struct {
	FileID        string         `json:"file_id"`
	PresignedURLs []PresignedURL `json:"presigned_urls"`
}

type ChunkETag struct {
	ChunkID     string `json:"chunk_id"`
	PartNumber  int    `json:"part_number"`
	ETag        string `json:"etag"`
	Fingerprint string `json:"fingerprint"`
}

type ConfirmRequest struct {
	FileID     string      `json:"file_id"`
	ChunkIDs   []string    `json:"chunk_ids"`
	ChunkETags []ChunkETag `json:"chunk_etags"`
}

func (r *ConfirmRequest) Validate() error {
	if r.FileID == "" {
		return invalid("file_id is required")
	}
	for i, c := range r.ChunkETags {
		switch {
		case c.ChunkID == "":
			return invalid("chunk_etags[%d]: chunk_id is required", i)
		case c.ETag == "":
			return invalid("chunk_etags[%d]: etag is required", i)
		case c.Fingerprint == "":
			return invalid("chunk_etags[%d]: fingerprint is required", i)
		}
	}
	return nil
}

type ConfirmResponse struct {
	FileID                string `json:"file_id"`
	ConfirmedChunks       int    `json:"confirmed_chunks"`
	Success               bool   `json:"success"`
	MasterFileFingerprint string `json:"master_file_fingerprint,omitempty"`
}

type FolderRequest struct {
	FolderID       string  `json:"folder_id"`
	FolderPath     string  `json:"folder_path"`
	FolderName     string  `json:"folder_name"`
	ParentFolderID *string `json:"parent_folder_id"`
}

func (r *FolderRequest) Validate() error {
	switch {
	case r.FolderID == "":
		return invalid("folder_id is required")
	case r.FolderPath == "":
		return invalid("folder_path is required")
	}
	return nil
}

type FolderResponse struct {
	FolderID string `json:"folder_id"`
	Success  bool   `json:"success"`
}

type UpdateFileRequest struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	FolderID string `json:"folder_id"`
}

func (r *UpdateFileRequest) Validate() error {
	switch {
	case r.FileID == "":
		return invalid("file_id is required")
	case r.FilePath == "":
		return invalid("file_path is required")
	}
	return nil
}

type UpdateFileResponse struct {
	FileID  string `json:"file_id"`
	Success bool   `json:"success"`
}

type DeleteFileRequest struct {
	FileID string `json:"file_id"`
}

type DeleteFolderRequest struct {
	FolderID string `json:"folder_id"`
}

type DeleteResponse struct {
	Success bool `json:"success"`
}

type ChunkRef struct {
	ChunkID     string `json:"chunk_id"`
	PartNumber  int    `json:"part_number"`
	Fingerprint string `json:"fingerprint"`
}

type DownloadRequest struct {
	FileID string     `json:"file_id"`
	Chunks []ChunkRef `json:"chunks"`
}

func (r *DownloadRequest) Validate() error {
	if r.FileID == "" {
		return invalid("file_id is required")
	}
	for i, c := range r.Chunks {
		if c.ChunkID == "" {
			return invalid("chunks[%d]: chunk_id is required", i)
		}
	}
	return nil
}

type DownloadURL struct {
	ChunkID      string `json:"chunk_id"`
	PartNumber   int    `json:"part_number"`
	Fingerprint  string `json:"fingerprint"`
	PresignedURL string `json:"presigned_url"`
	StartByte    int64  `json:"start_byte"`
	EndByte      int64  `json:"end_byte"`
	RangeHeader  string `json:"range_header"`
}

type InvalidChunk struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
}

type DownloadResponse struct {
	FileID        string         `json:"file_id"`
	DownloadURLs  []DownloadURL  `json:"download_urls"`
	InvalidChunks []InvalidChunk `json:"invalid_chunks,omitempty"`
	Success       bool           `json:"success"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

type SyncRequest struct {
	LastSyncTime string `json:"last_sync_time"`
}

func (r *SyncRequest) Validate() error {
	if r.LastSyncTime == "" {
		return invalid("last_sync_time is required")
	}
	if _, err := common.ParseTime(r.LastSyncTime); err != nil {
		return invalid("invalid last_sync_time format, expected ISO 8601")
	}
	return nil
}

type SyncChunk struct {
	ChunkID     string `json:"chunk_id"`
	PartNumber  int    `json:"part_number"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"created_at"`
}

type SyncFile struct {
	FileID                string      `json:"file_id"`
	FilePath              string      `json:"file_path"`
	FileName              string      `json:"file_name"`
	FileType              string      `json:"file_type"`
	FolderID              string      `json:"folder_id"`
	MasterFileFingerprint string      `json:"master_file_fingerprint,omitempty"`
	Chunks                []SyncChunk `json:"chunks"`
}

type SyncResponse struct {
	UpdatedFiles []SyncFile `json:"updated_files"`
	UpToDate     bool       `json:"up_to_date"`
	LastSyncTime string     `json:"last_sync_time"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}
