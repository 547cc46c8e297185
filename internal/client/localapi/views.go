package localapi

import (
	"github.com/dmitrijs2005/firebox/internal/client/models"
	"github.com/dmitrijs2005/firebox/internal/client/services"
	"github.com/dmitrijs2005/firebox/internal/common"
)

type FolderView struct {
	FolderID       string  `json:"folder_id"`
	FolderPath     string  `json:"folder_path"`
	FolderName     string  `json:"folder_name"`
	ParentFolderID *string `json:"parent_folder_id"`
	CreatedAt      string  `json:"created_at"`
}

type FileView struct {
	FileID                string `json:"file_id"`
	FilePath              string `json:"file_path"`
	FileName              string `json:"file_name"`
	FileType              string `json:"file_type"`
	FolderID              string `json:"folder_id"`
	FileHash              string `json:"file_hash"`
	MasterFileFingerprint string `json:"master_file_fingerprint"`
	CreatedAt             string `json:"created_at"`
	UpdatedAt             string `json:"updated_at"`
}

type ChunkView struct {
	ChunkID     string  `json:"chunk_id"`
	FileID      string  `json:"file_id"`
	PartNumber  int     `json:"part_number"`
	Fingerprint string  `json:"fingerprint"`
	CreatedAt   string  `json:"created_at"`
	LastSynced  *string `json:"last_synced"`
}

type FolderDetailView struct {
	Folder  FolderView   `json:"folder"`
	Folders []FolderView `json:"folders"`
	Files   []FileView   `json:"files"`
}

type StatusView struct {
	Folders        int    `json:"folders"`
	Files          int    `json:"files"`
	PendingFiles   int    `json:"pending_files"`
	Chunks         int    `json:"chunks"`
	UnsyncedChunks int    `json:"unsynced_chunks"`
	LastSyncTime   string `json:"last_sync_time"`
}

func folderView(f *models.Folder) FolderView {
	v := FolderView{
		FolderID:   f.FolderID,
		FolderPath: f.FolderPath,
		FolderName: f.FolderName,
		CreatedAt:  common.FormatTime(f.CreatedAt),
	}
	if f.ParentFolderID.Valid {
		v.ParentFolderID = &f.ParentFolderID.String
	}
	return v
}

func fileView(f *models.File) FileView {
	return FileView{
		FileID:                f.FileID,
		FilePath:              f.FilePath,
		FileName:              f.FileName,
		FileType:              f.FileType,
		FolderID:              f.FolderID,
		FileHash:              f.FileHash,
		MasterFileFingerprint: f.MasterFileFingerprint,
		CreatedAt:             common.FormatTime(f.CreatedAt),
		UpdatedAt:             common.FormatTime(f.UpdatedAt),
	}
}

func chunkView(c *models.Chunk) ChunkView {
	v := ChunkView{
		ChunkID:     c.ChunkID,
		FileID:      c.FileID,
		PartNumber:  c.PartNumber,
		Fingerprint: c.Fingerprint,
		CreatedAt:   common.FormatTime(c.CreatedAt),
	}
	if c.LastSynced.Valid {
		ts := common.FormatTime(c.LastSynced.Time)
		v.LastSynced = &ts
	}
	return v
}

func mapViews[T, V any](items []T, fn func(T) V) []V {
	out := make([]V, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}

func statusView(s *services.Status) StatusView {
	return StatusView(*s)
}
