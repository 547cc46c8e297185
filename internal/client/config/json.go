package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/firebox/internal/flagx"
	"github.com/dmitrijs2005/firebox/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "30s" or as integer nanoseconds.
type JsonConfig struct {
	SyncDir        string         `json:"sync_dir"`
	ChunkDir       string         `json:"chunk_dir"`
	DatabaseDSN    string         `json:"database_dsn"`
	ServerURL      string         `json:"server_url"`
	ChunkSize      int            `json:"chunk_size"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	MaxRetries     *int           `json:"max_retries"`
	PollInterval   timex.Duration `json:"poll_interval"`
	UploadWorkers  int            `json:"upload_workers"`
	APIAddr        string         `json:"api_addr"`
	LogFile        string         `json:"log_file"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Keys missing from the file keep their current value.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.SyncDir, jc.SyncDir)
	setString(&cfg.ChunkDir, jc.ChunkDir)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.APIAddr, jc.APIAddr)
	setString(&cfg.LogFile, jc.LogFile)
	if jc.ChunkSize > 0 {
		cfg.ChunkSize = jc.ChunkSize
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	// zero retries is a valid setting
	if jc.MaxRetries != nil && *jc.MaxRetries >= 0 {
		cfg.MaxRetries = *jc.MaxRetries
	}
	if jc.PollInterval.Duration > 0 {
		cfg.PollInterval = jc.PollInterval.Duration
	}
	if jc.UploadWorkers > 0 {
		cfg.UploadWorkers = jc.UploadWorkers
	}
}
