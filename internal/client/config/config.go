package config

import (
	"time"

	"github.com/dmitrijs2005/firebox/internal/common"
)

// Config holds runtime settings for the sync client.
//
// Fields:
//   - SyncDir: directory tree kept in sync.
//   - ChunkDir: where chunk blobs are cached; must be outside SyncDir.
//   - DatabaseDSN: path of the local SQLite database.
//   - ServerURL: base URL of the metadata service.
//   - ChunkSize: bytes per chunk; must match the server.
//   - RequestTimeout / MaxRetries: bound every outbound HTTP call.
//   - PollInterval: period of the background sync poller.
//   - UploadWorkers: parallel part uploads per file.
//   - APIAddr: bind address of the local inspection API.
//   - LogFile: rotating log file; empty logs to stderr.
type Config struct {
	SyncDir        string
	ChunkDir       string
	DatabaseDSN    string
	ServerURL      string
	ChunkSize      int
	RequestTimeout time.Duration
	MaxRetries     int
	PollInterval   time.Duration
	UploadWorkers  int
	APIAddr        string
	LogFile        string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.SyncDir = "my_firebox"
	c.ChunkDir = ".firebox/chunks"
	c.DatabaseDSN = ".firebox/firebox.db"
	c.ServerURL = "http://127.0.0.1:8001"
	c.ChunkSize = common.DefaultChunkSize
	c.RequestTimeout = 30 * time.Second
	c.MaxRetries = 3
	c.PollInterval = 120 * time.Second
	c.UploadWorkers = 4
	c.APIAddr = "127.0.0.1:8002"
	c.LogFile = ""
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
