package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/firebox/internal/flagx"
	"github.com/dmitrijs2005/firebox/internal/timex"
)

// JsonConfig is the on-disk shape of the server configuration. Durations use
// timex.Duration so both "1h" and integer nanoseconds are accepted.
type JsonConfig struct {
	APIAddr        string         `json:"api_addr"`
	DatabaseDSN    string         `json:"database_dsn"`
	S3RootUser     string         `json:"s3_root_user"`
	S3RootPassword string         `json:"s3_root_password"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
	ChunkSize      int            `json:"chunk_size"`
	PresignExpiry  timex.Duration `json:"presign_expiry"`
	MetricsAddr    string         `json:"metrics_addr"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays values from the file named by -c/-config onto config.
// Keys missing from the file keep their current value. An unreadable file or
// invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.APIAddr, c.APIAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.MetricsAddr, c.MetricsAddr)
	if c.ChunkSize > 0 {
		config.ChunkSize = c.ChunkSize
	}
	if c.PresignExpiry.Duration > 0 {
		config.PresignExpiry = c.PresignExpiry.Duration
	}
}
