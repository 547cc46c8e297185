// Package config loads runtime configuration for the sync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
//	{
//	  "sync_dir": "/home/me/firebox",
//	  "chunk_dir": "/home/me/.firebox/chunks",
//	  "database_dsn": "/home/me/.firebox/firebox.db",
//	  "server_url": "http://files-service:8001",
//	  "chunk_size": 5242880,
//	  "request_timeout": "30s",
//	  "max_retries": 3,
//	  "poll_interval": "2m",
//	  "upload_workers": 4,
//	  "api_addr": "127.0.0.1:8002",
//	  "log_file": "/home/me/.firebox/client.log"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
