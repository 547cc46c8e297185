package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/firebox/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-s string     sync directory
//	-k string     chunk cache directory
//	-d string     SQLite database path
//	-a string     metadata service URL
//	-z int        chunk size in bytes
//	-t duration   HTTP request timeout
//	-r int        max retries per request
//	-i int        poll interval in seconds
//	-w int        parallel part uploads
//	-l string     local API address
//	-f string     log file
//
// Only these flags are taken from os.Args, so subcommand arguments do not
// interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-s", "-k", "-d", "-a", "-z", "-t", "-r", "-i", "-w", "-l", "-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.SyncDir, "s", cfg.SyncDir, "sync directory")
	fs.StringVar(&cfg.ChunkDir, "k", cfg.ChunkDir, "chunk cache directory")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "local database path")
	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "metadata service URL")
	fs.IntVar(&cfg.ChunkSize, "z", cfg.ChunkSize, "chunk size in bytes")
	fs.DurationVar(&cfg.RequestTimeout, "t", cfg.RequestTimeout, "HTTP request timeout")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "max retries per request")
	pollInterval := fs.Int("i", int(cfg.PollInterval.Seconds()), "poll interval (in seconds)")
	fs.IntVar(&cfg.UploadWorkers, "w", cfg.UploadWorkers, "parallel part uploads")
	fs.StringVar(&cfg.APIAddr, "l", cfg.APIAddr, "local API address")
	fs.StringVar(&cfg.LogFile, "f", cfg.LogFile, "log file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollInterval = time.Duration(*pollInterval) * time.Second
}
