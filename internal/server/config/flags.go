package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/firebox/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     REST bind address (e.g., ":8001")
//	-d string     PostgreSQL DSN
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000")
//	-k int        chunk size in bytes
//	-x duration   presigned URL expiry (e.g., "1h")
//	-m string     metrics bind address
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-u", "-p", "-b", "-g", "-e", "-k", "-x", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.APIAddr, "a", config.APIAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.IntVar(&config.ChunkSize, "k", config.ChunkSize, "chunk size in bytes")
	fs.DurationVar(&config.PresignExpiry, "x", config.PresignExpiry, "presigned URL expiry")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address (empty: serve on API address)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
