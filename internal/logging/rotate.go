package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the client log file.
const (
	maxLogSizeMB  = 10
	maxLogBackups = 5
	maxLogAgeDays = 28
)

// NewRotatingWriter returns a size-rotated log file writer.
func NewRotatingWriter(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}
}

// NewTextLogger builds the client logger. With an empty logFile output goes to
// stderr, otherwise to a rotating file.
func NewTextLogger(logFile string, level slog.Level) (*SlogLogger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		rw := NewRotatingWriter(logFile)
		w, closer = rw, rw
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
