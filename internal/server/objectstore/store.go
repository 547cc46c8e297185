// Package objectstore wraps the S3-compatible multipart API used to assemble
// uploaded chunks into one object per file, and to presign part uploads and
// ranged downloads.
package objectstore

import (
	"context"
	"strings"
	"time"
)

// CompletedPart identifies one uploaded part when completing an upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// Store is the object storage surface the upload and download services need.
// Object keys are file ids.
type Store interface {
	EnsureBucket(ctx context.Context) error
	CreateMultipartUpload(ctx context.Context, key string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PresignGetObject(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// NormalizeETag returns etag in the double-quoted form S3 expects on
// completion. Surrounding whitespace and any existing quotes are dropped
// first, so the result is the same whether or not the client kept them.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	if etag == "" {
		return ""
	}
	return `"` + etag + `"`
}
