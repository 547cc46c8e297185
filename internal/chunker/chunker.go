// Package chunker splits byte streams into fixed-size chunks and computes
// the SHA-256 fingerprints used for change detection on both sides of the
// sync protocol.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

// Chunk is one fixed-size slice of a stream. The last chunk may be shorter.
type Chunk struct {
	Index       int
	PartNumber  int
	Data        []byte
	Fingerprint string
}

// Fingerprint returns the hex-encoded SHA-256 digest of b.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ChunkID names the index-th (0-based) chunk of a file.
func ChunkID(fileID string, index int) string {
	return fmt.Sprintf("%s_%d", fileID, index)
}

// Count returns how many chunks a stream of n bytes produces.
func Count(n int64, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return int((n + int64(size) - 1) / int64(size))
}

// Split yields the chunks of r in order. Reading stops at EOF; an empty
// stream yields nothing. Each yielded Data slice is freshly allocated and
// may be retained by the caller.
func Split(r io.Reader, size int) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if size <= 0 {
			yield(Chunk{}, fmt.Errorf("invalid chunk size: %d", size))
			return
		}
		for i := 0; ; i++ {
			buf := make([]byte, size)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				data := buf[:n]
				c := Chunk{Index: i, PartNumber: i + 1, Data: data, Fingerprint: Fingerprint(data)}
				if !yield(c, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			if err != nil {
				yield(Chunk{}, fmt.Errorf("read chunk %d: %w", i, err))
				return
			}
		}
	}
}

// SplitFile opens path on every iteration, so ranging over the result twice
// reads the file twice and yields the same sequence for unchanged content.
func SplitFile(path string, size int) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Chunk{}, fmt.Errorf("open %s: %w", path, err))
			return
		}
		defer f.Close()

		for c, err := range Split(f, size) {
			if !yield(c, err) {
				return
			}
		}
	}
}

// HashFile returns the whole-file SHA-256 hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Merge writes the chunk payloads to w in part order.
func Merge(w io.Writer, chunks []Chunk) error {
	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sortByPart(ordered, func(c Chunk) int { return c.PartNumber })
	for _, c := range ordered {
		if _, err := w.Write(c.Data); err != nil {
			return err
		}
	}
	return nil
}
