package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
)

var (
	ErrNoChunks           = errors.New("no chunks")
	ErrMissingFingerprint = errors.New("chunk without fingerprint")
)

// Part is the minimal view of a stored chunk needed for aggregation.
type Part struct {
	PartNumber  int
	Fingerprint string
}

// MasterFingerprint is the SHA-256 over the chunk fingerprint strings
// concatenated in ascending part-number order.
func MasterFingerprint(parts []Part) (string, error) {
	if len(parts) == 0 {
		return "", ErrNoChunks
	}

	ordered := make([]Part, len(parts))
	copy(ordered, parts)
	sortByPart(ordered, func(p Part) int { return p.PartNumber })

	var sb strings.Builder
	for _, p := range ordered {
		if p.Fingerprint == "" {
			return "", ErrMissingFingerprint
		}
		sb.WriteString(p.Fingerprint)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:]), nil
}

func sortByPart[T any](items []T, part func(T) int) {
	slices.SortStableFunc(items, func(a, b T) int { return part(a) - part(b) })
}
