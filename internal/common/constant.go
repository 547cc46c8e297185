package common

import "time"

// DefaultChunkSize is the fixed chunk size shared by client and server so that
// part numbering and byte-range math agree on both sides.
const DefaultChunkSize = 5 * 1024 * 1024

// EpochCursor is the sync cursor used before the first successful round.
const EpochCursor = "1970-01-01T00:00:00+00:00"

// FormatTime renders t in the wire format used for cursors and created_at
// values (RFC 3339 with nanoseconds, UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a wire timestamp. Both "Z" and numeric offsets are accepted.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
