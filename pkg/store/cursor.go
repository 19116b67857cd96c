package store

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidCursor is returned when a cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor makes a raw index key opaque for callers.
func EncodeCursor(raw string) string {
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses [EncodeCursor].
func DecodeCursor(cursor string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	return string(raw), nil
}
