// Package sync implements the bidirectional sync protocol (spec.md §4.4,
// component C4): cursor-based pull with baseline emission, and optimistic
// push with per-change conflict detection inside a single all-or-nothing
// transaction.
package sync

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Cursor is an opaque token equivalent to a since_seq ≥ 0 (spec.md §4.4.1).
// It is never a raw integer on the wire; MarshalText/UnmarshalText wrap a
// base64-encoded decimal seq so the encoding stays implementation-defined
// (spec.md's own hint: "e.g. base64(i64)") without committing callers to a
// binary layout.
type Cursor struct {
	Seq int64
}

// ZeroCursor is the starting cursor for a fresh pull (since_seq = 0).
var ZeroCursor = Cursor{Seq: 0}

// MarshalText implements encoding.TextMarshaler.
func (c Cursor) MarshalText() ([]byte, error) {
	raw := strconv.FormatInt(c.Seq, 10)
	return []byte(base64.RawURLEncoding.EncodeToString([]byte(raw))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cursor) UnmarshalText(text []byte) error {
	raw, err := base64.RawURLEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode cursor: %w", err)
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("decode cursor: %w", err)
	}
	if seq < 0 {
		return fmt.Errorf("decode cursor: negative seq %d", seq)
	}
	c.Seq = seq
	return nil
}

// DecodeCursor parses an opaque cursor token, treating "" as ZeroCursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return ZeroCursor, nil
	}
	var c Cursor
	if err := c.UnmarshalText([]byte(token)); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// String renders the cursor as its wire token.
func (c Cursor) String() string {
	b, _ := c.MarshalText()
	return string(b)
}
