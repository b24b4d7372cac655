// Package evalcache stores engine evaluations keyed by canonical position.
// Entries are write-once: the first committed value for a key wins.
package evalcache

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("evaluation not cached")

// Entry is one cached evaluation. Score and Raw are from White's point of
// view so an entry serves both optimizer colours.
type Entry struct {
	Key    string  `json:"key" db:"fen"`
	Score  float64 `json:"score" db:"score"`
	Raw    string  `json:"raw" db:"raw"`
	Mate   bool    `json:"mate" db:"mate"`
	Depth  int     `json:"depth" db:"depth"`
	Engine string  `json:"engine" db:"engine"`
}

// Store is a durable evaluation cache.
type Store interface {
	// Get returns ErrNotFound for unknown keys.
	Get(ctx context.Context, key string) (Entry, error)
	// PutIfAbsent commits e unless the key is already present and returns
	// the entry that is stored afterwards.
	PutIfAbsent(ctx context.Context, e Entry) (Entry, error)
	Close() error
}
