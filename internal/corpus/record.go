// Package corpus streams recorded games into the tree builder.
package corpus

import (
	"errors"
	"io"
)

type Result int8

const (
	Unknown Result = iota
	WhiteWin
	Draw
	BlackWin
)

// ParseResult maps a PGN result token ("1-0", "0-1", "1/2-1/2") to a Result.
func ParseResult(s string) Result {
	switch s {
	case "1-0":
		return WhiteWin
	case "0-1":
		return BlackWin
	case "1/2-1/2":
		return Draw
	default:
		return Unknown
	}
}

func (r Result) String() string {
	switch r {
	case WhiteWin:
		return "1-0"
	case BlackWin:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// Record is one game: its moves in SAN and its result.
type Record struct {
	Moves  []string
	Result Result
}

var ErrMalformedGame = errors.New("malformed game")

// Source yields records in order. Next returns io.EOF once exhausted.
type Source interface {
	Next() (Record, error)
}

type sliceSource struct {
	recs []Record
	idx  int
}

// FromRecords returns a Source over an in-memory slice.
func FromRecords(recs ...Record) Source {
	return &sliceSource{recs: recs}
}

func (s *sliceSource) Next() (Record, error) {
	if s.idx >= len(s.recs) {
		return Record{}, io.EOF
	}
	rec := s.recs[s.idx]
	s.idx++
	return rec, nil
}
