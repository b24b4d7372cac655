package corpus

import (
	"errors"
	"fmt"
	"io"

	"github.com/notnil/chess"
)

// PGNStats counts what a PGNSource has seen so far.
type PGNStats struct {
	Read     int64 // games taken from the stream, counted against maxGames
	Games    int64 // records handed out
	Filtered int64 // rejected by the Filter
	Skipped  int64 // undecodable movetext or illegal moves
}

// PGNSource reads games from a PGN stream with the notnil/chess scanner.
// A game the scanner cannot decode is counted and skipped; only a failure
// of the underlying reader ends the stream with an error.
type PGNSource struct {
	sc       *chess.Scanner
	r        *recordingReader
	filter   Filter
	maxGames int64

	stats PGNStats
	done  bool
}

// NewPGNSource wraps r. maxGames bounds the games read, filtered ones
// included; <= 0 means no limit.
func NewPGNSource(r io.Reader, filter Filter, maxGames int64) *PGNSource {
	rr := &recordingReader{r: r}
	return &PGNSource{sc: chess.NewScanner(rr), r: rr, filter: filter, maxGames: maxGames}
}

func (s *PGNSource) Stats() PGNStats {
	return s.stats
}

func (s *PGNSource) Next() (Record, error) {
	for {
		if s.done || (s.maxGames > 0 && s.stats.Read >= s.maxGames) {
			return Record{}, io.EOF
		}
		g, err := s.scan()
		if err == io.EOF {
			s.done = true
			if s.r.err != nil {
				return Record{}, fmt.Errorf("read pgn: %w", s.r.err)
			}
			return Record{}, io.EOF
		}
		s.stats.Read++
		if err != nil {
			s.stats.Skipped++
			continue
		}
		tags := tagsOf(g)
		if !s.filter.Accept(tags) {
			s.stats.Filtered++
			continue
		}
		s.stats.Games++
		return recordOf(g, tags), nil
	}
}

// scan returns the next decoded game, an ErrMalformedGame for one the
// scanner rejected, or io.EOF.
func (s *PGNSource) scan() (g *chess.Game, err error) {
	// the library's move list parser indexes the previous move when it
	// meets a comment, so a comment before the first move panics.
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("%w: %v", ErrMalformedGame, r)
		}
	}()
	if !s.sc.Scan() {
		err := s.sc.Err()
		if err == nil || errors.Is(err, io.EOF) || s.r.err != nil {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedGame, err)
	}
	g = s.sc.Next()
	// at end of input the scanner hands out one empty game after a
	// rejected final game
	if len(g.TagPairs()) == 0 && len(g.Moves()) == 0 {
		return nil, io.EOF
	}
	return g, nil
}

var filterTags = []string{"WhiteElo", "BlackElo", "TimeControl", "Result"}

func tagsOf(g *chess.Game) map[string]string {
	tags := make(map[string]string, len(filterTags))
	for _, key := range filterTags {
		if tp := g.GetTagPair(key); tp != nil {
			tags[key] = tp.Value
		}
	}
	return tags
}

func recordOf(g *chess.Game, tags map[string]string) Record {
	moves := g.Moves()
	positions := g.Positions()
	notation := chess.AlgebraicNotation{}
	rec := Record{Moves: make([]string, len(moves))}
	for i, mv := range moves {
		rec.Moves[i] = notation.Encode(positions[i], mv)
	}
	rec.Result = ParseResult(string(g.Outcome()))
	if rec.Result == Unknown {
		rec.Result = ParseResult(tags["Result"])
	}
	return rec
}

// recordingReader keeps the first error of the wrapped reader so it can
// be told apart from a game the scanner failed to decode.
type recordingReader struct {
	r   io.Reader
	err error
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && err != io.EOF && rr.err == nil {
		rr.err = err
	}
	return n, err
}
