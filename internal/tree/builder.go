package tree

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/notnil/chess"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"expectree/internal/corpus"
)

var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrFrozen          = errors.New("tree is frozen")
)

var recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "expectree_corpus_records_total",
	Help: "Corpus records seen by tree builders, by outcome",
}, []string{"outcome"})

// Options shape the tree a Builder grows.
type Options struct {
	// MaxPlies truncates every game; 0 keeps whole games.
	MaxPlies int
	// NewNodesPerGame caps how many unseen nodes a single game may add.
	// The walk stops at the cap and the game is recorded as ending there.
	// 0 means no cap.
	NewNodesPerGame int
}

func DefaultOptions() Options {
	return Options{MaxPlies: 16}
}

// Fingerprint identifies the options in tree snapshots.
func (o Options) Fingerprint() string {
	return fmt.Sprintf("plies=%d new=%d", o.MaxPlies, o.NewNodesPerGame)
}

type Option func(*Options)

func WithMaxPlies(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxPlies = n
		}
	}
}

func WithNewNodesPerGame(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.NewNodesPerGame = n
		}
	}
}

type Stats struct {
	Games   int64
	Skipped int64
}

// Builder folds records into a Tree it owns exclusively until Tree is
// called. Builders share no state, so shards can be built in parallel and
// combined with Merge.
type Builder struct {
	tree  *Tree
	opts  Options
	start *chess.Position
	stats Stats
	log   zerolog.Logger
}

func NewBuilder(opts ...Option) *Builder {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Builder{
		tree:  New(),
		opts:  o,
		start: chess.StartingPosition(),
		log:   zerolog.Nop(),
	}
}

// WithLogger sets the logger used by Consume.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.log = l
	return b
}

func (b *Builder) Options() Options {
	return b.opts
}

func (b *Builder) Stats() Stats {
	return b.stats
}

// Add folds one record into the tree. Every move that would enter the tree
// is decoded first; a record with an illegal or unparsable move leaves the
// tree untouched and returns ErrMalformedRecord.
func (b *Builder) Add(rec corpus.Record) error {
	if b.tree.frozen {
		return ErrFrozen
	}
	limit := len(rec.Moves)
	if b.opts.MaxPlies > 0 && limit > b.opts.MaxPlies {
		limit = b.opts.MaxPlies
	}

	notation := chess.AlgebraicNotation{}
	moves := make([]string, 0, limit)
	pos := b.start
	for i := 0; i < limit; i++ {
		mv, err := notation.Decode(pos, rec.Moves[i])
		if err != nil {
			b.stats.Skipped++
			recordsTotal.WithLabelValues("skipped").Inc()
			return fmt.Errorf("%w: ply %d %q: %v", ErrMalformedRecord, i+1, rec.Moves[i], err)
		}
		moves = append(moves, notation.Encode(pos, mv))
		pos = pos.Update(mv)
	}

	t := b.tree
	node := Root
	t.nodes[Root].record(rec.Result)
	created := 0
	for _, san := range moves {
		next, isNew := t.child(node, san)
		node = next
		t.nodes[node].record(rec.Result)
		if isNew {
			created++
			if b.opts.NewNodesPerGame > 0 && created >= b.opts.NewNodesPerGame {
				break
			}
		}
	}
	t.nodes[node].Ends++

	b.stats.Games++
	recordsTotal.WithLabelValues("added").Inc()
	return nil
}

// Consume reads src to the end. Malformed records are skipped; any other
// source error aborts the pass.
func (b *Builder) Consume(ctx context.Context, src corpus.Source) (Stats, error) {
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return b.stats, err
			}
		}
		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return b.stats, fmt.Errorf("read corpus: %w", err)
		}
		if err := b.Add(rec); err != nil {
			if errors.Is(err, ErrMalformedRecord) {
				b.log.Debug().Err(err).Msg("skipping record")
				continue
			}
			return b.stats, err
		}
		if b.stats.Games%100000 == 0 {
			b.log.Info().
				Int64("games", b.stats.Games).
				Int64("skipped", b.stats.Skipped).
				Int("nodes", b.tree.Len()).
				Msg("games processed")
		}
	}
	return b.stats, nil
}

// Tree freezes and returns the built tree.
func (b *Builder) Tree() *Tree {
	b.tree.frozen = true
	return b.tree
}
