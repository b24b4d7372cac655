package tree

import (
	"context"
	"strings"
	"testing"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/require"

	"expectree/internal/corpus"
)

func game(moves string, res corpus.Result) corpus.Record {
	return corpus.Record{Moves: strings.Fields(moves), Result: res}
}

func build(t *testing.T, recs []corpus.Record, opts ...Option) *Tree {
	t.Helper()
	b := NewBuilder(opts...)
	_, err := b.Consume(context.Background(), corpus.FromRecords(recs...))
	require.NoError(t, err)
	return b.Tree()
}

func TestBuilderCountsAndTallies(t *testing.T) {
	tr := build(t, []corpus.Record{
		game("e4 e5 Nf3", corpus.WhiteWin),
		game("e4 e5 Bc4", corpus.Draw),
		game("e4 c5", corpus.BlackWin),
		game("d4", corpus.Unknown),
	})

	require.EqualValues(t, 4, tr.Games())
	root := tr.Node(Root)
	require.Equal(t, chess.White, root.Turn)
	require.EqualValues(t, 1, root.WhiteWins)
	require.EqualValues(t, 1, root.Draws)
	require.EqualValues(t, 1, root.BlackWins)

	e4, ok := tr.Child(Root, "e4")
	require.True(t, ok)
	require.EqualValues(t, 3, tr.Node(e4).Visits)
	require.Equal(t, chess.Black, tr.Node(e4).Turn)

	e5, ok := tr.Child(e4, "e5")
	require.True(t, ok)
	require.EqualValues(t, 2, tr.Node(e5).Visits)
	require.Equal(t, []string{"e4", "e5"}, tr.Path(e5))

	d4, ok := tr.Child(Root, "d4")
	require.True(t, ok)
	require.EqualValues(t, 1, tr.Node(d4).Ends)

	require.Equal(t, []string{"e4", "d4"}, movesOf(tr, tr.Node(Root).Children))
	require.NoError(t, tr.CheckInvariant())
}

func TestBuilderCanonicalisesSAN(t *testing.T) {
	tr := build(t, []corpus.Record{
		game("e4 e5 Nf3", corpus.WhiteWin),
		game("e4 e5 Nf3!", corpus.WhiteWin),
	})
	e4, ok := tr.Child(Root, "e4")
	require.True(t, ok)
	e5, _ := tr.Child(e4, "e5")
	require.Len(t, tr.Node(e5).Children, 1)
	require.NoError(t, tr.CheckInvariant())
}

func TestBuilderRejectsMalformedRecord(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(game("e4 e5", corpus.Draw)))
	before := b.tree.Len()

	err := b.Add(game("e4 e5 Ke3", corpus.WhiteWin))
	require.ErrorIs(t, err, ErrMalformedRecord)
	require.Equal(t, before, b.tree.Len())
	require.EqualValues(t, 1, b.tree.Games())

	stats, err := b.Consume(context.Background(), corpus.FromRecords(
		game("d4 d5", corpus.Draw),
		game("zz9", corpus.Draw),
	))
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Games)
	require.EqualValues(t, 2, stats.Skipped)
	require.NoError(t, b.Tree().CheckInvariant())
}

func TestBuilderMaxPlies(t *testing.T) {
	tr := build(t, []corpus.Record{
		game("e4 e5 Nf3 Nc6 Bb5", corpus.WhiteWin),
	}, WithMaxPlies(2))
	e4, _ := tr.Child(Root, "e4")
	e5, ok := tr.Child(e4, "e5")
	require.True(t, ok)
	require.Empty(t, tr.Node(e5).Children)
	require.EqualValues(t, 1, tr.Node(e5).Ends)
	require.Equal(t, 3, tr.Len())
}

func TestBuilderNewNodesPerGame(t *testing.T) {
	tr := build(t, []corpus.Record{
		game("e4 e5 Nf3 Nc6", corpus.WhiteWin),
		game("e4 e5 Nf3 Nc6 Bb5 a6", corpus.Draw),
	}, WithNewNodesPerGame(1))

	// first game adds e4 only, the second extends through e5
	e4, _ := tr.Child(Root, "e4")
	e5, ok := tr.Child(e4, "e5")
	require.True(t, ok)
	require.Empty(t, tr.Node(e5).Children)
	require.EqualValues(t, 1, tr.Node(e4).Ends)
	require.EqualValues(t, 1, tr.Node(e5).Ends)
	require.NoError(t, tr.CheckInvariant())
}

func TestBuilderFrozen(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(game("e4", corpus.Draw)))
	tr := b.Tree()
	require.True(t, tr.Frozen())
	require.ErrorIs(t, b.Add(game("d4", corpus.Draw)), ErrFrozen)
}

func TestBuilderConsumeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder().Consume(ctx, corpus.FromRecords(game("e4", corpus.Draw)))
	require.ErrorIs(t, err, context.Canceled)
}

func TestTranspositionsStaySeparate(t *testing.T) {
	tr := build(t, []corpus.Record{
		game("Nf3 Nf6 Nc3 Nc6", corpus.Draw),
		game("Nc3 Nc6 Nf3 Nf6", corpus.Draw),
	})
	require.Equal(t, 9, tr.Len())
	require.NoError(t, tr.CheckInvariant())
}

func movesOf(tr *Tree, ids []NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = tr.Node(id).Move
	}
	return out
}
