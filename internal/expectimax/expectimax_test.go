package expectimax

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/require"

	"expectree/internal/corpus"
	"expectree/internal/evaluator"
	"expectree/internal/position"
	"expectree/internal/tree"
)

type stub struct {
	mu     sync.Mutex
	scores map[string]float64
	fail   map[string]bool
	calls  map[string]int
}

func newStub() *stub {
	return &stub{scores: map[string]float64{}, fail: map[string]bool{}, calls: map[string]int{}}
}

func (s *stub) set(moves string, score float64) *stub {
	s.scores[keyAfter(moves)] = score
	return s
}

func (s *stub) failing(moves string) *stub {
	s.fail[keyAfter(moves)] = true
	return s
}

func (s *stub) Evaluate(ctx context.Context, req evaluator.Request) evaluator.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Key]++
	res := evaluator.Result{Node: req.Node, Key: req.Key}
	if s.fail[req.Key] {
		res.Err = evaluator.ErrUnevaluated
		return res
	}
	score, ok := s.scores[req.Key]
	if !ok {
		res.Err = errors.New("unscripted position")
		return res
	}
	res.Score = score
	return res
}

func keyAfter(moves string) string {
	g := chess.NewGame()
	for _, mv := range strings.Fields(moves) {
		if err := g.MoveStr(mv); err != nil {
			panic(err)
		}
	}
	return position.Key(g.Position())
}

type games map[string]int

func prune(t *testing.T, gs games, order []string, opts tree.PruneOptions) *tree.Pruned {
	t.Helper()
	b := tree.NewBuilder()
	for _, moves := range order {
		for i := 0; i < gs[moves]; i++ {
			require.NoError(t, b.Add(corpus.Record{Moves: strings.Fields(moves), Result: corpus.Draw}))
		}
	}
	p, err := tree.Prune(b.Tree(), opts)
	require.NoError(t, err)
	return p
}

func node(t *testing.T, p *tree.Pruned, moves string) tree.NodeID {
	t.Helper()
	id := tree.Root
	for _, mv := range strings.Fields(moves) {
		var ok bool
		id, ok = p.Tree().Child(id, mv)
		require.True(t, ok, moves)
	}
	return id
}

func run(t *testing.T, p *tree.Pruned, color chess.Color, ev Evaluator) *Analysis {
	t.Helper()
	a, err := Run(context.Background(), p, color, ev, Options{Workers: 3})
	require.NoError(t, err)
	return a
}

func TestOpponentNodeWeightsReplies(t *testing.T) {
	p := prune(t, games{"e4 e5": 6, "e4 c5": 2}, []string{"e4 e5", "e4 c5"}, tree.PruneOptions{})
	ev := newStub().set("e4 e5", 0.50).set("e4 c5", 0.30)

	a := run(t, p, chess.White, ev)
	e4 := node(t, p, "e4")
	require.InDelta(t, 0.45, a.Score(e4), 1e-9)
	require.InDelta(t, 0.45, a.Score(tree.Root), 1e-9)
	require.Equal(t, e4, a.Best(tree.Root))
	require.Equal(t, tree.None, a.Best(e4))
	require.InDelta(t, 0.75, a.Fraction(e4, node(t, p, "e4 e5")), 1e-12)
	require.Equal(t, []string{"e4", "e5"}, a.Moves(a.PrincipalLine()))
	require.Equal(t, Stats{Leaves: 2, Unique: 2}, a.Stats())
}

func TestOptimizerNodePicksBest(t *testing.T) {
	p := prune(t, games{"e4 e5 Bc4": 3, "e4 e5 Nf3": 2}, []string{"e4 e5 Bc4", "e4 e5 Nf3"}, tree.PruneOptions{})
	ev := newStub().set("e4 e5 Nf3", 0.55).set("e4 e5 Bc4", 0.40)

	a := run(t, p, chess.White, ev)
	e5 := node(t, p, "e4 e5")
	require.InDelta(t, 0.55, a.Score(e5), 1e-12)
	require.Equal(t, "Nf3", p.Node(a.Best(e5)).Move)
	require.Equal(t, []string{"e4", "e5", "Nf3"}, a.Moves(a.PrincipalLine()))
}

func TestBlackOptimizer(t *testing.T) {
	p := prune(t, games{"e4 e5": 1, "e4 c5": 3}, []string{"e4 e5", "e4 c5"}, tree.PruneOptions{})
	ev := newStub().set("e4 e5", 0.7).set("e4 c5", 0.4)

	a := run(t, p, chess.Black, ev)
	e4 := node(t, p, "e4")
	require.InDelta(t, 0.7, a.Score(e4), 1e-12)
	require.Equal(t, "e5", p.Node(a.Best(e4)).Move)
	// white's only move is averaged
	require.InDelta(t, 0.7, a.Score(tree.Root), 1e-12)
}

func TestTieBreaks(t *testing.T) {
	p := prune(t, games{"e4 e5 Nf3": 1, "e4 e5 Bc4": 2, "e4 e5 Nc3": 2}, []string{"e4 e5 Nf3", "e4 e5 Bc4", "e4 e5 Nc3"}, tree.PruneOptions{})
	ev := newStub().set("e4 e5 Nf3", 0.5).set("e4 e5 Bc4", 0.5).set("e4 e5 Nc3", 0.5)
	a := run(t, p, chess.White, ev)
	// Nf3 has fewer visits; Bc4 and Nc3 tie and Bc4 was seen first
	require.Equal(t, "Bc4", p.Node(a.Best(node(t, p, "e4 e5"))).Move)
}

func TestFailedBranchEqualsPrunedBranch(t *testing.T) {
	order := []string{"e4 e5", "e4 c5", "e4 e6"}
	full := prune(t, games{"e4 e5": 6, "e4 c5": 2, "e4 e6": 3}, order, tree.PruneOptions{})
	without := prune(t, games{"e4 e5": 6, "e4 e6": 3}, order, tree.PruneOptions{})

	ev := newStub().set("e4 e5", 0.52).set("e4 e6", 0.61).failing("e4 c5")
	a := run(t, full, chess.White, ev)
	b := run(t, without, chess.White, ev)

	require.True(t, a.Failed(node(t, full, "e4 c5")))
	require.InDelta(t, b.Score(tree.Root), a.Score(tree.Root), 1e-9)
	require.Zero(t, a.Fraction(node(t, full, "e4"), node(t, full, "e4 c5")))
	require.InDelta(t, 6.0/9.0, a.Fraction(node(t, full, "e4"), node(t, full, "e4 e5")), 1e-12)
	require.Equal(t, 1, a.Stats().Failed)
}

func TestRootUnevaluated(t *testing.T) {
	p := prune(t, games{"e4 e5": 2, "d4 d5": 1}, []string{"e4 e5", "d4 d5"}, tree.PruneOptions{})
	ev := newStub().failing("e4 e5").failing("d4 d5")
	a, err := Run(context.Background(), p, chess.White, ev, Options{})
	require.ErrorIs(t, err, ErrRootUnevaluated)
	require.NotNil(t, a)
	require.True(t, a.Failed(tree.Root))
	require.Empty(t, a.PrincipalLine())
}

func TestWeightedAverageMatchesDirectSum(t *testing.T) {
	gs := games{"d4 d5": 7, "d4 Nf6": 11, "d4 e6": 3, "d4 f5": 1, "d4 c5": 5}
	order := []string{"d4 d5", "d4 Nf6", "d4 e6", "d4 f5", "d4 c5"}
	p := prune(t, gs, order, tree.PruneOptions{Breadth: 4})
	ev := newStub()
	scores := map[string]float64{"d4 d5": 0.51, "d4 Nf6": 0.537, "d4 e6": 0.49, "d4 f5": 0.7, "d4 c5": 0.63}
	for m, s := range scores {
		ev.set(m, s)
	}
	a := run(t, p, chess.White, ev)

	// f5 is pruned by breadth
	var num, den float64
	for _, m := range []string{"d4 d5", "d4 Nf6", "d4 e6", "d4 c5"} {
		num += float64(gs[m]) * scores[m]
		den += float64(gs[m])
	}
	require.InDelta(t, num/den, a.Score(node(t, p, "d4")), 1e-9)
	require.Equal(t, 4, a.Stats().Leaves)
}

func TestLeafRequestsOrderAndDedup(t *testing.T) {
	order := []string{"Nf3 Nf6 Nc3 Nc6", "Nc3 Nc6 Nf3 Nf6", "e4"}
	p := prune(t, games{"Nf3 Nf6 Nc3 Nc6": 1, "Nc3 Nc6 Nf3 Nf6": 2, "e4": 5}, order, tree.PruneOptions{})

	reqs, err := LeafRequests(p, 0)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	require.Equal(t, keyAfter("e4"), reqs[0].Key)
	require.Equal(t, reqs[1].Key, reqs[2].Key)
	require.Equal(t, node(t, p, "Nc3 Nc6 Nf3 Nf6"), reqs[1].Node)

	ev := newStub().set("e4", 0.5).set("Nf3 Nf6 Nc3 Nc6", 0.6)
	var seen []tree.NodeID
	var mu sync.Mutex
	leaves, err := EvaluateLeaves(context.Background(), ev, reqs, 2, func(r evaluator.Result) {
		mu.Lock()
		seen = append(seen, r.Node)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, leaves, 3)
	require.Len(t, seen, 3)
	require.Equal(t, 1, ev.calls[keyAfter("Nf3 Nf6 Nc3 Nc6")])
	require.Equal(t, 0.6, leaves[node(t, p, "Nf3 Nf6 Nc3 Nc6")].Score)
	require.Equal(t, 0.6, leaves[node(t, p, "Nc3 Nc6 Nf3 Nf6")].Score)
}

func TestEvaluateLeavesCancelled(t *testing.T) {
	p := prune(t, games{"e4": 1}, []string{"e4"}, tree.PruneOptions{})
	reqs, err := LeafRequests(p, 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EvaluateLeaves(ctx, newStub(), reqs, 1, nil)
	require.ErrorIs(t, err, context.Canceled)
}
