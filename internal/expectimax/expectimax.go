// Package expectimax scores a pruned opening tree: the optimizer picks its
// best move, the opponent replies as often as the corpus says it does.
package expectimax

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/notnil/chess"
	"golang.org/x/sync/errgroup"

	"expectree/internal/evaluator"
	"expectree/internal/position"
	"expectree/internal/tree"
)

var ErrRootUnevaluated = errors.New("root could not be evaluated")

// Evaluator scores one leaf request.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluator.Request) evaluator.Result
}

// LeafRequests lists one request per retained leaf, most visited first.
func LeafRequests(p *tree.Pruned, budget time.Duration) ([]evaluator.Request, error) {
	var reqs []evaluator.Request
	err := p.Walk(func(id tree.NodeID, pos *chess.Position) error {
		if len(p.Children(id)) == 0 {
			reqs = append(reqs, evaluator.Request{Node: id, Key: position.Key(pos), Budget: budget})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		return p.Node(reqs[i].Node).Visits > p.Node(reqs[j].Node).Visits
	})
	return reqs, nil
}

// EvaluateLeaves evaluates each distinct key once on at most workers
// goroutines and hands every node its result. Failed evaluations are
// results, not errors; only cancellation aborts.
func EvaluateLeaves(ctx context.Context, ev Evaluator, reqs []evaluator.Request, workers int, onResult func(evaluator.Result)) (map[tree.NodeID]evaluator.Result, error) {
	if workers <= 0 {
		workers = 1
	}
	var unique []evaluator.Request
	nodes := make(map[string][]tree.NodeID)
	for _, r := range reqs {
		if _, seen := nodes[r.Key]; !seen {
			unique = append(unique, r)
		}
		nodes[r.Key] = append(nodes[r.Key], r.Node)
	}

	out := make(map[tree.NodeID]evaluator.Result, len(reqs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, r := range unique {
		if gctx.Err() != nil {
			break
		}
		r := r
		g.Go(func() error {
			res := ev.Evaluate(gctx, r)
			mu.Lock()
			defer mu.Unlock()
			for _, id := range nodes[r.Key] {
				res.Node = id
				out[id] = res
				if onResult != nil {
					onResult(res)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Propagate combines leaf results bottom-up. Nodes are visited in reverse
// pre-order, so every child is scored before its parent. A node whose
// retained children all failed fails in turn; a failed root returns the
// partial analysis with ErrRootUnevaluated.
func Propagate(p *tree.Pruned, color chess.Color, leaves map[tree.NodeID]evaluator.Result) (*Analysis, error) {
	n := p.Tree().Len()
	a := &Analysis{
		p:      p,
		color:  color,
		scores: make([]float64, n),
		failed: make([]bool, n),
		best:   make([]tree.NodeID, n),
		errs:   make(map[tree.NodeID]error),
	}
	order := p.Nodes()
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		a.best[id] = tree.None
		kids := p.Children(id)
		if len(kids) == 0 {
			res, ok := leaves[id]
			switch {
			case !ok:
				a.fail(id, errors.New("leaf not evaluated"))
			case res.Err != nil:
				a.fail(id, res.Err)
			default:
				a.scores[id] = res.Score
			}
			continue
		}
		if p.Node(id).Turn == color {
			a.maximize(id, kids)
		} else {
			a.average(id, kids)
		}
	}
	if a.failed[tree.Root] {
		return a, fmt.Errorf("%w: %v", ErrRootUnevaluated, a.errs[tree.Root])
	}
	return a, nil
}

func (a *Analysis) fail(id tree.NodeID, err error) {
	a.failed[id] = true
	a.errs[id] = err
}

func (a *Analysis) maximize(id tree.NodeID, kids []tree.NodeID) {
	best := tree.None
	for _, c := range kids {
		if a.failed[c] {
			continue
		}
		if best == tree.None || a.better(c, best) {
			best = c
		}
	}
	if best == tree.None {
		a.fail(id, errors.New("every reply failed"))
		return
	}
	a.best[id] = best
	a.scores[id] = a.scores[best]
}

// better orders candidates by score, then visits, then first appearance.
func (a *Analysis) better(c, best tree.NodeID) bool {
	if a.scores[c] != a.scores[best] {
		return a.scores[c] > a.scores[best]
	}
	vc, vb := a.p.Node(c).Visits, a.p.Node(best).Visits
	if vc != vb {
		return vc > vb
	}
	return c < best
}

func (a *Analysis) average(id tree.NodeID, kids []tree.NodeID) {
	var sum float64
	var weight int64
	for _, c := range kids {
		if a.failed[c] {
			continue
		}
		v := a.p.Node(c).Visits
		sum += float64(v) * a.scores[c]
		weight += v
	}
	if weight == 0 {
		a.fail(id, errors.New("every reply failed"))
		return
	}
	a.scores[id] = sum / float64(weight)
}

// Options configure Run.
type Options struct {
	Budget   time.Duration
	Workers  int
	OnResult func(evaluator.Result)
}

// Run evaluates every leaf of p and propagates the results.
func Run(ctx context.Context, p *tree.Pruned, color chess.Color, ev Evaluator, opts Options) (*Analysis, error) {
	reqs, err := LeafRequests(p, opts.Budget)
	if err != nil {
		return nil, err
	}
	leaves, err := EvaluateLeaves(ctx, ev, reqs, opts.Workers, opts.OnResult)
	if err != nil {
		return nil, err
	}
	a, err := Propagate(p, color, leaves)
	if a != nil {
		a.stats = summarize(reqs, leaves)
	}
	return a, err
}
