package expectimax

import (
	"github.com/notnil/chess"

	"expectree/internal/evaluator"
	"expectree/internal/tree"
)

// Analysis holds the propagated scores of one pruned tree, from the
// optimizer's point of view.
type Analysis struct {
	p      *tree.Pruned
	color  chess.Color
	scores []float64
	failed []bool
	best   []tree.NodeID
	errs   map[tree.NodeID]error
	stats  Stats
}

// Stats counts the leaf work behind an analysis.
type Stats struct {
	Leaves int `json:"leaves"`
	Unique int `json:"unique"`
	Cached int `json:"cached"`
	Failed int `json:"failed"`
}

func summarize(reqs []evaluator.Request, leaves map[tree.NodeID]evaluator.Result) Stats {
	s := Stats{Leaves: len(reqs)}
	seen := make(map[string]struct{})
	for _, r := range reqs {
		if _, ok := seen[r.Key]; ok {
			continue
		}
		seen[r.Key] = struct{}{}
		s.Unique++
		res, ok := leaves[r.Node]
		switch {
		case !ok || res.Err != nil:
			s.Failed++
		case res.Cached:
			s.Cached++
		}
	}
	return s
}

func (a *Analysis) Pruned() *tree.Pruned {
	return a.p
}

func (a *Analysis) Color() chess.Color {
	return a.color
}

func (a *Analysis) Stats() Stats {
	return a.stats
}

// Score is the expected outcome at id; meaningless when Failed(id).
func (a *Analysis) Score(id tree.NodeID) float64 {
	return a.scores[id]
}

// Failed reports whether id could not be scored, either itself or through
// every one of its retained children.
func (a *Analysis) Failed(id tree.NodeID) bool {
	return !a.p.Contains(id) || a.failed[id]
}

// Err is the reason id failed.
func (a *Analysis) Err(id tree.NodeID) error {
	return a.errs[id]
}

// Best is the chosen child at an optimizer node, None elsewhere.
func (a *Analysis) Best(id tree.NodeID) tree.NodeID {
	if !a.p.Contains(id) {
		return tree.None
	}
	return a.best[id]
}

// Fraction is child's share of the visits among its scored siblings.
func (a *Analysis) Fraction(parent, child tree.NodeID) float64 {
	if a.Failed(child) || a.p.Node(child).Parent != parent {
		return 0
	}
	var total int64
	for _, c := range a.p.Children(parent) {
		if !a.failed[c] {
			total += a.p.Node(c).Visits
		}
	}
	if total == 0 {
		return 0
	}
	return float64(a.p.Node(child).Visits) / float64(total)
}

// PrincipalLine follows the best move at optimizer nodes and the most
// played scored reply at opponent nodes, starting below the root.
func (a *Analysis) PrincipalLine() []tree.NodeID {
	var line []tree.NodeID
	id := tree.Root
	for !a.Failed(id) {
		next := a.best[id]
		if next == tree.None {
			for _, c := range a.p.Children(id) {
				if !a.failed[c] {
					next = c
					break
				}
			}
		}
		if next == tree.None {
			break
		}
		line = append(line, next)
		id = next
	}
	return line
}

// Moves returns the SAN moves of a node sequence.
func (a *Analysis) Moves(ids []tree.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = a.p.Node(id).Move
	}
	return out
}
