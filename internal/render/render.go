// Package render prints and exports scored opening trees.
package render

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/notnil/chess"

	"expectree/internal/expectimax"
	"expectree/internal/tree"
)

type candidate struct {
	id     tree.NodeID
	reach  float64
	visits int64
}

type queue []candidate

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].reach != q[j].reach {
		return q[i].reach > q[j].reach
	}
	if q[i].visits != q[j].visits {
		return q[i].visits > q[j].visits
	}
	return q[i].id < q[j].id
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(candidate)) }
func (q *queue) Pop() any {
	old := *q
	c := old[len(old)-1]
	*q = old[:len(old)-1]
	return c
}

// next lists the children shown below id: the chosen move at optimizer
// nodes, every scored reply at opponent nodes.
func next(a *expectimax.Analysis, id tree.NodeID) []tree.NodeID {
	if best := a.Best(id); best != tree.None {
		return []tree.NodeID{best}
	}
	var out []tree.NodeID
	for _, c := range a.Pruned().Children(id) {
		if !a.Failed(c) {
			out = append(out, c)
		}
	}
	return out
}

func push(q *queue, a *expectimax.Analysis, id tree.NodeID, reach float64) {
	p := a.Pruned()
	for _, c := range next(a, id) {
		r := reach
		if a.Best(id) == tree.None {
			r *= a.Fraction(id, c)
		}
		heap.Push(q, candidate{id: c, reach: r, visits: p.Node(c).Visits})
	}
}

// Select picks up to n nodes below the root, most likely to be reached
// first. A node only becomes eligible once its parent is selected.
func Select(a *expectimax.Analysis, n int) map[tree.NodeID]float64 {
	picked := make(map[tree.NodeID]float64)
	if a.Failed(tree.Root) {
		return picked
	}
	q := &queue{}
	push(q, a, tree.Root, 1)
	for len(picked) < n && q.Len() > 0 {
		c := heap.Pop(q).(candidate)
		picked[c.id] = c.reach
		push(q, a, c.id, c.reach)
	}
	return picked
}

// Text writes the n most likely nodes as an indented tree.
func Text(w io.Writer, a *expectimax.Analysis, n int) error {
	picked := Select(a, n)
	side := "white"
	if a.Color() == chess.Black {
		side = "black"
	}
	if a.Failed(tree.Root) {
		_, err := fmt.Fprintf(w, "no evaluation (%s)\n", side)
		return err
	}
	if _, err := fmt.Fprintf(w, "expected score %.3f for %s\n", a.Score(tree.Root), side); err != nil {
		return err
	}

	type frame struct {
		id    tree.NodeID
		depth int
	}
	var stack []frame
	kids := next(a, tree.Root)
	for i := len(kids) - 1; i >= 0; i-- {
		if _, ok := picked[kids[i]]; ok {
			stack = append(stack, frame{kids[i], 1})
		}
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, err := io.WriteString(w, line(a, f.id, f.depth)); err != nil {
			return err
		}
		kids := next(a, f.id)
		for i := len(kids) - 1; i >= 0; i-- {
			if _, ok := picked[kids[i]]; ok {
				stack = append(stack, frame{kids[i], f.depth + 1})
			}
		}
	}
	return nil
}

func line(a *expectimax.Analysis, id tree.NodeID, ply int) string {
	p := a.Pruned()
	n := p.Node(id)
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", ply))
	if ply%2 == 1 {
		fmt.Fprintf(&b, "%d. %s", (ply+1)/2, n.Move)
	} else {
		fmt.Fprintf(&b, "%d... %s", ply/2, n.Move)
	}
	parent := n.Parent
	if a.Best(parent) == id {
		fmt.Fprintf(&b, "  score %.3f\n", a.Score(id))
	} else {
		fmt.Fprintf(&b, "  (%.0f%%) score %.3f\n", 100*a.Fraction(parent, id), a.Score(id))
	}
	return b.String()
}

// Node is the JSON form of a scored tree node.
type Node struct {
	Move     string   `json:"move,omitempty"`
	Visits   int64    `json:"visits"`
	Score    *float64 `json:"score,omitempty"`
	Fraction float64  `json:"fraction,omitempty"`
	Best     bool     `json:"best,omitempty"`
	Failed   bool     `json:"failed,omitempty"`
	Children []*Node  `json:"children,omitempty"`
}

// Tree converts every retained node of the analysis.
func Tree(a *expectimax.Analysis) *Node {
	p := a.Pruned()
	order := p.Nodes()
	built := make(map[tree.NodeID]*Node, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		n := p.Node(id)
		out := &Node{Move: n.Move, Visits: n.Visits, Failed: a.Failed(id)}
		if !out.Failed {
			s := a.Score(id)
			out.Score = &s
		}
		if id != tree.Root {
			out.Best = a.Best(n.Parent) == id
			if a.Best(n.Parent) == tree.None {
				out.Fraction = a.Fraction(n.Parent, id)
			}
		}
		for _, c := range p.Children(id) {
			out.Children = append(out.Children, built[c])
		}
		built[id] = out
	}
	return built[tree.Root]
}

func WriteJSON(w io.Writer, a *expectimax.Analysis) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Tree(a))
}
