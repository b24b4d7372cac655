package tree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notnil/chess"
)

var (
	ErrEmptyTree = errors.New("tree has no games")
	ErrNotFrozen = errors.New("tree is still being built")
)

// PruneOptions bound the breadth of the evaluated tree.
type PruneOptions struct {
	// Breadth keeps at most this many children per node; 0 keeps all.
	Breadth int
	// MinShare drops children played in less than this fraction of the
	// parent's games.
	MinShare float64
	// MinVisits stops expansion: a non-root node with fewer visits keeps no
	// children and is evaluated as a leaf.
	MinVisits int64
}

// Pruned is a read-only view of the retained part of a frozen tree.
type Pruned struct {
	tree  *Tree
	opts  PruneOptions
	kids  map[NodeID][]NodeID
	order []NodeID
	in    map[NodeID]struct{}
}

// Prune selects, at every node, the most played children. Children are
// ranked by visits with ties going to the move seen first; the top-ranked
// child always survives, so no dropped sibling is ever more frequent than a
// kept one.
func Prune(t *Tree, opts PruneOptions) (*Pruned, error) {
	if !t.frozen {
		return nil, ErrNotFrozen
	}
	if t.Games() == 0 {
		return nil, ErrEmptyTree
	}
	if opts.Breadth < 0 || opts.MinShare < 0 || opts.MinShare >= 1 {
		return nil, fmt.Errorf("invalid prune options %+v", opts)
	}

	p := &Pruned{
		tree: t,
		opts: opts,
		kids: make(map[NodeID][]NodeID),
		in:   make(map[NodeID]struct{}),
	}
	stack := []NodeID{Root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p.order = append(p.order, id)
		p.in[id] = struct{}{}

		kept := retain(t, id, opts)
		if len(kept) == 0 {
			continue
		}
		p.kids[id] = kept
		for i := len(kept) - 1; i >= 0; i-- {
			stack = append(stack, kept[i])
		}
	}
	return p, nil
}

func retain(t *Tree, id NodeID, opts PruneOptions) []NodeID {
	n := &t.nodes[id]
	if len(n.Children) == 0 {
		return nil
	}
	if id != Root && opts.MinVisits > 0 && n.Visits < opts.MinVisits {
		return nil
	}

	ranked := append([]NodeID(nil), n.Children...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return t.nodes[ranked[i]].Visits > t.nodes[ranked[j]].Visits
	})
	if opts.Breadth > 0 && len(ranked) > opts.Breadth {
		ranked = ranked[:opts.Breadth]
	}
	if opts.MinShare > 0 {
		keep := 1
		for keep < len(ranked) && float64(t.nodes[ranked[keep]].Visits)/float64(n.Visits) >= opts.MinShare {
			keep++
		}
		ranked = ranked[:keep]
	}
	return ranked
}

func (p *Pruned) Tree() *Tree {
	return p.tree
}

func (p *Pruned) Options() PruneOptions {
	return p.opts
}

func (p *Pruned) Node(id NodeID) *Node {
	return p.tree.Node(id)
}

// Children returns the retained children of id, most played first.
func (p *Pruned) Children(id NodeID) []NodeID {
	return p.kids[id]
}

// Nodes lists retained nodes in pre-order.
func (p *Pruned) Nodes() []NodeID {
	return p.order
}

// Leaves lists retained nodes without retained children, in pre-order.
func (p *Pruned) Leaves() []NodeID {
	var out []NodeID
	for _, id := range p.order {
		if len(p.kids[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

func (p *Pruned) Contains(id NodeID) bool {
	_, ok := p.in[id]
	return ok
}

func (p *Pruned) Len() int {
	return len(p.order)
}

// Walk visits retained nodes in pre-order together with their positions.
func (p *Pruned) Walk(fn func(id NodeID, pos *chess.Position) error) error {
	type item struct {
		id  NodeID
		pos *chess.Position
	}
	notation := chess.AlgebraicNotation{}
	stack := []item{{Root, chess.StartingPosition()}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := fn(it.id, it.pos); err != nil {
			return err
		}
		kids := p.kids[it.id]
		for i := len(kids) - 1; i >= 0; i-- {
			c := kids[i]
			mv, err := notation.Decode(it.pos, p.tree.nodes[c].Move)
			if err != nil {
				return fmt.Errorf("replay %v: %w", p.tree.Path(c), err)
			}
			stack = append(stack, item{c, it.pos.Update(mv)})
		}
	}
	return nil
}
