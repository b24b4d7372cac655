// Package tree holds the opening tree: an arena of move-path nodes built
// from a game corpus, merged across shards and pruned before evaluation.
package tree

import (
	"fmt"

	"github.com/notnil/chess"

	"expectree/internal/corpus"
)

// NodeID addresses a node inside one Tree's arena.
type NodeID int32

const (
	Root NodeID = 0
	None NodeID = -1
)

// Node is a position reached by a specific move path. Two move orders that
// transpose into the same board stay separate nodes.
type Node struct {
	Move      string // SAN of the move leading here, empty at the root
	Parent    NodeID
	Turn      chess.Color // side to move at this node
	Visits    int64       // games passing through
	Ends      int64       // games whose recorded path stops here
	WhiteWins int64
	BlackWins int64
	Draws     int64
	Children  []NodeID // first-seen order
}

func (n *Node) record(res corpus.Result) {
	n.Visits++
	switch res {
	case corpus.WhiteWin:
		n.WhiteWins++
	case corpus.BlackWin:
		n.BlackWins++
	case corpus.Draw:
		n.Draws++
	}
}

func (n *Node) add(o *Node) {
	n.Visits += o.Visits
	n.Ends += o.Ends
	n.WhiteWins += o.WhiteWins
	n.BlackWins += o.BlackWins
	n.Draws += o.Draws
}

type edge struct {
	parent NodeID
	move   string
}

type Tree struct {
	nodes  []Node
	index  map[edge]NodeID
	frozen bool
}

func New() *Tree {
	t := &Tree{index: make(map[edge]NodeID)}
	t.nodes = append(t.nodes, Node{Parent: None, Turn: chess.White})
	return t
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node stored at id. The result must be treated as
// read-only.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// Games is the number of games folded into the tree.
func (t *Tree) Games() int64 {
	return t.nodes[Root].Visits
}

func (t *Tree) Frozen() bool {
	return t.frozen
}

// Child looks up the child of id reached by move.
func (t *Tree) Child(id NodeID, move string) (NodeID, bool) {
	c, ok := t.index[edge{id, move}]
	return c, ok
}

// Path returns the moves leading from the root to id.
func (t *Tree) Path(id NodeID) []string {
	var path []string
	for id != Root && id != None {
		path = append(path, t.nodes[id].Move)
		id = t.nodes[id].Parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// child returns the child of id for move, creating it when missing.
func (t *Tree) child(id NodeID, move string) (NodeID, bool) {
	if existing, ok := t.index[edge{id, move}]; ok {
		return existing, false
	}
	c := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		Move:   move,
		Parent: id,
		Turn:   t.nodes[id].Turn.Other(),
	})
	t.nodes[id].Children = append(t.nodes[id].Children, c)
	t.index[edge{id, move}] = c
	return c, true
}

// CheckInvariant verifies Visits == sum(children.Visits) + Ends at every
// node.
func (t *Tree) CheckInvariant() error {
	for i := range t.nodes {
		n := &t.nodes[i]
		sum := n.Ends
		for _, c := range n.Children {
			sum += t.nodes[c].Visits
		}
		if sum != n.Visits {
			return fmt.Errorf("node %d (%v): visits %d, children+ends %d", i, t.Path(NodeID(i)), n.Visits, sum)
		}
	}
	return nil
}
