package tree

// Merge combines shard trees into a new frozen tree: counts are summed and
// children are matched by move. Sibling order follows first appearance
// across trees in argument order. The inputs are not modified.
func Merge(trees ...*Tree) *Tree {
	out := New()
	type pair struct{ dst, src NodeID }
	for _, src := range trees {
		if src == nil {
			continue
		}
		stack := []pair{{Root, Root}}
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			sn := &src.nodes[p.src]
			out.nodes[p.dst].add(sn)
			for _, c := range sn.Children {
				dc, _ := out.child(p.dst, src.nodes[c].Move)
				stack = append(stack, pair{dc, c})
			}
		}
	}
	out.frozen = true
	return out
}
