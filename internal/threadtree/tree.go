// Package threadtree rebuilds nested comment and reply threads from flat,
// parent-pointer linked records.
package threadtree

import (
	"bytes"
	"encoding/json"
)

// Node wraps one item together with its direct children. Children keep the
// relative order the items had in the input.
type Node[T any] struct {
	Item     T
	Children []*Node[T]
}

// KeyFunc returns the identity of an item and the identity of its parent.
// An empty parentID marks a top-level item.
type KeyFunc[T any] func(item T) (id, parentID string)

const (
	unvisited = iota
	visiting
	settled
)

// Build converts items into a forest in two passes: every item gets a node
// first, then nodes are linked to their parents in input order. Items whose
// parent is missing from the input are placed at top-level. Items whose
// parent chain loops back on itself (a self-reference is the shortest such
// loop) are also placed at top-level, so every item appears exactly once.
//
// Items sharing an id are all kept; parent lookups resolve to the first of
// them. Build never mutates items.
func Build[T any](items []T, key KeyFunc[T]) []*Node[T] {
	forest := make([]*Node[T], 0)
	if len(items) == 0 {
		return forest
	}

	nodes := make([]*Node[T], len(items))
	ids := make([]string, len(items))
	parents := make([]string, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		id, parentID := key(item)
		nodes[i] = &Node[T]{Item: item, Children: make([]*Node[T], 0)}
		ids[i] = id
		parents[i] = parentID
		if _, exists := index[id]; !exists {
			index[id] = i
		}
	}

	parentOf := func(i int) (int, bool) {
		if parents[i] == "" {
			return 0, false
		}
		p, ok := index[parents[i]]
		return p, ok
	}

	cut := breakCycles(len(items), parentOf)

	for i := range items {
		p, ok := parentOf(i)
		if !ok || cut[i] {
			forest = append(forest, nodes[i])
			continue
		}
		nodes[p].Children = append(nodes[p].Children, nodes[i])
	}
	return forest
}

// breakCycles walks each parent chain once and marks, for every loop found,
// the node at which the walk re-entered the loop. Marked nodes are treated
// as roots.
func breakCycles(n int, parentOf func(int) (int, bool)) []bool {
	state := make([]uint8, n)
	cut := make([]bool, n)
	path := make([]int, 0, 16)

	for start := 0; start < n; start++ {
		if state[start] != unvisited {
			continue
		}
		path = path[:0]
		current := start
		for {
			state[current] = visiting
			path = append(path, current)
			next, ok := parentOf(current)
			if !ok || state[next] == settled {
				break
			}
			if state[next] == visiting {
				cut[next] = true
				break
			}
			current = next
		}
		for _, i := range path {
			state[i] = settled
		}
	}
	return cut
}

// Count returns the number of nodes reachable from the forest.
func Count[T any](forest []*Node[T]) int {
	total := 0
	Walk(forest, func(*Node[T], int) { total++ })
	return total
}

// Walk visits every node in pre-order, depth first, passing the node depth
// (roots are depth 0). It uses an explicit stack.
func Walk[T any](forest []*Node[T], visit func(node *Node[T], depth int)) {
	type frame struct {
		node  *Node[T]
		depth int
	}
	stack := make([]frame, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: forest[i]})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(top.node, top.depth)
		for i := len(top.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: top.node.Children[i], depth: top.depth + 1})
		}
	}
}

// MarshalJSON encodes the node as its item's JSON object with an extra
// "replies" member holding the children. Items that do not encode to a JSON
// object are wrapped as {"item": ..., "replies": [...]}. Encoding recurses
// once per level, so callers bound the depth.
func (n *Node[T]) MarshalJSON() ([]byte, error) {
	item, err := json.Marshal(n.Item)
	if err != nil {
		return nil, err
	}
	children := n.Children
	if children == nil {
		children = []*Node[T]{}
	}
	replies, err := json.Marshal(children)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(item)
	if len(trimmed) < 2 || trimmed[0] != '{' {
		var buf bytes.Buffer
		buf.WriteString(`{"item":`)
		buf.Write(item)
		buf.WriteString(`,"replies":`)
		buf.Write(replies)
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}

	var buf bytes.Buffer
	body := bytes.TrimSpace(trimmed[1 : len(trimmed)-1])
	buf.WriteByte('{')
	if len(body) > 0 {
		buf.Write(body)
		buf.WriteByte(',')
	}
	buf.WriteString(`"replies":`)
	buf.Write(replies)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
