package hashring

import (
	"fmt"
	"sort"
)

// table is the sorted hash -> node mapping shared by Ring and Builder.
type table struct {
	hashes []Hash // sorted ascending
	nodes  map[Hash]*Node
	names  map[string]Hash
}

func newTable() table {
	return table{
		hashes: make([]Hash, 0),
		nodes:  make(map[Hash]*Node),
		names:  make(map[string]Hash),
	}
}

func (t *table) clone() table {
	c := table{
		hashes: make([]Hash, len(t.hashes)),
		nodes:  make(map[Hash]*Node, len(t.nodes)),
		names:  make(map[string]Hash, len(t.names)),
	}
	copy(c.hashes, t.hashes)
	for h, n := range t.nodes {
		node := *n
		c.nodes[h] = &node
	}
	for name, h := range t.names {
		c.names[name] = h
	}
	return c
}

// Len returns the number of members.
func (t *table) Len() int {
	return len(t.hashes)
}

// Empty reports whether the ring has no members.
func (t *table) Empty() bool {
	return len(t.hashes) == 0
}

// ceiling returns the index of the smallest member hash >= h, wrapping to 0
// when h is greater than every member hash.
func (t *table) ceiling(h Hash) int {
	idx := sort.Search(len(t.hashes), func(i int) bool {
		return t.hashes[i] >= h
	})
	if idx >= len(t.hashes) {
		idx = 0
	}
	return idx
}

func (t *table) indexOf(h Hash) (int, bool) {
	idx := sort.Search(len(t.hashes), func(i int) bool {
		return t.hashes[i] >= h
	})
	return idx, idx < len(t.hashes) && t.hashes[idx] == h
}

// Owner returns the member owning h. O(log n).
func (t *table) Owner(h Hash) (Node, bool) {
	if len(t.hashes) == 0 {
		return Node{}, false
	}
	return *t.nodes[t.hashes[t.ceiling(h)]], true
}

// OwnerOfKey returns the member owning the hash of key.
func (t *table) OwnerOfKey(key string) (Node, bool) {
	return t.Owner(ComputeHash(key))
}

// Node looks a member up by name.
func (t *table) Node(name string) (Node, bool) {
	h, ok := t.names[name]
	if !ok {
		return Node{}, false
	}
	return *t.nodes[h], true
}

// Contains reports whether name is a member.
func (t *table) Contains(name string) bool {
	_, ok := t.names[name]
	return ok
}

// Nodes returns every member in ring (hash) order.
func (t *table) Nodes() []Node {
	out := make([]Node, 0, len(t.hashes))
	for _, h := range t.hashes {
		out = append(out, *t.nodes[h])
	}
	return out
}

// Names returns member names in ring order.
func (t *table) Names() []string {
	out := make([]string, 0, len(t.hashes))
	for _, h := range t.hashes {
		out = append(out, t.nodes[h].Name)
	}
	return out
}

// Successors returns the members that follow name clockwise, at most one
// full traversal and excluding name itself.
func (t *table) Successors(name string) []Node {
	h, ok := t.names[name]
	if !ok {
		return nil
	}
	idx, _ := t.indexOf(h)
	out := make([]Node, 0, len(t.hashes)-1)
	for i := 1; i < len(t.hashes); i++ {
		out = append(out, *t.nodes[t.hashes[(idx+i)%len(t.hashes)]])
	}
	return out
}

// Ring is an immutable ring snapshot. All methods are safe for concurrent use.
type Ring struct {
	table
}

// New returns an empty ring.
func New() *Ring {
	return &Ring{table: newTable()}
}

// FromNodes builds a ring by inserting nodes in order.
func FromNodes(nodes ...Node) (*Ring, error) {
	b := New().Builder()
	for _, n := range nodes {
		if err := b.AddNode(n); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Builder returns a mutable working copy of the ring.
func (r *Ring) Builder() *Builder {
	return &Builder{table: r.clone()}
}

// Builder is a single-writer working copy used as the candidate ring of a
// cluster operation. It is not safe for concurrent use.
type Builder struct {
	table
}

// Build returns an immutable snapshot of the builder's current state.
func (b *Builder) Build() *Ring {
	return &Ring{table: b.clone()}
}

// AddNode inserts n. The node that owned n.Hash before the insert (n's future
// successor) takes n as its predecessor, and n takes its ring-predecessor.
func (b *Builder) AddNode(n Node) error {
	if _, exists := b.names[n.Name]; exists {
		return fmt.Errorf("node %s already in ring", n.Name)
	}
	if other, exists := b.nodes[n.Hash]; exists {
		return fmt.Errorf("node %s collides with %s at hash %s", n.Name, other.Name, n.Hash)
	}

	node := n
	if len(b.hashes) == 0 {
		node.PredecessorHash = node.Hash
		b.insert(&node)
		return nil
	}

	successor := b.nodes[b.hashes[b.ceiling(node.Hash)]]
	successor.PredecessorHash = node.Hash

	idx := b.insert(&node)
	predIdx := idx - 1
	if predIdx < 0 {
		predIdx = len(b.hashes) - 1
	}
	node.PredecessorHash = b.hashes[predIdx]
	return nil
}

func (b *Builder) insert(n *Node) int {
	idx := sort.Search(len(b.hashes), func(i int) bool {
		return b.hashes[i] >= n.Hash
	})
	b.hashes = append(b.hashes, 0)
	copy(b.hashes[idx+1:], b.hashes[idx:])
	b.hashes[idx] = n.Hash
	b.nodes[n.Hash] = n
	b.names[n.Name] = n.Hash
	return idx
}

// RemoveNode deletes the named node. Its successor inherits its range.
func (b *Builder) RemoveNode(name string) error {
	h, ok := b.names[name]
	if !ok {
		return fmt.Errorf("node %s not in ring", name)
	}
	if len(b.hashes) == 1 {
		b.table = newTable()
		return nil
	}

	idx, _ := b.indexOf(h)
	predIdx := idx - 1
	if predIdx < 0 {
		predIdx = len(b.hashes) - 1
	}
	predecessor := b.hashes[predIdx]

	b.hashes = append(b.hashes[:idx], b.hashes[idx+1:]...)
	delete(b.nodes, h)
	delete(b.names, name)

	successor := b.nodes[b.hashes[idx%len(b.hashes)]]
	successor.PredecessorHash = predecessor
	return nil
}

// SetStatus changes a member's lifecycle status.
func (b *Builder) SetStatus(name string, status Status) error {
	return b.update(name, func(n *Node) { n.Status = status })
}

// SetLocked changes a member's write gate.
func (b *Builder) SetLocked(name string, locked bool) error {
	return b.update(name, func(n *Node) { n.Locked = locked })
}

// SetCache changes a member's cache configuration.
func (b *Builder) SetCache(name string, cache CacheConfig) error {
	return b.update(name, func(n *Node) { n.Cache = cache })
}

func (b *Builder) update(name string, fn func(n *Node)) error {
	h, ok := b.names[name]
	if !ok {
		return fmt.Errorf("node %s not in ring", name)
	}
	fn(b.nodes[h])
	return nil
}

// NamesWithStatus returns members in the given status, in ring order.
func (t *table) NamesWithStatus(status Status) []string {
	out := make([]string, 0)
	for _, h := range t.hashes {
		if n := t.nodes[h]; n.Status == status {
			out = append(out, n.Name)
		}
	}
	return out
}
