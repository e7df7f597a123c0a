package hashring

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(name string, h Hash) Node {
	return Node{Name: name, Host: "127.0.0.1", Port: 7000, Hash: h, Status: StatusRunning}
}

// assertCoverage checks every sampled hash has exactly one owner and that
// the ceiling lookup agrees with the ownership predicate.
func assertCoverage(t *testing.T, r *Ring, samples []Hash) {
	t.Helper()
	nodes := r.Nodes()
	for i, n := range nodes {
		pred := nodes[(i+len(nodes)-1)%len(nodes)]
		require.Equal(t, pred.Hash, n.PredecessorHash, "predecessor of %s", n.Name)
	}
	for _, h := range samples {
		owners := 0
		var owner Node
		for _, n := range nodes {
			if n.Owns(h) {
				owners++
				owner = n
			}
		}
		require.Equal(t, 1, owners, "hash %s", h)
		got, ok := r.Owner(h)
		require.True(t, ok)
		require.Equal(t, owner.Name, got.Name, "hash %s", h)
	}
}

func sampleHashes(rng *rand.Rand, r *Ring, n int) []Hash {
	samples := []Hash{0, 1, math.MaxUint64, math.MaxUint64 - 1}
	for _, node := range r.Nodes() {
		samples = append(samples, node.Hash, node.Hash-1, node.Hash+1)
	}
	for i := 0; i < n; i++ {
		samples = append(samples, Hash(rng.Uint64()))
	}
	return samples
}

func TestComputeHash_Deterministic(t *testing.T) {
	for _, s := range []string{"", "key", "127.0.0.1:7000"} {
		assert.Equal(t, ComputeHash(s), ComputeHash(s))
	}
	assert.NotEqual(t, ComputeHash("a"), ComputeHash("b"))
}

func TestRing_Empty(t *testing.T) {
	r := New()
	assert.True(t, r.Empty())
	_, ok := r.Owner(42)
	assert.False(t, ok)
	_, ok = r.OwnerOfKey("k")
	assert.False(t, ok)
}

func TestRing_SingleNode(t *testing.T) {
	r, err := FromNodes(testNode("a", 1000))
	require.NoError(t, err)

	a, ok := r.Node("a")
	require.True(t, ok)
	assert.Equal(t, a.Hash, a.PredecessorHash)
	assert.True(t, a.Range().Full())

	for _, h := range []Hash{0, 999, 1000, 1001, math.MaxUint64} {
		owner, ok := r.Owner(h)
		require.True(t, ok)
		assert.Equal(t, "a", owner.Name)
	}
}

func TestRing_TwoNodeWraparound(t *testing.T) {
	r, err := FromNodes(testNode("A", 50), testNode("B", 20))
	require.NoError(t, err)

	a, _ := r.Node("A")
	b, _ := r.Node("B")
	assert.Equal(t, Hash(50), b.PredecessorHash)
	assert.Equal(t, Hash(20), a.PredecessorHash)

	for _, h := range []Hash{51, 100, math.MaxUint64, 0, 1, 20} {
		assert.True(t, b.Owns(h), "B should own %d", h)
		assert.False(t, a.Owns(h), "A should not own %d", h)
	}
	for _, h := range []Hash{21, 35, 50} {
		assert.True(t, a.Owns(h), "A should own %d", h)
		assert.False(t, b.Owns(h), "B should not own %d", h)
	}

	owner, _ := r.Owner(60)
	assert.Equal(t, "B", owner.Name)
	owner, _ = r.Owner(50)
	assert.Equal(t, "A", owner.Name)
}

func TestRing_CoverageUnderMutation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New().Builder()
	var members []string

	for step := 0; step < 200; step++ {
		if len(members) == 0 || rng.Intn(3) != 0 {
			name := fmt.Sprintf("node-%d", step)
			require.NoError(t, b.AddNode(testNode(name, Hash(rng.Uint64()))))
			members = append(members, name)
		} else {
			i := rng.Intn(len(members))
			require.NoError(t, b.RemoveNode(members[i]))
			members = append(members[:i], members[i+1:]...)
		}

		r := b.Build()
		require.Equal(t, len(members), r.Len())
		if r.Empty() {
			continue
		}
		assertCoverage(t, r, sampleHashes(rng, r, 50))
	}
}

func TestRing_RemoveToEmpty(t *testing.T) {
	b := New().Builder()
	require.NoError(t, b.AddNode(testNode("a", 10)))
	require.NoError(t, b.AddNode(testNode("b", 20)))

	require.NoError(t, b.RemoveNode("a"))
	only, _ := b.Node("b")
	assert.Equal(t, only.Hash, only.PredecessorHash)

	require.NoError(t, b.RemoveNode("b"))
	assert.True(t, b.Empty())
}

func TestBuilder_Errors(t *testing.T) {
	b := New().Builder()
	require.NoError(t, b.AddNode(testNode("a", 10)))

	assert.Error(t, b.AddNode(testNode("a", 11)))
	assert.Error(t, b.AddNode(testNode("b", 10)))
	assert.Error(t, b.RemoveNode("missing"))
	assert.Error(t, b.SetStatus("missing", StatusRunning))
}

func TestBuilder_DoesNotMutateSnapshot(t *testing.T) {
	r, err := FromNodes(testNode("a", 10), testNode("b", 20))
	require.NoError(t, err)

	b := r.Builder()
	require.NoError(t, b.SetStatus("a", StatusStopping))
	require.NoError(t, b.SetLocked("b", true))
	require.NoError(t, b.AddNode(testNode("c", 15)))

	a, _ := r.Node("a")
	assert.Equal(t, StatusRunning, a.Status)
	bn, _ := r.Node("b")
	assert.False(t, bn.Locked)
	assert.Equal(t, Hash(10), bn.PredecessorHash)
	assert.Equal(t, 2, r.Len())

	next := b.Build()
	bn, _ = next.Node("b")
	assert.Equal(t, Hash(15), bn.PredecessorHash)
	assert.Equal(t, []string{"b"}, next.NamesWithStatus(StatusRunning))
}

func TestRing_Successors(t *testing.T) {
	r, err := FromNodes(testNode("a", 10), testNode("b", 20), testNode("c", 30))
	require.NoError(t, err)

	var names []string
	for _, n := range r.Successors("c") {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Nil(t, r.Successors("missing"))
}
