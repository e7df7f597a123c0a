package orchestrator

import (
	"testing"

	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(name string, port int, status hashring.Status) hashring.Node {
	n := hashring.NewNode(name, "127.0.0.1", port)
	n.Status = status
	return n
}

func TestComputeTransferPlan_ScaleOut(t *testing.T) {
	ring, err := hashring.FromNodes(node("a", 7001, hashring.StatusRunning))
	require.NoError(t, err)

	b := ring.Builder()
	require.NoError(t, b.AddNode(node("b", 7002, hashring.StatusStarting)))
	cand := b.Build()

	plan := ComputeTransferPlan(cand)
	require.Len(t, plan, 1)
	nb, _ := cand.Node("b")
	assert.Equal(t, "a", plan[0].From.Name)
	assert.Equal(t, "b", plan[0].To.Name)
	assert.Equal(t, nb.Range(), plan[0].Range)
	assert.Equal(t, "b", plan[0].LockTarget)
}

func TestComputeTransferPlan_ScaleIn(t *testing.T) {
	ring, err := hashring.FromNodes(node("a", 7001, hashring.StatusRunning), node("b", 7002, hashring.StatusRunning))
	require.NoError(t, err)

	b := ring.Builder()
	require.NoError(t, b.SetStatus("a", hashring.StatusStopping))
	cand := b.Build()

	plan := ComputeTransferPlan(cand)
	require.Len(t, plan, 1)
	na, _ := cand.Node("a")
	assert.Equal(t, "a", plan[0].From.Name)
	assert.Equal(t, "b", plan[0].To.Name)
	assert.Equal(t, na.Range(), plan[0].Range)
	assert.Equal(t, "b", plan[0].LockTarget)
}

func TestComputeTransferPlan_SkipsNonRunning(t *testing.T) {
	ring, err := hashring.FromNodes(
		node("a", 7001, hashring.StatusRunning),
		node("b", 7002, hashring.StatusOffline),
		node("c", 7003, hashring.StatusStarting),
		node("d", 7004, hashring.StatusStarting),
	)
	require.NoError(t, err)

	plan := ComputeTransferPlan(ring)
	require.Len(t, plan, 2)
	for _, p := range plan {
		assert.Equal(t, "a", p.From.Name)
	}
}

func TestComputeTransferPlan_NoRunningNode(t *testing.T) {
	ring, err := hashring.FromNodes(node("a", 7001, hashring.StatusStarting), node("b", 7002, hashring.StatusStarting))
	require.NoError(t, err)
	assert.Empty(t, ComputeTransferPlan(ring))
}

func TestWaves(t *testing.T) {
	a, b, c, d := node("a", 1, 0), node("b", 2, 0), node("c", 3, 0), node("d", 4, 0)
	plan := []transfer.Transfer{
		transfer.New(a, b, hashring.Range{}),
		transfer.New(a, c, hashring.Range{}),
		transfer.New(d, c, hashring.Range{}),
		transfer.New(d, b, hashring.Range{}),
	}

	waves := Waves(plan)
	require.Len(t, waves, 2)
	for _, wave := range waves {
		seen := map[string]bool{}
		for _, tr := range wave {
			assert.False(t, seen[tr.From.Name])
			assert.False(t, seen[tr.To.Name])
			seen[tr.From.Name], seen[tr.To.Name] = true, true
		}
	}
	assert.Equal(t, "b", waves[0][0].To.Name)
	assert.Equal(t, "c", waves[0][1].To.Name)
}
