package hashring

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_RoundTrip(t *testing.T) {
	b := New().Builder()
	for i, name := range []string{"n1", "n2", "n3", "n4"} {
		require.NoError(t, b.AddNode(NewNode(name, "10.0.0.1", 7000+i)))
	}
	original := b.Build()

	parsed, err := ParseMetadata(original.Encode())
	require.NoError(t, err)
	require.Equal(t, original.Len(), parsed.Len())

	for _, n := range original.Nodes() {
		p, ok := parsed.Node(n.Name)
		require.True(t, ok)
		assert.Equal(t, n.Host, p.Host)
		assert.Equal(t, n.Port, p.Port)
		assert.Equal(t, n.Range(), p.Range())
		assert.Equal(t, StatusRunning, p.Status)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		h := Hash(rng.Uint64())
		a, _ := original.Owner(h)
		c, _ := parsed.Owner(h)
		assert.Equal(t, a.Name, c.Name)
	}
}

func TestMetadata_OrderIndependent(t *testing.T) {
	one, err := ParseMetadata([]byte("a 10.0.0.1 7000\nb 10.0.0.2 7000\n"))
	require.NoError(t, err)
	two, err := ParseMetadata([]byte("b 10.0.0.2 7000\na 10.0.0.1 7000\n"))
	require.NoError(t, err)
	assert.Equal(t, one.Nodes(), two.Nodes())
}

func TestParseSeeds(t *testing.T) {
	input := "# seed pool\nn1 127.0.0.1 7001\n\nn2 127.0.0.1 7002\n"
	nodes, err := ParseSeeds(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n1", nodes[0].Name)
	assert.Equal(t, StatusOffline, nodes[0].Status)
	assert.Equal(t, ComputeHash("127.0.0.1:7001"), nodes[0].Hash)
}

func TestParseSeeds_Invalid(t *testing.T) {
	cases := []string{
		"n1 127.0.0.1\n",
		"n1 127.0.0.1 notaport\n",
		"n1 127.0.0.1 70000\n",
		"n1 127.0.0.1 7001\nn1 127.0.0.1 7002\n",
	}
	for _, c := range cases {
		_, err := ParseSeeds(strings.NewReader(c))
		assert.Error(t, err, c)
	}
}
