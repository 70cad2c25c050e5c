package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func coverage(t assert.TestingT, g *Graph) {
	seen := make([]bool, g.M)
	for _, row := range g.Members {
		assert.Equal(t, g.SizeG, len(row))
		for _, i := range row {
			seen[i] = true
		}
	}
	for i, ok := range seen {
		assert.True(t, ok, "row %d uncovered", i)
	}
}

func TestBandDeterministicAndComplete(t *testing.T) {
	g1, err := Build(BAND, 32, 4, 8, 1)
	require.NoError(t, err)
	g2, err := Build(BAND, 32, 4, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, g1.Members, g2.Members)
	assert.Equal(t, 32-8+1, g1.NG)
	coverage(t, g1)
}

func TestWindwrapWraps(t *testing.T) {
	g, err := Build(WINDWRAP, 10, 3, 4, 7)
	require.NoError(t, err)
	assert.Equal(t, 10, g.NG)
	last := g.Members[g.NG-1]
	assert.Contains(t, last, 0) // window starting at NG-1 wraps into row 0
	coverage(t, g)
}

func TestRandCoversAndDeterministic(t *testing.T) {
	g1, err := Build(RAND, 64, 8, 16, 42)
	require.NoError(t, err)
	g2, err := Build(RAND, 64, 8, 16, 42)
	require.NoError(t, err)
	assert.Equal(t, g1.Members, g2.Members)
	coverage(t, g1)
}

func TestBATSCovers(t *testing.T) {
	g, err := Build(BATS, 96, 6, 8, 5)
	require.NoError(t, err)
	coverage(t, g)
	assert.Equal(t, 8, len(g.Members[0]))
}

func TestRejectsSizeGLessThanSizeB(t *testing.T) {
	_, err := Build(RAND, 16, 8, 4, 1)
	require.Error(t, err)
}

// TestGraphDeterminism: for a fixed (type, M, size_b, size_g, seed)
// tuple, G is bit-exact reproducible.
func TestGraphDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := Type(rapid.IntRange(0, 3).Draw(t, "type"))
		sizeG := rapid.IntRange(2, 8).Draw(t, "sizeG")
		m := rapid.IntRange(sizeG, sizeG*10).Draw(t, "m")
		sizeB := rapid.IntRange(1, sizeG).Draw(t, "sizeB")
		seed := uint32(rapid.IntRange(0, 1<<20).Draw(t, "seed"))

		g1, err1 := Build(typ, m, sizeB, sizeG, seed)
		g2, err2 := Build(typ, m, sizeB, sizeG, seed)
		if err1 != nil {
			if err2 == nil {
				t.Fatalf("nondeterministic error: %v vs nil", err1)
			}
			return
		}
		require.NoError(t, err2)
		if len(g1.Members) != len(g2.Members) {
			t.Fatalf("NG mismatch: %d vs %d", len(g1.Members), len(g2.Members))
		}
		for i := range g1.Members {
			for j := range g1.Members[i] {
				if g1.Members[i][j] != g2.Members[i][j] {
					t.Fatalf("members[%d][%d] mismatch: %d vs %d", i, j, g1.Members[i][j], g2.Members[i][j])
				}
			}
		}
	})
}
