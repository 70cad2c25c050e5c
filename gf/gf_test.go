package gf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewRejectsOutOfRange(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
	_, err = New(9)
	require.Error(t, err)
}

func TestMulIdentityAndZero(t *testing.T) {
	for q := 1; q <= 8; q++ {
		f, err := New(q)
		require.NoError(t, err)
		for a := 0; a < f.Size; a++ {
			assert.Equal(t, byte(0), f.Mul(byte(a), 0), "q=%d a=%d", q, a)
			assert.Equal(t, byte(a), f.Mul(byte(a), 1), "q=%d a=%d", q, a)
		}
	}
}

func TestInvRoundTrips(t *testing.T) {
	for q := 1; q <= 8; q++ {
		f, err := New(q)
		require.NoError(t, err)
		for a := 1; a < f.Size; a++ {
			inv := f.Inv(byte(a))
			assert.Equal(t, byte(1), f.Mul(byte(a), inv), "q=%d a=%d", q, a)
		}
	}
}

// TestMulCommutativeAndAssociative is a property test over random field
// widths and operands, checking the algebraic invariants rather than
// example-by-example cases.
func TestMulCommutativeAndAssociative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := rapid.IntRange(1, 8).Draw(t, "q")
		f, err := New(q)
		require.NoError(t, err)
		a := byte(rapid.IntRange(0, f.Size-1).Draw(t, "a"))
		b := byte(rapid.IntRange(0, f.Size-1).Draw(t, "b"))
		c := byte(rapid.IntRange(0, f.Size-1).Draw(t, "c"))

		assert.Equal(t, f.Mul(a, b), f.Mul(b, a))
		assert.Equal(t, f.Mul(f.Mul(a, b), c), f.Mul(a, f.Mul(b, c)))
		if b != 0 {
			assert.Equal(t, a, f.Mul(f.Div(a, b), b))
		}
	})
}

func TestRowAXPYSelfInverse(t *testing.T) {
	f, err := New(8)
	require.NoError(t, err)
	dst := []byte{1, 2, 3, 4}
	src := []byte{5, 6, 7, 8}
	orig := append([]byte(nil), dst...)
	c := byte(17)
	f.RowAXPY(dst, src, c)
	f.RowAXPY(dst, src, c) // XOR-add twice cancels in characteristic 2
	assert.Equal(t, orig, dst)
}

func TestRowEliminateZeroesPivotColumn(t *testing.T) {
	f, err := New(8)
	require.NoError(t, err)
	src := []byte{3, 1, 9, 2}
	dst := []byte{6, 4, 18, 5}
	_, ops := f.RowEliminate(dst, src, 0)
	assert.Equal(t, byte(0), dst[0])
	assert.Greater(t, ops, 0)
}

func TestDotProduct(t *testing.T) {
	f, err := New(8)
	require.NoError(t, err)
	u := []byte{1, 0, 1}
	v := []byte{5, 9, 5}
	sum, ops := f.Dot(u, v)
	want := f.Mul(1, 5) ^ f.Mul(0, 9) ^ f.Mul(1, 5)
	assert.Equal(t, want, sum)
	assert.Equal(t, 6, ops)
}
