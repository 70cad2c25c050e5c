// Package gf implements GF(2^q) arithmetic for q in [1,8] over byte-per-element
// symbol and coefficient vectors, with table-driven multiplication for the
// hot GF(256) path.
package gf

import "github.com/pkg/errors"

// primPoly is the standard primitive polynomial for each field width, used
// to build the exp/log tables. Index by q (1..8); index 0 is unused.
var primPoly = [9]int{0, 0x3, 0x7, 0xB, 0x13, 0x25, 0x43, 0x89, 0x11D}

// Field holds the exp/log tables for one GF(2^q) instance. Fields are
// immutable after New and safe for concurrent reads.
type Field struct {
	Q        int
	Size     int // 2^Q
	exp      []byte
	log      []byte
	mulTable [][]byte // only built for Q==8, the hot path
}

// New builds the exp/log tables for GF(2^q). q must be in [1,8].
func New(q int) (*Field, error) {
	if q < 1 || q > 8 {
		return nil, errors.Errorf("gf: invalid field width q=%d, want [1,8]", q)
	}
	size := 1 << uint(q)
	f := &Field{Q: q, Size: size}
	f.exp = make([]byte, 2*size)
	f.log = make([]byte, size)

	poly := primPoly[q]
	x := 1
	for i := 0; i < size-1; i++ {
		f.exp[i] = byte(x)
		f.log[x] = byte(i)
		x <<= 1
		if x >= size {
			x ^= poly
		}
	}
	// Duplicate the exp table so mod-(size-1) lookups never need a modulo.
	for i := size - 1; i < 2*size; i++ {
		f.exp[i] = f.exp[i-(size-1)]
	}

	if q == 8 {
		f.mulTable = make([][]byte, size)
		for a := 0; a < size; a++ {
			f.mulTable[a] = make([]byte, size)
			for b := 0; b < size; b++ {
				f.mulTable[a][b] = f.mulSlow(byte(a), byte(b))
			}
		}
	}
	return f, nil
}

func (f *Field) mulSlow(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	logSum := int(f.log[a]) + int(f.log[b])
	return f.exp[logSum]
}

// Mul returns a*b in GF(2^q).
func (f *Field) Mul(a, b byte) byte {
	if f.mulTable != nil {
		return f.mulTable[a][b]
	}
	return f.mulSlow(a, b)
}

// Inv returns the multiplicative inverse of a. a must be non-zero.
func (f *Field) Inv(a byte) byte {
	if a == 0 {
		return 0
	}
	return f.exp[(f.Size-1)-int(f.log[a])]
}

// Div returns a/b in GF(2^q). b must be non-zero.
func (f *Field) Div(a, b byte) byte {
	if a == 0 {
		return 0
	}
	logDiff := int(f.log[a]) - int(f.log[b]) + (f.Size - 1)
	return f.exp[logDiff]
}

// MulTableFor returns a lookup table t such that t[x] = c*x, suitable
// for reuse across many RowAXPY calls scaled by the same c.
func (f *Field) MulTableFor(c byte) []byte {
	t := make([]byte, f.Size)
	if c == 0 {
		return t
	}
	for x := 1; x < f.Size; x++ {
		t[x] = f.Mul(c, byte(x))
	}
	return t
}

// RowScale computes v[i] *= c for all i, returning the GF-op count.
func (f *Field) RowScale(v []byte, c byte) int {
	if c == 1 {
		return 0
	}
	table := f.MulTableFor(c)
	for i, x := range v {
		v[i] = table[x]
	}
	return len(v)
}

// RowAXPY computes dst += c*src elementwise (XOR-add in characteristic 2),
// returning the GF-op count. dst and src must have equal length.
func (f *Field) RowAXPY(dst, src []byte, c byte) int {
	if c == 0 {
		return 0
	}
	table := f.MulTableFor(c)
	for i, s := range src {
		dst[i] ^= table[s]
	}
	return len(src)
}

// RowAXPYTable is RowAXPY using a precomputed multiply-by-c table, avoiding
// rebuilding it when the caller eliminates many rows by the same pivot.
func (f *Field) RowAXPYTable(dst, src []byte, table []byte) int {
	for i, s := range src {
		dst[i] ^= table[s]
	}
	return len(src)
}

// RowEliminate eliminates src's pivot-column entry out of dst: it computes
// c = dst[pivotIdx] / src[pivotIdx] then performs dst += c*src, zeroing
// dst[pivotIdx]. src[pivotIdx] must be non-zero.
func (f *Field) RowEliminate(dst, src []byte, pivotIdx int) (byte, int) {
	if dst[pivotIdx] == 0 {
		return 0, 0
	}
	c := f.Div(dst[pivotIdx], src[pivotIdx])
	ops := f.RowAXPY(dst, src, c)
	return c, ops + 1
}

// Dot computes the GF(2^q) dot product of u and v, returning (sum, ops).
func (f *Field) Dot(u, v []byte) (byte, int) {
	var sum byte
	for i := range u {
		sum ^= f.Mul(u[i], v[i])
	}
	return sum, 2 * len(u)
}

// IsZero reports whether every element of v is zero.
func IsZero(v []byte) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
