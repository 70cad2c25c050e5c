package decoder

import (
	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/gf"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/snc"
)

// cbdRow is the same compact shape as bdRow; kept as a distinct type so
// the two algorithms can evolve independently even though their storage
// happens to coincide.
type cbdRow struct {
	lead  int
	coefs []byte
	sym   []byte
}

// cbdDecoder is the compact band decoder: elimination never touches an
// M-wide array. Every row, from the moment a packet
// arrives, is a (leading_col, band) pair; an arriving row is reduced by
// walking its own band left to right against the pivot array, AXPYing
// aligned pivot bands directly; no scatter step exists at all.
type cbdDecoder struct {
	p     snc.CodeParams
	graph *graph.Graph
	field *gf.Field
	m     int

	pivot []*cbdRow

	recoveredRows [][]byte
	present       []bool

	ops       int
	malformed int
	pktsRecvd int
}

func newCBDDecoder(p snc.CodeParams, g *graph.Graph, field *gf.Field) *cbdDecoder {
	m := p.M()
	return &cbdDecoder{
		p:             p,
		graph:         g,
		field:         field,
		m:             m,
		pivot:         make([]*cbdRow, m),
		recoveredRows: make([][]byte, m),
		present:       make([]bool, m),
	}
}

func (d *cbdDecoder) kind() Kind             { return KindCBD }
func (d *cbdDecoder) params() snc.CodeParams { return d.p }
func (d *cbdDecoder) operations() int        { return d.ops }
func (d *cbdDecoder) received() int          { return d.pktsRecvd }

// trimLeadingTrailing advances lead past leading zero coefficients and
// drops trailing zero coefficients, so the compact band never carries
// avoidable slack (this is the storage discipline that distinguishes CBD
// from BD: it runs after every AXPY, not just once at the end). lead
// advances modulo m so a WINDWRAP row whose window crosses the M/0
// boundary stays correctly addressed.
func trimLeadingTrailing(row *cbdRow, m int) {
	for len(row.coefs) > 0 && row.coefs[0] == 0 {
		row.coefs = row.coefs[1:]
		row.lead = (row.lead + 1) % m
	}
	for len(row.coefs) > 0 && row.coefs[len(row.coefs)-1] == 0 {
		row.coefs = row.coefs[:len(row.coefs)-1]
	}
}

func (d *cbdDecoder) ProcessPacket(pkt packet.Packet) error {
	d.pktsRecvd++
	if !validateHeader(pkt, d.graph, d.p.SizeG) {
		d.malformed++
		return nil
	}

	// members(gid) is the contiguous window starting at gid (wrapping mod
	// M for WINDWRAP); coefs[k] therefore addresses absolute column
	// (gid+k) mod M without ever materializing that window explicitly.
	lead := int(pkt.GID) % d.m
	row := &cbdRow{
		lead:  lead,
		coefs: append([]byte(nil), pkt.Coes...),
		sym:   append([]byte(nil), pkt.Syms...),
	}
	trimLeadingTrailing(row, d.m)

	for len(row.coefs) > 0 {
		c := row.lead
		piv := d.pivot[c]
		if piv == nil {
			d.pivot[c] = row
			d.tryResolveSingleton(c)
			return nil
		}
		coeff := d.field.Div(row.coefs[0], piv.coefs[0])
		d.axpyAligned(row, piv, coeff)
		d.ops += len(piv.coefs) + 1
		trimLeadingTrailing(row, d.m)
	}
	return nil // fully eliminated to zero: non-innovative
}

// axpyAligned computes row += coeff*piv, where both share row.lead ==
// piv.lead at the moment of the call (row's leading column always equals
// the pivot's column by construction of the ProcessPacket loop), growing
// row.coefs only as far right as piv's band reaches.
func (d *cbdDecoder) axpyAligned(row, piv *cbdRow, coeff byte) {
	if len(piv.coefs) > len(row.coefs) {
		grown := make([]byte, len(piv.coefs))
		copy(grown, row.coefs)
		row.coefs = grown
	}
	for k, v := range piv.coefs {
		if v == 0 {
			continue
		}
		row.coefs[k] ^= d.field.Mul(coeff, v)
	}
	d.ops += d.field.RowAXPY(row.sym, piv.sym, coeff)
}

// tryResolveSingleton records a source row's value the moment its pivot
// band collapses to a single coefficient, without waiting for the final
// back-substitution pass.
func (d *cbdDecoder) tryResolveSingleton(col int) {
	piv := d.pivot[col]
	if len(piv.coefs) != 1 || d.present[col] {
		return
	}
	inv := d.field.Inv(piv.coefs[0])
	val := append([]byte(nil), piv.sym...)
	d.ops += d.field.RowScale(val, inv)
	d.present[col] = true
	d.recoveredRows[col] = val
}

func (d *cbdDecoder) rank() int {
	n := 0
	for _, piv := range d.pivot {
		if piv != nil {
			n++
		}
	}
	return n
}

// Finished requires full system rank, matching bdDecoder.
func (d *cbdDecoder) Finished() bool {
	return d.rank() >= d.m
}

func (d *cbdDecoder) DOF() int { return d.rank() }

func (d *cbdDecoder) Overhead() float64 {
	if d.m == 0 {
		return 0
	}
	return float64(d.pktsRecvd) / float64(d.m)
}

func (d *cbdDecoder) Cost() float64 {
	denom := float64(d.m * d.p.SizeP)
	if denom == 0 {
		return 0
	}
	return float64(d.ops) / denom
}

// backSubstitute walks the band right to left, clearing
// each finalized pivot's column out of every row whose band still
// reaches it, never expanding beyond the compact representation.
func (d *cbdDecoder) backSubstitute() error {
	for c := d.m - 1; c >= 0; c-- {
		piv := d.pivot[c]
		if piv == nil {
			return errors.Errorf("decoder: CBD column %d never pivoted", c)
		}
		inv := d.field.Inv(piv.coefs[0])
		d.ops += d.field.RowScale(piv.coefs, inv)
		d.ops += d.field.RowScale(piv.sym, inv)
		for c2 := 0; c2 < c; c2++ {
			other := d.pivot[c2]
			if other == nil {
				continue
			}
			offset := ((c-other.lead)%d.m + d.m) % d.m
			if offset >= len(other.coefs) {
				continue
			}
			coeff := other.coefs[offset]
			if coeff == 0 {
				continue
			}
			needed := offset + len(piv.coefs)
			if needed > len(other.coefs) {
				grown := make([]byte, needed)
				copy(grown, other.coefs)
				other.coefs = grown
			}
			for k, v := range piv.coefs {
				if v == 0 {
					continue
				}
				other.coefs[offset+k] ^= d.field.Mul(coeff, v)
			}
			d.ops += d.field.RowAXPY(other.sym, piv.sym, coeff)
		}
		if !d.present[c] {
			d.present[c] = true
			d.recoveredRows[c] = append([]byte(nil), piv.sym...)
		}
	}
	return nil
}

func (d *cbdDecoder) RecoverData() ([]byte, error) {
	if !d.Finished() {
		return nil, errors.Wrap(ErrNotFinished, "cbd decoder")
	}
	if err := d.backSubstitute(); err != nil {
		return nil, err
	}
	rows := make([][]byte, d.m)
	for i, row := range d.recoveredRows {
		if row != nil {
			rows[i] = append([]byte(nil), row...)
		} else {
			rows[i] = make([]byte, d.p.SizeP)
		}
	}
	return snc.RecoverFromRows(d.p, rows, d.present)
}
