package decoder

import (
	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/gf"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/snc"
)

// bdRow is a banded row trimmed to its nonzero span: coefs[k] is the
// coefficient of absolute column (lead+k) mod M, so a WINDWRAP row whose
// window straddles the M-1/0 boundary stays size_g-compact instead of
// degenerating into an almost-M-wide band.
type bdRow struct {
	lead  int
	coefs []byte
	sym   []byte
}

// bdDecoder is the band decoder, valid only for BAND/WINDWRAP graphs.
// Unlike cbdDecoder, an incoming packet is first scattered to a full
// M-wide scratch vector, then eliminated against the pivot array by
// walking its own (lead, span) window modulo M, and finally trimmed back
// to compact (leading_col, length) storage before being kept: the scatter
// happens, but nothing stays scattered.
type bdDecoder struct {
	p     snc.CodeParams
	graph *graph.Graph
	field *gf.Field
	m     int

	pivot []*bdRow // pivot[c] != nil: the row whose leading nonzero column is c

	recoveredRows [][]byte
	present       []bool
	recoveredN    int

	ops       int
	malformed int
	pktsRecvd int
}

func newBDDecoder(p snc.CodeParams, g *graph.Graph, field *gf.Field) *bdDecoder {
	m := p.M()
	return &bdDecoder{
		p:             p,
		graph:         g,
		field:         field,
		m:             m,
		pivot:         make([]*bdRow, m),
		recoveredRows: make([][]byte, m),
		present:       make([]bool, m),
	}
}

func (d *bdDecoder) kind() Kind             { return KindBD }
func (d *bdDecoder) params() snc.CodeParams { return d.p }
func (d *bdDecoder) operations() int        { return d.ops }
func (d *bdDecoder) received() int          { return d.pktsRecvd }

func (d *bdDecoder) ProcessPacket(pkt packet.Packet) error {
	d.pktsRecvd++
	if !validateHeader(pkt, d.graph, d.p.SizeG) {
		d.malformed++
		return nil
	}

	// Scatter to the M-wide scratch vector; a BAND row lands on a window
	// of size_g consecutive columns, a WINDWRAP row on up to two segments.
	// The row's support is tracked as a (lead, span) window modulo M,
	// starting at the subgeneration's window and growing rightward only as
	// pivot bands are added in, so a wrapped row never inflates to an
	// M-wide band.
	scratch := make([]byte, d.m)
	members := d.graph.Members[pkt.GID]
	for j, coe := range pkt.Coes {
		scratch[members[j]] = coe
	}
	sym := append([]byte(nil), pkt.Syms...)

	lead := int(pkt.GID) % d.m
	span := d.p.SizeG
	if span > d.m {
		span = d.m
	}
	lead, span = advanceLead(scratch, lead, span, d.m)

	for span > 0 {
		piv := d.pivot[lead]
		if piv == nil {
			d.pivot[lead] = extractBand(scratch, sym, lead, span, d.m)
			d.recomputeRecovered()
			return nil
		}
		coeff := d.field.Div(scratch[lead], piv.coefs[0])
		for k, v := range piv.coefs {
			if v == 0 {
				continue
			}
			scratch[(piv.lead+k)%d.m] ^= d.field.Mul(coeff, v)
		}
		d.ops += len(piv.coefs) + 1
		d.ops += d.field.RowAXPY(sym, piv.sym, coeff)
		if len(piv.coefs) > span {
			span = len(piv.coefs)
		}
		if span > d.m {
			span = d.m
		}
		lead, span = advanceLead(scratch, lead, span, d.m)
	}
	return nil // non-innovative: fully eliminated to zero
}

// advanceLead moves lead past zero entries modulo m, shrinking span, so a
// band never carries leading zeros.
func advanceLead(scratch []byte, lead, span, m int) (int, int) {
	for span > 0 && scratch[lead] == 0 {
		lead = (lead + 1) % m
		span--
	}
	return lead, span
}

// extractBand copies the row's support out of scratch as a compact
// (lead, length) band wrapping modulo m, trimmed of trailing zeros.
func extractBand(scratch, sym []byte, lead, span, m int) *bdRow {
	coefs := make([]byte, span)
	last := 0
	for k := 0; k < span; k++ {
		coefs[k] = scratch[(lead+k)%m]
		if coefs[k] != 0 {
			last = k
		}
	}
	return &bdRow{lead: lead, coefs: coefs[:last+1], sym: append([]byte(nil), sym...)}
}

// recomputeRecovered checks whether every source row now has a band of
// length exactly 1 (a resolved pivot) and, if so, records its symbol.
// Pivots longer than length 1 still need the eventual back-substitution
// pass in RecoverData to resolve.
func (d *bdDecoder) recomputeRecovered() {
	for i := 0; i < d.m; i++ {
		if d.present[i] {
			continue
		}
		piv := d.pivot[i]
		if piv != nil && len(piv.coefs) == 1 {
			inv := d.field.Inv(piv.coefs[0])
			val := append([]byte(nil), piv.sym...)
			d.field.RowScale(val, inv)
			d.present[i] = true
			d.recoveredRows[i] = val
			d.recoveredN++
		}
	}
}

func (d *bdDecoder) rank() int {
	n := 0
	for _, piv := range d.pivot {
		if piv != nil {
			n++
		}
	}
	return n
}

// Finished requires full system rank: back-substitution (RecoverData)
// needs every column pivoted to walk the band in reverse order.
func (d *bdDecoder) Finished() bool {
	return d.rank() >= d.m
}

func (d *bdDecoder) DOF() int { return d.rank() }

func (d *bdDecoder) Overhead() float64 {
	if d.m == 0 {
		return 0
	}
	return float64(d.pktsRecvd) / float64(d.m)
}

func (d *bdDecoder) Cost() float64 {
	denom := float64(d.m * d.p.SizeP)
	if denom == 0 {
		return 0
	}
	return float64(d.ops) / denom
}

// backSubstitute walks the band in reverse order, normalizing each pivot
// and clearing its column out of every pivot whose band reaches it from
// the left.
func (d *bdDecoder) backSubstitute() error {
	for c := d.m - 1; c >= 0; c-- {
		piv := d.pivot[c]
		if piv == nil {
			return errors.Errorf("decoder: BD column %d never pivoted", c)
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
	}
	for i := 0; i < d.m; i++ {
		if !d.present[i] {
			d.present[i] = true
			d.recoveredRows[i] = append([]byte(nil), d.pivot[i].sym...)
			d.recoveredN++
		}
	}
	return nil
}

func (d *bdDecoder) RecoverData() ([]byte, error) {
	if !d.Finished() {
		return nil, errors.Wrap(ErrNotFinished, "bd decoder")
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
