package decoder

import (
	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/gf"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/snc"
)

// ggDecoder decodes generation by generation: one size_g x size_g
// coefficient matrix and one size_g x size_p symbol matrix per
// subgeneration, Gaussian-eliminated independently, with a global view
// stitched together only once a subgeneration is individually full rank.
type ggDecoder struct {
	p     snc.CodeParams
	graph *graph.Graph
	field *gf.Field

	coes [][][]byte // coes[g][r] is the r-th row of subgeneration g's C_g, nil until installed
	syms [][][]byte // syms[g][r] is the matching row of Y_g
	rank []int      // rank[g] = number of installed pivots in subgeneration g

	recoveredRows [][]byte
	present       []bool
	recoveredN    int

	ops       int
	malformed int
	pktsRecvd int
}

func newGGDecoder(p snc.CodeParams, g *graph.Graph, field *gf.Field) *ggDecoder {
	d := &ggDecoder{p: p, graph: g, field: field}
	d.coes = make([][][]byte, g.NG)
	d.syms = make([][][]byte, g.NG)
	d.rank = make([]int, g.NG)
	for gid := range d.coes {
		d.coes[gid] = make([][]byte, p.SizeG)
		d.syms[gid] = make([][]byte, p.SizeG)
	}
	d.recoveredRows = make([][]byte, p.M())
	d.present = make([]bool, p.M())
	return d
}

func (d *ggDecoder) kind() Kind             { return KindGG }
func (d *ggDecoder) params() snc.CodeParams { return d.p }
func (d *ggDecoder) operations() int        { return d.ops }
func (d *ggDecoder) received() int          { return d.pktsRecvd }

func (d *ggDecoder) ProcessPacket(pkt packet.Packet) error {
	d.pktsRecvd++
	if !validateHeader(pkt, d.graph, d.p.SizeG) {
		d.malformed++
		return nil
	}
	gid := int(pkt.GID)
	if d.rank[gid] == d.p.SizeG {
		return nil // subgeneration already fully resolved; non-innovative by construction
	}

	row := append([]byte(nil), pkt.Coes...)
	sym := append([]byte(nil), pkt.Syms...)

	for j := 0; j < d.p.SizeG; j++ {
		if row[j] == 0 {
			continue
		}
		if d.coes[gid][j] != nil {
			c := d.field.Div(row[j], d.coes[gid][j][j])
			d.ops += d.field.RowAXPY(row, d.coes[gid][j], c)
			d.ops += d.field.RowAXPY(sym, d.syms[gid][j], c)
			d.ops++
			continue
		}
		d.coes[gid][j] = row
		d.syms[gid][j] = sym
		d.rank[gid]++
		break
	}

	if d.rank[gid] == d.p.SizeG {
		d.backSubstitute(gid)
	}
	return nil
}

// backSubstitute reduces subgeneration gid's echelon matrix to the
// identity (Gauss-Jordan), so Y_g's rows equal the original source rows
// in members(gid) exactly.
func (d *ggDecoder) backSubstitute(gid int) {
	members := d.graph.Members[gid]
	for j := d.p.SizeG - 1; j >= 0; j-- {
		inv := d.field.Inv(d.coes[gid][j][j])
		d.ops += d.field.RowScale(d.coes[gid][j], inv)
		d.ops += d.field.RowScale(d.syms[gid][j], inv)
		for i := 0; i < j; i++ {
			c := d.coes[gid][i][j]
			if c == 0 {
				continue
			}
			d.ops += d.field.RowAXPY(d.coes[gid][i], d.coes[gid][j], c)
			d.ops += d.field.RowAXPY(d.syms[gid][i], d.syms[gid][j], c)
		}
	}
	for slot, idx := range members {
		if !d.present[idx] {
			d.present[idx] = true
			d.recoveredRows[idx] = d.syms[gid][slot]
			d.recoveredN++
		}
	}
}

func (d *ggDecoder) Finished() bool {
	return d.recoveredN >= d.p.M()-d.p.SizeC
}

func (d *ggDecoder) DOF() int { return d.recoveredN }

func (d *ggDecoder) Overhead() float64 {
	if d.p.M() == 0 {
		return 0
	}
	return float64(d.pktsRecvd) / float64(d.p.M())
}

func (d *ggDecoder) Cost() float64 {
	denom := float64(d.p.M() * d.p.SizeP)
	if denom == 0 {
		return 0
	}
	return float64(d.ops) / denom
}

func (d *ggDecoder) RecoverData() ([]byte, error) {
	if !d.Finished() {
		return nil, errors.Wrap(ErrNotFinished, "gg decoder")
	}
	rows := make([][]byte, d.p.M())
	for i, row := range d.recoveredRows {
		if row != nil {
			rows[i] = append([]byte(nil), row...)
		} else {
			rows[i] = make([]byte, d.p.SizeP)
		}
	}
	return snc.RecoverFromRows(d.p, rows, d.present)
}
