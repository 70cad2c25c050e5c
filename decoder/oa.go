package decoder

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/gf"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/snc"
)

// oaDecoder is the overlap-aware decoder: one global M x M coefficient
// matrix built lazily, column-pivoted in an order that favors high-degree
// source rows, with the expensive full back-substitution deferred until
// near completion.
type oaDecoder struct {
	p     snc.CodeParams
	graph *graph.Graph
	field *gf.Field
	m     int

	columnOrder []int // columns visited in this priority order when pivoting
	pivot       [][]byte
	pivotSym    [][]byte
	occupied    []bool
	rank        int

	theta int // overlap threshold: attempt global elimination once rank >= m-theta
	done  bool

	recoveredRows [][]byte
	present       []bool

	ops       int
	malformed int
	pktsRecvd int
}

func newOADecoder(p snc.CodeParams, g *graph.Graph, field *gf.Field) *oaDecoder {
	m := p.M()
	d := &oaDecoder{
		p:     p,
		graph: g,
		field: field,
		m:     m,
		theta: overlapThreshold(p),
	}
	d.pivot = make([][]byte, m)
	d.pivotSym = make([][]byte, m)
	d.occupied = make([]bool, m)
	d.recoveredRows = make([][]byte, m)
	d.present = make([]bool, m)
	d.columnOrder = degreeOrder(g)
	return d
}

// overlapThreshold picks the default theta from the code parameters: a
// quarter of a subgeneration's width. From rank m-theta on, every arrival
// calls tryGlobalElimination; the full back-substitution pass itself runs
// only once the rank reaches m.
func overlapThreshold(p snc.CodeParams) int {
	theta := p.SizeG / 4
	if theta < 1 {
		theta = 1
	}
	return theta
}

// degreeOrder returns all M column indices sorted by descending graph
// degree, tie-broken by ascending index. Pivoting high-degree columns
// first raises the chance that subsequent arrivals are innovative.
func degreeOrder(g *graph.Graph) []int {
	order := make([]int, g.M)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := g.Degree(order[a]), g.Degree(order[b])
		if da != db {
			return da > db
		}
		return order[a] < order[b]
	})
	return order
}

func (d *oaDecoder) kind() Kind             { return KindOA }
func (d *oaDecoder) params() snc.CodeParams { return d.p }
func (d *oaDecoder) operations() int        { return d.ops }
func (d *oaDecoder) received() int          { return d.pktsRecvd }

// scatter expands a subgeneration-local coefficient vector to the full
// M-wide column space. A source row listed in more than one member slot
// receives the sum of those slots' coefficients, as in the encoder.
func (d *oaDecoder) scatter(pkt packet.Packet) []byte {
	row := make([]byte, d.m)
	members := d.graph.Members[pkt.GID]
	for j, coe := range pkt.Coes {
		row[members[j]] ^= coe
	}
	return row
}

func (d *oaDecoder) ProcessPacket(pkt packet.Packet) error {
	d.pktsRecvd++
	if !validateHeader(pkt, d.graph, d.p.SizeG) {
		d.malformed++
		return nil
	}
	if d.done {
		return nil
	}

	row := d.scatter(pkt)
	sym := append([]byte(nil), pkt.Syms...)

	for _, col := range d.columnOrder {
		if row[col] == 0 {
			continue
		}
		if d.occupied[col] {
			c := d.field.Div(row[col], d.pivot[col][col])
			d.ops += d.field.RowAXPY(row, d.pivot[col], c)
			d.ops += d.field.RowAXPY(sym, d.pivotSym[col], c)
			d.ops++
			continue
		}
		d.pivot[col] = row
		d.pivotSym[col] = sym
		d.occupied[col] = true
		d.rank++
		break
	}

	if d.rank >= d.m-d.theta {
		d.tryGlobalElimination()
	}
	return nil
}

// tryGlobalElimination performs full Gauss-Jordan back-substitution. If
// rank is still insufficient once attempted, it simply returns and the
// decoder remains in the collecting phase for subsequent packets.
func (d *oaDecoder) tryGlobalElimination() {
	if d.rank < d.m {
		return // not all columns pivoted yet; remain in collecting phase
	}
	// Collection already produced an echelon form triangular in
	// columnOrder (a row installed at position k has zero entries at all
	// earlier positions, by construction in ProcessPacket). Gauss-Jordan
	// reduction therefore walks columnOrder in reverse, normalizing each
	// pivot and clearing its column out of every row installed earlier.
	for ki := len(d.columnOrder) - 1; ki >= 0; ki-- {
		col := d.columnOrder[ki]
		inv := d.field.Inv(d.pivot[col][col])
		d.ops += d.field.RowScale(d.pivot[col], inv)
		d.ops += d.field.RowScale(d.pivotSym[col], inv)
		for kj := 0; kj < ki; kj++ {
			col2 := d.columnOrder[kj]
			c := d.pivot[col2][col]
			if c == 0 {
				continue
			}
			d.ops += d.field.RowAXPY(d.pivot[col2], d.pivot[col], c)
			d.ops += d.field.RowAXPY(d.pivotSym[col2], d.pivotSym[col], c)
		}
	}
	for i := 0; i < d.m; i++ {
		d.present[i] = true
		d.recoveredRows[i] = d.pivotSym[i]
	}
	d.done = true
}

// Finished is true only after the global elimination pass has run to
// completion: present is populated all at once there, so there is no
// incremental partially-recovered state to finish early from, unlike GG.
func (d *oaDecoder) Finished() bool {
	return d.done
}

func (d *oaDecoder) DOF() int { return d.rank }

func (d *oaDecoder) Overhead() float64 {
	if d.m == 0 {
		return 0
	}
	return float64(d.pktsRecvd) / float64(d.m)
}

func (d *oaDecoder) Cost() float64 {
	denom := float64(d.m * d.p.SizeP)
	if denom == 0 {
		return 0
	}
	return float64(d.ops) / denom
}

func (d *oaDecoder) RecoverData() ([]byte, error) {
	if !d.Finished() {
		return nil, errors.Wrap(ErrNotFinished, "oa decoder")
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
