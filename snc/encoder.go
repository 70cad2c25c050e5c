package snc

import (
	"math/rand"
	"os"

	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/gf"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/precode"
	"github.com/rlnc-go/sparsenc/rng"
)

// ErrInvalidParameters is returned by NewEncodeContext when CodeParams
// violates a parameter invariant.
var ErrInvalidParameters = errors.New("snc: invalid parameters")

// EncodeContext exclusively owns the source symbol matrix S and the
// bipartite membership graph G, and draws coded packets from them.
type EncodeContext struct {
	Params CodeParams
	Graph  *graph.Graph
	Field  *gf.Field

	rows    [][]byte // S: M rows x SizeP bytes
	precode precode.Precode

	coeffRNG *rand.Rand
	genRNG   *rand.Rand

	// sentSystematic[g] is a per-subgeneration bitset of member slots
	// already emitted systematically; sysNextRow drives the systematic
	// sweep so each source row goes out exactly once before any coded
	// packet, regardless of how many subgenerations share it.
	sentSystematic [][]bool
	sysNextRow     int
}

// NewEncodeContext copies buf as the first DataSize bytes of S (padding the
// final row with zeros if DataSize is not a multiple of SizeP), runs the
// precode to fill the remaining SizeC parity rows, and builds G from Seed.
func NewEncodeContext(buf []byte, params CodeParams) (*EncodeContext, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidParameters, err.Error())
	}
	if len(buf) > params.DataSize {
		return nil, errors.Wrapf(ErrInvalidParameters, "snc: buf has %d bytes, exceeds datasize %d", len(buf), params.DataSize)
	}

	field, err := gf.New(params.GFPower)
	if err != nil {
		return nil, errors.Wrap(err, "snc: building GF field")
	}

	g, err := graph.Build(params.Type, params.M(), params.SizeB, params.SizeG, params.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "snc: building membership graph")
	}

	pc, err := precode.New(params.Bpc, params.DataRows(), params.SizeC, params.SizeP, params.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "snc: building precode")
	}

	ctx := &EncodeContext{
		Params:   params,
		Graph:    g,
		Field:    field,
		precode:  pc,
		coeffRNG: rng.Derive(params.Seed, rng.EncoderCoeffs),
		genRNG:   rng.Derive(params.Seed, rng.Graph+"-picker"),
	}
	ctx.rows = make([][]byte, params.M())
	for i := range ctx.rows {
		ctx.rows[i] = make([]byte, params.SizeP)
	}
	ctx.resetSystematicBookkeeping()

	if err := ctx.fillData(buf); err != nil {
		return nil, err
	}
	if err := ctx.runPrecode(); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (c *EncodeContext) resetSystematicBookkeeping() {
	c.sentSystematic = make([][]bool, c.Graph.NG)
	for g := 0; g < c.Graph.NG; g++ {
		c.sentSystematic[g] = make([]bool, c.Params.SizeG)
	}
	c.sysNextRow = 0
}

func (c *EncodeContext) fillData(buf []byte) error {
	off := 0
	for i := 0; i < c.Params.DataRows() && off < len(buf); i++ {
		n := copy(c.rows[i], buf[off:])
		off += n
		// Remaining bytes of a short final row stay zero.
	}
	return nil
}

func (c *EncodeContext) runPrecode() error {
	return c.precode.Encode(c.rows)
}

// LoadFile reads the file at path into S starting at the row-aligned byte
// offset start, then re-runs the precode.
func (c *EncodeContext) LoadFile(path string, start int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "snc: reading source file")
	}
	if start%c.Params.SizeP != 0 {
		return errors.Errorf("snc: start offset %d is not row-aligned to size_p=%d", start, c.Params.SizeP)
	}
	startRow := start / c.Params.SizeP
	off := 0
	for i := startRow; i < c.Params.DataRows() && off < len(data); i++ {
		n := copy(c.rows[i], data[off:])
		off += n
	}
	return c.runPrecode()
}

// GeneratePacket returns the next packet. While the systematic sweep is
// still running it is the next source row, carried by the first
// subgeneration containing it; afterwards it is a coded packet drawn from a
// subgeneration picked uniformly at random.
func (c *EncodeContext) GeneratePacket() (packet.Packet, error) {
	var p packet.Packet
	if err := c.GeneratePacketInto(&p); err != nil {
		return packet.Packet{}, err
	}
	return p, nil
}

// GeneratePacketInto fills p in place, reusing p.Coes/p.Syms capacity
// when already sized correctly.
func (c *EncodeContext) GeneratePacketInto(p *packet.Packet) error {
	if cap(p.Coes) < c.Params.SizeG {
		p.Coes = make([]byte, c.Params.SizeG)
	} else {
		p.Coes = p.Coes[:c.Params.SizeG]
	}
	if cap(p.Syms) < c.Params.SizeP {
		p.Syms = make([]byte, c.Params.SizeP)
	} else {
		p.Syms = p.Syms[:c.Params.SizeP]
	}

	if c.Params.Sys && c.sysNextRow < c.Params.M() {
		row := c.sysNextRow
		c.sysNextRow++
		gid := c.Graph.Subgens[row][0]
		slot := 0
		for j, idx := range c.Graph.Members[gid] {
			if idx == row {
				slot = j
				break
			}
		}
		for i := range p.Coes {
			p.Coes[i] = 0
		}
		p.Coes[slot] = 1
		p.GID = int32(gid)
		p.UCID = int32(slot)
		copy(p.Syms, c.rows[row])
		c.sentSystematic[gid][slot] = true
		return nil
	}

	gid := c.genRNG.Intn(c.Graph.NG)
	members := c.Graph.Members[gid]
	p.GID = int32(gid)
	p.UCID = -1
	maxVal := 1 << uint(c.Params.GFPower)
	for i := range p.Coes {
		p.Coes[i] = byte(c.coeffRNG.Intn(maxVal))
	}
	for i := range p.Syms {
		p.Syms[i] = 0
	}
	for j, coe := range p.Coes {
		if coe == 0 {
			continue
		}
		c.Field.RowAXPY(p.Syms, c.rows[members[j]], coe)
	}
	return nil
}

// RecoverData returns the first DataSize bytes of S[0:DataRows].
// EncodeContext always holds the full S, so no inverse precode is run and
// this never fails.
func (c *EncodeContext) RecoverData() []byte {
	out := make([]byte, 0, c.Params.DataSize)
	for i := 0; i < c.Params.DataRows() && len(out) < c.Params.DataSize; i++ {
		remaining := c.Params.DataSize - len(out)
		n := remaining
		if n > c.Params.SizeP {
			n = c.Params.SizeP
		}
		out = append(out, c.rows[i][:n]...)
	}
	return out
}

// RecoverFromRows applies the inverse precode to decoder-recovered rows
// and extracts the original data bytes, so decoder.Decoder.RecoverData can
// reuse the precode inverse without re-implementing row bookkeeping.
func RecoverFromRows(params CodeParams, rows [][]byte, present []bool) ([]byte, error) {
	pc, err := precode.New(params.Bpc, params.DataRows(), params.SizeC, params.SizeP, params.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "snc: building precode for recovery")
	}
	if err := pc.Decode(rows, present); err != nil {
		return nil, errors.Wrap(err, "snc: inverse precode failed")
	}
	out := make([]byte, 0, params.DataSize)
	for i := 0; i < params.DataRows() && len(out) < params.DataSize; i++ {
		remaining := params.DataSize - len(out)
		n := remaining
		if n > params.SizeP {
			n = params.SizeP
		}
		out = append(out, rows[i][:n]...)
	}
	return out, nil
}
