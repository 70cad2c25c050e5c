// Package recoder implements relay-side recoding: a bounded per-subgeneration
// buffer of received coded packets and a family of scheduling policies that
// pick which subgeneration to recode from on each output call. A recoded
// packet is a fresh random linear combination of the buffered packets of one
// subgeneration, so it remains a linear combination of that subgeneration's
// source rows and a downstream decoder treats it like any other coded packet.
package recoder

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/gf"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/rng"
	"github.com/rlnc-go/sparsenc/snc"
)

// Scheduler selects which subgeneration a Recode call draws from.
type Scheduler int

const (
	// TRIV picks uniformly over all subgenerations, empty ones included;
	// recoding from an empty ring emits an all-zero packet the caller may
	// discard.
	TRIV Scheduler = iota
	// RAND picks uniformly over subgenerations with a non-empty ring.
	RAND
	// RandSys is RAND, but a buffered systematic packet is forwarded
	// verbatim the first time its ring is picked; afterwards the ring is
	// recoded like any other.
	RandSys
	// MLPI picks the subgeneration with the highest local potential
	// innovativeness: min(held, size_g) - emitted, ties broken by the
	// smallest subgeneration id.
	MLPI
	// MLPISys is MLPI with RandSys's systematic-first rule.
	MLPISys
	// NURand samples a subgeneration with probability proportional to its
	// held packet count.
	NURand
)

func (s Scheduler) String() string {
	switch s {
	case TRIV:
		return "TRIV"
	case RAND:
		return "RAND"
	case RandSys:
		return "RAND_SYS"
	case MLPI:
		return "MLPI"
	case MLPISys:
		return "MLPI_SYS"
	case NURand:
		return "NURAND"
	default:
		return "unknown"
	}
}

// slot is one ring entry: the buffered packet copy plus whether it has
// already been forwarded verbatim under a systematic-first scheduler.
type slot struct {
	pkt     packet.Packet
	sysSent bool
}

// Buffer holds up to bufSize received packets per subgeneration. It is a
// single-threaded object; the caller provides any parallelism.
type Buffer struct {
	params snc.CodeParams
	field  *gf.Field
	ng     int

	bufSize int
	rings   [][]slot
	emitted []int

	r *rand.Rand
}

// NewBuffer builds a recoding buffer for params with bufSize slots per
// subgeneration. The scheduling/eviction RNG is derived from params.Seed on
// its own stream, so recoder choices never perturb encoder output.
func NewBuffer(params snc.CodeParams, bufSize int) (*Buffer, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "recoder: invalid parameters")
	}
	if bufSize <= 0 {
		return nil, errors.Errorf("recoder: bufsize must be positive, got %d", bufSize)
	}
	field, err := gf.New(params.GFPower)
	if err != nil {
		return nil, errors.Wrap(err, "recoder: building GF field")
	}
	g, err := graph.Build(params.Type, params.M(), params.SizeB, params.SizeG, params.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "recoder: building membership graph")
	}
	return &Buffer{
		params:  params,
		field:   field,
		ng:      g.NG,
		bufSize: bufSize,
		rings:   make([][]slot, g.NG),
		emitted: make([]int, g.NG),
		r:       rng.Derive(params.Seed, rng.RecoderSched),
	}, nil
}

// NG returns the number of subgenerations the buffer tracks.
func (b *Buffer) NG() int { return b.ng }

// Held returns the number of packets currently buffered for subgeneration g.
func (b *Buffer) Held(g int) int { return len(b.rings[g]) }

// Insert copies p into the ring for its subgeneration. A packet with a gid
// outside [0, N_g) or a wrong-width coefficient vector is dropped silently.
// When the ring is full, a uniformly random held slot is evicted first.
func (b *Buffer) Insert(p packet.Packet) {
	gid := int(p.GID)
	if gid < 0 || gid >= b.ng {
		return
	}
	if len(p.Coes) != b.params.SizeG || len(p.Syms) != b.params.SizeP {
		return
	}
	ring := b.rings[gid]
	if len(ring) >= b.bufSize {
		victim := b.r.Intn(len(ring))
		ring[victim] = ring[len(ring)-1]
		ring = ring[:len(ring)-1]
	}
	b.rings[gid] = append(ring, slot{pkt: p.Clone()})
}

// Recode emits one packet chosen by sched. ok is false when the policy
// requires a non-empty ring and every ring is empty, or when sched is not a
// known Scheduler; TRIV always succeeds, possibly with an all-zero packet.
func (b *Buffer) Recode(sched Scheduler) (packet.Packet, bool) {
	switch sched {
	case TRIV:
		return b.recodeFrom(b.r.Intn(b.ng), false)
	case RAND:
		gid, ok := b.pickNonEmpty()
		if !ok {
			return packet.Packet{}, false
		}
		return b.recodeFrom(gid, false)
	case RandSys:
		gid, ok := b.pickNonEmpty()
		if !ok {
			return packet.Packet{}, false
		}
		return b.recodeFrom(gid, true)
	case MLPI:
		gid, ok := b.pickMLPI()
		if !ok {
			return packet.Packet{}, false
		}
		return b.recodeFrom(gid, false)
	case MLPISys:
		gid, ok := b.pickMLPI()
		if !ok {
			return packet.Packet{}, false
		}
		return b.recodeFrom(gid, true)
	case NURand:
		gid, ok := b.pickWeighted()
		if !ok {
			return packet.Packet{}, false
		}
		return b.recodeFrom(gid, false)
	default:
		return packet.Packet{}, false
	}
}

// RecodeBATS recodes from one specific batch, the per-batch discipline of a
// BATS relay: every output draws only from the accumulated packets of that
// batch.
func (b *Buffer) RecodeBATS(gid int) (packet.Packet, bool) {
	if gid < 0 || gid >= b.ng || len(b.rings[gid]) == 0 {
		return packet.Packet{}, false
	}
	return b.recodeFrom(gid, false)
}

func (b *Buffer) pickNonEmpty() (int, bool) {
	candidates := make([]int, 0, b.ng)
	for g := 0; g < b.ng; g++ {
		if len(b.rings[g]) > 0 {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[b.r.Intn(len(candidates))], true
}

func (b *Buffer) pickMLPI() (int, bool) {
	best, bestScore, found := 0, 0, false
	for g := 0; g < b.ng; g++ {
		held := len(b.rings[g])
		if held == 0 {
			continue
		}
		if held > b.params.SizeG {
			held = b.params.SizeG
		}
		score := held - b.emitted[g]
		if !found || score > bestScore {
			best, bestScore, found = g, score, true
		}
	}
	return best, found
}

func (b *Buffer) pickWeighted() (int, bool) {
	total := 0
	for g := 0; g < b.ng; g++ {
		total += len(b.rings[g])
	}
	if total == 0 {
		return 0, false
	}
	n := b.r.Intn(total)
	for g := 0; g < b.ng; g++ {
		n -= len(b.rings[g])
		if n < 0 {
			return g, true
		}
	}
	return b.ng - 1, true
}

// recodeFrom combines the ring of gid into a fresh packet. With sysFirst
// set, a buffered systematic packet not yet forwarded is emitted verbatim
// instead.
func (b *Buffer) recodeFrom(gid int, sysFirst bool) (packet.Packet, bool) {
	ring := b.rings[gid]

	if sysFirst {
		for i := range ring {
			if ring[i].pkt.IsSystematic() && !ring[i].sysSent {
				ring[i].sysSent = true
				b.emitted[gid]++
				return ring[i].pkt.Clone(), true
			}
		}
	}

	out := packet.Packet{
		GID:  int32(gid),
		UCID: -1,
		Coes: make([]byte, b.params.SizeG),
		Syms: make([]byte, b.params.SizeP),
	}
	maxVal := 1 << uint(b.params.GFPower)
	for i := range ring {
		alpha := byte(b.r.Intn(maxVal))
		if alpha == 0 {
			continue
		}
		b.field.RowAXPY(out.Coes, ring[i].pkt.Coes, alpha)
		b.field.RowAXPY(out.Syms, ring[i].pkt.Syms, alpha)
	}
	b.emitted[gid]++
	return out, true
}
