// Package precode implements the inner precode that pads the source
// symbol matrix with size_c parity rows so that an outer decoder can
// tolerate residual unrecovered source rows. Two constructions are
// provided, selected by CodeParams.Bpc: a GF(256) Reed-Solomon precode
// (bpc=0) and a binary XOR-peeling precode (bpc=1).
//
// The GF(256) parity construction is part of the wire contract: parity
// rows are the parity shards of a systematic Reed-Solomon code over the
// size_p-byte symbol rows, with one row per shard. A receiver applies the
// matching Reconstruct to invert it.
package precode

import (
	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/rng"
)

// Precode fills and later inverts the size_c parity rows of a symbol
// matrix.
type Precode interface {
	// Encode fills rows[dataCount:] in place from rows[:dataCount].
	Encode(rows [][]byte) error
	// Decode reconstructs the data rows i < dataCount with !present[i]
	// (the Reed-Solomon precode also rebuilds missing parity rows; the
	// binary precode does not). present has the same length as rows.
	Decode(rows [][]byte, present []bool) error
	DataCount() int
	ParityCount() int
}

// New returns the precode for bpc (0 = GF(256)/Reed-Solomon, 1 = binary
// XOR-peeling), with dataCount source rows and parityCount parity rows of
// sizeP bytes each.
func New(bpc int, dataCount, parityCount, sizeP int, seed uint32) (Precode, error) {
	if parityCount == 0 {
		return noopPrecode{dataCount: dataCount}, nil
	}
	switch bpc {
	case 0:
		return newGF256Precode(dataCount, parityCount)
	case 1:
		return newBinaryPrecode(dataCount, parityCount, sizeP, seed)
	default:
		return nil, errors.Errorf("precode: unknown bpc=%d, want 0 or 1", bpc)
	}
}

// noopPrecode handles CodeParams.SizeC == 0: no parity rows, recovery
// requires every source row.
type noopPrecode struct{ dataCount int }

func (n noopPrecode) Encode([][]byte) error                { return nil }
func (n noopPrecode) Decode([][]byte, []bool) error         { return nil }
func (n noopPrecode) DataCount() int                        { return n.dataCount }
func (n noopPrecode) ParityCount() int                       { return 0 }

// gf256Precode is a systematic Reed-Solomon precode: the dataCount source
// rows are RS data shards, the parityCount precode rows are RS parity
// shards, one GF(256) RS symbol per byte position across all size_p bytes
// of a row (klauspost/reedsolomon operates shard-wise, which lines up
// exactly with one precode row per shard).
type gf256Precode struct {
	dataCount, parityCount int
	enc                    reedsolomon.Encoder
}

func newGF256Precode(dataCount, parityCount int) (*gf256Precode, error) {
	if dataCount+parityCount > 256 {
		return nil, errors.Errorf("precode: GF(256) precode supports at most 256 rows, got %d; use bpc=1 for larger blocks", dataCount+parityCount)
	}
	enc, err := reedsolomon.New(dataCount, parityCount)
	if err != nil {
		return nil, errors.Wrap(err, "precode: reedsolomon.New")
	}
	return &gf256Precode{dataCount: dataCount, parityCount: parityCount, enc: enc}, nil
}

func (p *gf256Precode) DataCount() int   { return p.dataCount }
func (p *gf256Precode) ParityCount() int { return p.parityCount }

func (p *gf256Precode) Encode(rows [][]byte) error {
	if len(rows) != p.dataCount+p.parityCount {
		return errors.Errorf("precode: Encode got %d rows, want %d", len(rows), p.dataCount+p.parityCount)
	}
	if err := p.enc.Encode(rows); err != nil {
		return errors.Wrap(err, "precode: rs encode")
	}
	return nil
}

func (p *gf256Precode) Decode(rows [][]byte, present []bool) error {
	if len(rows) != p.dataCount+p.parityCount {
		return errors.Errorf("precode: Decode got %d rows, want %d", len(rows), p.dataCount+p.parityCount)
	}
	shards := make([][]byte, len(rows))
	for i, row := range rows {
		if present[i] {
			shards[i] = row
		}
	}
	if err := p.enc.Reconstruct(shards); err != nil {
		return errors.Wrap(err, "precode: rs reconstruct")
	}
	for i := range rows {
		if !present[i] {
			rows[i] = shards[i]
		}
	}
	return nil
}

// binaryPrecode is an XOR-peeling precode over GF(2): each parity row is
// the XOR of a seeded-random subset of data rows (grounded on
// google-gofountain's binary.go LT-style neighbor selection), decoded by
// iterative peeling: any parity equation with exactly one still-missing
// member resolves that member by XORing the equation's other, now-known,
// members together.
type binaryPrecode struct {
	dataCount, parityCount, sizeP int
	neighbors                     [][]int // neighbors[p] = data row indices XORed into parity row p
}

func newBinaryPrecode(dataCount, parityCount, sizeP int, seed uint32) (*binaryPrecode, error) {
	if dataCount == 0 {
		return nil, errors.New("precode: dataCount must be positive")
	}
	r := rng.Derive(seed, "precode-binary")
	neighbors := make([][]int, parityCount)
	degree := dataCount/parityCount + 1
	if degree < 2 {
		degree = 2
	}
	for p := 0; p < parityCount; p++ {
		seen := make(map[int]bool, degree)
		for len(seen) < degree && len(seen) < dataCount {
			seen[r.Intn(dataCount)] = true
		}
		row := make([]int, 0, len(seen))
		for i := range seen {
			row = append(row, i)
		}
		neighbors[p] = row
	}
	return &binaryPrecode{dataCount: dataCount, parityCount: parityCount, sizeP: sizeP, neighbors: neighbors}, nil
}

func (p *binaryPrecode) DataCount() int   { return p.dataCount }
func (p *binaryPrecode) ParityCount() int { return p.parityCount }

func (p *binaryPrecode) Encode(rows [][]byte) error {
	if len(rows) != p.dataCount+p.parityCount {
		return errors.Errorf("precode: Encode got %d rows, want %d", len(rows), p.dataCount+p.parityCount)
	}
	for pi, nbrs := range p.neighbors {
		out := rows[p.dataCount+pi]
		for i := range out {
			out[i] = 0
		}
		for _, src := range nbrs {
			xorInto(out, rows[src])
		}
	}
	return nil
}

func (p *binaryPrecode) Decode(rows [][]byte, present []bool) error {
	if len(rows) != p.dataCount+p.parityCount {
		return errors.Errorf("precode: Decode got %d rows, want %d", len(rows), p.dataCount+p.parityCount)
	}
	missing := 0
	for i := 0; i < p.dataCount; i++ {
		if !present[i] {
			missing++
		}
	}
	for progress := true; missing > 0 && progress; {
		progress = false
		for pi, nbrs := range p.neighbors {
			if !present[p.dataCount+pi] {
				continue
			}
			unknownIdx := -1
			unknownCount := 0
			for _, src := range nbrs {
				if !present[src] {
					unknownCount++
					unknownIdx = src
				}
			}
			if unknownCount != 1 {
				continue
			}
			acc := make([]byte, p.sizeP)
			xorInto(acc, rows[p.dataCount+pi])
			for _, src := range nbrs {
				if src != unknownIdx {
					xorInto(acc, rows[src])
				}
			}
			rows[unknownIdx] = acc
			present[unknownIdx] = true
			missing--
			progress = true
		}
	}
	if missing > 0 {
		return errors.Errorf("precode: peeling stalled with %d rows still missing", missing)
	}
	return nil
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
