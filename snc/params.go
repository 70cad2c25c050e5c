// Package snc ties together the GF kernel, bipartite graph, precode and
// wire codec into the encoder side of the library: CodeParams, EncodeContext,
// and packet generation.
package snc

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/graph"
)

// CodeParams are the session parameters, immutable once a context or
// decoder has been built over them.
type CodeParams struct {
	DataSize int
	SizeP    int
	SizeC    int
	SizeB    int
	SizeG    int
	Type     graph.Type
	Bpc      int // 0 = GF(256) precode, 1 = binary precode
	GFPower  int
	Sys      bool
	Seed     uint32
}

// M returns the number of source packets including precode parity rows.
func (p CodeParams) M() int {
	dataRows := (p.DataSize + p.SizeP - 1) / p.SizeP
	return dataRows + p.SizeC
}

// DataRows returns the number of source rows carrying file data, excluding
// precode parity.
func (p CodeParams) DataRows() int {
	return p.M() - p.SizeC
}

// Validate checks the parameter invariants enforced at creation time.
func (p CodeParams) Validate() error {
	if p.DataSize <= 0 {
		return errors.Errorf("snc: datasize must be positive, got %d", p.DataSize)
	}
	if p.SizeP <= 0 {
		return errors.Errorf("snc: size_p must be positive, got %d", p.SizeP)
	}
	if p.SizeC < 0 {
		return errors.Errorf("snc: size_c must be non-negative, got %d", p.SizeC)
	}
	if p.GFPower < 1 || p.GFPower > 8 {
		return errors.Errorf("snc: gfpower must be in [1,8], got %d", p.GFPower)
	}
	if p.SizeG < p.SizeB {
		return errors.Errorf("snc: size_g=%d < size_b=%d", p.SizeG, p.SizeB)
	}
	if p.SizeB <= 0 || p.SizeG <= 0 {
		return errors.Errorf("snc: size_b and size_g must be positive")
	}
	switch p.Type {
	case graph.RAND, graph.BAND, graph.WINDWRAP, graph.BATS:
	default:
		return errors.Errorf("snc: unknown code type %v", p.Type)
	}
	if p.Bpc != 0 && p.Bpc != 1 {
		return errors.Errorf("snc: bpc must be 0 or 1, got %d", p.Bpc)
	}
	return nil
}

// paramsWireLen is the size of the nine little-endian words DataSize..Sys;
// MarshalBinary appends the seed word, so decoder.Save writes
// ParamsWireLen (paramsWireLen+4) bytes.
const paramsWireLen = 4 * 9

// MarshalBinary serializes CodeParams to the fixed-size wire layout used
// by the decoder context file.
func (p CodeParams) MarshalBinary() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, paramsWireLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.DataSize))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.SizeP))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.SizeC))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(p.SizeB))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(p.SizeG))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(p.Type))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(p.Bpc))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(p.GFPower))
	sys := uint32(0)
	if p.Sys {
		sys = 1
	}
	binary.LittleEndian.PutUint32(buf[32:36], sys)
	// The Sys word at offset 32 is followed by the Seed in its own word at
	// offset 36, giving ParamsWireLen bytes in all.
	return append(buf[:32], encodeSeedWord(sys, p.Seed)...), nil
}

func encodeSeedWord(sysWord uint32, seed uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], sysWord)
	binary.LittleEndian.PutUint32(buf[4:8], seed)
	return buf
}

// UnmarshalParams is the inverse of MarshalBinary.
func UnmarshalParams(buf []byte) (CodeParams, error) {
	if len(buf) != paramsWireLen+4 {
		return CodeParams{}, errors.Errorf("snc: parameters block has %d bytes, want %d", len(buf), paramsWireLen+4)
	}
	p := CodeParams{
		DataSize: int(binary.LittleEndian.Uint32(buf[0:4])),
		SizeP:    int(binary.LittleEndian.Uint32(buf[4:8])),
		SizeC:    int(binary.LittleEndian.Uint32(buf[8:12])),
		SizeB:    int(binary.LittleEndian.Uint32(buf[12:16])),
		SizeG:    int(binary.LittleEndian.Uint32(buf[16:20])),
		Type:     graph.Type(binary.LittleEndian.Uint32(buf[20:24])),
		Bpc:      int(binary.LittleEndian.Uint32(buf[24:28])),
		GFPower:  int(binary.LittleEndian.Uint32(buf[28:32])),
		Sys:      binary.LittleEndian.Uint32(buf[32:36]) != 0,
		Seed:     binary.LittleEndian.Uint32(buf[36:40]),
	}
	return p, p.Validate()
}

// ParamsWireLen is the exact byte length written/read by MarshalBinary
// and UnmarshalParams, exported for callers framing the decoder context
// file.
const ParamsWireLen = paramsWireLen + 4
