// Package packet implements the coded-packet wire format: a little-endian
// gid/ucid header, a bit-packed coefficient vector, and a byte-aligned
// symbol vector.
package packet

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// Packet is a coded (or systematic) packet: gid identifies the
// subgeneration, ucid is the unit-coefficient index for a systematic
// packet or -1 otherwise, Coes holds one GF(2^q) element per byte
// (0..2^q-1) and Syms holds size_p symbol bytes.
type Packet struct {
	GID  int32
	UCID int32
	Coes []byte
	Syms []byte
}

// Clone deep-copies a packet, used wherever a component keeps its own
// copy (e.g. buffering a received packet in the recoder).
func (p Packet) Clone() Packet {
	return Packet{
		GID:  p.GID,
		UCID: p.UCID,
		Coes: append([]byte(nil), p.Coes...),
		Syms: append([]byte(nil), p.Syms...),
	}
}

// IsSystematic reports whether the packet carries a unit coefficient
// vector, i.e. a plain copy of one source row.
func (p Packet) IsSystematic() bool {
	return p.UCID >= 0
}

// Codec serializes/deserializes packets for a fixed (sizeG, sizeP,
// gfPower) combination, which the receiver must know out of band; the
// wire format carries no length prefix or checksum.
type Codec struct {
	SizeG   int
	SizeP   int
	GFPower int
}

func NewCodec(sizeG, sizeP, gfPower int) (*Codec, error) {
	if gfPower < 1 || gfPower > 8 {
		return nil, errors.Errorf("packet: invalid gfpower %d, want [1,8]", gfPower)
	}
	if sizeG <= 0 || sizeP <= 0 {
		return nil, errors.Errorf("packet: invalid sizeG=%d sizeP=%d", sizeG, sizeP)
	}
	return &Codec{SizeG: sizeG, SizeP: sizeP, GFPower: gfPower}, nil
}

// coesBytes is ceil(size_g * gfpower / 8).
func (c *Codec) coesBytes() int {
	bits := c.SizeG * c.GFPower
	return (bits + 7) / 8
}

// Length returns the fixed wire length of a packet under this codec.
func (c *Codec) Length() int {
	return 8 + c.coesBytes() + c.SizeP
}

// Encode serializes p to a freshly allocated buffer of exactly Length() bytes.
func (c *Codec) Encode(p Packet) ([]byte, error) {
	if len(p.Coes) != c.SizeG {
		return nil, errors.Errorf("packet: Coes has %d entries, want %d", len(p.Coes), c.SizeG)
	}
	if len(p.Syms) != c.SizeP {
		return nil, errors.Errorf("packet: Syms has %d bytes, want %d", len(p.Syms), c.SizeP)
	}

	buf := make([]byte, c.Length())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.GID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.UCID))

	coesRegion := new(bytes.Buffer)
	bw := bitio.NewWriter(coesRegion)
	for _, coe := range p.Coes {
		if err := bw.WriteBits(uint64(coe), byte(c.GFPower)); err != nil {
			return nil, errors.Wrap(err, "packet: writing coefficient bits")
		}
	}
	if err := bw.Close(); err != nil {
		return nil, errors.Wrap(err, "packet: flushing coefficient bits")
	}
	copy(buf[8:8+c.coesBytes()], coesRegion.Bytes())

	copy(buf[8+c.coesBytes():], p.Syms)
	return buf, nil
}

// Decode parses a packet from buf, which must be exactly Length() bytes.
func (c *Codec) Decode(buf []byte) (Packet, error) {
	if len(buf) != c.Length() {
		return Packet{}, errors.Errorf("packet: buffer has %d bytes, want %d", len(buf), c.Length())
	}
	gid := int32(binary.LittleEndian.Uint32(buf[0:4]))
	ucid := int32(binary.LittleEndian.Uint32(buf[4:8]))
	if ucid < -1 || ucid >= int32(c.SizeG) {
		return Packet{}, errors.Errorf("packet: ucid=%d out of range [-1,%d)", ucid, c.SizeG)
	}

	coesStart := 8
	coesEnd := coesStart + c.coesBytes()
	br := bitio.NewReader(bytes.NewReader(buf[coesStart:coesEnd]))
	coes := make([]byte, c.SizeG)
	for i := range coes {
		v, err := br.ReadBits(byte(c.GFPower))
		if err != nil && err != io.EOF {
			return Packet{}, errors.Wrap(err, "packet: reading coefficient bits")
		}
		coes[i] = byte(v)
	}

	syms := make([]byte, c.SizeP)
	copy(syms, buf[coesEnd:])

	return Packet{GID: gid, UCID: ucid, Coes: coes, Syms: syms}, nil
}
