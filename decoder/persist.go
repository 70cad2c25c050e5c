package decoder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/snc"
)

// magic and version identify the decoder context file format.
var magic = [4]byte{'S', 'N', 'C', 'D'}

const version = uint32(1)

// ErrIOFailure wraps any file I/O error from Save/Restore.
var ErrIOFailure = errors.New("decoder: I/O failure")

// ErrVersionMismatch is fatal on restore.
var ErrVersionMismatch = errors.New("decoder: version mismatch")

// Save writes dec's full state to path: magic, version, the fixed
// parameters block, a 4-byte decoder type tag, 8-byte dof, 8-byte
// operations, then an algorithm-specific payload in row-major order.
func Save(dec Decoder, path string) error {
	var buf bytes.Buffer
	buf.Write(magic[:])
	writeUint32(&buf, version)

	paramsBytes, err := dec.params().MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "decoder: marshaling parameters")
	}
	buf.Write(paramsBytes)

	writeInt32(&buf, int32(dec.kind()))
	writeInt64(&buf, int64(dec.DOF()))
	writeInt64(&buf, int64(dec.operations()))

	if err := writePayload(&buf, dec); err != nil {
		return errors.Wrap(err, "decoder: writing payload")
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(ErrIOFailure, err.Error())
	}
	return nil
}

// Restore is the inverse of Save: it rebuilds the membership graph from
// the persisted parameters and reconstructs the exact decoder state.
// Version mismatch is a fatal error.
func Restore(path string) (Decoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrIOFailure, err.Error())
	}
	r := bufio.NewReader(bytes.NewReader(data))

	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, errors.Wrap(ErrIOFailure, "reading magic")
	}
	if gotMagic != magic {
		return nil, errors.New("decoder: bad magic, not an SNCD file")
	}
	gotVersion, err := readUint32(r)
	if err != nil {
		return nil, errors.Wrap(ErrIOFailure, "reading version")
	}
	if gotVersion != version {
		return nil, errors.Wrapf(ErrVersionMismatch, "file version %d, want %d", gotVersion, version)
	}

	paramsBuf := make([]byte, snc.ParamsWireLen)
	if _, err := io.ReadFull(r, paramsBuf); err != nil {
		return nil, errors.Wrap(ErrIOFailure, "reading parameters block")
	}
	params, err := snc.UnmarshalParams(paramsBuf)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: unmarshaling parameters")
	}

	kindWord, err := readInt32(r)
	if err != nil {
		return nil, errors.Wrap(ErrIOFailure, "reading decoder type")
	}
	kind := Kind(kindWord)

	dof, err := readInt64(r)
	if err != nil {
		return nil, errors.Wrap(ErrIOFailure, "reading dof")
	}
	_ = dof // recomputed from restored pivot state; kept here for wire fidelity

	ops, err := readInt64(r)
	if err != nil {
		return nil, errors.Wrap(ErrIOFailure, "reading operations")
	}

	g, err := graph.Build(params.Type, params.M(), params.SizeB, params.SizeG, params.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: rebuilding membership graph")
	}

	dec, err := New(kind, params, g)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: recreating decoder shell")
	}

	if err := readPayload(r, dec, int(ops)); err != nil {
		return nil, errors.Wrap(err, "decoder: reading payload")
	}
	return dec, nil
}

func writePayload(buf *bytes.Buffer, dec Decoder) error {
	switch d := dec.(type) {
	case *ggDecoder:
		writeInt64(buf, int64(d.pktsRecvd))
		writeInt64(buf, int64(d.malformed))
		for g := 0; g < d.graph.NG; g++ {
			writeInt32(buf, int32(d.rank[g]))
			for r := 0; r < d.p.SizeG; r++ {
				if d.coes[g][r] == nil {
					buf.WriteByte(0)
					continue
				}
				buf.WriteByte(1)
				buf.Write(d.coes[g][r])
				buf.Write(d.syms[g][r])
			}
		}
		return nil
	case *oaDecoder:
		writeInt64(buf, int64(d.pktsRecvd))
		writeInt64(buf, int64(d.malformed))
		for c := 0; c < d.m; c++ {
			if !d.occupied[c] {
				buf.WriteByte(0)
				continue
			}
			buf.WriteByte(1)
			buf.Write(d.pivot[c])
			buf.Write(d.pivotSym[c])
		}
		return nil
	case *bdDecoder:
		writeInt64(buf, int64(d.pktsRecvd))
		writeInt64(buf, int64(d.malformed))
		return writeBandRows(buf, d.m, func(c int) *bdRow { return d.pivot[c] })
	case *cbdDecoder:
		writeInt64(buf, int64(d.pktsRecvd))
		writeInt64(buf, int64(d.malformed))
		return writeBandRowsCompact(buf, d.m, func(c int) *cbdRow { return d.pivot[c] })
	default:
		return errors.Errorf("decoder: unknown decoder implementation %T", dec)
	}
}

func writeBandRows(buf *bytes.Buffer, m int, at func(int) *bdRow) error {
	for c := 0; c < m; c++ {
		row := at(c)
		if row == nil {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		writeInt32(buf, int32(row.lead))
		writeInt32(buf, int32(len(row.coefs)))
		buf.Write(row.coefs)
		buf.Write(row.sym)
	}
	return nil
}

func writeBandRowsCompact(buf *bytes.Buffer, m int, at func(int) *cbdRow) error {
	for c := 0; c < m; c++ {
		row := at(c)
		if row == nil {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		writeInt32(buf, int32(row.lead))
		writeInt32(buf, int32(len(row.coefs)))
		buf.Write(row.coefs)
		buf.Write(row.sym)
	}
	return nil
}

func readPayload(r *bufio.Reader, dec Decoder, ops int) error {
	switch d := dec.(type) {
	case *ggDecoder:
		pkts, malformed, err := readCommonPrefix(r)
		if err != nil {
			return err
		}
		d.pktsRecvd, d.malformed, d.ops = pkts, malformed, ops
		for g := 0; g < d.graph.NG; g++ {
			rank, err := readInt32(r)
			if err != nil {
				return err
			}
			d.rank[g] = int(rank)
			for row := 0; row < d.p.SizeG; row++ {
				occ, err := r.ReadByte()
				if err != nil {
					return err
				}
				if occ == 0 {
					continue
				}
				coes := make([]byte, d.p.SizeG)
				syms := make([]byte, d.p.SizeP)
				if _, err := io.ReadFull(r, coes); err != nil {
					return err
				}
				if _, err := io.ReadFull(r, syms); err != nil {
					return err
				}
				d.coes[g][row] = coes
				d.syms[g][row] = syms
			}
			if d.rank[g] == d.p.SizeG {
				d.backSubstitute(g)
			}
		}
		return nil
	case *oaDecoder:
		pkts, malformed, err := readCommonPrefix(r)
		if err != nil {
			return err
		}
		d.pktsRecvd, d.malformed, d.ops = pkts, malformed, ops
		for c := 0; c < d.m; c++ {
			occ, err := r.ReadByte()
			if err != nil {
				return err
			}
			if occ == 0 {
				continue
			}
			row := make([]byte, d.m)
			sym := make([]byte, d.p.SizeP)
			if _, err := io.ReadFull(r, row); err != nil {
				return err
			}
			if _, err := io.ReadFull(r, sym); err != nil {
				return err
			}
			d.pivot[c] = row
			d.pivotSym[c] = sym
			d.occupied[c] = true
			d.rank++
		}
		if d.rank >= d.m-d.theta {
			d.tryGlobalElimination()
		}
		return nil
	case *bdDecoder:
		pkts, malformed, err := readCommonPrefix(r)
		if err != nil {
			return err
		}
		d.pktsRecvd, d.malformed, d.ops = pkts, malformed, ops
		for c := 0; c < d.m; c++ {
			occ, err := r.ReadByte()
			if err != nil {
				return err
			}
			if occ == 0 {
				continue
			}
			row, err := readBandRow(r, d.p.SizeP)
			if err != nil {
				return err
			}
			d.pivot[c] = row
		}
		if d.rank() >= d.m {
			if err := d.backSubstitute(); err != nil {
				return err
			}
		}
		return nil
	case *cbdDecoder:
		pkts, malformed, err := readCommonPrefix(r)
		if err != nil {
			return err
		}
		d.pktsRecvd, d.malformed, d.ops = pkts, malformed, ops
		for c := 0; c < d.m; c++ {
			occ, err := r.ReadByte()
			if err != nil {
				return err
			}
			if occ == 0 {
				continue
			}
			lead, err := readInt32(r)
			if err != nil {
				return err
			}
			length, err := readInt32(r)
			if err != nil {
				return err
			}
			coefs := make([]byte, length)
			if _, err := io.ReadFull(r, coefs); err != nil {
				return err
			}
			sym := make([]byte, d.p.SizeP)
			if _, err := io.ReadFull(r, sym); err != nil {
				return err
			}
			d.pivot[c] = &cbdRow{lead: int(lead), coefs: coefs, sym: sym}
		}
		if d.rank() >= d.m {
			if err := d.backSubstitute(); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("decoder: unknown decoder implementation %T", dec)
	}
}

func readBandRow(r *bufio.Reader, sizeP int) (*bdRow, error) {
	lead, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	length, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	coefs := make([]byte, length)
	if _, err := io.ReadFull(r, coefs); err != nil {
		return nil, err
	}
	sym := make([]byte, sizeP)
	if _, err := io.ReadFull(r, sym); err != nil {
		return nil, err
	}
	return &bdRow{lead: int(lead), coefs: coefs, sym: sym}, nil
}

func readCommonPrefix(r *bufio.Reader) (pkts, malformed int, err error) {
	p, err := readInt64(r)
	if err != nil {
		return 0, 0, err
	}
	m, err := readInt64(r)
	if err != nil {
		return 0, 0, err
	}
	return int(p), int(m), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	writeUint32(buf, uint32(v))
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readInt32(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
