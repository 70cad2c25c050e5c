// Package decoder implements the four coded-packet decoding algorithms
// (GG, OA, BD, CBD) behind one dispatcher and a shared interface, plus
// persistence of partial decoder state to disk.
package decoder

import (
	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/gf"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/snc"
)

// Kind tags the decoding algorithm.
type Kind int32

const (
	KindGG Kind = iota
	KindOA
	KindBD
	KindCBD
	KindPP // reserved, not implemented
)

func (k Kind) String() string {
	switch k {
	case KindGG:
		return "GG"
	case KindOA:
		return "OA"
	case KindBD:
		return "BD"
	case KindCBD:
		return "CBD"
	case KindPP:
		return "PP"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by New, RecoverData and friends.
var (
	ErrUnsupportedDecoder = errors.New("decoder: unsupported (type, decoder) combination")
	ErrNotFinished        = errors.New("decoder: recover_data called before finished()")
	ErrInvalidParameters  = errors.New("decoder: invalid parameters")
)

// Decoder is the contract shared by all four algorithms: feed coded
// packets, ask whether enough have arrived, and recover the original
// bytes once they have.
type Decoder interface {
	ProcessPacket(p packet.Packet) error
	Finished() bool
	DOF() int
	Overhead() float64
	Cost() float64
	RecoverData() ([]byte, error)

	// kind identifies the algorithm for persistence (decoder.Save).
	kind() Kind
	params() snc.CodeParams
	operations() int
	received() int
}

// New builds the decoder for kind over params/g. BD and CBD are only
// valid for BAND/WINDWRAP graphs; KindPP is reserved and always rejected.
func New(kind Kind, params snc.CodeParams, g *graph.Graph) (Decoder, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidParameters, err.Error())
	}
	field, err := gf.New(params.GFPower)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: building GF field")
	}

	switch kind {
	case KindGG:
		return newGGDecoder(params, g, field), nil
	case KindOA:
		return newOADecoder(params, g, field), nil
	case KindBD:
		if params.Type != graph.BAND && params.Type != graph.WINDWRAP {
			return nil, errors.Wrapf(ErrUnsupportedDecoder, "BD requires BAND/WINDWRAP, got %v", params.Type)
		}
		return newBDDecoder(params, g, field), nil
	case KindCBD:
		if params.Type != graph.BAND && params.Type != graph.WINDWRAP {
			return nil, errors.Wrapf(ErrUnsupportedDecoder, "CBD requires BAND/WINDWRAP, got %v", params.Type)
		}
		return newCBDDecoder(params, g, field), nil
	case KindPP:
		return nil, errors.Wrap(ErrUnsupportedDecoder, "PP_DECODER is reserved and unimplemented")
	default:
		return nil, errors.Wrapf(ErrUnsupportedDecoder, "unknown decoder kind %v", kind)
	}
}

// validateHeader is the malformed-packet check shared by all algorithms:
// gid must be a known subgeneration and ucid within [-1, size_g).
func validateHeader(p packet.Packet, g *graph.Graph, sizeG int) bool {
	if p.GID < 0 || int(p.GID) >= g.NG {
		return false
	}
	if p.UCID < -1 || int(p.UCID) >= sizeG {
		return false
	}
	if len(p.Coes) != sizeG {
		return false
	}
	return true
}
