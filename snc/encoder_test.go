package snc

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlnc-go/sparsenc/graph"
)

func testParams() CodeParams {
	return CodeParams{
		DataSize: 1024,
		SizeP:    32,
		SizeC:    2,
		SizeB:    4,
		SizeG:    16,
		Type:     graph.BAND,
		Bpc:      0,
		GFPower:  8,
		Seed:     1,
	}
}

func TestNewEncodeContextRejectsInvalid(t *testing.T) {
	p := testParams()
	p.DataSize = 0
	_, err := NewEncodeContext(nil, p)
	require.Error(t, err)
}

func TestGeneratePacketSoundness(t *testing.T) {
	p := testParams()
	data := make([]byte, p.DataSize)
	rand.New(rand.NewSource(9)).Read(data)

	ctx, err := NewEncodeContext(data, p)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		pkt, err := ctx.GeneratePacket()
		require.NoError(t, err)

		members := ctx.Graph.Members[pkt.GID]
		want := make([]byte, p.SizeP)
		for j, coe := range pkt.Coes {
			ctx.Field.RowAXPY(want, ctx.rows[members[j]], coe)
		}
		require.Equal(t, want, pkt.Syms, "encoder soundness at iter %d", i)
	}
}

func TestGeneratePacketSystematicFirst(t *testing.T) {
	p := testParams()
	p.Sys = true
	data := make([]byte, p.DataSize)
	rand.New(rand.NewSource(3)).Read(data)

	ctx, err := NewEncodeContext(data, p)
	require.NoError(t, err)

	// The systematic sweep emits each of the M source rows exactly once
	// before the first coded packet.
	seen := make([]bool, p.M())
	for i := 0; i < p.M(); i++ {
		pkt, err := ctx.GeneratePacket()
		require.NoError(t, err)
		require.GreaterOrEqual(t, pkt.UCID, int32(0), "packet %d", i)
		row := ctx.Graph.Members[pkt.GID][pkt.UCID]
		require.False(t, seen[row], "row %d emitted twice", row)
		seen[row] = true
		require.Equal(t, ctx.rows[row], pkt.Syms)
	}

	pkt, err := ctx.GeneratePacket()
	require.NoError(t, err)
	require.EqualValues(t, -1, pkt.UCID, "sweep exhausted, packets are coded now")
}

func TestRecoverDataRoundTripsWithoutLoss(t *testing.T) {
	p := testParams()
	data := make([]byte, p.DataSize)
	rand.New(rand.NewSource(5)).Read(data)

	ctx, err := NewEncodeContext(data, p)
	require.NoError(t, err)

	got := ctx.RecoverData()
	require.True(t, bytes.Equal(data, got))
}
