package decoder

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/snc"
)

func bandParams() snc.CodeParams {
	return snc.CodeParams{
		DataSize: 1024,
		SizeP:    32,
		SizeC:    2,
		SizeB:    4,
		SizeG:    16,
		Type:     graph.BAND,
		GFPower:  8,
		Seed:     1,
	}
}

func randomData(size int, seed int64) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func newSession(t *testing.T, p snc.CodeParams, kind Kind, dataSeed int64) (*snc.EncodeContext, Decoder, []byte) {
	t.Helper()
	data := randomData(p.DataSize, dataSeed)
	ctx, err := snc.NewEncodeContext(data, p)
	require.NoError(t, err)
	dec, err := New(kind, p, ctx.Graph)
	require.NoError(t, err)
	return ctx, dec, data
}

func feedUntilFinished(t *testing.T, ctx *snc.EncodeContext, dec Decoder, maxPackets int) {
	t.Helper()
	for i := 0; i < maxPackets && !dec.Finished(); i++ {
		pkt, err := ctx.GeneratePacket()
		require.NoError(t, err)
		require.NoError(t, dec.ProcessPacket(pkt))
	}
	require.True(t, dec.Finished(), "decoder did not finish within %d packets (dof=%d of %d)", maxPackets, dec.DOF(), dec.params().M())
}

func TestCompactBandDecodeRoundTrip(t *testing.T) {
	p := bandParams()
	ctx, dec, data := newSession(t, p, KindCBD, 1)

	feedUntilFinished(t, ctx, dec, 50*p.M())
	require.Equal(t, p.M(), dec.DOF())

	got, err := dec.RecoverData()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestSystematicDecodeCompletesInM(t *testing.T) {
	p := bandParams()
	p.Sys = true
	ctx, dec, data := newSession(t, p, KindCBD, 2)

	for i := 0; i < p.M(); i++ {
		pkt, err := ctx.GeneratePacket()
		require.NoError(t, err)
		require.True(t, pkt.IsSystematic(), "packet %d of the systematic sweep", i)
		require.NoError(t, dec.ProcessPacket(pkt))
	}
	require.True(t, dec.Finished(), "systematic sweep alone completes the decode")
	require.Equal(t, p.M(), dec.DOF())

	got, err := dec.RecoverData()
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Zero(t, dec.operations(), "unit rows install as pivots without elimination")
}

func TestOverlapAwareRandDecode(t *testing.T) {
	p := snc.CodeParams{
		DataSize: 256 * 32,
		SizeP:    32,
		SizeC:    0,
		SizeB:    8,
		SizeG:    32,
		Type:     graph.RAND,
		GFPower:  8,
	}
	overheads := make([]float64, 0, 16)
	for seed := uint32(42); seed < 42+16; seed++ {
		p.Seed = seed
		ctx, dec, data := newSession(t, p, KindOA, int64(seed))

		feedUntilFinished(t, ctx, dec, 2*p.M())
		got, err := dec.RecoverData()
		require.NoError(t, err)
		require.Equal(t, data, got, "seed %d", seed)
		overheads = append(overheads, dec.Overhead())
	}
	require.Less(t, stat.Mean(overheads, nil), 1.15)
}

func TestBandDecodeWindWrap(t *testing.T) {
	p := snc.CodeParams{
		DataSize: 128 * 32,
		SizeP:    32,
		SizeC:    0,
		SizeB:    4,
		SizeG:    16,
		Type:     graph.WINDWRAP,
		GFPower:  8,
		Seed:     9,
	}
	ctx, dec, data := newSession(t, p, KindBD, 3)

	feedUntilFinished(t, ctx, dec, 4*p.M())
	got, err := dec.RecoverData()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBandRowsStayCompactUnderWrap(t *testing.T) {
	p := snc.CodeParams{
		DataSize: 64 * 32,
		SizeP:    32,
		SizeC:    0,
		SizeB:    4,
		SizeG:    8,
		Type:     graph.WINDWRAP,
		GFPower:  8,
		Seed:     21,
	}
	ctx, dec, data := newSession(t, p, KindBD, 21)

	feedUntilFinished(t, ctx, dec, 4*p.M())

	// Before back-substitution every stored band, wrapped rows included,
	// fits inside a size_g window; a row whose window straddles the M-1/0
	// boundary must not inflate to an M-wide band.
	bd := dec.(*bdDecoder)
	for c, piv := range bd.pivot {
		require.NotNil(t, piv, "column %d", c)
		require.LessOrEqual(t, len(piv.coefs), p.SizeG, "column %d", c)
	}

	got, err := dec.RecoverData()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestGenerationDecodeBATS(t *testing.T) {
	p := snc.CodeParams{
		DataSize: 512 * 32,
		SizeP:    32,
		SizeC:    0,
		SizeB:    8,
		SizeG:    8,
		Type:     graph.BATS,
		GFPower:  8,
		Seed:     4,
	}
	require.Equal(t, 512, p.M())
	ctx, dec, data := newSession(t, p, KindGG, 4)

	feedUntilFinished(t, ctx, dec, 4*p.M())
	got, err := dec.RecoverData()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestMalformedPacketsAreCountedNotFatal(t *testing.T) {
	p := bandParams()
	ctx, dec, data := newSession(t, p, KindCBD, 5)

	bad := packet.Packet{
		GID:  int32(ctx.Graph.NG), // out of range
		UCID: -1,
		Coes: make([]byte, p.SizeG),
		Syms: make([]byte, p.SizeP),
	}
	injected := 0
	for i := 0; i < 50*p.M() && !dec.Finished(); i++ {
		if injected < 10 && i%3 == 0 {
			require.NoError(t, dec.ProcessPacket(bad))
			injected++
		}
		pkt, err := ctx.GeneratePacket()
		require.NoError(t, err)
		require.NoError(t, dec.ProcessPacket(pkt))
	}
	require.True(t, dec.Finished())
	require.Equal(t, 10, injected)
	require.Equal(t, 10, dec.(*cbdDecoder).malformed)

	got, err := dec.RecoverData()
	require.NoError(t, err)
	require.Equal(t, data, got, "malformed packets must not corrupt state")
}

func TestRecoverDataBeforeFinished(t *testing.T) {
	p := bandParams()
	_, dec, _ := newSession(t, p, KindCBD, 6)
	_, err := dec.RecoverData()
	require.Equal(t, ErrNotFinished, errors.Cause(err))
}

func TestNewRejectsIncompatibleCombinations(t *testing.T) {
	p := bandParams()
	p.Type = graph.RAND
	g, err := graph.Build(p.Type, p.M(), p.SizeB, p.SizeG, p.Seed)
	require.NoError(t, err)

	_, err = New(KindBD, p, g)
	require.Error(t, err)
	_, err = New(KindCBD, p, g)
	require.Error(t, err)
	_, err = New(KindPP, p, g)
	require.Error(t, err)

	_, err = New(KindGG, p, g)
	require.NoError(t, err)
}

func TestPersistenceRoundTrip(t *testing.T) {
	kinds := []struct {
		kind Kind
		typ  graph.Type
	}{
		{KindGG, graph.BAND},
		{KindOA, graph.BAND},
		{KindBD, graph.WINDWRAP},
		{KindCBD, graph.BAND},
	}
	for _, tc := range kinds {
		t.Run(tc.kind.String(), func(t *testing.T) {
			p := bandParams()
			p.Type = tc.typ
			data := randomData(p.DataSize, int64(tc.kind))
			ctx, err := snc.NewEncodeContext(data, p)
			require.NoError(t, err)

			direct, err := New(tc.kind, p, ctx.Graph)
			require.NoError(t, err)
			saved, err := New(tc.kind, p, ctx.Graph)
			require.NoError(t, err)

			// First half of the stream goes to both decoders, then one is
			// saved and restored before the stream continues.
			half := p.M() / 2
			for i := 0; i < half; i++ {
				pkt, err := ctx.GeneratePacket()
				require.NoError(t, err)
				require.NoError(t, direct.ProcessPacket(pkt))
				require.NoError(t, saved.ProcessPacket(pkt.Clone()))
			}

			path := filepath.Join(t.TempDir(), "decoder.sncd")
			require.NoError(t, Save(saved, path))
			restored, err := Restore(path)
			require.NoError(t, err)
			require.Equal(t, direct.DOF(), restored.DOF())

			for i := 0; i < 50*p.M() && !(direct.Finished() && restored.Finished()); i++ {
				pkt, err := ctx.GeneratePacket()
				require.NoError(t, err)
				if !direct.Finished() {
					require.NoError(t, direct.ProcessPacket(pkt))
				}
				if !restored.Finished() {
					require.NoError(t, restored.ProcessPacket(pkt.Clone()))
				}
			}
			require.True(t, direct.Finished())
			require.True(t, restored.Finished())

			wantData, err := direct.RecoverData()
			require.NoError(t, err)
			gotData, err := restored.RecoverData()
			require.NoError(t, err)
			require.Equal(t, data, wantData)
			require.Equal(t, data, gotData)
		})
	}
}

func TestRestoreRejectsVersionMismatch(t *testing.T) {
	p := bandParams()
	_, dec, _ := newSession(t, p, KindCBD, 8)

	path := filepath.Join(t.TempDir(), "decoder.sncd")
	require.NoError(t, Save(dec, path))

	// Corrupt the version word.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[4] = 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Restore(path)
	require.Equal(t, ErrVersionMismatch, errors.Cause(err))
}

func TestOverheadBound(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical overhead sweep")
	}
	wrap := snc.CodeParams{
		DataSize: 1024 * 32,
		SizeP:    32,
		SizeC:    0,
		SizeB:    8,
		SizeG:    32,
		Type:     graph.WINDWRAP,
		GFPower:  8,
	}
	sparse := wrap
	sparse.Type = graph.RAND

	cases := []struct {
		name string
		p    snc.CodeParams
		kind Kind
	}{
		{"BD", wrap, KindBD},
		{"CBD", wrap, KindCBD},
		{"OA", sparse, KindOA},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			overheads := make([]float64, 0, 10)
			for seed := uint32(100); seed < 110; seed++ {
				p := tc.p
				p.Seed = seed
				ctx, dec, _ := newSession(t, p, tc.kind, int64(seed))
				feedUntilFinished(t, ctx, dec, 2*p.M())
				overheads = append(overheads, dec.Overhead())
			}
			require.LessOrEqual(t, stat.Mean(overheads, nil), 1.10)
		})
	}
}
