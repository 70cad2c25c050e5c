package packet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCodecRoundTripFixed(t *testing.T) {
	c, err := NewCodec(6, 32, 8)
	require.NoError(t, err)

	p := Packet{
		GID:  3,
		UCID: -1,
		Coes: []byte{1, 2, 3, 4, 5, 6},
		Syms: make([]byte, 32),
	}
	rand.Read(p.Syms)

	buf, err := c.Encode(p)
	require.NoError(t, err)
	require.Len(t, buf, c.Length())

	got, err := c.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestCodecRejectsWrongLength(t *testing.T) {
	c, err := NewCodec(4, 8, 8)
	require.NoError(t, err)
	_, err = c.Decode(make([]byte, c.Length()-1))
	require.Error(t, err)
}

func TestCodecRejectsBadUCID(t *testing.T) {
	c, err := NewCodec(4, 8, 8)
	require.NoError(t, err)
	buf := make([]byte, c.Length())
	buf[4] = 0xFF // ucid becomes a huge positive number, out of [-1, sizeG)
	_, err = c.Decode(buf)
	require.Error(t, err)
}

// TestCodecRoundTripProperty: deserialize(serialize(p)) = p
// for all valid p and all q in [1,8].
func TestCodecRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := rapid.IntRange(1, 8).Draw(t, "q")
		sizeG := rapid.IntRange(1, 12).Draw(t, "sizeG")
		sizeP := rapid.IntRange(1, 20).Draw(t, "sizeP")

		c, err := NewCodec(sizeG, sizeP, q)
		if err != nil {
			t.Fatalf("NewCodec: %v", err)
		}

		maxVal := 1 << uint(q)
		coes := make([]byte, sizeG)
		for i := range coes {
			coes[i] = byte(rapid.IntRange(0, maxVal-1).Draw(t, "coe"))
		}
		syms := make([]byte, sizeP)
		for i := range syms {
			syms[i] = byte(rapid.IntRange(0, 255).Draw(t, "sym"))
		}
		ucid := int32(rapid.IntRange(-1, sizeG-1).Draw(t, "ucid"))

		p := Packet{GID: int32(rapid.IntRange(0, 1<<16).Draw(t, "gid")), UCID: ucid, Coes: coes, Syms: syms}

		buf, err := c.Encode(p)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := c.Decode(buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.GID != p.GID || got.UCID != p.UCID {
			t.Fatalf("header mismatch: %+v vs %+v", got, p)
		}
		for i := range coes {
			if got.Coes[i] != coes[i] {
				t.Fatalf("coe[%d] mismatch: %d vs %d", i, got.Coes[i], coes[i])
			}
		}
		for i := range syms {
			if got.Syms[i] != syms[i] {
				t.Fatalf("sym[%d] mismatch: %d vs %d", i, got.Syms[i], syms[i])
			}
		}
	})
}

func TestCloneIsDeep(t *testing.T) {
	p := Packet{GID: 1, UCID: -1, Coes: []byte{1, 2}, Syms: []byte{3, 4}}
	c := p.Clone()
	c.Coes[0] = 9
	require.Equal(t, byte(1), p.Coes[0])
}
