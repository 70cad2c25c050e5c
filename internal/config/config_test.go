package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/recoder"
)

const sample = `
code:
  datasize: 1024
  size_p: 32
  size_c: 2
  size_b: 4
  size_g: 16
  type: band
  bpc: 0
  gfpower: 8
  sys: false
  seed: 1
relay:
  listen: ":9810"
  upstream: "ws://127.0.0.1:9809/packets"
  metrics_addr: ":2112"
  bufsize: 16
  scheduler: mlpi_sys
`

func writeSample(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	f, err := Load(writeSample(t, sample))
	require.NoError(t, err)

	p, err := f.Code.Params()
	require.NoError(t, err)
	require.Equal(t, graph.BAND, p.Type)
	require.Equal(t, 34, p.M())

	sched, err := ParseScheduler(f.Relay.Scheduler)
	require.NoError(t, err)
	require.Equal(t, recoder.MLPISys, sched)
	require.Equal(t, 16, f.Relay.BufSize)
}

func TestLoadRejectsBadType(t *testing.T) {
	bad := `
code:
  datasize: 1024
  size_p: 32
  size_g: 16
  size_b: 4
  type: hamming
  gfpower: 8
`
	_, err := Load(writeSample(t, bad))
	require.Error(t, err)
}

func TestLoadRejectsBadScheduler(t *testing.T) {
	bad := sample[:len(sample)-len("mlpi_sys\n")] + "bogus\n"
	_, err := Load(writeSample(t, bad))
	require.Error(t, err)
}

func TestParseDecoderKind(t *testing.T) {
	for name, want := range map[string]string{
		"gg": "GG", "oa": "OA", "bd": "BD", "cbd": "CBD",
	} {
		k, err := ParseDecoderKind(name)
		require.NoError(t, err)
		require.Equal(t, want, k.String())
	}
	_, err := ParseDecoderKind("lt")
	require.Error(t, err)
}
