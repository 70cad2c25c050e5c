// Package config loads code parameters and relay settings from YAML files,
// so long-running tools can be driven by a config file instead of a dozen
// flags.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rlnc-go/sparsenc/decoder"
	"github.com/rlnc-go/sparsenc/graph"
	"github.com/rlnc-go/sparsenc/recoder"
	"github.com/rlnc-go/sparsenc/snc"
)

// Code mirrors snc.CodeParams with YAML tags and human-readable enum names.
type Code struct {
	DataSize int    `yaml:"datasize"`
	SizeP    int    `yaml:"size_p"`
	SizeC    int    `yaml:"size_c"`
	SizeB    int    `yaml:"size_b"`
	SizeG    int    `yaml:"size_g"`
	Type     string `yaml:"type"`
	Bpc      int    `yaml:"bpc"`
	GFPower  int    `yaml:"gfpower"`
	Sys      bool   `yaml:"sys"`
	Seed     uint32 `yaml:"seed"`
}

// Relay configures a recoding relay process.
type Relay struct {
	Listen      string `yaml:"listen"`
	Upstream    string `yaml:"upstream"`
	MetricsAddr string `yaml:"metrics_addr"`
	BufSize     int    `yaml:"bufsize"`
	Scheduler   string `yaml:"scheduler"`
}

// File is the top-level YAML document.
type File struct {
	Code  Code  `yaml:"code"`
	Relay Relay `yaml:"relay"`
}

// Load reads and validates a config file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: reading file")
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "config: parsing YAML")
	}
	if _, err := f.Code.Params(); err != nil {
		return nil, err
	}
	if f.Relay.Scheduler != "" {
		if _, err := ParseScheduler(f.Relay.Scheduler); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Params converts the YAML block into validated snc.CodeParams.
func (c Code) Params() (snc.CodeParams, error) {
	typ, err := ParseCodeType(c.Type)
	if err != nil {
		return snc.CodeParams{}, err
	}
	p := snc.CodeParams{
		DataSize: c.DataSize,
		SizeP:    c.SizeP,
		SizeC:    c.SizeC,
		SizeB:    c.SizeB,
		SizeG:    c.SizeG,
		Type:     typ,
		Bpc:      c.Bpc,
		GFPower:  c.GFPower,
		Sys:      c.Sys,
		Seed:     c.Seed,
	}
	if err := p.Validate(); err != nil {
		return snc.CodeParams{}, err
	}
	return p, nil
}

// ParseCodeType maps a name like "band" to its graph.Type.
func ParseCodeType(name string) (graph.Type, error) {
	switch strings.ToUpper(name) {
	case "RAND":
		return graph.RAND, nil
	case "BAND":
		return graph.BAND, nil
	case "WINDWRAP":
		return graph.WINDWRAP, nil
	case "BATS":
		return graph.BATS, nil
	default:
		return 0, errors.Errorf("config: unknown code type %q", name)
	}
}

// ParseDecoderKind maps a name like "cbd" to its decoder.Kind.
func ParseDecoderKind(name string) (decoder.Kind, error) {
	switch strings.ToUpper(name) {
	case "GG":
		return decoder.KindGG, nil
	case "OA":
		return decoder.KindOA, nil
	case "BD":
		return decoder.KindBD, nil
	case "CBD":
		return decoder.KindCBD, nil
	case "PP":
		return decoder.KindPP, nil
	default:
		return 0, errors.Errorf("config: unknown decoder %q", name)
	}
}

// ParseScheduler maps a name like "mlpi_sys" to its recoder.Scheduler.
func ParseScheduler(name string) (recoder.Scheduler, error) {
	switch strings.ToUpper(name) {
	case "TRIV":
		return recoder.TRIV, nil
	case "RAND":
		return recoder.RAND, nil
	case "RAND_SYS":
		return recoder.RandSys, nil
	case "MLPI":
		return recoder.MLPI, nil
	case "MLPI_SYS":
		return recoder.MLPISys, nil
	case "NURAND":
		return recoder.NURand, nil
	default:
		return 0, errors.Errorf("config: unknown scheduler %q", name)
	}
}
