// Package graph builds the bipartite source-packet-to-subgeneration
// membership graph deterministically from a seed.
package graph

import (
	"github.com/pkg/errors"

	"github.com/rlnc-go/sparsenc/rng"
)

// Type selects the bipartite construction rule.
type Type int

const (
	RAND Type = iota
	BAND
	WINDWRAP
	BATS
)

func (t Type) String() string {
	switch t {
	case RAND:
		return "RAND"
	case BAND:
		return "BAND"
	case WINDWRAP:
		return "WINDWRAP"
	case BATS:
		return "BATS"
	default:
		return "unknown"
	}
}

// Graph holds the forward (subgeneration -> member source rows) and
// inverse (source row -> containing subgenerations) adjacency, built once
// and read-only thereafter.
type Graph struct {
	Type    Type
	M       int // number of source rows
	SizeG   int // subgeneration size
	NG      int // number of subgenerations
	Members [][]int // Members[g] has length SizeG
	Subgens [][]int // Subgens[i] lists subgenerations containing row i
}

// Build constructs the membership graph for (typ, M, sizeB, sizeG, seed).
// It is bit-exact reproducible for a fixed input tuple.
func Build(typ Type, m, sizeB, sizeG int, seed uint32) (*Graph, error) {
	if sizeG < sizeB {
		return nil, errors.Errorf("graph: size_g=%d < size_b=%d", sizeG, sizeB)
	}
	if m <= 0 || sizeG <= 0 {
		return nil, errors.Errorf("graph: invalid dimensions M=%d size_g=%d", m, sizeG)
	}

	switch typ {
	case BAND:
		return buildBand(m, sizeG, false)
	case WINDWRAP:
		return buildBand(m, sizeG, true)
	case RAND:
		return buildRand(m, sizeB, sizeG, seed)
	case BATS:
		return buildBATS(m, sizeG, seed)
	default:
		return nil, errors.Errorf("graph: unknown code type %v", typ)
	}
}

func buildBand(m, sizeG int, wrap bool) (*Graph, error) {
	if !wrap && sizeG > m {
		return nil, errors.Errorf("graph: size_g=%d exceeds M=%d for BAND", sizeG, m)
	}
	ng := m - sizeG + 1
	if wrap {
		ng = m
	}
	members := make([][]int, ng)
	for g := 0; g < ng; g++ {
		row := make([]int, sizeG)
		for j := 0; j < sizeG; j++ {
			idx := g + j
			if wrap {
				idx %= m
			}
			row[j] = idx
		}
		members[g] = row
	}
	return finish(bandType(wrap), m, sizeG, members)
}

func bandType(wrap bool) Type {
	if wrap {
		return WINDWRAP
	}
	return BAND
}

// buildRand distributes M source rows across subgenerations so that every
// subgeneration ends up with exactly size_g members, seed-deterministic.
// N_g is derived from size_b, the base generation size, the way classical
// sparse codes pick the number of subgenerations: N_g = ceil(M / size_b).
func buildRand(m, sizeB, sizeG int, seed uint32) (*Graph, error) {
	if sizeB <= 0 {
		return nil, errors.Errorf("graph: size_b must be positive for RAND, got %d", sizeB)
	}
	ng := (m + sizeB - 1) / sizeB
	if ng < 1 {
		ng = 1
	}

	r := rng.Derive(seed, rng.Graph)

	// Round-robin assignment of a seeded permutation guarantees every row
	// appears at least once (invariant a); each remaining slot then gets a
	// row drawn uniformly from [0,M) by the seeded stream, so a row may
	// occupy more than one slot of the same subgeneration.
	members := make([][]int, ng)
	filled := make([]int, ng)
	for g := range members {
		members[g] = make([]int, sizeG)
	}

	order := r.Perm(m)
	for i, row := range order {
		g := i % ng
		members[g][filled[g]] = row
		filled[g]++
	}

	for g := 0; g < ng; g++ {
		for filled[g] < sizeG {
			row := r.Intn(m)
			members[g][filled[g]] = row
			filled[g]++
		}
	}

	return finish(RAND, m, sizeG, members)
}

// buildBATS samples each batch's fixed-degree neighborhood uniformly from
// [0,M), with no overlap guarantee. The batch count is ceil(M/size_g), so
// the batches tile the source block once on average.
func buildBATS(m, sizeG int, seed uint32) (*Graph, error) {
	ng := (m + sizeG - 1) / sizeG
	if ng < 1 {
		ng = 1
	}
	r := rng.Derive(seed, rng.Graph)

	// Classical BATS sampling sets every slot independently and accepts
	// that some source rows may be left uncovered in expectation. Every
	// source row must appear in at least one batch for decoding to be
	// possible at all, so one slot per row is reserved round-robin first
	// and the remaining slots are filled by uniform sampling.
	members := make([][]int, ng)
	filled := make([]int, ng)
	for g := range members {
		members[g] = make([]int, sizeG)
	}
	order := r.Perm(m)
	for i, row := range order {
		g := i % ng
		members[g][filled[g]] = row
		filled[g]++
	}
	for g := 0; g < ng; g++ {
		for filled[g] < sizeG {
			members[g][filled[g]] = r.Intn(m)
			filled[g]++
		}
	}
	return finish(BATS, m, sizeG, members)
}

func finish(typ Type, m, sizeG int, members [][]int) (*Graph, error) {
	subgens := make([][]int, m)
	for g, row := range members {
		if len(row) != sizeG {
			return nil, errors.Errorf("graph: subgeneration %d has %d members, want %d", g, len(row), sizeG)
		}
		for _, i := range row {
			subgens[i] = append(subgens[i], g)
		}
	}
	for i, s := range subgens {
		if len(s) == 0 {
			return nil, errors.Errorf("graph: source row %d appears in no subgeneration", i)
		}
	}
	return &Graph{
		Type:    typ,
		M:       m,
		SizeG:   sizeG,
		NG:      len(members),
		Members: members,
		Subgens: subgens,
	}, nil
}

// Degree returns the number of subgenerations source row i belongs to.
func (g *Graph) Degree(i int) int {
	return len(g.Subgens[i])
}
