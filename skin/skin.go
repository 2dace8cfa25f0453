// Package skin computes per-vertex bone weights for GPU skinning.
// Four algorithms share one entry point and one output contract: at most
// 4 influences per vertex, weights normalized to 1, problems collected in
// a Report instead of being patched silently.
package skin

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/mesh"
	"github.com/mogaika/rigbuilder/mesh/topology"
	"github.com/mogaika/rigbuilder/skeleton"
)

const MAX_INFLUENCES = 4

// WEIGHT_EPSILON is the raw-weight total below which a vertex counts as
// unweighted.
const WEIGHT_EPSILON = 1e-5

type Algorithm int

const (
	ALGORITHM_DISTANCE Algorithm = iota // fast, bleeds across concave geometry
	ALGORITHM_ENVELOPE                  // authored capsule volumes, hard cutoff at boundary
	ALGORITHM_HEAT                      // topology-aware diffusion
	ALGORITHM_GEODESIC                  // surface-distance, one graph search per bone
)

func (a Algorithm) String() string {
	switch a {
	case ALGORITHM_DISTANCE:
		return "distance"
	case ALGORITHM_ENVELOPE:
		return "envelope"
	case ALGORITHM_HEAT:
		return "heat"
	case ALGORITHM_GEODESIC:
		return "geodesic"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range []Algorithm{ALGORITHM_DISTANCE, ALGORITHM_ENVELOPE, ALGORITHM_HEAT, ALGORITHM_GEODESIC} {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, errors.Errorf("Unknown weight algorithm %q", name)
}

// Envelope is an authored capsule volume for one bone: radius interpolates
// head to tail along the segment.
type Envelope struct {
	HeadRadius float32 `yaml:"head_radius"`
	TailRadius float32 `yaml:"tail_radius"`
}

type Options struct {
	Algorithm Algorithm

	// DefaultRadius is the influence radius for bones without an authored
	// envelope. Zero picks the bone's own rest length (or a fraction of the
	// mesh bounds for zero-length leaf bones).
	DefaultRadius float32

	// Envelopes, when non-nil, must carry one entry per bone.
	Envelopes []Envelope

	// Falloff exponent for the envelope algorithm. Zero means 2.
	Falloff float32

	// Heat diffusion controls. Zeroes mean 64 iterations, damping 0.5.
	HeatIterations int
	HeatDamping    float32
}

// VertexInfluences is the renderer-facing per-vertex record: joint index
// bytes and normalized weights, zero-padded past the influence count.
type VertexInfluences struct {
	Joints  [MAX_INFLUENCES]uint8
	Weights [MAX_INFLUENCES]float32
}

type Binding struct {
	Vertices []VertexInfluences
}

// Report collects post-computation quality violations so batch callers can
// inspect every failure at once instead of dying on the first one.
type Report struct {
	Algorithm Algorithm

	// UnweightedVertices lists vertices whose total raw weight across all
	// bones was <= WEIGHT_EPSILON. They carry zero influences in the
	// binding, which no renderer accepts silently.
	UnweightedVertices []int

	// TruncatedVertices counts vertices that had more than MAX_INFLUENCES
	// non-zero raw weights before the top-4 cut.
	TruncatedVertices int
}

func (r *Report) Ok() bool {
	return len(r.UnweightedVertices) == 0
}

func (r *Report) String() string {
	return fmt.Sprintf("skin report (%v): %v unweighted, %v truncated",
		r.Algorithm, len(r.UnweightedVertices), r.TruncatedVertices)
}

// Compute produces a skin binding for mesh m against skel. The topology
// index is required by the heat and geodesic algorithms and ignored by the
// other two. Inputs are treated as immutable; the call is a pure function
// and safe to run concurrently for independent meshes.
func Compute(m *mesh.Mesh, idx *topology.Index, skel *skeleton.Skeleton, opts Options) (*Binding, *Report, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, errors.Wrapf(err, "Refusing to skin invalid mesh")
	}
	if opts.Envelopes != nil && len(opts.Envelopes) != len(skel.Bones) {
		return nil, nil, errors.Errorf("Envelopes count %v != bones count %v",
			len(opts.Envelopes), len(skel.Bones))
	}

	var raw [][]float32 // [bone][vertex]
	var err error
	switch opts.Algorithm {
	case ALGORITHM_DISTANCE:
		raw = computeDistance(m, skel, opts)
	case ALGORITHM_ENVELOPE:
		raw = computeEnvelope(m, skel, opts)
	case ALGORITHM_HEAT:
		raw, err = computeHeat(m, idx, skel, opts)
	case ALGORITHM_GEODESIC:
		raw, err = computeGeodesic(m, idx, skel, opts)
	default:
		return nil, nil, errors.Errorf("Unknown weight algorithm %v", int(opts.Algorithm))
	}
	if err != nil {
		return nil, nil, err
	}

	binding, report := finalize(raw, m.VertexCount())
	report.Algorithm = opts.Algorithm
	return binding, report, nil
}

// finalize is the binding contract shared by all algorithms: keep the 4
// strongest influences, renormalize them to sum exactly 1, flag unweighted
// vertices.
func finalize(raw [][]float32, vertexCount int) (*Binding, *Report) {
	binding := &Binding{Vertices: make([]VertexInfluences, vertexCount)}
	report := &Report{}

	for v := 0; v < vertexCount; v++ {
		var bestJoints [MAX_INFLUENCES]int
		var bestWeights [MAX_INFLUENCES]float32
		nonZero := 0
		total := float32(0)

		for bone := range raw {
			w := raw[bone][v]
			if w <= 0 {
				continue
			}
			nonZero++
			total += w
			// insertion into the sorted top-4
			for slot := 0; slot < MAX_INFLUENCES; slot++ {
				if w > bestWeights[slot] {
					copy(bestWeights[slot+1:], bestWeights[slot:MAX_INFLUENCES-1])
					copy(bestJoints[slot+1:], bestJoints[slot:MAX_INFLUENCES-1])
					bestWeights[slot] = w
					bestJoints[slot] = bone
					break
				}
			}
		}

		if total <= WEIGHT_EPSILON {
			report.UnweightedVertices = append(report.UnweightedVertices, v)
			continue
		}
		if nonZero > MAX_INFLUENCES {
			report.TruncatedVertices++
		}

		keptTotal := float32(0)
		for _, w := range bestWeights {
			keptTotal += w
		}
		out := &binding.Vertices[v]
		for slot := 0; slot < MAX_INFLUENCES; slot++ {
			if bestWeights[slot] <= 0 {
				break
			}
			out.Joints[slot] = uint8(bestJoints[slot])
			out.Weights[slot] = bestWeights[slot] / keptTotal
		}
	}

	return binding, report
}
