package skin

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/mesh"
	"github.com/mogaika/rigbuilder/mesh/topology"
	"github.com/mogaika/rigbuilder/skeleton"
	"github.com/mogaika/rigbuilder/utils"
)

type boneSegment struct {
	head, tail mgl32.Vec3
	length     float32
}

func boneSegments(skel *skeleton.Skeleton) []boneSegment {
	segments := make([]boneSegment, len(skel.Bones))
	for i := range skel.Bones {
		head, tail := skel.HeadTail(i)
		segments[i] = boneSegment{head: head, tail: tail, length: tail.Sub(head).Len()}
	}
	return segments
}

// boneRadius picks the influence radius for a bone without an authored
// envelope: the caller's default, else the bone's own rest length, else
// (for zero-length leaf bones) a tenth of the mesh bounds diagonal.
func boneRadius(seg *boneSegment, m *mesh.Mesh, opts Options) float32 {
	if opts.DefaultRadius > 0 {
		return opts.DefaultRadius
	}
	if seg.length > 1e-6 {
		return seg.length
	}
	min, max := m.Bounds()
	return max.Sub(min).Len() * 0.1
}

// computeDistance weights every vertex against every bone by straight-line
// point-to-segment distance. Ignores topology, so thin or concave geometry
// bleeds influence across surface gaps.
func computeDistance(m *mesh.Mesh, skel *skeleton.Skeleton, opts Options) [][]float32 {
	segments := boneSegments(skel)
	raw := make([][]float32, len(segments))
	for bone := range segments {
		seg := &segments[bone]
		radius := boneRadius(seg, m, opts)
		weights := make([]float32, m.VertexCount())
		for v, p := range m.Positions {
			d, _ := utils.PointSegmentDistance(p, seg.head, seg.tail)
			if w := 1 - d/radius; w > 0 {
				weights[v] = w
			}
		}
		raw[bone] = weights
	}
	return raw
}

// computeEnvelope weights by authored capsule volumes: the radius
// interpolates head to tail along the segment and the falloff exponent
// shapes the inside of the capsule. Outside the capsule the weight is a
// hard zero.
func computeEnvelope(m *mesh.Mesh, skel *skeleton.Skeleton, opts Options) [][]float32 {
	segments := boneSegments(skel)
	falloff := opts.Falloff
	if falloff == 0 {
		falloff = 2
	}

	raw := make([][]float32, len(segments))
	for bone := range segments {
		seg := &segments[bone]
		headR := boneRadius(seg, m, opts)
		tailR := headR
		if opts.Envelopes != nil {
			headR = opts.Envelopes[bone].HeadRadius
			tailR = opts.Envelopes[bone].TailRadius
		}

		weights := make([]float32, m.VertexCount())
		for v, p := range m.Positions {
			d, t := utils.PointSegmentDistance(p, seg.head, seg.tail)
			radius := headR + (tailR-headR)*t
			if radius <= 0 || d >= radius {
				continue
			}
			weights[v] = float32(math.Pow(float64(1-d/radius), float64(falloff)))
		}
		raw[bone] = weights
	}
	return raw
}

// computeHeat seeds unit heat at each bone's nearest vertex and diffuses it
// over the adjacency graph with damped neighbor averaging. Seeds are
// re-pinned every iteration so the heat does not wash out on large meshes.
func computeHeat(m *mesh.Mesh, idx *topology.Index, skel *skeleton.Skeleton, opts Options) ([][]float32, error) {
	if idx == nil {
		return nil, errors.Errorf("Heat algorithm needs a topology index")
	}

	iterations := opts.HeatIterations
	if iterations == 0 {
		iterations = 64
	}
	damping := opts.HeatDamping
	if damping == 0 {
		damping = 0.5
	}

	segments := boneSegments(skel)
	raw := make([][]float32, len(segments))
	next := make([]float32, m.VertexCount())

	for bone := range segments {
		seg := &segments[bone]
		seed := idx.NearestVertex(seg.head.Add(seg.tail).Mul(0.5))

		heat := make([]float32, m.VertexCount())
		heat[seed] = 1

		for iter := 0; iter < iterations; iter++ {
			for v := range heat {
				neighbors := idx.Neighbors(v)
				if len(neighbors) == 0 {
					next[v] = heat[v]
					continue
				}
				sum := float32(0)
				for _, n := range neighbors {
					sum += heat[n]
				}
				avg := sum / float32(len(neighbors))
				next[v] = heat[v] + damping*(avg-heat[v])
			}
			next[seed] = 1
			heat, next = next, heat
		}
		raw[bone] = heat
	}
	return raw, nil
}

// computeGeodesic runs one shortest-path pass per bone over the mesh edge
// graph and weights by inverse surface distance. Most expensive of the
// four, but influence can only travel along the surface, so a bone cannot
// grab vertices that are close in space yet far along the mesh.
func computeGeodesic(m *mesh.Mesh, idx *topology.Index, skel *skeleton.Skeleton, opts Options) ([][]float32, error) {
	if idx == nil {
		return nil, errors.Errorf("Geodesic algorithm needs a topology index")
	}

	const distanceEpsilon = 1e-3

	segments := boneSegments(skel)
	raw := make([][]float32, len(segments))
	for bone := range segments {
		seg := &segments[bone]
		seed := idx.NearestVertex(seg.head.Add(seg.tail).Mul(0.5))

		dist, err := idx.Distances(seed)
		if err != nil {
			return nil, errors.Wrapf(err, "Geodesic pass for bone %v failed", bone)
		}

		weights := make([]float32, m.VertexCount())
		for v, d := range dist {
			if math.IsInf(float64(d), 1) {
				continue // different connectivity island
			}
			weights[v] = 1 / (d + distanceEpsilon)
		}
		raw[bone] = weights
	}
	return raw, nil
}
