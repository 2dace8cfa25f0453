package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// Mesh is an indexed triangle mesh. Positions and Triangles are mandatory,
// Normals and UVs may be empty. The mesh may be non-manifold; downstream
// topology queries tolerate isolated and boundary vertices.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Triangles []uint32
}

func (m *Mesh) VertexCount() int {
	return len(m.Positions)
}

func (m *Mesh) TriangleCount() int {
	return len(m.Triangles) / 3
}

// Validate checks index ranges and attribute array agreement.
// Weight computation treats the mesh as immutable after this point.
func (m *Mesh) Validate() error {
	if len(m.Positions) == 0 {
		return errors.Errorf("Mesh has no vertices")
	}
	if len(m.Triangles)%3 != 0 {
		return errors.Errorf("Triangle index list length %v is not divisible by 3", len(m.Triangles))
	}
	for i, index := range m.Triangles {
		if index >= uint32(len(m.Positions)) {
			return errors.Errorf("Triangle index %v out of range (%v >= %v)", i, index, len(m.Positions))
		}
	}
	if m.Normals != nil && len(m.Normals) != len(m.Positions) {
		return errors.Errorf("Normals count %v != vertices count %v", len(m.Normals), len(m.Positions))
	}
	if m.UVs != nil && len(m.UVs) != len(m.Positions) {
		return errors.Errorf("UVs count %v != vertices count %v", len(m.UVs), len(m.Positions))
	}
	return nil
}

// Bounds returns the axis-aligned bounding box of the vertex positions.
func (m *Mesh) Bounds() (min, max mgl32.Vec3) {
	if len(m.Positions) == 0 {
		return
	}
	min = m.Positions[0]
	max = m.Positions[0]
	for _, p := range m.Positions[1:] {
		for c := 0; c < 3; c++ {
			if p[c] < min[c] {
				min[c] = p[c]
			}
			if p[c] > max[c] {
				max[c] = p[c]
			}
		}
	}
	return min, max
}
