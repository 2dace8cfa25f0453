package skeleton

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform34 is the renderer-facing bone transform: three orientation
// columns followed by the translation column, column-major, 12 floats.
// The GPU backend multiplies transform * inverseBind per bone itself.
type Transform34 [12]float32

func Transform34FromMat4(m mgl32.Mat4) (t Transform34) {
	for col := 0; col < 4; col++ {
		for row := 0; row < 3; row++ {
			t[col*3+row] = m.At(row, col)
		}
	}
	return t
}

func (t Transform34) Mat4() mgl32.Mat4 {
	m := mgl32.Ident4()
	for col := 0; col < 4; col++ {
		for row := 0; row < 3; row++ {
			m.Set(row, col, t[col*3+row])
		}
	}
	return m
}

func (t Transform34) Translation() mgl32.Vec3 {
	return mgl32.Vec3{t[9], t[10], t[11]}
}

// PoseTransforms flattens world matrices into the renderer layout.
func PoseTransforms(world []mgl32.Mat4) []Transform34 {
	out := make([]Transform34, len(world))
	for i, m := range world {
		out[i] = Transform34FromMat4(m)
	}
	return out
}

// InverseBindTransforms returns the static inverse bind table in renderer
// layout, computed once from the rest pose.
func (s *Skeleton) InverseBindTransforms() []Transform34 {
	return PoseTransforms(s.inverseBind)
}
