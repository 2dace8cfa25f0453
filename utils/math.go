package utils

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// result in radians
func QuatToEuler(q mgl32.Quat) (e mgl32.Vec3) {
	sinr_cosp := float64(2 * (q.W*q.X() + q.Y()*q.Z()))
	cosr_cosp := float64(1 - 2*(q.X()*q.X()+q.Y()*q.Y()))

	e[0] = float32(math.Atan2(sinr_cosp, cosr_cosp))

	sinp := float64(2 * (q.W*q.Y() - q.Z()*q.X()))
	if math.Abs(sinp) >= 1 {
		e[1] = math.Pi / 2
		if sinp < 0 {
			e[1] *= -1
		}
	} else {
		e[1] = float32(math.Asin(sinp))
	}

	siny_cosp := float64(2 * (q.W*q.Z() + q.X()*q.Y()))
	cosy_cosp := float64(1 - 2*(q.Y()*q.Y()+q.Z()*q.Z()))
	e[2] = float32(math.Atan2(siny_cosp, cosy_cosp))

	return e
}

func Clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// PointSegmentDistance returns the distance from p to segment a-b and the
// parametric position of the closest point (0 at a, 1 at b).
// Zero-length segments degrade to point distance with t=0.
func PointSegmentDistance(p, a, b mgl32.Vec3) (dist float32, t float32) {
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq < 1e-12 {
		return p.Sub(a).Len(), 0
	}
	t = Clamp(p.Sub(a).Dot(ab)/lenSq, 0, 1)
	closest := a.Add(ab.Mul(t))
	return p.Sub(closest).Len(), t
}

// RotationBetween returns the shortest-arc quaternion rotating direction
// from onto direction to. Inputs do not need to be normalized.
func RotationBetween(from, to mgl32.Vec3) mgl32.Quat {
	fl := from.Len()
	tl := to.Len()
	if fl < 1e-8 || tl < 1e-8 {
		return mgl32.QuatIdent()
	}
	f := from.Mul(1 / fl)
	t := to.Mul(1 / tl)

	d := f.Dot(t)
	switch {
	case d >= 1-1e-7:
		return mgl32.QuatIdent()
	case d <= -1+1e-7:
		// opposite directions, any perpendicular axis works
		axis := mgl32.Vec3{1, 0, 0}.Cross(f)
		if axis.Len() < 1e-6 {
			axis = mgl32.Vec3{0, 1, 0}.Cross(f)
		}
		return mgl32.QuatRotate(math.Pi, axis.Normalize())
	}

	axis := f.Cross(t)
	q := mgl32.Quat{W: 1 + d, V: axis}
	return q.Normalize()
}

// AngleBetween returns the unsigned angle between two vectors in radians.
func AngleBetween(a, b mgl32.Vec3) float32 {
	al := a.Len()
	bl := b.Len()
	if al < 1e-8 || bl < 1e-8 {
		return 0
	}
	d := Clamp(a.Dot(b)/(al*bl), -1, 1)
	return float32(math.Acos(float64(d)))
}
