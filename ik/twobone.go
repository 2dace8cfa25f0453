package ik

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/rigbuilder/utils"
)

// SolveTwoBone is the analytic shoulder-elbow-hand solver: law of cosines
// for the interior angle, bend plane oriented by the pole vector. Exact and
// O(1); use it whenever the chain has exactly two segments.
//
// The root-to-target distance is clamped into
// [|len1-len2|+eps, len1+len2-eps] before solving. A target past full
// extension stretches the chain straight towards it (the effector lands at
// len1+len2 from the root, never past it) rather than failing.
func SolveTwoBone(root, target, pole mgl32.Vec3, len1, len2 float32) (mid, end mgl32.Vec3) {
	toTarget := target.Sub(root)
	dist := toTarget.Len()

	var dir mgl32.Vec3
	if dist < 1e-8 {
		dir = mgl32.Vec3{0, 1, 0}
	} else {
		dir = toTarget.Mul(1 / dist)
	}

	if dist >= len1+len2 {
		// fully extended, exact straight layout
		mid = root.Add(dir.Mul(len1))
		end = root.Add(dir.Mul(len1 + len2))
		return mid, end
	}

	minDist := float32(math.Abs(float64(len1-len2))) + REACH_EPSILON
	maxDist := len1 + len2 - REACH_EPSILON
	dist = utils.Clamp(dist, minDist, maxDist)
	end = root.Add(dir.Mul(dist))

	// bend direction: pole vector flattened against the target axis
	bend := pole.Sub(root)
	bend = bend.Sub(dir.Mul(bend.Dot(dir)))
	if bend.Len() < 1e-8 {
		// pole on the target axis, pick any perpendicular
		bend = mgl32.Vec3{0, 0, 1}.Cross(dir)
		if bend.Len() < 1e-8 {
			bend = mgl32.Vec3{1, 0, 0}.Cross(dir)
		}
	}
	bend = bend.Normalize()

	// law of cosines for the angle at the root
	cosRoot := (len1*len1 + dist*dist - len2*len2) / (2 * len1 * dist)
	rootAngle := float32(math.Acos(float64(utils.Clamp(cosRoot, -1, 1))))

	sin, cos := math.Sincos(float64(rootAngle))
	mid = root.Add(dir.Mul(len1 * float32(cos))).Add(bend.Mul(len1 * float32(sin)))
	return mid, end
}

// SolveChainTwoBone runs the analytic solver in-place on a 3-joint chain
// and reports whether the target was inside reach.
func (c *Chain) SolveChainTwoBone(target, pole mgl32.Vec3) bool {
	if len(c.Joints) != 3 {
		return false
	}
	mid, end := SolveTwoBone(c.Joints[0], target, pole, c.Lengths[0], c.Lengths[1])
	c.Joints[1] = mid
	c.Joints[2] = end
	c.ApplyConstraints()
	return target.Sub(c.Joints[0]).Len() <= c.TotalLength()
}
