package ik

import (
	"github.com/go-gl/mathgl/mgl32"
)

// SolveFABRIK runs forward-and-backward reaching iterations on the chain.
// Returns true when the end effector lands within tolerance of the target.
//
// Iteration is always bounded: FABRIK has no convergence guarantee for
// degenerate configurations, so the loop never runs past MaxIterations.
// A target beyond total chain length short-circuits into a straight-line
// stretch with no iteration and reports false (target unreachable).
func SolveFABRIK(c *Chain, target mgl32.Vec3, opts SolveOptions) bool {
	opts = opts.withDefaults()
	root := c.Joints[0]
	n := len(c.Joints)

	if target.Sub(root).Len() > c.TotalLength() {
		c.stretchTowards(target)
		c.ApplyConstraints()
		return false
	}

	converged := false
	for iter := 0; iter < opts.MaxIterations; iter++ {
		// backward pass: pin effector to target, re-project towards root
		c.Joints[n-1] = target
		for i := n - 2; i >= 0; i-- {
			c.Joints[i] = projectAlong(c.Joints[i+1], c.Joints[i], c.Lengths[i])
		}

		// forward pass: re-anchor root, re-project towards effector
		c.Joints[0] = root
		for i := 0; i < n-1; i++ {
			c.Joints[i+1] = projectAlong(c.Joints[i], c.Joints[i+1], c.Lengths[i])
		}

		if c.End().Sub(target).Len() <= opts.Tolerance {
			converged = true
			break
		}
	}

	c.ApplyConstraints()
	return converged
}

// projectAlong places a point at exactly length away from anchor, on the
// anchor-to-hint direction. Coincident points fall back to +Y so a
// degenerate fold cannot produce NaN.
func projectAlong(anchor, hint mgl32.Vec3, length float32) mgl32.Vec3 {
	dir := hint.Sub(anchor)
	if dir.Len() < 1e-8 {
		dir = mgl32.Vec3{0, 1, 0}
	} else {
		dir = dir.Normalize()
	}
	return anchor.Add(dir.Mul(length))
}
