package ik

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/rigbuilder/utils"
)

// SolveCCD runs cyclic coordinate descent: sweep joints from the effector
// side towards the root, each time rotating the downstream sub-chain so the
// effector lines up with the target. Favored for many-segment tails and
// tentacles where FABRIK's projection flattens curvature.
//
// Same bounded-iteration and unreachable-target contract as SolveFABRIK.
func SolveCCD(c *Chain, target mgl32.Vec3, opts SolveOptions) bool {
	opts = opts.withDefaults()
	n := len(c.Joints)

	if target.Sub(c.Joints[0]).Len() > c.TotalLength() {
		c.stretchTowards(target)
		c.ApplyConstraints()
		return false
	}

	converged := false
	for iter := 0; iter < opts.MaxIterations; iter++ {
		for j := n - 2; j >= 0; j-- {
			toEnd := c.End().Sub(c.Joints[j])
			toTarget := target.Sub(c.Joints[j])
			if toEnd.Len() < 1e-8 || toTarget.Len() < 1e-8 {
				continue
			}
			c.rotateDownstream(j, utils.RotationBetween(toEnd, toTarget))
		}

		if c.End().Sub(target).Len() <= opts.Tolerance {
			converged = true
			break
		}
	}

	c.ApplyConstraints()
	return converged
}
