// Package ik solves joint positions for rigid bone chains: an exact
// two-segment solver, FABRIK and CCD for arbitrary chains, plus look-at
// and foot planting helpers built on the same primitives.
package ik

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/utils"
)

const (
	DEFAULT_MAX_ITERATIONS = 64
	DEFAULT_TOLERANCE      = 1e-3
)

// REACH_EPSILON keeps the two-bone solver away from the exactly-straight
// and exactly-folded configurations where the interior angle is unstable.
const REACH_EPSILON = 1e-5

type SolveOptions struct {
	MaxIterations int
	Tolerance     float32
}

func (o SolveOptions) withDefaults() SolveOptions {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DEFAULT_MAX_ITERATIONS
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DEFAULT_TOLERANCE
	}
	return o
}

// HingeConstraint restricts a joint to a single rotation plane (normal =
// Axis) with a signed angle range relative to the parent segment.
type HingeConstraint struct {
	Axis mgl32.Vec3
	Min  float32
	Max  float32
}

// ConeConstraint caps the angular deviation of a segment from its parent
// segment direction.
type ConeConstraint struct {
	MaxAngle float32
}

type Constraint struct {
	Hinge *HingeConstraint
	Cone  *ConeConstraint
}

// Chain is an ordered run of joints from root to end effector. Segment rest
// lengths are derived once at construction and never altered by solvers;
// only joint positions move.
type Chain struct {
	Joints      []mgl32.Vec3
	Lengths     []float32
	Constraints []*Constraint // indexed by joint, nil entries unconstrained
}

func NewChain(joints []mgl32.Vec3) (*Chain, error) {
	if len(joints) < 2 {
		return nil, errors.Errorf("Chain needs at least 2 joints, got %v", len(joints))
	}
	c := &Chain{
		Joints:      append([]mgl32.Vec3(nil), joints...),
		Lengths:     make([]float32, len(joints)-1),
		Constraints: make([]*Constraint, len(joints)),
	}
	for i := range c.Lengths {
		c.Lengths[i] = joints[i+1].Sub(joints[i]).Len()
	}
	return c, nil
}

func (c *Chain) TotalLength() float32 {
	total := float32(0)
	for _, l := range c.Lengths {
		total += l
	}
	return total
}

func (c *Chain) Root() mgl32.Vec3 {
	return c.Joints[0]
}

func (c *Chain) End() mgl32.Vec3 {
	return c.Joints[len(c.Joints)-1]
}

// stretchTowards lays the chain out straight from the root towards target.
// Used as the documented fallback for unreachable targets.
func (c *Chain) stretchTowards(target mgl32.Vec3) {
	dir := target.Sub(c.Joints[0])
	if dir.Len() < 1e-8 {
		dir = mgl32.Vec3{0, 1, 0}
	}
	dir = dir.Normalize()
	for i := 0; i < len(c.Lengths); i++ {
		c.Joints[i+1] = c.Joints[i].Add(dir.Mul(c.Lengths[i]))
	}
}

// rotateDownstream applies rotation q to every joint after pivot, around
// the pivot joint. Segment lengths are preserved by construction.
func (c *Chain) rotateDownstream(pivot int, q mgl32.Quat) {
	origin := c.Joints[pivot]
	for i := pivot + 1; i < len(c.Joints); i++ {
		c.Joints[i] = origin.Add(q.Rotate(c.Joints[i].Sub(origin)))
	}
}

// ApplyConstraints projects the chain onto its angular constraints in one
// root-to-end pass. Called once after a solver converges, never inside the
// iteration loop, so iteration cost stays independent of constraint
// complexity. Joint 0 has no parent segment and is never constrained.
func (c *Chain) ApplyConstraints() {
	for j := 1; j < len(c.Joints)-1; j++ {
		constraint := c.Constraints[j]
		if constraint == nil {
			continue
		}

		parentDir := c.Joints[j].Sub(c.Joints[j-1])
		segmentDir := c.Joints[j+1].Sub(c.Joints[j])
		if parentDir.Len() < 1e-8 || segmentDir.Len() < 1e-8 {
			continue // zero-length segment, nothing to clamp against
		}

		if cone := constraint.Cone; cone != nil {
			angle := utils.AngleBetween(parentDir, segmentDir)
			if angle > cone.MaxAngle {
				axis := segmentDir.Cross(parentDir)
				if axis.Len() < 1e-8 {
					continue // anti-parallel, clamp direction ambiguous
				}
				q := mgl32.QuatRotate(angle-cone.MaxAngle, axis.Normalize())
				c.rotateDownstream(j, q)
			}
		}

		if hinge := constraint.Hinge; hinge != nil {
			c.applyHinge(j, hinge)
		}
	}
}

func (c *Chain) applyHinge(j int, hinge *HingeConstraint) {
	axis := hinge.Axis.Normalize()
	parentDir := c.Joints[j].Sub(c.Joints[j-1])
	segmentDir := c.Joints[j+1].Sub(c.Joints[j])

	// flatten both directions onto the hinge plane
	parentPlanar := parentDir.Sub(axis.Mul(parentDir.Dot(axis)))
	segmentPlanar := segmentDir.Sub(axis.Mul(segmentDir.Dot(axis)))
	if parentPlanar.Len() < 1e-8 || segmentPlanar.Len() < 1e-8 {
		return
	}

	// first force the segment into the plane, then clamp the signed angle
	toPlane := utils.RotationBetween(segmentDir, segmentPlanar)

	angle := utils.AngleBetween(parentPlanar, segmentPlanar)
	if parentPlanar.Cross(segmentPlanar).Dot(axis) < 0 {
		angle = -angle
	}
	clamped := utils.Clamp(angle, hinge.Min, hinge.Max)

	q := mgl32.QuatRotate(clamped-angle, axis).Mul(toPlane)
	c.rotateDownstream(j, q)
}
