package ik

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/rigbuilder/utils"
)

// GroundSampler reports the ground height and surface normal under a
// horizontal position. Terrain lives outside this package; callers bring
// their own sampler.
type GroundSampler func(x, z float32) (height float32, normal mgl32.Vec3)

type FootPlantResult struct {
	Knee     mgl32.Vec3
	Foot     mgl32.Vec3
	FootTilt mgl32.Quat // extra rotation aligning the sole to the ground
}

// FootPlant wraps the analytic two-bone solver for leg grounding: the foot
// target snaps vertically to the sampled ground height (plus footHeight,
// the ankle's rest clearance) and the effector orientation tilts to the
// ground normal.
func FootPlant(hip, foot, pole mgl32.Vec3, thighLen, shinLen, footHeight float32, ground GroundSampler) FootPlantResult {
	height, normal := ground(foot[0], foot[2])
	if normal.Len() < 1e-8 {
		normal = mgl32.Vec3{0, 1, 0}
	} else {
		normal = normal.Normalize()
	}

	target := mgl32.Vec3{foot[0], height + footHeight, foot[2]}
	knee, plantedFoot := SolveTwoBone(hip, target, pole, thighLen, shinLen)

	return FootPlantResult{
		Knee:     knee,
		Foot:     plantedFoot,
		FootTilt: utils.RotationBetween(mgl32.Vec3{0, 1, 0}, normal),
	}
}
