package ik

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/rigbuilder/utils"
)

type LookAtOptions struct {
	// MaxYaw / MaxPitch limit the head turn relative to the rest forward
	// direction, radians. Zero means unlimited.
	MaxYaw   float32
	MaxPitch float32

	// MaxSlew limits how far the orientation may move in one call,
	// radians. Zero means snap straight to the target.
	MaxSlew float32
}

// LookAt orients a single joint at eye towards target. forward is the
// joint's rest-pose aim direction in the same space. The returned
// orientation respects the angular limits and, when MaxSlew is set, moves
// from current at a bounded rate instead of snapping.
func LookAt(current mgl32.Quat, eye, target, forward mgl32.Vec3, opts LookAtOptions) mgl32.Quat {
	dir := target.Sub(eye)
	if dir.Len() < 1e-8 || forward.Len() < 1e-8 {
		return current
	}
	dir = dir.Normalize()
	forward = forward.Normalize()

	if opts.MaxYaw > 0 || opts.MaxPitch > 0 {
		dir = clampAim(forward, dir, opts.MaxYaw, opts.MaxPitch)
	}

	desired := utils.RotationBetween(forward, dir)

	if opts.MaxSlew > 0 {
		delta := current.Inverse().Mul(desired)
		angle := 2 * float32(math.Acos(float64(utils.Clamp(abs32(delta.W), -1, 1))))
		if angle > opts.MaxSlew {
			return mgl32.QuatSlerp(current, desired, opts.MaxSlew/angle).Normalize()
		}
	}
	return desired
}

// clampAim limits the target direction's yaw (around +Y) and pitch
// deviations from the rest forward direction.
func clampAim(forward, dir mgl32.Vec3, maxYaw, maxPitch float32) mgl32.Vec3 {
	up := mgl32.Vec3{0, 1, 0}

	// split the deviation into yaw (around up) and pitch (out of plane)
	fwdPlanar := forward.Sub(up.Mul(forward.Dot(up)))
	dirPlanar := dir.Sub(up.Mul(dir.Dot(up)))
	if fwdPlanar.Len() < 1e-8 || dirPlanar.Len() < 1e-8 {
		return dir
	}

	yaw := utils.AngleBetween(fwdPlanar, dirPlanar)
	if fwdPlanar.Cross(dirPlanar).Dot(up) < 0 {
		yaw = -yaw
	}
	pitch := float32(math.Asin(float64(utils.Clamp(dir.Dot(up), -1, 1)))) -
		float32(math.Asin(float64(utils.Clamp(forward.Dot(up), -1, 1))))

	if maxYaw > 0 {
		yaw = utils.Clamp(yaw, -maxYaw, maxYaw)
	}
	if maxPitch > 0 {
		pitch = utils.Clamp(pitch, -maxPitch, maxPitch)
	}

	rebuilt := mgl32.QuatRotate(yaw, up).Rotate(fwdPlanar.Normalize())
	pitchAxis := up.Cross(rebuilt)
	if pitchAxis.Len() < 1e-8 {
		return rebuilt
	}
	return mgl32.QuatRotate(pitch, pitchAxis.Normalize()).Rotate(rebuilt).Normalize()
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
