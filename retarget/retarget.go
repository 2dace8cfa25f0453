package retarget

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/bvh"
	"github.com/mogaika/rigbuilder/ik"
	"github.com/mogaika/rigbuilder/skeleton"
	"github.com/mogaika/rigbuilder/utils"
)

// FramePose is one retargeted frame: renderer-layout transforms plus the
// world matrices they came from. The renderer multiplies in the target
// skeleton's inverse bind table itself.
type FramePose struct {
	World           []mgl32.Mat4
	Transforms      []skeleton.Transform34
	RootTranslation mgl32.Vec3
}

// Apply maps one sampled source frame onto the target skeleton: per mapped
// bone, target local rotation = offset * source local rotation; the root
// translation is scaled by the root entry's length ratio. Unmapped target
// bones keep their rest rotation.
func Apply(m *SkeletonMap, clip *bvh.Clip, frame int, target *skeleton.Skeleton, cfg bvh.SampleConfig) (*FramePose, error) {
	pose, err := clip.Sample(frame, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to sample source frame %v", frame)
	}

	localRotations := make([]mgl32.Quat, len(target.Bones))
	for i := range target.Bones {
		localRotations[i] = target.Bones[i].Rotation
	}

	rootScale := float32(1)
	for _, entry := range m.Entries {
		source := clip.JointByName(entry.SourceJoint)
		if source == bvh.JOINT_PARENT_NONE {
			return nil, errors.Errorf("Clip has no joint %q named by the skeleton map", entry.SourceJoint)
		}
		localRotations[entry.TargetBone] = entry.RotationOffset.Mul(pose.LocalRotations[source]).Normalize()

		if target.Bones[entry.TargetBone].Parent == skeleton.BONE_PARENT_NONE {
			rootScale = entry.Scale
		}
	}

	rootTranslation := pose.RootTranslation.Mul(rootScale)
	world := target.WorldMatrices(localRotations, rootTranslation)

	return &FramePose{
		World:           world,
		Transforms:      skeleton.PoseTransforms(world),
		RootTranslation: rootTranslation,
	}, nil
}

// RootMotion extracts the root joint's translation channels across all
// frames as a separate stream, scaled by the map's root entry. Callers
// drive character controllers from this independently of the in-place
// pose.
func RootMotion(m *SkeletonMap, clip *bvh.Clip, target *skeleton.Skeleton) ([]mgl32.Vec3, error) {
	rootScale := float32(1)
	for _, entry := range m.Entries {
		if target.Bones[entry.TargetBone].Parent == skeleton.BONE_PARENT_NONE {
			rootScale = entry.Scale
		}
	}

	motion := make([]mgl32.Vec3, clip.FrameCount())
	for frame := range motion {
		pose, err := clip.Sample(frame, bvh.SampleConfig{})
		if err != nil {
			return nil, err
		}
		motion[frame] = pose.RootTranslation.Mul(rootScale)
	}
	return motion, nil
}

// PreserveEndEffector re-pins a contact bone (a foot after proportional
// rescaling moved it) by solving the ancestor chain to goal and folding
// the solved positions back into the frame's world transforms. chainLen
// counts segments above the effector; 2 gets the analytic path via FABRIK
// converging immediately, longer chains iterate.
func PreserveEndEffector(fp *FramePose, target *skeleton.Skeleton, effector int, chainLen int, goal mgl32.Vec3, opts ik.SolveOptions) error {
	if effector < 0 || effector >= len(target.Bones) {
		return errors.Errorf("Effector bone %v out of range", effector)
	}
	if chainLen < 1 {
		return errors.Errorf("Chain length %v must be at least 1", chainLen)
	}

	// walk up the hierarchy collecting the chain, root first
	chainBones := make([]int, 0, chainLen+1)
	bone := effector
	for i := 0; i <= chainLen; i++ {
		chainBones = append(chainBones, bone)
		if i < chainLen {
			bone = target.Bones[bone].Parent
			if bone == skeleton.BONE_PARENT_NONE {
				return errors.Errorf("Chain of %v segments walks past the skeleton root", chainLen)
			}
		}
	}
	for i, j := 0, len(chainBones)-1; i < j; i, j = i+1, j-1 {
		chainBones[i], chainBones[j] = chainBones[j], chainBones[i]
	}

	positions := make([]mgl32.Vec3, len(chainBones))
	for i, b := range chainBones {
		positions[i] = fp.World[b].Col(3).Vec3()
	}
	chain, err := ik.NewChain(positions)
	if err != nil {
		return err
	}
	ik.SolveFABRIK(chain, goal, opts)

	// preserve every bone's local transform, then override the chain bones
	// with the solved pose and recompose the rest top-down
	locals := make([]mgl32.Mat4, len(target.Bones))
	for i := range target.Bones {
		if p := target.Bones[i].Parent; p == skeleton.BONE_PARENT_NONE {
			locals[i] = fp.World[i]
		} else {
			locals[i] = fp.World[p].Inv().Mul4(fp.World[i])
		}
	}

	inChain := make(map[int]int, len(chainBones))
	for i, b := range chainBones {
		inChain[b] = i
	}

	for i := range target.Bones {
		chainIndex, isChain := inChain[i]
		if !isChain {
			if p := target.Bones[i].Parent; p == skeleton.BONE_PARENT_NONE {
				// root outside the chain keeps its world transform
			} else {
				fp.World[i] = fp.World[p].Mul4(locals[i])
			}
			continue
		}

		world := fp.World[i]
		if chainIndex < len(chainBones)-1 {
			// re-aim the bone so its child segment points at the solved child
			oldDir := positions[chainIndex+1].Sub(positions[chainIndex])
			newDir := chain.Joints[chainIndex+1].Sub(chain.Joints[chainIndex])
			delta := utils.RotationBetween(oldDir, newDir).Mat4()
			rotation := delta.Mul4(world)
			world = rotation
		}
		world.SetCol(3, chain.Joints[chainIndex].Vec4(1))
		fp.World[i] = world
	}

	fp.Transforms = skeleton.PoseTransforms(fp.World)
	return nil
}
