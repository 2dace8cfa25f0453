// Package retarget maps motion sampled from a source skeleton onto a
// structurally different target skeleton. The skeleton map is authored (or
// derived) once per skeleton pair and reused for every frame of every clip.
package retarget

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mogaika/rigbuilder/bvh"
	"github.com/mogaika/rigbuilder/skeleton"
	"github.com/mogaika/rigbuilder/utils"
)

// Entry links one source joint to one target bone. RotationOffset
// compensates for differing neutral poses; Scale compensates for limb
// proportion differences and applies to translation channels only.
type Entry struct {
	SourceJoint    string
	TargetBone     int
	RotationOffset mgl32.Quat
	Scale          float32
}

type SkeletonMap struct {
	Entries []Entry
}

// yaml authoring form: bones referenced by name, offsets in degrees.
type mapFileEntry struct {
	Source      string     `yaml:"source"`
	Target      string     `yaml:"target"`
	OffsetEuler [3]float32 `yaml:"offset_euler"` // degrees, XYZ application order
	Scale       float32    `yaml:"scale"`
}

type mapFile struct {
	Bones []mapFileEntry `yaml:"bones"`
}

// LoadSkeletonMap decodes a yaml map file and resolves target bone names
// against the target skeleton. Unknown bones are errors: a half-applied
// map retargets limbs inconsistently and is worse than failing.
func LoadSkeletonMap(data []byte, target *skeleton.Skeleton) (*SkeletonMap, error) {
	var file mapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "Failed to unmarshal skeleton map yaml")
	}
	if len(file.Bones) == 0 {
		return nil, errors.Errorf("Skeleton map has no bone entries")
	}

	m := &SkeletonMap{Entries: make([]Entry, 0, len(file.Bones))}
	for i, fe := range file.Bones {
		bone := target.BoneByName(fe.Target)
		if bone == nil {
			return nil, errors.Errorf("Map entry %v: target skeleton has no bone %q", i, fe.Target)
		}
		scale := fe.Scale
		if scale == 0 {
			scale = 1
		}
		m.Entries = append(m.Entries, Entry{
			SourceJoint: fe.Source,
			TargetBone:  bone.Id,
			RotationOffset: mgl32.AnglesToQuat(
				mgl32.DegToRad(fe.OffsetEuler[0]),
				mgl32.DegToRad(fe.OffsetEuler[1]),
				mgl32.DegToRad(fe.OffsetEuler[2]),
				mgl32.XYZ),
			Scale: scale,
		})
	}
	return m, nil
}

// SaveSkeletonMap writes the map back out in the yaml authoring form, so a
// derived map can be saved, hand-tuned and reloaded. Rotation offsets go out
// as degrees, matching LoadSkeletonMap.
func SaveSkeletonMap(m *SkeletonMap, target *skeleton.Skeleton) ([]byte, error) {
	file := mapFile{Bones: make([]mapFileEntry, 0, len(m.Entries))}
	for i, entry := range m.Entries {
		if entry.TargetBone < 0 || entry.TargetBone >= len(target.Bones) {
			return nil, errors.Errorf("Map entry %v targets bone %v, skeleton has %v bones",
				i, entry.TargetBone, len(target.Bones))
		}
		euler := utils.QuatToEuler(entry.RotationOffset)
		file.Bones = append(file.Bones, mapFileEntry{
			Source: entry.SourceJoint,
			Target: target.Bones[entry.TargetBone].Name,
			OffsetEuler: [3]float32{
				mgl32.RadToDeg(euler[0]),
				mgl32.RadToDeg(euler[1]),
				mgl32.RadToDeg(euler[2]),
			},
			Scale: entry.Scale,
		})
	}
	data, err := yaml.Marshal(&file)
	return data, errors.Wrapf(err, "Failed to marshal skeleton map yaml")
}

// ProportionalMap pairs clip joints to target bones by name like
// IdentityMap, but derives each entry's translation scale from the ratio of
// the target bone's rest length to the source joint's rest offset length.
// Roots and zero-length joints fall back to the overall skeleton ratio, so
// root motion scales with the skeletons instead of staying 1:1.
func ProportionalMap(clip *bvh.Clip, target *skeleton.Skeleton) (*SkeletonMap, error) {
	var sourceTotal, targetTotal float32
	for i := range clip.Joints {
		if clip.Joints[i].Parent != bvh.JOINT_PARENT_NONE {
			sourceTotal += clip.Joints[i].Offset.Len()
		}
	}
	for i := range target.Bones {
		if target.Bones[i].Parent != skeleton.BONE_PARENT_NONE {
			targetTotal += target.Bones[i].Translation.Len()
		}
	}
	overall := float32(1)
	if sourceTotal > 1e-6 && targetTotal > 1e-6 {
		overall = targetTotal / sourceTotal
	}

	m := &SkeletonMap{}
	for i := range clip.Joints {
		bone := target.BoneByName(clip.Joints[i].Name)
		if bone == nil {
			continue
		}
		scale := overall
		sourceLen := clip.Joints[i].Offset.Len()
		targetLen := bone.Translation.Len()
		if sourceLen > 1e-6 && targetLen > 1e-6 {
			scale = targetLen / sourceLen
		}
		m.Entries = append(m.Entries, Entry{
			SourceJoint:    clip.Joints[i].Name,
			TargetBone:     bone.Id,
			RotationOffset: mgl32.QuatIdent(),
			Scale:          scale,
		})
	}
	if len(m.Entries) == 0 {
		return nil, errors.Errorf("No joint names shared between clip and target skeleton")
	}
	return m, nil
}

// IdentityMap pairs clip joints to target bones by name with zero rotation
// offset and scale 1. Retargeting through it onto a skeleton identical to
// the source reproduces the source motion exactly.
func IdentityMap(clip *bvh.Clip, target *skeleton.Skeleton) (*SkeletonMap, error) {
	m := &SkeletonMap{}
	for i := range clip.Joints {
		bone := target.BoneByName(clip.Joints[i].Name)
		if bone == nil {
			continue
		}
		m.Entries = append(m.Entries, Entry{
			SourceJoint:    clip.Joints[i].Name,
			TargetBone:     bone.Id,
			RotationOffset: mgl32.QuatIdent(),
			Scale:          1,
		})
	}
	if len(m.Entries) == 0 {
		return nil, errors.Errorf("No joint names shared between clip and target skeleton")
	}
	return m, nil
}
