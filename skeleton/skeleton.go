package skeleton

import (
	"bytes"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/utils"
)

// MAX_BONES is the renderer's bone table ceiling. The algorithms here do not
// care, but every skeleton we emit must fit the GPU palette.
const MAX_BONES = 256

const BONE_PARENT_NONE = -1

type Bone struct {
	Id     int
	Name   string
	Parent int // BONE_PARENT_NONE for roots, multiple roots allowed

	// rest pose local transform
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
}

func (b *Bone) LocalMatrix() mgl32.Mat4 {
	m := b.Rotation.Mat4()
	m = m.Mul4(mgl32.Scale3D(b.Scale[0], b.Scale[1], b.Scale[2]))
	m.SetCol(3, mgl32.Vec4{b.Translation[0], b.Translation[1], b.Translation[2], 1})
	return m
}

type Skeleton struct {
	Bones []Bone

	children    [][]int
	restWorld   []mgl32.Mat4
	inverseBind []mgl32.Mat4
}

// New validates the bone set once and caches rest-pose world transforms and
// the inverse bind table. Parents must come before children in the bone
// order so a single top-down pass composes the hierarchy; this also rules
// out cycles. Unnamed bones get generated placeholder names.
func New(bones []Bone) (*Skeleton, error) {
	if len(bones) == 0 {
		return nil, errors.Errorf("Skeleton has no bones")
	}
	if len(bones) > MAX_BONES {
		return nil, errors.Errorf("Skeleton has %v bones, renderer limit is %v", len(bones), MAX_BONES)
	}

	var rng utils.RandomNameGenerator
	seen := make(map[string]int, len(bones))
	for i := range bones {
		b := &bones[i]
		b.Id = i
		if b.Parent != BONE_PARENT_NONE && (b.Parent < 0 || b.Parent >= i) {
			return nil, errors.Errorf("Bone %v %q parent %v is not an earlier bone", i, b.Name, b.Parent)
		}
		if b.Scale == (mgl32.Vec3{}) {
			b.Scale = mgl32.Vec3{1, 1, 1}
		}
		if b.Name == "" {
			b.Name = rng.RandomName()
		}
		if prev, exists := seen[b.Name]; exists {
			return nil, errors.Errorf("Bone name %q duplicated (bones %v and %v)", b.Name, prev, i)
		}
		seen[b.Name] = i
	}

	s := &Skeleton{
		Bones:    bones,
		children: make([][]int, len(bones)),
	}
	for i := range bones {
		if p := bones[i].Parent; p != BONE_PARENT_NONE {
			s.children[p] = append(s.children[p], i)
		}
	}

	s.restWorld = s.WorldMatrices(nil, mgl32.Vec3{})
	s.inverseBind = make([]mgl32.Mat4, len(bones))
	for i := range s.restWorld {
		s.inverseBind[i] = s.restWorld[i].Inv()
	}
	return s, nil
}

func (s *Skeleton) BoneByName(name string) *Bone {
	for i := range s.Bones {
		if s.Bones[i].Name == name {
			return &s.Bones[i]
		}
	}
	return nil
}

func (s *Skeleton) Children(bone int) []int {
	return s.children[bone]
}

// WorldMatrices composes per-bone world transforms in one top-down pass.
// localRotations, when non-nil, override every bone's rest rotation (one
// entry per bone); rootTranslation offsets root bones only. Pass nil and a
// zero vector for the rest pose.
func (s *Skeleton) WorldMatrices(localRotations []mgl32.Quat, rootTranslation mgl32.Vec3) []mgl32.Mat4 {
	world := make([]mgl32.Mat4, len(s.Bones))
	for i := range s.Bones {
		b := &s.Bones[i]

		rotation := b.Rotation
		if localRotations != nil {
			rotation = localRotations[i]
		}
		local := rotation.Mat4()
		local = local.Mul4(mgl32.Scale3D(b.Scale[0], b.Scale[1], b.Scale[2]))
		translation := b.Translation
		if b.Parent == BONE_PARENT_NONE {
			translation = translation.Add(rootTranslation)
		}
		local.SetCol(3, mgl32.Vec4{translation[0], translation[1], translation[2], 1})

		if b.Parent == BONE_PARENT_NONE {
			world[i] = local
		} else {
			world[i] = world[b.Parent].Mul4(local)
		}
	}
	return world
}

// RestWorldMatrices returns the cached rest-pose world transforms.
// The slice is shared, callers must not modify it.
func (s *Skeleton) RestWorldMatrices() []mgl32.Mat4 {
	return s.restWorld
}

// InverseBindMatrices returns the cached inverse bind table. The renderer
// composes world * inverseBind per bone itself; nothing here pre-multiplies.
func (s *Skeleton) InverseBindMatrices() []mgl32.Mat4 {
	return s.inverseBind
}

// HeadTail returns the rest-pose bone segment. The head is the bone's world
// position; the tail is the mean of its children's world positions. Leaf
// bones collapse to a point (head == tail), which every consumer treats as
// a zero-length segment.
func (s *Skeleton) HeadTail(bone int) (head, tail mgl32.Vec3) {
	head = s.restWorld[bone].Col(3).Vec3()
	childs := s.children[bone]
	if len(childs) == 0 {
		return head, head
	}
	for _, c := range childs {
		tail = tail.Add(s.restWorld[c].Col(3).Vec3())
	}
	return head, tail.Mul(1 / float32(len(childs)))
}

func (s *Skeleton) StringTree() string {
	var buffer bytes.Buffer
	var depths = make([]int, len(s.Bones))
	for i := range s.Bones {
		b := &s.Bones[i]
		depth := 0
		if b.Parent != BONE_PARENT_NONE {
			depth = depths[b.Parent] + 1
		}
		depths[i] = depth
		for d := 0; d < depth; d++ {
			buffer.WriteString("  ")
		}
		head, tail := s.HeadTail(i)
		buffer.WriteString(fmt.Sprintf("bone [%.2x <=%.2x] %s len %f\n",
			b.Id, b.Parent, b.Name, tail.Sub(head).Len()))
	}
	return buffer.String()
}
