package bvh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/skeleton"
)

// SampleConfig configures frame decoding. Rotation composition order is
// normally taken from each joint's declared channel order, but some
// exporters write channels in one order while baking angles in another;
// RotationOrder ("XYZ", "ZXY", ...) overrides the composition for every
// joint of the file. Wrong-order symptoms show up in ValidateBoneLengths.
type SampleConfig struct {
	RotationOrder string
}

// Pose is one decoded frame: local rotations per joint, the root's local
// translation (positional channels only, the rest offset not included),
// and composed world transforms.
type Pose struct {
	LocalRotations  []mgl32.Quat
	RootTranslation mgl32.Vec3
	World           []mgl32.Mat4
}

func channelAxis(c Channel) mgl32.Vec3 {
	switch c {
	case CHANNEL_XPOSITION, CHANNEL_XROTATION:
		return mgl32.Vec3{1, 0, 0}
	case CHANNEL_YPOSITION, CHANNEL_YROTATION:
		return mgl32.Vec3{0, 1, 0}
	default:
		return mgl32.Vec3{0, 0, 1}
	}
}

func rotationChannelForAxis(axis byte) (Channel, error) {
	switch axis {
	case 'X':
		return CHANNEL_XROTATION, nil
	case 'Y':
		return CHANNEL_YROTATION, nil
	case 'Z':
		return CHANNEL_ZROTATION, nil
	}
	return 0, errors.Errorf("Bad rotation order axis %q", string(axis))
}

// jointRotation converts the joint's Euler channels for one frame into a
// quaternion, composing in declared channel order unless cfg overrides it.
func (clip *Clip) jointRotation(joint *Joint, row []float32, cfg SampleConfig) (mgl32.Quat, error) {
	values := row[joint.ChannelOffset : joint.ChannelOffset+len(joint.Channels)]

	order := make([]Channel, 0, 3)
	if cfg.RotationOrder == "" {
		for _, c := range joint.Channels {
			if c.IsRotation() {
				order = append(order, c)
			}
		}
	} else {
		if len(cfg.RotationOrder) != 3 {
			return mgl32.QuatIdent(), errors.Errorf("Rotation order %q must name 3 axes", cfg.RotationOrder)
		}
		for i := 0; i < 3; i++ {
			c, err := rotationChannelForAxis(cfg.RotationOrder[i])
			if err != nil {
				return mgl32.QuatIdent(), err
			}
			order = append(order, c)
		}
	}

	q := mgl32.QuatIdent()
	for _, wanted := range order {
		for i, c := range joint.Channels {
			if c == wanted {
				q = q.Mul(mgl32.QuatRotate(mgl32.DegToRad(values[i]), channelAxis(c)))
				break
			}
		}
	}
	return q.Normalize(), nil
}

// frameLocals decodes one frame row into per-joint local rotations and
// positional channel translations (rest offsets not included).
func (clip *Clip) frameLocals(frame int, cfg SampleConfig) ([]mgl32.Quat, []mgl32.Vec3, error) {
	row := clip.Frames[frame]
	rotations := make([]mgl32.Quat, len(clip.Joints))
	translations := make([]mgl32.Vec3, len(clip.Joints))
	for j := range clip.Joints {
		joint := &clip.Joints[j]

		rotation, err := clip.jointRotation(joint, row, cfg)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Joint %q", joint.Name)
		}
		rotations[j] = rotation

		values := row[joint.ChannelOffset : joint.ChannelOffset+len(joint.Channels)]
		for i, c := range joint.Channels {
			if !c.IsRotation() {
				translations[j] = translations[j].Add(channelAxis(c).Mul(values[i]))
			}
		}
	}
	return rotations, translations, nil
}

// composePose builds world transforms top-down from local rotations and
// channel translations. Joints are stored in declaration order, parents
// always before children, so a single pass suffices.
func (clip *Clip) composePose(rotations []mgl32.Quat, translations []mgl32.Vec3) *Pose {
	pose := &Pose{
		LocalRotations: rotations,
		World:          make([]mgl32.Mat4, len(clip.Joints)),
	}

	rootSeen := false
	for j := range clip.Joints {
		joint := &clip.Joints[j]

		if joint.Parent == JOINT_PARENT_NONE && !rootSeen {
			pose.RootTranslation = translations[j]
			rootSeen = true
		}

		translation := joint.Offset.Add(translations[j])
		local := rotations[j].Mat4()
		local.SetCol(3, mgl32.Vec4{translation[0], translation[1], translation[2], 1})

		if joint.Parent == JOINT_PARENT_NONE {
			pose.World[j] = local
		} else {
			pose.World[j] = pose.World[joint.Parent].Mul4(local)
		}
	}
	return pose
}

// Sample decodes one frame into local rotations and world transforms.
func (clip *Clip) Sample(frame int, cfg SampleConfig) (*Pose, error) {
	if frame < 0 || frame >= len(clip.Frames) {
		return nil, errors.Errorf("Frame %v out of range (%v frames)", frame, len(clip.Frames))
	}
	rotations, translations, err := clip.frameLocals(frame, cfg)
	if err != nil {
		return nil, err
	}
	return clip.composePose(rotations, translations), nil
}

// Duration returns the clip length in seconds.
func (clip *Clip) Duration() float32 {
	return clip.FrameTime * float32(len(clip.Frames))
}

func (clip *Clip) Fps() float32 {
	if clip.FrameTime <= 0 {
		return 0
	}
	return 1 / clip.FrameTime
}

func slerpShortest(a, b mgl32.Quat, amount float32) mgl32.Quat {
	// mgl32 slerps along the given arc; flip the sign to stay on the
	// shorter one
	if a.Dot(b) < 0 {
		b = mgl32.Quat{W: -b.W, V: b.V.Mul(-1)}
	}
	return mgl32.QuatSlerp(a, b, amount)
}

// SampleAt decodes the pose at an arbitrary time in seconds, interpolating
// rotations (shortest-arc slerp) and translations between the two
// surrounding frames. Times outside the clip clamp to the first and last
// frame.
func (clip *Clip) SampleAt(time float32, cfg SampleConfig) (*Pose, error) {
	if len(clip.Frames) == 0 {
		return nil, errors.Errorf("Clip has no frames")
	}

	position := time / clip.FrameTime
	if position < 0 {
		position = 0
	}
	if last := float32(len(clip.Frames) - 1); position > last {
		position = last
	}
	frame := int(position)
	frac := position - float32(frame)

	rotations, translations, err := clip.frameLocals(frame, cfg)
	if err != nil {
		return nil, err
	}
	if frac > 0 && frame+1 < len(clip.Frames) {
		nextRotations, nextTranslations, err := clip.frameLocals(frame+1, cfg)
		if err != nil {
			return nil, err
		}
		for j := range rotations {
			rotations[j] = slerpShortest(rotations[j], nextRotations[j], frac)
			translations[j] = translations[j].Add(nextTranslations[j].Sub(translations[j]).Mul(frac))
		}
	}
	return clip.composePose(rotations, translations), nil
}

// ToSkeleton builds a rest-pose skeleton from the hierarchy block: joint
// offsets become bone translations, rotations start at identity.
func (clip *Clip) ToSkeleton() (*skeleton.Skeleton, error) {
	bones := make([]skeleton.Bone, len(clip.Joints))
	for i := range clip.Joints {
		joint := &clip.Joints[i]
		bones[i] = skeleton.Bone{
			Name:        joint.Name,
			Parent:      joint.Parent,
			Translation: joint.Offset,
			Rotation:    mgl32.QuatIdent(),
			Scale:       mgl32.Vec3{1, 1, 1},
		}
	}
	s, err := skeleton.New(bones)
	return s, errors.Wrapf(err, "Hierarchy does not form a valid skeleton")
}

type Warning struct {
	Joint   string
	Frame   int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("joint %q frame %v: %s", w.Joint, w.Frame, w.Message)
}

// lengths drifting frame to frame are the classic symptom of sampling with
// a wrong rotation order assumption (or of stray positional channels on
// non-root joints); surfaced as warnings, one per joint.
const boneLengthDriftTolerance = 0.005

// ValidateBoneLengths samples every frame and compares each joint's world
// distance to its parent against the rest offset length.
func (clip *Clip) ValidateBoneLengths(cfg SampleConfig) ([]Warning, error) {
	warnings := []Warning{}
	flagged := make(map[int]bool)

	for frame := range clip.Frames {
		pose, err := clip.Sample(frame, cfg)
		if err != nil {
			return nil, err
		}
		for j := range clip.Joints {
			joint := &clip.Joints[j]
			if joint.Parent == JOINT_PARENT_NONE || flagged[j] {
				continue
			}
			rest := joint.Offset.Len()
			if rest < 1e-6 {
				continue
			}
			sampled := pose.World[j].Col(3).Vec3().Sub(pose.World[joint.Parent].Col(3).Vec3()).Len()
			drift := (sampled - rest) / rest
			if drift < 0 {
				drift = -drift
			}
			if drift > boneLengthDriftTolerance {
				flagged[j] = true
				warnings = append(warnings, Warning{
					Joint:   joint.Name,
					Frame:   frame,
					Message: fmt.Sprintf("bone length drifts %.2f%% from rest %.4f", drift*100, rest),
				})
			}
		}
	}
	return warnings, nil
}
