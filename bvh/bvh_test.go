package bvh_test

import (
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/rigbuilder/bvh"
)

const sampleDocument = `HIERARCHY
ROOT Hips
{
	OFFSET 0.0 0.0 0.0
	CHANNELS 6 Xposition Yposition Zposition Zrotation Xrotation Yrotation
	JOINT Spine
	{
		OFFSET 0.0 1.0 0.0
		CHANNELS 3 Zrotation Xrotation Yrotation
		JOINT Head
		{
			OFFSET 0.0 1.0 0.0
			CHANNELS 3 Zrotation Xrotation Yrotation
			End Site
			{
				OFFSET 0.0 0.5 0.0
			}
		}
	}
}
MOTION
Frames: 2
Frame Time: 0.033333
0 0 0 0 0 0 0 0 0 0 0 0
1 2 3 90 0 0 0 0 0 0 0 0
`

func vec3Near(a, b mgl32.Vec3, eps float32) bool {
	return a.Sub(b).Len() <= eps
}

func TestParseHierarchy(t *testing.T) {
	clip, err := bvh.Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}

	if len(clip.Joints) != 3 {
		t.Fatalf("parsed %v joints; expected 3", len(clip.Joints))
	}

	tests := []struct {
		name          string
		parent        int
		offset        mgl32.Vec3
		channels      int
		channelOffset int
	}{
		{"Hips", bvh.JOINT_PARENT_NONE, mgl32.Vec3{0, 0, 0}, 6, 0},
		{"Spine", 0, mgl32.Vec3{0, 1, 0}, 3, 6},
		{"Head", 1, mgl32.Vec3{0, 1, 0}, 3, 9},
	}
	for i, test := range tests {
		j := &clip.Joints[i]
		if j.Name != test.name || j.Parent != test.parent {
			t.Errorf("joint %v: %q parent %v; expected %q parent %v", i, j.Name, j.Parent, test.name, test.parent)
		}
		if !vec3Near(j.Offset, test.offset, 1e-6) {
			t.Errorf("joint %q offset %v; expected %v", j.Name, j.Offset, test.offset)
		}
		if len(j.Channels) != test.channels || j.ChannelOffset != test.channelOffset {
			t.Errorf("joint %q: %v channels at offset %v; expected %v at %v",
				j.Name, len(j.Channels), j.ChannelOffset, test.channels, test.channelOffset)
		}
	}

	// declared channel order must survive parsing untouched
	if clip.Joints[0].Channels[3] != bvh.CHANNEL_ZROTATION ||
		clip.Joints[0].Channels[4] != bvh.CHANNEL_XROTATION ||
		clip.Joints[0].Channels[5] != bvh.CHANNEL_YROTATION {
		t.Errorf("root rotation channels rearranged: %v", clip.Joints[0].Channels)
	}

	if clip.FrameCount() != 2 {
		t.Errorf("FrameCount()=%v; expected 2", clip.FrameCount())
	}
	if math.Abs(float64(clip.FrameTime)-0.033333) > 1e-6 {
		t.Errorf("FrameTime=%v; expected 0.033333", clip.FrameTime)
	}
	if clip.Joints[2].EndOffset == nil || !vec3Near(*clip.Joints[2].EndOffset, mgl32.Vec3{0, 0.5, 0}, 1e-6) {
		t.Errorf("Head End Site offset %v; expected (0,0.5,0)", clip.Joints[2].EndOffset)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(string) string
	}{
		{"unbalanced scope", func(s string) string {
			return strings.Replace(s, "}\nMOTION", "MOTION", 1)
		}},
		{"missing frame row", func(s string) string {
			return strings.Replace(s, "Frames: 2", "Frames: 3", 1)
		}},
		{"extra frame values", func(s string) string {
			return s + "4 5 6\n"
		}},
		{"no hierarchy keyword", func(s string) string {
			return strings.Replace(s, "HIERARCHY", "SKELETON", 1)
		}},
		{"joint without root", func(s string) string {
			return strings.Replace(s, "ROOT Hips", "JOINT Hips", 1)
		}},
		{"two rotation channels", func(s string) string {
			return strings.Replace(s,
				"CHANNELS 3 Zrotation Xrotation Yrotation\n\t\tJOINT",
				"CHANNELS 2 Zrotation Xrotation\n\t\tJOINT", 1)
		}},
		{"duplicate rotation channel", func(s string) string {
			return strings.Replace(s,
				"CHANNELS 3 Zrotation Xrotation Yrotation\n\t\tJOINT",
				"CHANNELS 3 Zrotation Zrotation Xrotation\n\t\tJOINT", 1)
		}},
		{"unknown channel", func(s string) string {
			return strings.Replace(s, "Xrotation Yrotation\n\t\tJOINT", "Xrotation Wrotation\n\t\tJOINT", 1)
		}},
		{"zero frame time", func(s string) string {
			return strings.Replace(s, "Frame Time: 0.033333", "Frame Time: 0", 1)
		}},
	}
	for _, test := range tests {
		if _, err := bvh.Parse([]byte(test.mangle(sampleDocument))); err == nil {
			t.Errorf("%v: expected a parse error", test.name)
		}
	}
}

func TestSampleRestFrame(t *testing.T) {
	clip, err := bvh.Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}
	pose, err := clip.Sample(0, bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}

	expected := []mgl32.Vec3{{0, 0, 0}, {0, 1, 0}, {0, 2, 0}}
	for i, e := range expected {
		if pos := pose.World[i].Col(3).Vec3(); !vec3Near(pos, e, 1e-5) {
			t.Errorf("joint %v at %v; expected %v", i, pos, e)
		}
	}
	if pose.RootTranslation != (mgl32.Vec3{}) {
		t.Errorf("RootTranslation=%v; expected zero", pose.RootTranslation)
	}
}

func TestSamplePosedFrame(t *testing.T) {
	clip, err := bvh.Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}
	pose, err := clip.Sample(1, bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}

	// root carries translation (1,2,3) and a 90 degree z rotation, so the
	// spine offset (0,1,0) swings to (-1,0,0) in root space
	if !vec3Near(pose.RootTranslation, mgl32.Vec3{1, 2, 3}, 1e-5) {
		t.Errorf("RootTranslation=%v; expected (1,2,3)", pose.RootTranslation)
	}
	if pos := pose.World[0].Col(3).Vec3(); !vec3Near(pos, mgl32.Vec3{1, 2, 3}, 1e-5) {
		t.Errorf("root at %v; expected (1,2,3)", pos)
	}
	if pos := pose.World[1].Col(3).Vec3(); !vec3Near(pos, mgl32.Vec3{0, 2, 3}, 1e-5) {
		t.Errorf("spine at %v; expected (0,2,3)", pos)
	}
	if pos := pose.World[2].Col(3).Vec3(); !vec3Near(pos, mgl32.Vec3{-1, 2, 3}, 1e-5) {
		t.Errorf("head at %v; expected (-1,2,3)", pos)
	}

	if _, err := clip.Sample(2, bvh.SampleConfig{}); err == nil {
		t.Errorf("expected out of range error for frame 2")
	}
}

func TestSampleAt(t *testing.T) {
	clip, err := bvh.Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(float64(clip.Duration())-2*0.033333) > 1e-6 {
		t.Errorf("Duration()=%v; expected %v", clip.Duration(), 2*0.033333)
	}
	if math.Abs(float64(clip.Fps())-1/0.033333) > 1e-2 {
		t.Errorf("Fps()=%v; expected about 30", clip.Fps())
	}

	// halfway between the rest frame and frame 1: translation lerps to
	// (0.5,1,1.5) and the 90 degree z rotation slerps to 45, swinging the
	// spine offset (0,1,0) to (-sin45, cos45, 0) in root space
	pose, err := clip.SampleAt(clip.FrameTime*0.5, bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if !vec3Near(pose.RootTranslation, mgl32.Vec3{0.5, 1, 1.5}, 1e-5) {
		t.Errorf("RootTranslation=%v; expected (0.5,1,1.5)", pose.RootTranslation)
	}
	s := float32(math.Sqrt2 / 2)
	if pos := pose.World[1].Col(3).Vec3(); !vec3Near(pos, mgl32.Vec3{0.5 - s, 1 + s, 1.5}, 1e-5) {
		t.Errorf("spine at %v; expected %v", pos, mgl32.Vec3{0.5 - s, 1 + s, 1.5})
	}

	// outside the clip, time clamps to the first and last frames
	before, err := clip.SampleAt(-1, bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if before.RootTranslation != (mgl32.Vec3{}) {
		t.Errorf("RootTranslation at t<0 = %v; expected zero", before.RootTranslation)
	}
	after, err := clip.SampleAt(clip.Duration()+1, bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if !vec3Near(after.RootTranslation, mgl32.Vec3{1, 2, 3}, 1e-5) {
		t.Errorf("RootTranslation past the end = %v; expected (1,2,3)", after.RootTranslation)
	}
}

func TestRotationOrderOverride(t *testing.T) {
	doc := strings.Replace(sampleDocument,
		"1 2 3 90 0 0 0 0 0 0 0 0",
		"0 0 0 90 0 90 0 0 0 0 0 0", 1)
	clip, err := bvh.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}

	// declared order ZXY applies Y first to vectors; (0,1,0) stays put
	// under y rotation and the z rotation takes it to (-1,0,0)
	declared, err := clip.Sample(1, bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if pos := declared.World[1].Col(3).Vec3(); !vec3Near(pos, mgl32.Vec3{-1, 0, 0}, 1e-5) {
		t.Errorf("declared order spine at %v; expected (-1,0,0)", pos)
	}

	// YXZ applies Z first: (0,1,0) -> (-1,0,0), then y carries it to (0,0,1)
	overridden, err := clip.Sample(1, bvh.SampleConfig{RotationOrder: "YXZ"})
	if err != nil {
		t.Fatal(err)
	}
	if pos := overridden.World[1].Col(3).Vec3(); !vec3Near(pos, mgl32.Vec3{0, 0, 1}, 1e-5) {
		t.Errorf("override order spine at %v; expected (0,0,1)", pos)
	}

	if _, err := clip.Sample(1, bvh.SampleConfig{RotationOrder: "XY"}); err == nil {
		t.Errorf("expected error for a 2-axis rotation order")
	}
	if _, err := clip.Sample(1, bvh.SampleConfig{RotationOrder: "XYW"}); err == nil {
		t.Errorf("expected error for an unknown rotation axis")
	}
}

func TestToSkeleton(t *testing.T) {
	clip, err := bvh.Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}
	skel, err := clip.ToSkeleton()
	if err != nil {
		t.Fatal(err)
	}

	if len(skel.Bones) != 3 {
		t.Fatalf("skeleton has %v bones; expected 3", len(skel.Bones))
	}
	for i := range clip.Joints {
		bone := &skel.Bones[i]
		if bone.Name != clip.Joints[i].Name || bone.Parent != clip.Joints[i].Parent {
			t.Errorf("bone %v %q parent %v does not match joint %q parent %v",
				i, bone.Name, bone.Parent, clip.Joints[i].Name, clip.Joints[i].Parent)
		}
		if !vec3Near(bone.Translation, clip.Joints[i].Offset, 1e-6) {
			t.Errorf("bone %q translation %v != joint offset %v", bone.Name, bone.Translation, clip.Joints[i].Offset)
		}
	}
}

func TestValidateBoneLengths(t *testing.T) {
	clip, err := bvh.Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}
	warnings, err := clip.ValidateBoneLengths(bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("rotation-only clip produced warnings: %v", warnings)
	}
}

func TestValidateBoneLengthsDrift(t *testing.T) {
	// positional channels on a non-root joint stretch the bone away from
	// its rest length, the classic wrong-export symptom
	doc := strings.Replace(sampleDocument,
		"OFFSET 0.0 1.0 0.0\n\t\tCHANNELS 3 Zrotation Xrotation Yrotation",
		"OFFSET 0.0 1.0 0.0\n\t\tCHANNELS 6 Xposition Yposition Zposition Zrotation Xrotation Yrotation", 1)
	doc = strings.Replace(doc,
		"0 0 0 0 0 0 0 0 0 0 0 0\n1 2 3 90 0 0 0 0 0 0 0 0",
		"0 0 0 0 0 0 0 0 0 0 0 0 0 0 0\n0 0 0 0 0 0 0.5 0 0 0 0 0 0 0 0", 1)

	clip, err := bvh.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	warnings, err := clip.ValidateBoneLengths(bvh.SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Fatalf("got %v warnings; expected exactly 1: %v", len(warnings), warnings)
	}
	if warnings[0].Joint != "Spine" || warnings[0].Frame != 1 {
		t.Errorf("warning %+v; expected Spine at frame 1", warnings[0])
	}
}
