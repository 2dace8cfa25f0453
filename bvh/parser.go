package bvh

import (
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/timtadh/lexmachine"
)

type Channel uint8

const (
	CHANNEL_XPOSITION Channel = iota
	CHANNEL_YPOSITION
	CHANNEL_ZPOSITION
	CHANNEL_XROTATION
	CHANNEL_YROTATION
	CHANNEL_ZROTATION
)

func (c Channel) IsRotation() bool {
	return c >= CHANNEL_XROTATION
}

var channelNames = map[string]Channel{
	"Xposition": CHANNEL_XPOSITION,
	"Yposition": CHANNEL_YPOSITION,
	"Zposition": CHANNEL_ZPOSITION,
	"Xrotation": CHANNEL_XROTATION,
	"Yrotation": CHANNEL_YROTATION,
	"Zrotation": CHANNEL_ZROTATION,
}

const JOINT_PARENT_NONE = -1

type Joint struct {
	Name   string
	Parent int // JOINT_PARENT_NONE for roots
	Offset mgl32.Vec3

	// Channels exactly as declared in the file; sampling depends on this
	// order, so it is never rearranged after parse.
	Channels []Channel

	// ChannelOffset is the joint's position inside a frame row, computed
	// once at parse time.
	ChannelOffset int

	// EndOffset is the End Site offset for leaf joints, when present.
	EndOffset *mgl32.Vec3
}

type Clip struct {
	Joints    []Joint
	FrameTime float32
	Frames    [][]float32

	channelTotal int
}

func (c *Clip) FrameCount() int {
	return len(c.Frames)
}

func (c *Clip) JointByName(name string) int {
	for i := range c.Joints {
		if c.Joints[i].Name == name {
			return i
		}
	}
	return JOINT_PARENT_NONE
}

// Parse reads a BVH document. Unbalanced hierarchy scopes and a motion
// section whose data does not match the declared frame count are hard
// errors, not best-effort recoveries.
func Parse(text []byte) (*Clip, error) {
	ts, err := newTokenStream(text)
	if err != nil {
		return nil, err
	}

	if err := expectWord(ts, "HIERARCHY"); err != nil {
		return nil, err
	}

	clip := &Clip{}
	for {
		tok, err := ts.peek()
		if err != nil {
			return nil, err
		}
		if tok == nil {
			return nil, errors.Errorf("Unexpected end of file before MOTION section")
		}
		if tok.Type == TOKEN_WORD && string(tok.Lexeme) == "MOTION" {
			ts.next()
			break
		}
		if err := clip.parseJoint(ts, JOINT_PARENT_NONE); err != nil {
			return nil, err
		}
	}

	if len(clip.Joints) == 0 {
		return nil, errors.Errorf("Hierarchy declares no joints")
	}

	// frame rows follow declaration order; fix the per-joint strides once
	// here instead of trusting OFFSET/CHANNELS/JOINT ordering inside scopes
	stride := 0
	for i := range clip.Joints {
		clip.Joints[i].ChannelOffset = stride
		stride += len(clip.Joints[i].Channels)
	}
	clip.channelTotal = stride

	return clip, clip.parseMotion(ts)
}

func (clip *Clip) parseJoint(ts *tokenStream, parent int) error {
	keyword, err := wordToken(ts)
	if err != nil {
		return err
	}
	switch keyword {
	case "ROOT":
		if parent != JOINT_PARENT_NONE {
			return errors.Errorf("ROOT joint nested inside another joint")
		}
	case "JOINT":
		if parent == JOINT_PARENT_NONE {
			return errors.Errorf("JOINT outside of a ROOT scope")
		}
	default:
		return errors.Errorf("Expected ROOT or JOINT, got %q", keyword)
	}

	name, err := wordToken(ts)
	if err != nil {
		return errors.Wrapf(err, "Joint has no name")
	}

	jointId := len(clip.Joints)
	clip.Joints = append(clip.Joints, Joint{
		Name:          name,
		Parent:        parent,
		ChannelOffset: clip.channelTotal,
	})

	if err := expectToken(ts, TOKEN_LBRACE); err != nil {
		return errors.Wrapf(err, "Joint %q", name)
	}

	for {
		tok, err := ts.next()
		if err != nil {
			return err
		}
		if tok == nil {
			return errors.Errorf("Unbalanced scope: joint %q is never closed", name)
		}
		if tok.Type == TOKEN_RBRACE {
			return nil
		}
		if tok.Type != TOKEN_WORD {
			return errors.Errorf("Unexpected token %q in joint %q on line %v", tok.Lexeme, name, tok.StartLine)
		}

		switch string(tok.Lexeme) {
		case "OFFSET":
			offset, err := parseVec3(ts)
			if err != nil {
				return errors.Wrapf(err, "Bad OFFSET of joint %q", name)
			}
			clip.Joints[jointId].Offset = offset
		case "CHANNELS":
			if err := clip.parseChannels(ts, jointId); err != nil {
				return errors.Wrapf(err, "Bad CHANNELS of joint %q", name)
			}
		case "JOINT":
			ts.peeked = tok
			if err := clip.parseJoint(ts, jointId); err != nil {
				return err
			}
		case "End":
			if err := clip.parseEndSite(ts, jointId); err != nil {
				return errors.Wrapf(err, "Bad End Site of joint %q", name)
			}
		default:
			return errors.Errorf("Unexpected keyword %q in joint %q on line %v", tok.Lexeme, name, tok.StartLine)
		}
	}
}

func (clip *Clip) parseChannels(ts *tokenStream, jointId int) error {
	count, err := intToken(ts)
	if err != nil {
		return err
	}

	joint := &clip.Joints[jointId]
	rotations := 0
	seen := make(map[Channel]bool)
	for i := 0; i < count; i++ {
		word, err := wordToken(ts)
		if err != nil {
			return err
		}
		channel, ok := channelNames[word]
		if !ok {
			return errors.Errorf("Unknown channel %q", word)
		}
		if seen[channel] {
			return errors.Errorf("Channel %q declared twice", word)
		}
		seen[channel] = true
		if channel.IsRotation() {
			rotations++
		}
		joint.Channels = append(joint.Channels, channel)
	}

	// the fixed per-joint stride the sampler relies on
	switch {
	case rotations != 3:
		return errors.Errorf("Joint declares %v rotation channels, need exactly 3", rotations)
	case len(joint.Channels) != 3 && len(joint.Channels) != 6:
		return errors.Errorf("Joint declares %v channels, need 3 or 6", len(joint.Channels))
	}

	clip.channelTotal += len(joint.Channels)
	return nil
}

func (clip *Clip) parseEndSite(ts *tokenStream, jointId int) error {
	if err := expectWord(ts, "Site"); err != nil {
		return err
	}
	if err := expectToken(ts, TOKEN_LBRACE); err != nil {
		return err
	}
	if err := expectWord(ts, "OFFSET"); err != nil {
		return err
	}
	offset, err := parseVec3(ts)
	if err != nil {
		return err
	}
	clip.Joints[jointId].EndOffset = &offset
	return expectToken(ts, TOKEN_RBRACE)
}

func (clip *Clip) parseMotion(ts *tokenStream) error {
	if err := expectWord(ts, "Frames"); err != nil {
		return err
	}
	if err := expectToken(ts, TOKEN_COLON); err != nil {
		return err
	}
	frameCount, err := intToken(ts)
	if err != nil {
		return errors.Wrapf(err, "Bad frame count")
	}
	if frameCount < 0 {
		return errors.Errorf("Negative frame count %v", frameCount)
	}

	if err := expectWord(ts, "Frame"); err != nil {
		return err
	}
	if err := expectWord(ts, "Time"); err != nil {
		return err
	}
	if err := expectToken(ts, TOKEN_COLON); err != nil {
		return err
	}
	frameTime, err := floatToken(ts)
	if err != nil {
		return errors.Wrapf(err, "Bad frame time")
	}
	if frameTime <= 0 {
		return errors.Errorf("Frame time %v must be positive", frameTime)
	}
	clip.FrameTime = frameTime

	values := make([]float32, 0, frameCount*clip.channelTotal)
	for {
		tok, err := ts.next()
		if err != nil {
			return err
		}
		if tok == nil {
			break
		}
		if tok.Type != TOKEN_NUMBER {
			return errors.Errorf("Unexpected token %q in motion data on line %v", tok.Lexeme, tok.StartLine)
		}
		v, err := strconv.ParseFloat(string(tok.Lexeme), 32)
		if err != nil {
			return errors.Wrapf(err, "Bad motion value %q on line %v", tok.Lexeme, tok.StartLine)
		}
		values = append(values, float32(v))
	}

	if len(values) != frameCount*clip.channelTotal {
		return errors.Errorf("Motion declares %v frames x %v channels = %v values, file carries %v",
			frameCount, clip.channelTotal, frameCount*clip.channelTotal, len(values))
	}

	clip.Frames = make([][]float32, frameCount)
	for f := 0; f < frameCount; f++ {
		clip.Frames[f] = values[f*clip.channelTotal : (f+1)*clip.channelTotal]
	}
	return nil
}

func (ts *tokenStream) nextNonNil() (*lexmachine.Token, error) {
	tok, err := ts.next()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, errors.Errorf("Unexpected end of file")
	}
	return tok, nil
}

func wordToken(ts *tokenStream) (string, error) {
	tok, err := ts.nextNonNil()
	if err != nil {
		return "", err
	}
	if tok.Type != TOKEN_WORD {
		return "", errors.Errorf("Expected identifier, got %q on line %v", tok.Lexeme, tok.StartLine)
	}
	return string(tok.Lexeme), nil
}

func expectWord(ts *tokenStream, word string) error {
	got, err := wordToken(ts)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, word) {
		return errors.Errorf("Expected %q, got %q", word, got)
	}
	return nil
}

func expectToken(ts *tokenStream, tokenType int) error {
	tok, err := ts.nextNonNil()
	if err != nil {
		return err
	}
	if tok.Type != tokenType {
		return errors.Errorf("Unexpected token %q on line %v", tok.Lexeme, tok.StartLine)
	}
	return nil
}

func floatToken(ts *tokenStream) (float32, error) {
	tok, err := ts.nextNonNil()
	if err != nil {
		return 0, err
	}
	if tok.Type != TOKEN_NUMBER {
		return 0, errors.Errorf("Expected number, got %q on line %v", tok.Lexeme, tok.StartLine)
	}
	v, err := strconv.ParseFloat(string(tok.Lexeme), 32)
	if err != nil {
		return 0, errors.Wrapf(err, "Bad number %q", tok.Lexeme)
	}
	return float32(v), nil
}

func intToken(ts *tokenStream) (int, error) {
	v, err := floatToken(ts)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func parseVec3(ts *tokenStream) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	for c := 0; c < 3; c++ {
		f, err := floatToken(ts)
		if err != nil {
			return v, err
		}
		v[c] = f
	}
	return v, nil
}
