// Package wire defines the newline-delimited JSON messages exchanged with
// radar sensors and downstream consumers. The same framing is used on serial
// links, UDP datagrams and pcap captures.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/radarcloud/internal/frames"
	"github.com/banshee-data/radarcloud/internal/radar"
)

const (
	TypeTargets     = "targets"
	TypeEgoVelocity = "ego_velocity"
	TypeTransform   = "transform"
	TypeCloud       = "cloud"
)

// ErrUnknownMessage is returned for lines that are not a recognised message.
var ErrUnknownMessage = errors.New("unknown message")

// Quaternion is the wire form of a rotation.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Message is the union of every message type. Only the fields relevant to
// Type are populated.
type Message struct {
	Type  string  `json:"type"`
	Stamp float64 `json:"stamp,omitempty"` // unix seconds

	// targets and cloud
	FrameID string `json:"frame_id,omitempty"`

	// targets
	Targets []radar.Target `json:"targets,omitempty"`

	// ego_velocity
	Linear *radar.Vec3 `json:"linear,omitempty"`

	// transform
	Parent      string      `json:"parent,omitempty"`
	Child       string      `json:"child,omitempty"`
	Translation *radar.Vec3 `json:"translation,omitempty"`
	Rotation    *Quaternion `json:"rotation,omitempty"`
	Static      bool        `json:"static,omitempty"`

	// cloud
	Points []radar.OutputPoint     `json:"points,omitempty"`
	Stats  *radar.ProjectionStats `json:"stats,omitempty"`
}

// StampToTime converts unix seconds to a time. Zero maps to the zero time.
func StampToTime(s float64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// TimeToStamp converts a time to unix seconds. The zero time maps to zero.
func TimeToStamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// ParseMessage decodes one line. Blank lines and unknown types return
// ErrUnknownMessage.
func ParseMessage(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrUnknownMessage)
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	switch m.Type {
	case TypeTargets, TypeEgoVelocity, TypeTransform, TypeCloud:
		return m, nil
	default:
		return Message{}, fmt.Errorf("%w: type %q", ErrUnknownMessage, m.Type)
	}
}

// ParseLine is ParseMessage for a string payload.
func ParseLine(line string) (Message, error) {
	return ParseMessage([]byte(strings.TrimSpace(line)))
}

// Encode writes m as a single JSON line.
func Encode(w io.Writer, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// Marshal returns m as a newline-terminated JSON line.
func Marshal(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Batch returns the batch carried by a targets message.
func (m Message) Batch() (radar.Batch, error) {
	if m.Type != TypeTargets {
		return radar.Batch{}, fmt.Errorf("message type %q is not %q", m.Type, TypeTargets)
	}
	if m.FrameID == "" {
		return radar.Batch{}, fmt.Errorf("targets message has no frame_id")
	}
	targets := m.Targets
	if targets == nil {
		targets = []radar.Target{}
	}
	return radar.Batch{FrameID: m.FrameID, Timestamp: StampToTime(m.Stamp), Targets: targets}, nil
}

// EgoVelocity returns the velocity carried by an ego_velocity message. The
// message stamp becomes ReceivedAt; it is zero when the sender omitted it.
func (m Message) EgoVelocity() (radar.EgoVelocity, error) {
	if m.Type != TypeEgoVelocity {
		return radar.EgoVelocity{}, fmt.Errorf("message type %q is not %q", m.Type, TypeEgoVelocity)
	}
	if m.Linear == nil {
		return radar.EgoVelocity{}, fmt.Errorf("ego_velocity message has no linear velocity")
	}
	return radar.EgoVelocity{Linear: *m.Linear, ReceivedAt: StampToTime(m.Stamp)}, nil
}

// Transform returns the transform carried by a transform message. A missing
// rotation means identity.
func (m Message) Transform() (frames.Transform, error) {
	if m.Type != TypeTransform {
		return frames.Transform{}, fmt.Errorf("message type %q is not %q", m.Type, TypeTransform)
	}
	tf := frames.Transform{
		Parent:   m.Parent,
		Child:    m.Child,
		Stamp:    StampToTime(m.Stamp),
		Rotation: quat.Number{Real: 1},
		Static:   m.Static,
	}
	if m.Translation != nil {
		tf.Translation = *m.Translation
	}
	if m.Rotation != nil {
		tf.Rotation = quat.Number{Real: m.Rotation.W, Imag: m.Rotation.X, Jmag: m.Rotation.Y, Kmag: m.Rotation.Z}
	}
	return tf, tf.Validate()
}

// Cloud returns the cloud carried by a cloud message.
func (m Message) Cloud() (radar.Cloud, error) {
	if m.Type != TypeCloud {
		return radar.Cloud{}, fmt.Errorf("message type %q is not %q", m.Type, TypeCloud)
	}
	c := radar.Cloud{FrameID: m.FrameID, Timestamp: StampToTime(m.Stamp), Points: m.Points}
	if c.Points == nil {
		c.Points = []radar.OutputPoint{}
	}
	if m.Stats != nil {
		c.Stats = *m.Stats
	}
	return c, nil
}

// NewBatchMessage wraps a batch.
func NewBatchMessage(b radar.Batch) Message {
	return Message{Type: TypeTargets, FrameID: b.FrameID, Stamp: TimeToStamp(b.Timestamp), Targets: b.Targets}
}

// NewEgoVelocityMessage wraps an ego velocity.
func NewEgoVelocityMessage(v radar.EgoVelocity) Message {
	linear := v.Linear
	return Message{Type: TypeEgoVelocity, Stamp: TimeToStamp(v.ReceivedAt), Linear: &linear}
}

// NewTransformMessage wraps a transform.
func NewTransformMessage(tf frames.Transform) Message {
	tr := tf.Translation
	return Message{
		Type:        TypeTransform,
		Stamp:       TimeToStamp(tf.Stamp),
		Parent:      tf.Parent,
		Child:       tf.Child,
		Translation: &tr,
		Rotation:    &Quaternion{W: tf.Rotation.Real, X: tf.Rotation.Imag, Y: tf.Rotation.Jmag, Z: tf.Rotation.Kmag},
		Static:      tf.Static,
	}
}

// NewCloudMessage wraps a projected cloud.
func NewCloudMessage(c radar.Cloud) Message {
	stats := c.Stats
	points := c.Points
	if points == nil {
		points = []radar.OutputPoint{}
	}
	return Message{Type: TypeCloud, FrameID: c.FrameID, Stamp: TimeToStamp(c.Timestamp), Points: points, Stats: &stats}
}
