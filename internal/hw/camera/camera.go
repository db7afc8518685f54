package camera

import (
	"context"
	"strings"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's reached
// (ONVIF, mock, etc.).
type Camera interface {
	// Snapshot captures a single still image and returns its JPEG bytes.
	Snapshot(ctx context.Context) ([]byte, error)
}

// PanTilt is a pan/tilt pair in the device's normalized space.
type PanTilt struct {
	Pan  float64
	Tilt float64
}

// Vector is a PTZ position, delta, velocity or speed.
// A nil part is not sent to the device.
type Vector struct {
	PanTilt *PanTilt
	Zoom    *float64
}

// IsZero reports whether neither part is set.
func (v Vector) IsZero() bool {
	return v.PanTilt == nil && v.Zoom == nil
}

// MoveStatus is the motion state reported by the PTZ unit.
type MoveStatus struct {
	PanTilt string
	Zoom    string
}

// Idle reports whether both axis groups are idle. An axis the device
// does not report counts as idle.
func (s MoveStatus) Idle() bool {
	return axisIdle(s.PanTilt) && axisIdle(s.Zoom)
}

func axisIdle(state string) bool {
	return state == "" || strings.EqualFold(state, "IDLE")
}

// PTZ moves the camera head.
type PTZ interface {
	AbsoluteMove(ctx context.Context, position Vector, speed *Vector) error
	RelativeMove(ctx context.Context, delta Vector, speed *Vector) error
	ContinuousMove(ctx context.Context, velocity Vector) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (MoveStatus, error)
	GotoHome(ctx context.Context) error
}

// FocusSettings is the focus part of the imaging settings.
// Nil fields are unknown (read) or left unchanged (write).
type FocusSettings struct {
	Mode         string // "AUTO" or "MANUAL"
	DefaultSpeed *float64
	NearLimit    *float64
	FarLimit     *float64
}

// Imaging reads and writes focus settings.
type Imaging interface {
	// FocusSettings returns nil, nil when the device exposes no focus control.
	FocusSettings(ctx context.Context) (*FocusSettings, error)
	SetFocusSettings(ctx context.Context, fs FocusSettings) error
}

// Device is a connected PTZ camera.
type Device interface {
	Camera
	PTZ
	Imaging
	Close() error
}
