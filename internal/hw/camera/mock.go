package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/cjeanneret/PtzGo/internal/debug"
)

// Call is one recorded operation on a MockDevice.
type Call struct {
	Op     string
	Vector Vector
	Speed  *Vector
	Focus  *FocusSettings
}

// MockDevice is a Device that records calls and returns generated JPEGs.
// Used for development without a camera, and in tests.
type MockDevice struct {
	Width  int
	Height int

	mu    sync.Mutex
	calls []Call
	fail  map[string]error
	focus *FocusSettings
	shots int
}

// NewMock returns a mock camera with AUTO focus and 320x240 snapshots.
func NewMock() *MockDevice {
	return &MockDevice{
		Width:  320,
		Height: 240,
		fail:   map[string]error{},
		focus:  &FocusSettings{Mode: "AUTO"},
	}
}

// FailOn makes every later call of op return err.
func (m *MockDevice) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

// SetFocus replaces the focus settings; nil means no focus control.
func (m *MockDevice) SetFocus(fs *FocusSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focus = fs
}

// Calls returns a copy of the recorded calls.
func (m *MockDevice) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns the recorded calls of one operation.
func (m *MockDevice) CallsOf(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockDevice) record(c Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	debug.Trace("Camera (mock): %s", c.Op)
	return m.fail[c.Op]
}

func (m *MockDevice) Snapshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.record(Call{Op: "Snapshot"}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.shots++
	n := m.shots
	m.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	shade := uint8(n * 40)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *MockDevice) AbsoluteMove(ctx context.Context, position Vector, speed *Vector) error {
	return m.record(Call{Op: "AbsoluteMove", Vector: position, Speed: speed})
}

func (m *MockDevice) RelativeMove(ctx context.Context, delta Vector, speed *Vector) error {
	return m.record(Call{Op: "RelativeMove", Vector: delta, Speed: speed})
}

func (m *MockDevice) ContinuousMove(ctx context.Context, velocity Vector) error {
	return m.record(Call{Op: "ContinuousMove", Vector: velocity})
}

func (m *MockDevice) Stop(ctx context.Context) error {
	return m.record(Call{Op: "Stop"})
}

// Status always reports both axes idle.
func (m *MockDevice) Status(ctx context.Context) (MoveStatus, error) {
	if err := m.record(Call{Op: "Status"}); err != nil {
		return MoveStatus{}, err
	}
	return MoveStatus{PanTilt: "IDLE", Zoom: "IDLE"}, nil
}

func (m *MockDevice) GotoHome(ctx context.Context) error {
	return m.record(Call{Op: "GotoHome"})
}

func (m *MockDevice) FocusSettings(ctx context.Context) (*FocusSettings, error) {
	if err := m.record(Call{Op: "FocusSettings"}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focus == nil {
		return nil, nil
	}
	cp := *m.focus
	return &cp, nil
}

func (m *MockDevice) SetFocusSettings(ctx context.Context, fs FocusSettings) error {
	cp := fs
	if err := m.record(Call{Op: "SetFocusSettings", Focus: &cp}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focus = &cp
	return nil
}

func (m *MockDevice) Close() error {
	return nil
}
