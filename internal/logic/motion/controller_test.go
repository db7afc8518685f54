package motion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/PtzGo/internal/errs"
	"github.com/cjeanneret/PtzGo/internal/hw/camera"
	"github.com/cjeanneret/PtzGo/internal/logic/script"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.t = c.t.Add(d)
	return nil
}

type ptzCall struct {
	op  string
	at  time.Time
	v   camera.Vector
	spd *camera.Vector
}

// recordingPTZ records calls with the fake clock time.
type recordingPTZ struct {
	clock    *fakeClock
	calls    []ptzCall
	busyFor  int // number of Status calls reporting MOVING
	fail     map[string]error
	stopCtxs []error
}

func (r *recordingPTZ) add(op string, v camera.Vector, spd *camera.Vector) error {
	r.calls = append(r.calls, ptzCall{op: op, at: r.clock.now(), v: v, spd: spd})
	return r.fail[op]
}

func (r *recordingPTZ) AbsoluteMove(ctx context.Context, p camera.Vector, s *camera.Vector) error {
	return r.add("absolute", p, s)
}

func (r *recordingPTZ) RelativeMove(ctx context.Context, d camera.Vector, s *camera.Vector) error {
	return r.add("relative", d, s)
}

func (r *recordingPTZ) ContinuousMove(ctx context.Context, v camera.Vector) error {
	return r.add("continuous", v, nil)
}

func (r *recordingPTZ) Stop(ctx context.Context) error {
	r.stopCtxs = append(r.stopCtxs, ctx.Err())
	return r.add("stop", camera.Vector{}, nil)
}

func (r *recordingPTZ) Status(ctx context.Context) (camera.MoveStatus, error) {
	if err := r.add("status", camera.Vector{}, nil); err != nil {
		return camera.MoveStatus{}, err
	}
	if r.busyFor > 0 {
		r.busyFor--
		return camera.MoveStatus{PanTilt: "MOVING", Zoom: "IDLE"}, nil
	}
	return camera.MoveStatus{PanTilt: "IDLE", Zoom: "IDLE"}, nil
}

func (r *recordingPTZ) GotoHome(ctx context.Context) error {
	return r.add("home", camera.Vector{}, nil)
}

func (r *recordingPTZ) ops() []string {
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.op
	}
	return out
}

func newTestController(opts ...Option) (*Controller, *recordingPTZ, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	p := &recordingPTZ{clock: clk, fail: map[string]error{}}
	opts = append([]Option{WithSleep(clk.sleep), WithClock(clk.now)}, opts...)
	return NewController(p, opts...), p, clk
}

func equalOps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApply_AbsoluteZeroIsSent(t *testing.T) {
	ctrl, p, _ := newTestController()
	cmd := &script.PtzCommand{
		Kind: script.MoveAbsolute,
		Pan:  script.Some(0.0), Tilt: script.Some(0.0), Zoom: script.Some(0.0),
	}
	if err := ctrl.Apply(context.Background(), cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !equalOps(p.ops(), []string{"absolute", "status"}) {
		t.Fatalf("ops = %v", p.ops())
	}
	v := p.calls[0].v
	if v.PanTilt == nil || v.PanTilt.Pan != 0 || v.PanTilt.Tilt != 0 || v.Zoom == nil || *v.Zoom != 0 {
		t.Errorf("position = %+v, want (0,0,0)", v)
	}
	if p.calls[0].spd != nil {
		t.Error("speed should be nil when no speed is given")
	}
}

func TestApply_RelativeZoomOnly(t *testing.T) {
	ctrl, p, _ := newTestController()
	cmd := &script.PtzCommand{Kind: script.MoveRelative, Zoom: script.Some(0.2), SpeedZoom: script.Some(0.5)}
	if err := ctrl.Apply(context.Background(), cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	c := p.calls[0]
	if c.op != "relative" || c.v.PanTilt != nil || c.v.Zoom == nil || *c.v.Zoom != 0.2 {
		t.Errorf("relative call = %+v", c)
	}
	if c.spd == nil || c.spd.PanTilt != nil || *c.spd.Zoom != 0.5 {
		t.Errorf("speed = %+v, want zoom 0.5 only", c.spd)
	}
}

func TestApply_PanWithoutTiltSendsZeroTilt(t *testing.T) {
	ctrl, p, _ := newTestController()
	cmd := &script.PtzCommand{Kind: script.MoveRelative, Pan: script.Some(-0.4)}
	if err := ctrl.Apply(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	v := p.calls[0].v
	if v.PanTilt == nil || v.PanTilt.Pan != -0.4 || v.PanTilt.Tilt != 0 || v.Zoom != nil {
		t.Errorf("translation = %+v", v)
	}
}

func TestApply_NoAxesNoMove(t *testing.T) {
	ctrl, p, _ := newTestController()
	if err := ctrl.Apply(context.Background(), &script.PtzCommand{Kind: script.MoveAbsolute}); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Apply(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(p.calls) != 0 {
		t.Errorf("calls = %v, want none", p.ops())
	}
}

func TestApply_ContinuousStopsAfterDuration(t *testing.T) {
	ctrl, p, _ := newTestController()
	cmd := &script.PtzCommand{Kind: script.MoveContinuous, Pan: script.Some(0.5), Duration: 1500 * time.Millisecond}
	if err := ctrl.Apply(context.Background(), cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !equalOps(p.ops(), []string{"continuous", "stop", "status"}) {
		t.Fatalf("ops = %v", p.ops())
	}
	if gap := p.calls[1].at.Sub(p.calls[0].at); gap != 1500*time.Millisecond {
		t.Errorf("stop issued %v after move, want 1.5s", gap)
	}
}

func TestApply_ContinuousStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clk := &fakeClock{t: time.Unix(0, 0)}
	p := &recordingPTZ{clock: clk, fail: map[string]error{}}
	ctrl := NewController(p, WithClock(clk.now), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	err := ctrl.Apply(ctx, &script.PtzCommand{Kind: script.MoveContinuous, Tilt: script.Some(0.1), Duration: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if !equalOps(p.ops(), []string{"continuous", "stop"}) {
		t.Fatalf("ops = %v, want continuous then stop", p.ops())
	}
	if p.stopCtxs[0] != nil {
		t.Error("stop must be sent with a live context")
	}
}

func TestApply_DeviceErrors(t *testing.T) {
	ctrl, p, _ := newTestController()
	p.fail["absolute"] = errors.New("refused")
	err := ctrl.Apply(context.Background(), &script.PtzCommand{Kind: script.MoveAbsolute, Zoom: script.Some(1.0)})
	if !errs.IsDevice(err) {
		t.Errorf("err = %v, want device error", err)
	}

	ctrl, p, _ = newTestController()
	p.fail["stop"] = errors.New("stop refused")
	err = ctrl.Apply(context.Background(), &script.PtzCommand{Kind: script.MoveContinuous, Zoom: script.Some(0.1)})
	if !errs.IsDevice(err) {
		t.Errorf("err = %v, want device error from stop", err)
	}
}

func TestWaitIdle_PollsUntilIdle(t *testing.T) {
	ctrl, p, clk := newTestController()
	p.busyFor = 3
	start := clk.now()
	if err := ctrl.WaitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(p.calls); n != 4 {
		t.Errorf("status calls = %d, want 4", n)
	}
	if waited := clk.now().Sub(start); waited != 3*DefaultPollInterval {
		t.Errorf("waited %v, want %v", waited, 3*DefaultPollInterval)
	}
}

func TestWaitIdle_CustomPollInterval(t *testing.T) {
	ctrl, p, clk := newTestController(WithPollInterval(250 * time.Millisecond))
	p.busyFor = 2
	start := clk.now()
	if err := ctrl.WaitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if waited := clk.now().Sub(start); waited != 500*time.Millisecond {
		t.Errorf("waited %v, want 500ms", waited)
	}
}

func TestWaitIdle_TimeoutIsNotAnError(t *testing.T) {
	ctrl, p, clk := newTestController(WithIdleTimeout(time.Second))
	p.busyFor = 1000
	start := clk.now()
	if err := ctrl.WaitIdle(context.Background()); err != nil {
		t.Fatalf("timeout should not be an error, got %v", err)
	}
	if waited := clk.now().Sub(start); waited != time.Second {
		t.Errorf("waited %v, want 1s", waited)
	}
}

func TestWaitIdle_StatusError(t *testing.T) {
	ctrl, p, _ := newTestController()
	p.fail["status"] = errors.New("offline")
	if err := ctrl.WaitIdle(context.Background()); !errs.IsDevice(err) {
		t.Errorf("err = %v, want device error", err)
	}
}

func TestHome(t *testing.T) {
	ctrl, p, _ := newTestController()
	if err := ctrl.Home(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !equalOps(p.ops(), []string{"home", "status"}) {
		t.Errorf("ops = %v", p.ops())
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on cancelled ctx = %v", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v", err)
	}
}
