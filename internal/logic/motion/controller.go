package motion

import (
	"context"
	"time"

	"github.com/cjeanneret/PtzGo/internal/debug"
	"github.com/cjeanneret/PtzGo/internal/errs"
	"github.com/cjeanneret/PtzGo/internal/hw/camera"
	"github.com/cjeanneret/PtzGo/internal/logic/script"
)

const (
	DefaultIdleTimeout  = 8 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Controller translates PTZ commands into device moves.
// It's an intermediate layer between the step runner and the camera.
type Controller struct {
	ptz          camera.PTZ
	idleTimeout  time.Duration
	pollInterval time.Duration
	sleep        SleepFunc
	now          func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithIdleTimeout bounds the wait for the PTZ unit to report IDLE.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

// WithPollInterval sets the status polling period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithSleep replaces the wait function (tests).
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(ptz camera.PTZ, opts ...Option) *Controller {
	c := &Controller{
		ptz:          ptz,
		idleTimeout:  DefaultIdleTimeout,
		pollInterval: DefaultPollInterval,
		sleep:        Sleep,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Apply performs one PTZ command and waits for the head to settle.
// Continuous moves run for cmd.Duration and are always followed by Stop,
// even when ctx is cancelled during the wait.
func (c *Controller) Apply(ctx context.Context, cmd *script.PtzCommand) error {
	if cmd == nil {
		return nil
	}
	if !cmd.HasAxes() {
		debug.Live("PTZ %s: no pan/tilt/zoom given, nothing to move", cmd.Kind)
		return nil
	}
	axes := Axes(cmd.Pan, cmd.Tilt, cmd.Zoom)
	debug.Move(cmd.Kind.String(), cmd.Pan, cmd.Tilt, cmd.Zoom)

	switch cmd.Kind {
	case script.MoveAbsolute:
		if err := c.ptz.AbsoluteMove(ctx, axes, speedOf(cmd)); err != nil {
			return errs.Device("absolute move", err)
		}
	case script.MoveRelative:
		if err := c.ptz.RelativeMove(ctx, axes, speedOf(cmd)); err != nil {
			return errs.Device("relative move", err)
		}
	case script.MoveContinuous:
		if err := c.continuous(ctx, axes, cmd.Duration); err != nil {
			return err
		}
	default:
		return errs.Configf("ptz", "unknown move kind %d", cmd.Kind)
	}
	return c.WaitIdle(ctx)
}

func (c *Controller) continuous(ctx context.Context, velocity camera.Vector, d time.Duration) error {
	if err := c.ptz.ContinuousMove(ctx, velocity); err != nil {
		return errs.Device("continuous move", err)
	}
	debug.Verbose("PTZ continuous: moving for %v", d)
	waitErr := c.sleep(ctx, d)

	if err := c.ptz.Stop(context.WithoutCancel(ctx)); err != nil {
		return errs.Device("stop", err)
	}
	debug.Verbose("PTZ continuous: stopped")
	return waitErr
}

// Home moves to the home position and waits for the head to settle.
func (c *Controller) Home(ctx context.Context) error {
	debug.Live("PTZ: going home")
	if err := c.ptz.GotoHome(ctx); err != nil {
		return errs.Device("go home", err)
	}
	return c.WaitIdle(ctx)
}

// WaitIdle polls the move status until both axes are IDLE or the idle
// timeout elapses. Timing out is not an error.
func (c *Controller) WaitIdle(ctx context.Context) error {
	deadline := c.now().Add(c.idleTimeout)
	for {
		st, err := c.ptz.Status(ctx)
		if err != nil {
			return errs.Device("ptz status", err)
		}
		if st.Idle() {
			return nil
		}
		if !c.now().Before(deadline) {
			debug.Warn("PTZ still moving after %v (pan/tilt=%s zoom=%s), continuing", c.idleTimeout, st.PanTilt, st.Zoom)
			return nil
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

// Axes builds a device vector from optional components. Pan/tilt are sent
// together: a missing one of the pair is sent as 0.
func Axes(pan, tilt, zoom script.Opt[float64]) camera.Vector {
	var v camera.Vector
	if pan.IsSet() || tilt.IsSet() {
		v.PanTilt = &camera.PanTilt{Pan: pan.Or(0), Tilt: tilt.Or(0)}
	}
	v.Zoom = zoom.Ptr()
	return v
}

func speedOf(cmd *script.PtzCommand) *camera.Vector {
	if !cmd.HasSpeed() {
		return nil
	}
	v := Axes(cmd.SpeedPan, cmd.SpeedTilt, cmd.SpeedZoom)
	return &v
}
