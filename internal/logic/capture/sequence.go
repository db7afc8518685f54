package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PtzGo/internal/debug"
	"github.com/cjeanneret/PtzGo/internal/errs"
	"github.com/cjeanneret/PtzGo/internal/hw/camera"
	"github.com/cjeanneret/PtzGo/internal/hw/gpio"
	"github.com/cjeanneret/PtzGo/internal/logic/motion"
	"github.com/cjeanneret/PtzGo/internal/logic/script"
	"github.com/cjeanneret/PtzGo/internal/storage"
)

// Options configures a Runner.
type Options struct {
	HomeOnStart bool            // GotoHome before the first step
	IdleTimeout time.Duration   // max wait for the head to settle, 0 = motion default
	Indicator   *gpio.Indicator // held HIGH during a run, may be nil
	Sleep       motion.SleepFunc
	Now         func() time.Time
}

// Runner executes run configs step by step: PTZ move, focus update,
// delay, snapshot. Steps run strictly in order on one device.
type Runner struct {
	dev       camera.Device
	motion    *motion.Controller
	store     *storage.Store
	indicator *gpio.Indicator
	home      bool
	sleep     motion.SleepFunc
	now       func() time.Time
}

func NewRunner(dev camera.Device, store *storage.Store, opts Options) *Runner {
	if opts.Sleep == nil {
		opts.Sleep = motion.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	mopts := []motion.Option{motion.WithSleep(opts.Sleep), motion.WithClock(opts.Now)}
	if opts.IdleTimeout > 0 {
		mopts = append(mopts, motion.WithIdleTimeout(opts.IdleTimeout))
	}
	return &Runner{
		dev:       dev,
		motion:    motion.NewController(dev, mopts...),
		store:     store,
		indicator: opts.Indicator,
		home:      opts.HomeOnStart,
		sleep:     opts.Sleep,
		now:       opts.Now,
	}
}

// Report describes a finished (or aborted) run.
type Report struct {
	Name     string
	Dir      string
	Files    []string // written snapshots, in step order
	Started  time.Time
	Duration time.Duration
}

// Run executes every step of rc. On failure the remaining steps are
// skipped; snapshots already written stay on disk and are listed in the
// returned report.
func (r *Runner) Run(ctx context.Context, rc *script.RunConfig) (*Report, error) {
	if err := rc.Validate(); err != nil {
		return nil, errs.Config("run config", err)
	}
	if err := r.store.CheckFreeSpace(); err != nil {
		return nil, err
	}
	dir, err := r.store.EnsureRunDir(rc.Folder)
	if err != nil {
		return nil, err
	}

	rep := &Report{Name: rc.Name, Dir: dir, Started: r.now()}
	debug.Run(rc.Name, len(rc.Steps), dir)

	if err := r.indicator.On(); err != nil {
		debug.Warn("%v", err)
	}
	defer func() {
		if err := r.indicator.Off(); err != nil {
			debug.Warn("%v", err)
		}
		rep.Duration = r.now().Sub(rep.Started)
	}()

	if r.home {
		if err := r.motion.Home(ctx); err != nil {
			return rep, interrupted(ctx, err, "home position")
		}
	}

	for i, step := range rc.Steps {
		debug.StepStart(i+1, len(rc.Steps), step.Label)
		path, err := r.runStep(ctx, dir, step)
		if err != nil {
			return rep, interrupted(ctx, errs.AtStep(err, step.Label, i+1), fmt.Sprintf("step %q (#%d)", step.Label, i+1))
		}
		rep.Files = append(rep.Files, path)
		debug.Saved(step.Label, path)
	}

	debug.Info("Run %q complete: %d snapshots in %s", rc.Name, len(rep.Files), dir)
	return rep, nil
}

// interrupted reports cancellation as a context error rather than a
// device failure.
func interrupted(ctx context.Context, err error, where string) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("run interrupted at %s: %w", where, ctx.Err())
	}
	return err
}

func (r *Runner) runStep(ctx context.Context, dir string, step script.Step) (string, error) {
	// 1. PTZ move
	if err := r.motion.Apply(ctx, step.PTZ); err != nil {
		return "", err
	}

	// 2. Focus
	if step.Focus != nil {
		if err := r.applyFocus(ctx, step.Focus); err != nil {
			return "", err
		}
	}

	// 3. Delay
	if step.Delay > 0 {
		debug.Verbose("Waiting %v", step.Delay)
		if err := r.sleep(ctx, step.Delay); err != nil {
			return "", err
		}
	}

	// 4. Snapshot
	data, err := r.dev.Snapshot(ctx)
	if err != nil {
		return "", errs.Device("snapshot", err)
	}
	return r.store.Save(dir, step.Label, r.now(), data)
}

// applyFocus reads the current focus settings, overwrites the fields set
// in fc and writes them back.
func (r *Runner) applyFocus(ctx context.Context, fc *script.FocusCommand) error {
	if fc.IsEmpty() {
		return nil
	}
	fs, err := r.dev.FocusSettings(ctx)
	if err != nil {
		return errs.Device("get imaging settings", err)
	}
	if fs == nil {
		debug.Warn("Camera exposes no focus settings, skipping focus")
		return nil
	}
	if m, ok := fc.Mode.Get(); ok {
		fs.Mode = string(m)
	}
	if p := fc.DefaultSpeed.Ptr(); p != nil {
		fs.DefaultSpeed = p
	}
	if p := fc.NearLimit.Ptr(); p != nil {
		fs.NearLimit = p
	}
	if p := fc.FarLimit.Ptr(); p != nil {
		fs.FarLimit = p
	}
	debug.Live("Focus: mode=%s default_speed=%s near=%s far=%s", fs.Mode, fc.DefaultSpeed, fc.NearLimit, fc.FarLimit)
	if err := r.dev.SetFocusSettings(ctx, *fs); err != nil {
		return errs.Device("set imaging settings", err)
	}
	return nil
}
