package script

import (
	"fmt"
	"strings"
	"time"
)

// Opt is an optional value: present with a value, or absent.
// The zero Opt is absent.
type Opt[T any] struct {
	v  T
	ok bool
}

// Some returns a present Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{v: v, ok: true}
}

// None returns an absent Opt.
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	return o.v, o.ok
}

// IsSet reports whether a value is present.
func (o Opt[T]) IsSet() bool {
	return o.ok
}

// Or returns the value, or def when absent.
func (o Opt[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
func (o Opt[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.v
	return &v
}

func (o Opt[T]) String() string {
	if !o.ok {
		return "-"
	}
	return fmt.Sprint(o.v)
}

// MoveKind selects the PTZ operation of a step.
type MoveKind int

const (
	MoveAbsolute MoveKind = iota + 1
	MoveRelative
	MoveContinuous
)

func (k MoveKind) String() string {
	switch k {
	case MoveAbsolute:
		return "absolute"
	case MoveRelative:
		return "relative"
	case MoveContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// ParseMoveKind parses "absolute", "relative" or "continuous" (any case).
func ParseMoveKind(s string) (MoveKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "absolute":
		return MoveAbsolute, nil
	case "relative":
		return MoveRelative, nil
	case "continuous":
		return MoveContinuous, nil
	default:
		return 0, fmt.Errorf("unknown ptz type %q (want absolute, relative or continuous)", s)
	}
}

// DefaultContinuousDuration is used when a continuous move has no duration_sec.
const DefaultContinuousDuration = 500 * time.Millisecond

// PtzCommand is one PTZ move. Kind tags which fields apply:
// Pan/Tilt/Zoom are a position (absolute), a delta (relative) or a
// velocity (continuous); speeds apply to absolute and relative;
// Duration applies to continuous only.
type PtzCommand struct {
	Kind      MoveKind
	Pan       Opt[float64]
	Tilt      Opt[float64]
	Zoom      Opt[float64]
	SpeedPan  Opt[float64]
	SpeedTilt Opt[float64]
	SpeedZoom Opt[float64]
	Duration  time.Duration
}

// HasAxes reports whether any of pan, tilt or zoom is set.
func (p *PtzCommand) HasAxes() bool {
	return p.Pan.IsSet() || p.Tilt.IsSet() || p.Zoom.IsSet()
}

// HasSpeed reports whether any speed component is set.
func (p *PtzCommand) HasSpeed() bool {
	return p.SpeedPan.IsSet() || p.SpeedTilt.IsSet() || p.SpeedZoom.IsSet()
}

// FocusMode is the imaging AutoFocusMode.
type FocusMode string

const (
	FocusAuto   FocusMode = "AUTO"
	FocusManual FocusMode = "MANUAL"
)

// FocusCommand is an imaging-settings focus update. Only set fields are applied.
type FocusCommand struct {
	Mode         Opt[FocusMode]
	DefaultSpeed Opt[float64]
	NearLimit    Opt[float64]
	FarLimit     Opt[float64]
}

// IsEmpty reports whether no field is set.
func (f *FocusCommand) IsEmpty() bool {
	return !f.Mode.IsSet() && !f.DefaultSpeed.IsSet() && !f.NearLimit.IsSet() && !f.FarLimit.IsSet()
}

// Step is one unit of a run: optional PTZ move, optional focus change,
// a delay, then a snapshot.
type Step struct {
	Label string        // sanitised, unique within the run; used in file names
	Delay time.Duration // wait before the snapshot
	PTZ   *PtzCommand   // nil = no move
	Focus *FocusCommand // nil = no focus change
}

// RunConfig is a parsed run file.
type RunConfig struct {
	Name   string // original name as written in the file
	Folder string // sanitised name, used as the output subfolder
	Steps  []Step
}

// EstimatedDuration returns the approximate wall time of one run:
// delays, plus continuous durations (or 1 s for other moves), plus 0.2 s
// of overhead per PTZ step.
func (rc *RunConfig) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, s := range rc.Steps {
		total += s.Delay
		if s.PTZ == nil {
			continue
		}
		if s.PTZ.Kind == MoveContinuous {
			total += s.PTZ.Duration
		} else {
			total += time.Second
		}
		total += 200 * time.Millisecond
	}
	return total
}

// Validate checks the invariants Parse guarantees, for configs built in code.
func (rc *RunConfig) Validate() error {
	if rc == nil {
		return fmt.Errorf("run config is nil")
	}
	if rc.Folder == "" || Sanitize(rc.Folder) != rc.Folder {
		return fmt.Errorf("folder %q is not a sanitised run name", rc.Folder)
	}
	if len(rc.Steps) == 0 {
		return fmt.Errorf("steps must not be empty")
	}
	seen := make(map[string]bool, len(rc.Steps))
	for i, s := range rc.Steps {
		if s.Label == "" || Sanitize(s.Label) != s.Label {
			return fmt.Errorf("step %d: label %q is not sanitised", i+1, s.Label)
		}
		if seen[s.Label] {
			return fmt.Errorf("step %d: duplicate label %q", i+1, s.Label)
		}
		seen[s.Label] = true
		if s.Delay < 0 {
			return fmt.Errorf("step %d: negative delay", i+1)
		}
		if s.PTZ != nil && (s.PTZ.Kind < MoveAbsolute || s.PTZ.Kind > MoveContinuous) {
			return fmt.Errorf("step %d: unknown ptz kind %d", i+1, s.PTZ.Kind)
		}
	}
	return nil
}
