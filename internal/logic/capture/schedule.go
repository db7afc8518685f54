package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/PtzGo/internal/debug"
	"github.com/cjeanneret/PtzGo/internal/errs"
	"github.com/cjeanneret/PtzGo/internal/logic/script"
)

// MinInterval is the shortest allowed interval between run starts.
const MinInterval = time.Second

// Schedule repeats a run at a fixed rate.
type Schedule struct {
	Interval time.Duration
	MaxRuns  int // 0 = until cancelled
}

// ValidateSchedule checks that s.Interval is at least MinInterval and no
// shorter than the estimated duration of one run.
func ValidateSchedule(rc *script.RunConfig, s Schedule) error {
	if s.Interval < MinInterval {
		return errs.Configf("interval", "must be >= %v, got %v", MinInterval, s.Interval)
	}
	if s.MaxRuns < 0 {
		return errs.Configf("interval", "max runs must be >= 0, got %d", s.MaxRuns)
	}
	if est := rc.EstimatedDuration(); s.Interval < est {
		return errs.Configf("interval", "%v is shorter than the estimated run time %v", s.Interval, est)
	}
	return nil
}

// RunEvery runs rc every s.Interval, measured from the start of the
// first run (next start = previous start + interval). A run that
// overruns its slot delays the next one instead of overlapping it.
// onReport, if non-nil, is called after each successful run.
// It returns the first run error, or ctx.Err() when cancelled.
func (r *Runner) RunEvery(ctx context.Context, rc *script.RunConfig, s Schedule, onReport func(n int, rep *Report)) error {
	if err := ValidateSchedule(rc, s); err != nil {
		return err
	}
	debug.Info("Interval mode: every %v (estimated run %v), max runs %s",
		s.Interval, rc.EstimatedDuration(), maxRunsString(s.MaxRuns))

	next := r.now()
	for n := 1; s.MaxRuns == 0 || n <= s.MaxRuns; n++ {
		debug.Live("Interval run %d", n)
		rep, err := r.Run(ctx, rc)
		if err != nil {
			return err
		}
		if onReport != nil {
			onReport(n, rep)
		}
		if s.MaxRuns > 0 && n == s.MaxRuns {
			break
		}

		next = next.Add(s.Interval)
		wait := next.Sub(r.now())
		if wait < 0 {
			debug.Warn("Run %d overran the interval by %v", n, -wait)
			next = r.now()
			wait = 0
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func maxRunsString(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
