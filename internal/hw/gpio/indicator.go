package gpio

import (
	"fmt"

	"github.com/cjeanneret/PtzGo/internal/debug"
)

// Indicator is an output pin held HIGH while a run is in progress
// (status LED, relay, external recorder trigger).
// A nil *Indicator or pin 0 is a no-op.
type Indicator struct {
	drv Driver
	pin int
}

// NewIndicator configures pin as an output, initially LOW.
func NewIndicator(drv Driver, pin int) (*Indicator, error) {
	if drv == nil || pin == 0 {
		return nil, nil
	}
	if err := drv.SetupPin(pin, Output); err != nil {
		return nil, fmt.Errorf("indicator pin %d: %w", pin, err)
	}
	if err := drv.WritePin(pin, Low); err != nil {
		return nil, fmt.Errorf("indicator pin %d: %w", pin, err)
	}
	debug.Verbose("Indicator on GPIO %d", pin)
	return &Indicator{drv: drv, pin: pin}, nil
}

// On drives the pin HIGH.
func (i *Indicator) On() error {
	return i.set(High)
}

// Off drives the pin LOW.
func (i *Indicator) Off() error {
	return i.set(Low)
}

func (i *Indicator) set(level Level) error {
	if i == nil {
		return nil
	}
	if err := i.drv.WritePin(i.pin, level); err != nil {
		return fmt.Errorf("indicator pin %d: %w", i.pin, err)
	}
	return nil
}
