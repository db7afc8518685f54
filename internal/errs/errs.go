package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a run failure.
type Kind int

const (
	KindConfig Kind = iota + 1 // malformed or missing run/app configuration
	KindDevice                 // camera unreachable, command rejected
	KindIO                     // save folder or snapshot file could not be written
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindDevice:
		return "device error"
	case KindIO:
		return "io error"
	default:
		return "error"
	}
}

// Error is the error type returned by the step runner and its parsers.
// Step is the label of the failing step and Index its 1-based position;
// both are empty/zero for failures outside a step.
type Error struct {
	Kind  Kind
	Op    string
	Step  string
	Index int
	Err   error
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Step != "" {
		prefix = fmt.Sprintf("%s: step %q (#%d)", prefix, e.Step, e.Index)
	}
	if e.Op != "" {
		prefix += ": " + e.Op
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config returns a ConfigError.
func Config(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// Configf returns a ConfigError with a formatted cause.
func Configf(op, format string, args ...interface{}) *Error {
	return Config(op, fmt.Errorf(format, args...))
}

// Device returns a DeviceError.
func Device(op string, err error) *Error {
	return &Error{Kind: KindDevice, Op: op, Err: err}
}

// IO returns an IOError.
func IO(op string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

// AtStep attaches the failing step to err. If err is not an *Error it is
// wrapped as a DeviceError, the only kind produced by raw device calls.
func AtStep(err error, label string, index int) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Step = label
		cp.Index = index
		return &cp
	}
	return &Error{Kind: KindDevice, Step: label, Index: index, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsConfig(err error) bool { return KindOf(err) == KindConfig }
func IsDevice(err error) bool { return KindOf(err) == KindDevice }
func IsIO(err error) bool     { return KindOf(err) == KindIO }
