//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "boiler-control"

// RealRelay drives a relay from an actual GPIO line.
type RealRelay struct {
	line *gpiocdev.Line
}

// NewRealRelay requests pin on chip as an output that starts off.
// With activeLow the relay is energized by driving the line low, which is
// how most opto-isolated relay boards are wired.
func NewRealRelay(chip string, pin int, activeLow bool) (*RealRelay, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsOutput(0),
	}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := gpiocdev.RequestLine(chip, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request relay pin %d on %s: %w", pin, chip, err)
	}
	return &RealRelay{line: line}, nil
}

// SetOutput sets the logical relay state (1 = energized).
func (r *RealRelay) SetOutput(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set relay pin: %w", err)
	}
	return nil
}

// Close drives the relay off, then returns the pin to an input with
// pull-down (the Pi boot default) before releasing it.
func (r *RealRelay) Close() error {
	if r.line == nil {
		return nil
	}

	var errs []error
	if err := r.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive relay off: %w", err))
	}
	if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close relay pin: %w", err))
	}
	return errors.Join(errs...)
}
