// Package gpio drives the heating relay with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay is the on/off output wired to the boiler's call-for-heat input.
type Relay interface {
	// SetOutput drives the relay. A nil error means the line now holds
	// the requested logical state.
	SetOutput(on bool) error

	// Close drives the relay off and releases GPIO resources.
	Close() error
}

// Defaults for a Raspberry Pi relay HAT (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)
