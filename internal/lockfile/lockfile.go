// Package lockfile ensures only one controller drives the relay.
package lockfile

import "errors"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another instance is running")
