//go:build !unix

package lockfile

// Lock is a no-op on platforms without flock.
type Lock struct{}

// Acquire always succeeds on platforms without flock.
func Acquire(path string) (*Lock, error) {
	return &Lock{}, nil
}

// Release is a no-op.
func (l *Lock) Release() error { return nil }
