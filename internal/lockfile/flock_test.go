//go:build unix

package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boiler.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	// flock locks are per open file description, so a second open in
	// the same process conflicts just like another process would.
	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire: got %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	defer again.Release()
}

func TestAcquireWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boiler.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid: got %q", got)
	}
}

func TestReleaseTwice(t *testing.T) {
	l, err := Acquire(filepath.Join(t.TempDir(), "boiler.lock"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestAcquireBadPath(t *testing.T) {
	if _, err := Acquire(filepath.Join(t.TempDir(), "missing", "dir", "x.lock")); err == nil {
		t.Fatal("expected error")
	}
}
