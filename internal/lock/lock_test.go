package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "migrate.lock")

	if err := Acquire(path); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	held, pid, err := IsHeld(path)
	if err != nil || !held || pid != os.Getpid() {
		t.Errorf("IsHeld = (%v, %d, %v), want (true, %d, nil)", held, pid, err, os.Getpid())
	}

	// Re-acquiring from the owning process succeeds.
	if err := Acquire(path); err != nil {
		t.Errorf("re-Acquire: %v", err)
	}

	if err := Release(path); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if held, _, _ := IsHeld(path); held {
		t.Error("lock still held after Release")
	}
	if err := Release(path); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestAcquire_HeldByOtherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.lock")
	// The parent of the test binary is alive for the duration of the test.
	ppid := os.Getppid()
	os.WriteFile(path, []byte(strconv.Itoa(ppid)), 0o644)

	err := Acquire(path)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("err = %v, want *HeldError", err)
	}
	if held.PID != ppid {
		t.Errorf("PID = %d, want %d", held.PID, ppid)
	}
}

func TestAcquire_StaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.lock")
	os.WriteFile(path, []byte("not-a-pid"), 0o644)

	if err := Acquire(path); err != nil {
		t.Fatalf("Acquire over garbage lock: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock contents = %q", data)
	}
}
