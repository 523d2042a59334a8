package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	ps "github.com/mitchellh/go-ps"
)

type mockProcess struct {
	pid        int
	executable string
}

func (m *mockProcess) Pid() int           { return m.pid }
func (m *mockProcess) PPid() int          { return 0 }
func (m *mockProcess) Executable() string { return m.executable }

func withProcesses(t *testing.T, procs map[int]string) {
	t.Helper()
	old := findProcessFunc
	t.Cleanup(func() { findProcessFunc = old })
	findProcessFunc = func(pid int) (ps.Process, error) {
		exe, ok := procs[pid]
		if !ok {
			return nil, nil
		}
		return &mockProcess{pid: pid, executable: exe}, nil
	}
}

func writeLock(t *testing.T, path string, pid int) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		t.Fatalf("failed to write lockfile: %v", err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "habitkeep.db.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != strconv.Itoa(os.Getpid())+"\n" {
		t.Errorf("lockfile content = %q", content)
	}

	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire in the same process = %v, want ErrLocked", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lockfile should be removed after Release")
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
}

func TestAcquireOwnerStates(t *testing.T) {
	const otherPID = 424242

	tests := []struct {
		name       string
		procs      map[int]string
		wantLocked bool
	}{
		{"live habitkeep owner", map[int]string{otherPID: "habitkeep"}, true},
		{"dead owner", map[int]string{}, false},
		{"pid reused by another program", map[int]string{otherPID: "bash"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withProcesses(t, tt.procs)
			path := filepath.Join(t.TempDir(), "db.lock")
			writeLock(t, path, otherPID)

			l, err := Acquire(path)
			if tt.wantLocked {
				if !errors.Is(err, ErrLocked) {
					t.Fatalf("Acquire() = %v, want ErrLocked", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Acquire() should replace a stale lock, got %v", err)
			}
			defer l.Release()
			if pid, live := Owner(path); !live || pid != os.Getpid() {
				t.Errorf("Owner() = %d, %v after takeover", pid, live)
			}
		})
	}
}

func TestAcquireMalformedLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("malformed lockfile should be treated as stale, got %v", err)
	}
	l.Release()
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	withProcesses(t, map[int]string{})
	path := filepath.Join(t.TempDir(), "db.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	// Another process took the lock over after ours went stale
	writeLock(t, path, 7)

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("Release must not remove a lockfile owned by someone else")
	}
}
