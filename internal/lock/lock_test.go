package lock

import (
	"os"
	"path/filepath"
	"testing"

	"pig/internal/xerr"
)

func TestAcquireExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	guard, err := m.Acquire("mystanza", Backup)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer guard.Release()

	_, err = m.Acquire("mystanza", Backup)
	if err == nil {
		t.Fatal("expected second Acquire to fail while the first holds the lock")
	}
	xe, ok := err.(*xerr.Error)
	if !ok || xe.Kind != xerr.LockAcquire {
		t.Errorf("expected LockAcquire error, got %v", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	guard, err := m.Acquire("mystanza", Backup)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	guard2, err := m.Acquire("mystanza", Backup)
	if err != nil {
		t.Fatalf("re-Acquire after release: %v", err)
	}
	guard2.Release()
}

func TestAcquireAllLocksBothFiles(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	guard, err := m.Acquire("mystanza", All)
	if err != nil {
		t.Fatalf("Acquire(All): %v", err)
	}
	defer guard.Release()

	if _, err := m.Acquire("mystanza", Archive); err == nil {
		t.Error("expected archive lock to be held by All")
	}
	if _, err := m.Acquire("mystanza", Backup); err == nil {
		t.Error("expected backup lock to be held by All")
	}
}

func TestAcquireWritesPID(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	guard, err := m.Acquire("mystanza", Backup)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer guard.Release()

	data, err := os.ReadFile(filepath.Join(dir, "mystanza-backup.lock"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != itoa(os.Getpid()) {
		t.Errorf("lock file contains %q, want pid %d", data, os.Getpid())
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestStopFileBlocksCommand(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	if err := m.StopTest("mystanza"); err != nil {
		t.Fatalf("StopTest with no stop file: %v", err)
	}

	if err := m.Stop("mystanza", false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	err := m.StopTest("mystanza")
	if err == nil {
		t.Fatal("expected Stop error after stop file created")
	}
	xe, ok := err.(*xerr.Error)
	if !ok || xe.Kind != xerr.Stop {
		t.Errorf("expected xerr.Stop, got %v", err)
	}

	if err := m.Start("mystanza"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.StopTest("mystanza"); err != nil {
		t.Fatalf("StopTest after Start should pass: %v", err)
	}
}

func TestAllStopBlocksEveryStanza(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	if err := m.Stop("", false); err != nil {
		t.Fatalf("Stop(all): %v", err)
	}
	if err := m.StopTest("anystanza"); err == nil {
		t.Fatal("expected all.stop to block every stanza")
	}
}
