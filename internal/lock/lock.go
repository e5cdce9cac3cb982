// Package lock implements per-stanza advisory locking and the stop-file
// override, spec.md §4.9. PID bookkeeping (write on acquire, inspect for
// cmd_stop) is grounded on the wait/signal loop shape of the teacher's
// cli/postgres/ctl_result.go. The actual exclusion syscall is
// golang.org/x/sys/unix.Flock, reached directly here rather than through
// a third os-only flock emulation — already an indirect dependency of
// the teacher's stack via viper, promoted to a direct import.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"pig/internal/xerr"
)

// Type names the two lock kinds a stanza can hold independently.
type Type string

const (
	Archive Type = "archive"
	Backup  Type = "backup"
	All     Type = "all"
)

// Guard is a held lock; releasing it truncates the file (per spec.md
// §4.9, release does not unlink, so PID inspection keeps working for
// cmd_stop) and closes the descriptor, which drops the OS flock.
type Guard struct {
	f     *os.File
	path  string
	extra *Guard // for Type=All, the second lock held alongside this one
}

// Manager opens/locates lock files under lockPath.
type Manager struct {
	LockPath string
}

func New(lockPath string) *Manager { return &Manager{LockPath: lockPath} }

func (m *Manager) pathFor(stanza string, t Type) string {
	return filepath.Join(m.LockPath, fmt.Sprintf("%s-%s.lock", stanza, t))
}

// Acquire opens (creating if needed) and non-blockingly flocks the lock
// file(s) for stanza/t. t=All acquires both archive and backup locks,
// releasing whichever it already holds if the second acquire fails.
func (m *Manager) Acquire(stanza string, t Type) (*Guard, error) {
	if t == All {
		archive, err := m.acquireOne(stanza, Archive)
		if err != nil {
			return nil, err
		}
		backup, err := m.acquireOne(stanza, Backup)
		if err != nil {
			archive.Release()
			return nil, err
		}
		backup.extra = archive
		return backup, nil
	}
	return m.acquireOne(stanza, t)
}

func (m *Manager) acquireOne(stanza string, t Type) (*Guard, error) {
	path := m.pathFor(stanza, t)
	if err := os.MkdirAll(m.LockPath, 0o750); err != nil {
		return nil, xerr.Wrap(xerr.PathCreate, err, "create lock directory %s", m.LockPath)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, xerr.Wrap(xerr.FileOpen, err, "open lock file %s", path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, xerr.New(xerr.LockAcquire, "unable to acquire lock on %s", path).
				WithHint("another process holds the lock; use --force or wait for it to finish")
		}
		return nil, xerr.Wrap(xerr.LockAcquire, err, "flock %s", path)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, xerr.Wrap(xerr.FileWrite, err, "truncate lock file %s", path)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, xerr.Wrap(xerr.FileWrite, err, "write pid to lock file %s", path)
	}
	return &Guard{f: f, path: path}, nil
}

// Release truncates the lock file and closes it, dropping the OS flock.
func (g *Guard) Release() error {
	if g == nil || g.f == nil {
		return nil
	}
	g.f.Truncate(0)
	err := g.f.Close()
	g.f = nil
	if g.extra != nil {
		if eerr := g.extra.Release(); eerr != nil && err == nil {
			err = eerr
		}
		g.extra = nil
	}
	if err != nil {
		return xerr.Wrap(xerr.FileWrite, err, "release lock %s", g.path)
	}
	return nil
}

// StopTest checks for the stop-file override (<stanza>.stop or
// all.stop); its presence aborts the current command with Stop.
func (m *Manager) StopTest(stanza string) error {
	candidates := []string{
		filepath.Join(m.LockPath, stanza+".stop"),
		filepath.Join(m.LockPath, "all.stop"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return xerr.New(xerr.Stop, "stop file exists for stanza %q: %s", stanza, c).
				WithHint("run cmd_start to remove the stop file")
		}
	}
	return nil
}

// Start removes the stop file for stanza (and all.stop, mirroring
// cmd_start's scope).
func (m *Manager) Start(stanza string) error {
	for _, name := range []string{stanza + ".stop", "all.stop"} {
		path := filepath.Join(m.LockPath, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return xerr.Wrap(xerr.FileWrite, err, "remove stop file %s", path)
		}
	}
	return nil
}

// Stop writes the stop file for stanza (or all stanzas if stanza is
// empty), and if force, signals any live holder of each lock file it can
// find a PID in.
func (m *Manager) Stop(stanza string, force bool) error {
	name := "all.stop"
	if stanza != "" {
		name = stanza + ".stop"
	}
	path := filepath.Join(m.LockPath, name)
	if err := os.MkdirAll(m.LockPath, 0o750); err != nil {
		return xerr.Wrap(xerr.PathCreate, err, "create lock directory %s", m.LockPath)
	}
	if err := os.WriteFile(path, nil, 0o640); err != nil {
		return xerr.Wrap(xerr.FileWrite, err, "create stop file %s", path)
	}
	if !force {
		return nil
	}
	entries, err := os.ReadDir(m.LockPath)
	if err != nil {
		return xerr.Wrap(xerr.FileOpen, err, "list lock directory %s", m.LockPath)
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		if stanza != "" && !strings.HasPrefix(e.Name(), stanza+"-") {
			continue
		}
		pidBytes, err := os.ReadFile(filepath.Join(m.LockPath, e.Name()))
		if err != nil || len(pidBytes) == 0 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
		if err != nil {
			continue
		}
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
	return nil
}
