// Package lockfile keeps two Baruc processes from sharing one state
// directory. Two instances on the same WhatsApp session would both answer
// every group message.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "baruc.lock"

// Lock is an exclusive flock held on the state directory's lock file.
type Lock struct {
	path string
	file *os.File
}

// HeldError reports that another process holds the lock.
type HeldError struct {
	Path  string
	Owner Owner
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("another Baruc instance is already running (lock: %s", e.Path)
	if e.Owner.PID > 0 {
		msg += fmt.Sprintf(", pid %d", e.Owner.PID)
		if !e.Owner.Alive {
			msg += ", not responding"
		}
	}
	if !e.Owner.Started.IsZero() {
		msg += ", started " + e.Owner.Started.Format(time.RFC3339)
	}
	return msg + ")"
}

// ErrHeld is matched by every *HeldError.
var ErrHeld = errors.New("lock held by another instance")

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// Owner is what the holding process wrote into the lock file.
type Owner struct {
	PID     int
	Host    string
	Started time.Time
	Alive   bool
}

// Acquire creates stateDir if needed and takes the lock without blocking.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// No O_TRUNC: the holder's info must survive until we own the lock.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, &HeldError{Path: path, Owner: readOwner(path)}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if err := writeOwner(f); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write lock info: %w", err)
	}
	slog.Debug("Lock.Acquire: lock acquired", "path", path, "pid", os.Getpid())
	return &Lock{path: path, file: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the flock so a waiting process never
	// observes a half-released file.
	rmErr := os.Remove(l.path)
	if rmErr != nil && !os.IsNotExist(rmErr) {
		slog.Warn("Lock.Release: failed to remove lock file", "path", l.path, "error", rmErr)
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	slog.Debug("Lock.Release: lock released", "path", l.path)
	return err
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	host, _ := os.Hostname()
	info := fmt.Sprintf("pid=%d\nhost=%s\nstarted=%s\n", os.Getpid(), host, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	return f.Sync()
}

func readOwner(path string) Owner {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}
	}
	o := parseOwner(string(data))
	if o.PID > 0 {
		o.Alive = processAlive(o.PID)
	}
	return o
}

func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil && pid > 0 {
				o.PID = pid
			}
		case "host":
			o.Host = val
		case "started":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				o.Started = t
			}
		}
	}
	return o
}

// processAlive sends signal 0, which only checks that the pid exists.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
