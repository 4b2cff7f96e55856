// Package deploy manages a long-running gateway process: its PID file and
// the user-level service definitions that keep it running.
package deploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// Process is what a running gateway records about itself.
type Process struct {
	PID       int       `yaml:"pid"`
	Addr      string    `yaml:"addr"`
	Namespace string    `yaml:"namespace"`
	StartedAt time.Time `yaml:"started_at"`
}

// PIDFile is the per-namespace record of the serving gateway.
type PIDFile struct {
	path string
}

// NewPIDFile manages the PID file at path (normally config.Paths.PIDFile).
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the full path to the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records proc, replacing any previous record.
func (p *PIDFile) Write(proc Process) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	data, err := yaml.Marshal(proc)
	if err != nil {
		return fmt.Errorf("encode pid file: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Read returns the recorded process. A missing file gives the zero Process.
func (p *PIDFile) Read() (Process, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Process{}, nil
	}
	if err != nil {
		return Process{}, fmt.Errorf("read pid file: %w", err)
	}

	var proc Process
	if err := yaml.Unmarshal(data, &proc); err != nil {
		return Process{}, fmt.Errorf("invalid pid file %s: %w", p.path, err)
	}
	if proc.PID <= 0 {
		return Process{}, fmt.Errorf("invalid pid file %s: pid %d", p.path, proc.PID)
	}
	return proc, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Running returns the recorded process when it is still alive. Stale or
// unreadable files are removed.
func (p *PIDFile) Running() (Process, bool) {
	proc, err := p.Read()
	if err != nil {
		p.Remove()
		return Process{}, false
	}
	if proc.PID == 0 {
		return Process{}, false
	}
	if !processExists(proc.PID) {
		p.Remove()
		return Process{}, false
	}
	return proc, true
}

// Claim records the current process as the gateway for namespace, bound to
// addr. It fails while another live process holds the file.
func (p *PIDFile) Claim(addr, namespace string) error {
	if proc, running := p.Running(); running {
		return fmt.Errorf("server already running for this namespace (pid=%d, addr=%s)", proc.PID, proc.Addr)
	}
	return p.Write(Process{
		PID:       os.Getpid(),
		Addr:      addr,
		Namespace: namespace,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	})
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes.
	return proc.Signal(syscall.Signal(0)) == nil
}

// Stop sends SIGTERM to the gateway recorded in the PID file at path.
func Stop(path string) (Process, error) {
	proc, running := NewPIDFile(path).Running()
	if !running {
		return Process{}, errors.New("server is not running")
	}

	target, err := os.FindProcess(proc.PID)
	if err != nil {
		return Process{}, fmt.Errorf("find process %d: %w", proc.PID, err)
	}
	if err := target.Signal(syscall.SIGTERM); err != nil {
		return Process{}, fmt.Errorf("send SIGTERM to %d: %w", proc.PID, err)
	}
	return proc, nil
}
