package deploy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testPIDPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "ns", "serve.pid")
}

func TestNewPIDFile(t *testing.T) {
	path := testPIDPath(t)
	if got := NewPIDFile(path).Path(); got != path {
		t.Fatalf("path = %q, want %q", got, path)
	}
}

func TestPIDFile_Claim_Read(t *testing.T) {
	pf := NewPIDFile(testPIDPath(t))

	if err := pf.Claim("127.0.0.1:7878", "work"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	proc, err := pf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if proc.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", proc.PID, os.Getpid())
	}
	if proc.Addr != "127.0.0.1:7878" || proc.Namespace != "work" {
		t.Errorf("proc = %+v", proc)
	}
	if proc.StartedAt.IsZero() {
		t.Error("StartedAt not recorded")
	}
}

func TestPIDFile_Read_NotExist(t *testing.T) {
	proc, err := NewPIDFile(testPIDPath(t)).Read()
	if err != nil {
		t.Fatalf("Read: unexpected error: %v", err)
	}
	if proc.PID != 0 {
		t.Fatalf("pid = %d, want 0 for missing file", proc.PID)
	}
}

func TestPIDFile_Read_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"not yaml":    "not-a-number",
		"missing pid": "addr: 127.0.0.1:1\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "serve.pid")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := NewPIDFile(path).Read(); err == nil {
				t.Fatal("Read: expected error for invalid content")
			}
		})
	}
}

func TestPIDFile_Remove(t *testing.T) {
	pf := NewPIDFile(testPIDPath(t))
	if err := pf.Write(Process{PID: os.Getpid()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(pf.Path()); !os.IsNotExist(err) {
		t.Fatal("PID file still exists after Remove")
	}

	// Removing twice is fine.
	if err := pf.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestPIDFile_Running(t *testing.T) {
	pf := NewPIDFile(testPIDPath(t))

	if proc, running := pf.Running(); running || proc.PID != 0 {
		t.Fatalf("Running without file = (%+v, %v)", proc, running)
	}

	if err := pf.Write(Process{PID: os.Getpid(), Addr: "127.0.0.1:9"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	proc, running := pf.Running()
	if !running || proc.PID != os.Getpid() || proc.Addr != "127.0.0.1:9" {
		t.Fatalf("Running = (%+v, %v)", proc, running)
	}
}

func TestPIDFile_Running_StalePID(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "serve.pid"))
	if err := pf.Write(Process{PID: 99999999}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, running := pf.Running(); running {
		t.Fatal("Running: expected false for stale PID")
	}
	if _, err := os.Stat(pf.Path()); !os.IsNotExist(err) {
		t.Fatal("stale PID file was not cleaned up")
	}
}

func TestPIDFile_Running_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.pid")
	if err := os.WriteFile(path, []byte("::::"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, running := NewPIDFile(path).Running(); running {
		t.Fatal("Running: expected false for corrupt file")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt PID file was not cleaned up")
	}
}

func TestPIDFile_Claim_Twice(t *testing.T) {
	pf := NewPIDFile(testPIDPath(t))

	if err := pf.Claim("127.0.0.1:7878", "default"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	err := pf.Claim("127.0.0.1:7879", "default")
	if err == nil {
		t.Fatal("Claim: expected error while the recorded process is alive")
	}
	if !strings.Contains(err.Error(), "already running") || !strings.Contains(err.Error(), "127.0.0.1:7878") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStop_NotRunning(t *testing.T) {
	if _, err := Stop(testPIDPath(t)); err == nil {
		t.Fatal("Stop: expected error without a running server")
	}
}

func TestProcessExists(t *testing.T) {
	if !processExists(os.Getpid()) {
		t.Fatal("processExists: expected true for current PID")
	}
	if processExists(99999999) {
		t.Fatal("processExists: expected false for PID 99999999")
	}
}
