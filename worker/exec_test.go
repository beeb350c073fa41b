package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSpec(t *testing.T, tenantID string, command ...string) Spec {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o700); err != nil {
		t.Fatal(err)
	}
	return Spec{
		TenantID: tenantID,
		Command:  command,
		Dir:      dir,
	}
}

func TestExecStartStop(t *testing.T) {
	r := NewExecRunner()
	r.Grace = 2 * time.Second
	ctx := context.Background()

	h, err := r.Start(ctx, testSpec(t, "alice", "sleep", "60"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if h.PID == 0 {
		t.Fatal("Start() returned zero pid")
	}
	if !r.Alive(ctx, h) {
		t.Error("Alive() = false for a running worker")
	}

	if err := r.Stop(ctx, h); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if r.Alive(ctx, h) {
		t.Error("Alive() = true after stop")
	}

	// Stopping an already-gone worker is success.
	if err := r.Stop(ctx, h); err != nil {
		t.Errorf("Stop() again = %v, want nil", err)
	}
}

func TestExecStartIdempotent(t *testing.T) {
	r := NewExecRunner()
	r.Grace = 2 * time.Second
	ctx := context.Background()

	spec := testSpec(t, "alice", "sleep", "60")
	h1, err := r.Start(ctx, spec)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer r.Stop(ctx, h1)

	h2, err := r.Start(ctx, spec)
	if err != nil {
		t.Fatalf("Start() again error: %v", err)
	}
	if h2.PID != h1.PID {
		t.Errorf("second Start() pid = %d, want running worker %d", h2.PID, h1.PID)
	}
}

func TestExecStartEmptyCommand(t *testing.T) {
	r := NewExecRunner()

	if _, err := r.Start(context.Background(), testSpec(t, "alice")); err == nil {
		t.Error("Start() with empty command should fail")
	}
}

func TestExecAliveChecksMarker(t *testing.T) {
	r := NewExecRunner()
	ctx := context.Background()

	h, err := r.Start(ctx, testSpec(t, "alice", "sleep", "60"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() {
		r.Grace = 2 * time.Second
		r.Stop(ctx, h)
	}()

	// The same pid claimed for a different tenant must not verify: this is
	// what protects against pid recycling after a host restart.
	impostor := &Handle{TenantID: "bob", PID: h.PID}
	if r.Alive(ctx, impostor) {
		t.Error("Alive() verified a pid against the wrong tenant")
	}
}

func TestExecAliveGone(t *testing.T) {
	r := NewExecRunner()
	ctx := context.Background()

	if r.Alive(ctx, nil) {
		t.Error("Alive(nil) = true")
	}
	if r.Alive(ctx, &Handle{TenantID: "alice"}) {
		t.Error("Alive() with zero pid = true")
	}
	if r.Alive(ctx, &Handle{TenantID: "alice", PID: 1 << 30}) {
		t.Error("Alive() with impossible pid = true")
	}
}

func TestExecStopNilHandle(t *testing.T) {
	r := NewExecRunner()
	if err := r.Stop(context.Background(), nil); err != nil {
		t.Errorf("Stop(nil) = %v, want nil", err)
	}
}

func TestExecWorkerLog(t *testing.T) {
	r := NewExecRunner()
	ctx := context.Background()

	spec := testSpec(t, "alice", "sh", "-c", "echo hello from worker")
	h, err := r.Start(ctx, spec)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// The command exits on its own; wait for the reaper.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && r.pidAlive(h) {
		time.Sleep(50 * time.Millisecond)
	}

	data, err := os.ReadFile(filepath.Join(spec.Dir, "logs", "worker.log"))
	if err != nil {
		t.Fatalf("read worker log: %v", err)
	}
	if len(data) == 0 {
		t.Error("worker log is empty")
	}
}
