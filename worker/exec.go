package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// TenantIDEnv is set on every spawned worker so a persisted pid can later be
// verified as actually belonging to the tenant.
const TenantIDEnv = "HIVE_TENANT_ID"

// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// ExecRunner runs workers as plain OS processes.
type ExecRunner struct {
	// Grace is the SIGTERM-to-SIGKILL escalation window
	Grace time.Duration

	mu      sync.Mutex
	running map[string]*Handle // tenant id → live handle
}

// NewExecRunner creates an ExecRunner with the default grace period.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Grace:   DefaultGracePeriod,
		running: make(map[string]*Handle),
	}
}

// Start spawns the worker process in its own process group, with stdout and
// stderr appended to the tenant's log directory. Idempotent per tenant.
func (r *ExecRunner) Start(ctx context.Context, spec Spec) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.running[spec.TenantID]; ok && r.pidAlive(h) {
		return h, nil
	}

	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("worker %s: empty command", spec.TenantID)
	}

	logPath := filepath.Join(spec.Dir, "logs", "worker.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("worker %s: open log: %w", spec.TenantID, err)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(append([]string{}, spec.Env...), TenantIDEnv+"="+spec.TenantID)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("worker %s: start: %w", spec.TenantID, err)
	}
	logFile.Close()

	h := &Handle{
		TenantID:  spec.TenantID,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	r.running[spec.TenantID] = h

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		cmd.Wait()
		r.mu.Lock()
		if cur, ok := r.running[spec.TenantID]; ok && cur.PID == h.PID {
			delete(r.running, spec.TenantID)
		}
		r.mu.Unlock()
	}()

	slog.Info("worker: started", "tenant", spec.TenantID, "pid", h.PID)
	return h, nil
}

// Stop sends SIGTERM to the worker's process group and escalates to SIGKILL
// after the grace period. A process that is already gone is success.
func (r *ExecRunner) Stop(ctx context.Context, h *Handle) error {
	if h == nil || h.PID == 0 {
		return nil
	}

	if !r.Alive(ctx, h) {
		return nil
	}

	// Negative pid targets the whole process group.
	if err := syscall.Kill(-h.PID, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		// Fall back to the single process if the group is gone.
		if err := syscall.Kill(h.PID, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
			return fmt.Errorf("worker %s: signal: %w", h.TenantID, err)
		}
	}

	grace := r.Grace
	if grace == 0 {
		grace = DefaultGracePeriod
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !r.pidAlive(h) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	slog.Warn("worker: grace period elapsed, killing", "tenant", h.TenantID, "pid", h.PID)
	syscall.Kill(-h.PID, syscall.SIGKILL)
	syscall.Kill(h.PID, syscall.SIGKILL)
	return nil
}

// Alive reports whether the pid exists and still belongs to this tenant's
// worker. The tenant id marker in the process environment guards against
// pid recycling across host restarts.
func (r *ExecRunner) Alive(ctx context.Context, h *Handle) bool {
	if h == nil || h.PID == 0 {
		return false
	}
	if !r.pidAlive(h) {
		return false
	}

	environ, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", h.PID))
	if err != nil {
		// Unreadable environ (permissions, non-Linux): the pid exists but
		// cannot be verified as ours.
		return false
	}
	marker := TenantIDEnv + "=" + h.TenantID
	for _, kv := range strings.Split(string(environ), "\x00") {
		if kv == marker {
			return true
		}
	}
	return false
}

// pidAlive checks bare process existence with signal 0.
func (r *ExecRunner) pidAlive(h *Handle) bool {
	return syscall.Kill(h.PID, 0) == nil
}
