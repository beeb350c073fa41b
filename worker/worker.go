// Package worker abstracts how tenant worker instances run. The orchestrator
// only sees Runner; the same lifecycle logic drives OS processes and Docker
// containers.
package worker

import (
	"context"
	"time"
)

// Spec describes the worker to start for one tenant.
type Spec struct {
	// TenantID identifies the tenant this worker serves
	TenantID string

	// Command is the worker invocation (exec runner)
	Command []string

	// Dir is the tenant's isolated environment directory
	Dir string

	// Env is the worker's environment, including the rendered tenant config
	Env []string

	// Image is the container image (docker runner; ignored by exec)
	Image string

	// Limits are the tenant's resource ceilings
	Limits Limits
}

// Limits are static resource ceilings for a worker.
type Limits struct {
	MemoryBytes int64
	CPUPercent  int
	OpenFiles   int
	Connections int
}

// Handle identifies a running worker. Exactly one of PID or ContainerID is
// set depending on the runner.
type Handle struct {
	TenantID    string    `json:"tenant_id"`
	PID         int       `json:"pid,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Runner starts, stops, and probes tenant workers.
type Runner interface {
	// Start spawns a worker for the spec. Starting a tenant whose worker is
	// already running returns the existing handle.
	Start(ctx context.Context, spec Spec) (*Handle, error)

	// Stop terminates the worker gracefully, escalating to a forced kill
	// after a grace period. A worker that is already gone is success.
	Stop(ctx context.Context, h *Handle) error

	// Alive reports whether the handle still refers to this tenant's
	// worker. A recycled pid or a removed container is not alive.
	Alive(ctx context.Context, h *Handle) bool
}

// Remover is implemented by runners that hold external resources beyond the
// process itself (a container, say) that teardown should reclaim.
type Remover interface {
	Remove(ctx context.Context, h *Handle) error
}
