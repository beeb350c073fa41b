package hive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/everbots/hive/chat"
	"github.com/everbots/hive/isolate"
	"github.com/everbots/hive/worker"
)

// EventRecorder receives orchestration events for the audit trail. A nil
// recorder is valid; events are then only logged.
type EventRecorder interface {
	Record(event, tenantID, detail string)
}

// Manager coordinates the tenant lifecycle: authentication, credential
// allocation, environment isolation, registration, and worker supervision.
// It is constructed once and shared; all methods are safe for concurrent
// use, with operations against the same tenant id strictly ordered.
type Manager struct {
	pool     *CredentialPool
	registry *Registry
	isolator *isolate.Isolator
	runner   worker.Runner
	sessions *SessionManager
	monitor  *ResourceMonitor

	workerCommand []string
	workerImage   string
	recorder      EventRecorder

	// onViolations is the quota enforcement policy. The default is nil:
	// detect and record, never remediate.
	onViolations func(tenantID string, violations []Violation)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithWorkerCommand sets the command used to launch tenant workers.
func WithWorkerCommand(cmd []string) ManagerOption {
	return func(m *Manager) {
		m.workerCommand = cmd
	}
}

// WithWorkerImage sets the container image for container-backed workers.
func WithWorkerImage(img string) ManagerOption {
	return func(m *Manager) {
		m.workerImage = img
	}
}

// WithRecorder wires an audit event recorder.
func WithRecorder(r EventRecorder) ManagerOption {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithQuotaPolicy installs a callback invoked with detected quota
// violations. The manager itself never acts on them.
func WithQuotaPolicy(fn func(tenantID string, violations []Violation)) ManagerOption {
	return func(m *Manager) {
		m.onViolations = fn
	}
}

// NewManager wires the orchestrator from its parts.
func NewManager(pool *CredentialPool, registry *Registry, isolator *isolate.Isolator, runner worker.Runner, dialer chat.Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		pool:          pool,
		registry:      registry,
		isolator:      isolator,
		runner:        runner,
		sessions:      NewSessionManager(dialer),
		monitor:       NewResourceMonitor(),
		workerCommand: []string{"python3", "main.py"},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sessions returns the authentication session manager.
func (m *Manager) Sessions() *SessionManager {
	return m.sessions
}

// Pool returns the credential pool.
func (m *Manager) Pool() *CredentialPool {
	return m.pool
}

// record logs and, when a recorder is wired, persists an audit event.
func (m *Manager) record(event, tenantID, detail string) {
	if m.recorder != nil {
		m.recorder.Record(event, tenantID, detail)
	}
}

// ---- Authentication turns -------------------------------------------------

// StartAuthentication begins the phone handshake for a prospective tenant.
// The credential is reserved by id only; allocation happens when the
// handshake completes. If the provider reports the phone as already
// authorized, provisioning runs immediately.
func (m *Manager) StartAuthentication(ctx context.Context, tenantID, phone string) (AuthResult, error) {
	if m.registry.Get(tenantID) != nil {
		return AuthResult{Status: AuthError, Message: "tenant already exists"},
			&TenantError{TenantID: tenantID, Op: "authenticate", Err: ErrDuplicateTenant}
	}

	cred := m.pool.GetAvailable()
	if cred == nil {
		slog.Warn("manager: no credential available", "tenant", tenantID)
		return AuthResult{Status: AuthError, Message: "no capacity available"},
			&TenantError{TenantID: tenantID, Op: "authenticate", Err: ErrResourceExhausted}
	}

	if _, err := m.isolator.CreateEnvironment(tenantID); err != nil {
		return AuthResult{Status: AuthError, Message: "environment setup failed"},
			&TenantError{TenantID: tenantID, Op: "authenticate", Err: err}
	}

	session, res, err := m.sessions.StartAuthentication(ctx, tenantID, phone, m.isolator.SessionPath(tenantID), cred)
	if err != nil {
		m.discardEnvironment(tenantID)
		return res, &TenantError{TenantID: tenantID, Op: "authenticate", Err: err}
	}

	m.record("auth_started", tenantID, phone)

	if session.Status == AuthAuthenticated {
		return m.provision(ctx, session, res)
	}
	return res, nil
}

// SubmitCode advances the handshake with a verification code. When the
// session reaches AUTHENTICATED this triggers, exactly once, the tenant
// provisioning sequence.
func (m *Manager) SubmitCode(ctx context.Context, tenantID, code string) (AuthResult, error) {
	session, res, err := m.sessions.SubmitCode(ctx, tenantID, code)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			m.discardEnvironment(tenantID)
		}
		return res, &TenantError{TenantID: tenantID, Op: "submit code", Err: err}
	}

	if session.Status == AuthAuthenticated {
		return m.provision(ctx, session, res)
	}
	return res, nil
}

// SubmitPassword advances the handshake with the two-factor password.
func (m *Manager) SubmitPassword(ctx context.Context, tenantID, password string) (AuthResult, error) {
	session, res, err := m.sessions.SubmitPassword(ctx, tenantID, password)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			m.discardEnvironment(tenantID)
		}
		return res, &TenantError{TenantID: tenantID, Op: "submit password", Err: err}
	}

	if session.Status == AuthAuthenticated {
		return m.provision(ctx, session, res)
	}
	return res, nil
}

// provision runs the post-authentication sequence: allocate the credential,
// write the tenant config, register the tenant, start the worker. The
// authenticated provider session is consumed regardless of the outcome; a
// provisioning failure never re-prompts the user for an accepted code.
func (m *Manager) provision(ctx context.Context, session *AuthSession, res AuthResult) (AuthResult, error) {
	// The worker reopens the on-disk session itself; the orchestrator's
	// handle is no longer needed.
	defer func() {
		if svc := session.Service(); svc != nil {
			svc.Disconnect()
		}
	}()

	if err := m.CreateTenant(ctx, session.TenantID, session.Phone, session.CredentialID); err != nil {
		m.record("provision_failed", session.TenantID, err.Error())
		m.discardEnvironment(session.TenantID)
		return AuthResult{Status: AuthError, Message: "provisioning failed"}, err
	}

	if err := m.Start(ctx, session.TenantID); err != nil {
		// The tenant exists and keeps its credential; an operator can
		// retry the start later.
		slog.Error("manager: worker start after auth failed", "tenant", session.TenantID, "error", err)
		return AuthResult{Success: true, Status: AuthAuthenticated, Message: "authenticated; worker start pending"}, nil
	}

	return res, nil
}

// discardEnvironment wipes the provisional environment left behind by a
// handshake that ended without producing a tenant. The directory already
// holds a provider session file, so the wipe is a secure overwrite. A
// registered tenant's environment is never touched.
func (m *Manager) discardEnvironment(tenantID string) {
	if m.registry.Get(tenantID) != nil {
		return
	}
	if err := m.isolator.DestroyEnvironment(tenantID, true); err != nil {
		slog.Warn("manager: discard environment failed", "tenant", tenantID, "error", err)
	}
}

// ---- Tenant lifecycle -----------------------------------------------------

// CreateTenant allocates a credential, materializes the tenant environment
// and configuration, and registers the tenant as INACTIVE. credentialID may
// be empty, in which case the least-used available credential is chosen.
func (m *Manager) CreateTenant(ctx context.Context, tenantID, phone, credentialID string) error {
	if m.registry.Get(tenantID) != nil {
		return &TenantError{TenantID: tenantID, Op: "create", Err: ErrDuplicateTenant}
	}

	var cred *Credential
	if credentialID != "" {
		cred = m.pool.Get(credentialID)
	}
	if cred == nil {
		cred = m.pool.GetAvailable()
	}
	if cred == nil {
		return &TenantError{TenantID: tenantID, Op: "create", Err: ErrResourceExhausted}
	}

	if err := m.pool.Allocate(cred); err != nil {
		return &TenantError{TenantID: tenantID, Op: "create", Err: err}
	}

	envPath, err := m.isolator.CreateEnvironment(tenantID)
	if err != nil {
		m.pool.Release(cred)
		return &TenantError{TenantID: tenantID, Op: "create", Err: err}
	}

	if _, err := m.isolator.WriteConfig(isolate.Config{
		TenantID: tenantID,
		Phone:    phone,
		APIID:    cred.APIID,
		APIHash:  cred.APIHash,
	}); err != nil {
		m.pool.Release(cred)
		return &TenantError{TenantID: tenantID, Op: "create", Err: err}
	}

	tenant := &Tenant{
		TenantID:     tenantID,
		Phone:        phone,
		CredentialID: cred.ID,
		Status:       StatusInactive,
		CreatedAt:    time.Now(),
		EnvPath:      envPath,
	}

	if err := m.registry.Add(tenant); err != nil {
		// A concurrent create won the race; its environment and credential
		// stand, ours is rolled back.
		m.pool.Release(cred)
		return &TenantError{TenantID: tenantID, Op: "create", Err: err}
	}

	m.record("tenant_created", tenantID, "credential "+cred.ID)
	slog.Info("manager: tenant created", "tenant", tenantID, "credential", cred.ID)
	return nil
}

// Start launches the tenant's worker. Starting an already-active tenant
// whose worker is alive is a no-op returning success.
func (m *Manager) Start(ctx context.Context, tenantID string) error {
	tenant := m.registry.Get(tenantID)
	if tenant == nil {
		return &TenantError{TenantID: tenantID, Op: "start", Err: ErrTenantNotFound}
	}

	tenant.ops.Lock()
	defer tenant.ops.Unlock()

	if tenant.Status == StatusActive && tenant.Proc != nil && m.runner.Alive(ctx, tenant.Proc) {
		return nil
	}

	limits := m.isolator.Limits()
	m.registry.Mutate(tenantID, func(t *Tenant) {
		t.Status = StatusStarting
	})

	handle, err := m.runner.Start(ctx, worker.Spec{
		TenantID: tenantID,
		Command:  m.workerCommand,
		Dir:      tenant.EnvPath,
		Image:    m.workerImage,
		Limits: worker.Limits{
			MemoryBytes: int64(limits.MaxMemoryMB) * 1024 * 1024,
			CPUPercent:  limits.MaxCPUPercent,
			OpenFiles:   limits.MaxOpenFiles,
			Connections: limits.MaxConns,
		},
	})
	if err != nil {
		m.registry.Mutate(tenantID, func(t *Tenant) {
			t.Status = StatusError
			t.Proc = nil
		})
		m.record("start_failed", tenantID, err.Error())
		slog.Error("manager: worker start failed", "tenant", tenantID, "error", err)
		return &TenantError{TenantID: tenantID, Op: "start", Err: fmt.Errorf("%w: %v", ErrSpawnFailed, err)}
	}

	if err := m.registry.Mutate(tenantID, func(t *Tenant) {
		t.Status = StatusActive
		t.Proc = handle
		t.LastActivity = time.Now()
	}); err != nil {
		slog.Error("manager: persist after start failed", "tenant", tenantID, "error", err)
	}

	m.record("tenant_started", tenantID, fmt.Sprintf("pid %d", handle.PID))
	slog.Info("manager: tenant started", "tenant", tenantID, "pid", handle.PID)
	return nil
}

// Stop terminates the tenant's worker. Stopping a tenant that is not active
// returns success; a worker that already exited is success too.
func (m *Manager) Stop(ctx context.Context, tenantID string) error {
	tenant := m.registry.Get(tenantID)
	if tenant == nil {
		return &TenantError{TenantID: tenantID, Op: "stop", Err: ErrTenantNotFound}
	}

	tenant.ops.Lock()
	defer tenant.ops.Unlock()
	return m.stopLocked(ctx, tenant)
}

// stopLocked is Stop without the per-tenant lock; callers hold tenant.ops.
func (m *Manager) stopLocked(ctx context.Context, tenant *Tenant) error {
	if tenant.Status != StatusActive && tenant.Status != StatusStarting {
		return nil
	}

	if tenant.Proc != nil {
		if err := m.runner.Stop(ctx, tenant.Proc); err != nil {
			slog.Error("manager: worker stop failed", "tenant", tenant.TenantID, "error", err)
			return &TenantError{TenantID: tenant.TenantID, Op: "stop", Err: err}
		}
		m.monitor.Forget(tenant.Proc.PID)
	}

	if err := m.registry.Mutate(tenant.TenantID, func(t *Tenant) {
		t.Status = StatusInactive
		t.Proc = nil
	}); err != nil {
		slog.Error("manager: persist after stop failed", "tenant", tenant.TenantID, "error", err)
	}

	m.record("tenant_stopped", tenant.TenantID, "")
	slog.Info("manager: tenant stopped", "tenant", tenant.TenantID)
	return nil
}

// Restart stops and then starts the tenant's worker.
func (m *Manager) Restart(ctx context.Context, tenantID string) error {
	if err := m.Stop(ctx, tenantID); err != nil {
		return err
	}
	return m.Start(ctx, tenantID)
}

// Delete tears the tenant down completely: stop the worker, release the
// credential, destroy the environment (secure overwrite), remove the
// registry entry — in that order, so a partial failure never leaves a
// released-looking tenant still holding a credential.
func (m *Manager) Delete(ctx context.Context, tenantID string) error {
	tenant := m.registry.Get(tenantID)
	if tenant == nil {
		return &TenantError{TenantID: tenantID, Op: "delete", Err: ErrTenantNotFound}
	}

	tenant.ops.Lock()
	defer tenant.ops.Unlock()

	handle := tenant.Proc
	if err := m.stopLocked(ctx, tenant); err != nil {
		return err
	}

	if tenant.CredentialID != "" {
		if cred := m.pool.Get(tenant.CredentialID); cred != nil {
			if err := m.pool.Release(cred); err != nil {
				// Hard-fail: never report a successful delete while the
				// credential is still allocated.
				return &TenantError{TenantID: tenantID, Op: "delete", Err: err}
			}
		} else {
			slog.Warn("manager: deleting tenant with unknown credential", "tenant", tenantID, "credential", tenant.CredentialID)
		}
		// The record must forget the credential the moment the unit is
		// freed: a retried delete after a later failure would otherwise
		// release a unit some other tenant holds.
		if err := m.registry.Mutate(tenantID, func(t *Tenant) {
			t.CredentialID = ""
		}); err != nil {
			slog.Error("manager: persist after release failed", "tenant", tenantID, "error", err)
		}
	}

	if remover, ok := m.runner.(worker.Remover); ok && handle != nil {
		if err := remover.Remove(ctx, handle); err != nil {
			slog.Warn("manager: worker cleanup failed", "tenant", tenantID, "error", err)
		}
	}

	if err := m.isolator.DestroyEnvironment(tenantID, true); err != nil {
		return &TenantError{TenantID: tenantID, Op: "delete", Err: err}
	}

	if err := m.registry.Remove(tenantID); err != nil {
		return &TenantError{TenantID: tenantID, Op: "delete", Err: err}
	}

	m.sessions.Drop(tenantID)
	m.record("tenant_deleted", tenantID, "")
	slog.Info("manager: tenant deleted", "tenant", tenantID)
	return nil
}

// ---- Queries --------------------------------------------------------------

// TenantStatusReport is the admin view of one tenant.
type TenantStatusReport struct {
	Exists       bool         `json:"exists"`
	Status       TenantStatus `json:"status,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
	LastActivity time.Time    `json:"last_activity,omitempty"`
	ProcessID    int          `json:"process_id,omitempty"`
}

// Status reports one tenant's state.
func (m *Manager) Status(tenantID string) TenantStatusReport {
	tenant := m.registry.Snapshot(tenantID)
	if tenant == nil {
		return TenantStatusReport{}
	}

	report := TenantStatusReport{
		Exists:       true,
		Status:       tenant.Status,
		Phone:        tenant.Phone,
		CreatedAt:    tenant.CreatedAt,
		LastActivity: tenant.LastActivity,
	}
	if tenant.Proc != nil {
		report.ProcessID = tenant.Proc.PID
	}
	return report
}

// SystemStatusReport is the host-wide view.
type SystemStatusReport struct {
	TotalTenants    int `json:"total_tenants"`
	ActiveTenants   int `json:"active_tenants"`
	CredentialCount int `json:"credential_count"`
	CredentialUsage int `json:"total_credential_usage"`
}

// SystemStatus reports host-wide counters.
func (m *Manager) SystemStatus() SystemStatusReport {
	total, active := m.registry.Count()
	count, usage := m.pool.TotalUsage()
	return SystemStatusReport{
		TotalTenants:    total,
		ActiveTenants:   active,
		CredentialCount: count,
		CredentialUsage: usage,
	}
}

// Tenants returns a point-in-time copy of every registered tenant.
func (m *Manager) Tenants() []*Tenant {
	return m.registry.Snapshots()
}

// ---- Monitoring -----------------------------------------------------------

// Sample reads the tenant worker's current resource usage.
func (m *Manager) Sample(tenantID string) (ResourceSnapshot, error) {
	tenant := m.registry.Snapshot(tenantID)
	if tenant == nil {
		return ResourceSnapshot{}, &TenantError{TenantID: tenantID, Op: "sample", Err: ErrTenantNotFound}
	}
	if tenant.Status != StatusActive || tenant.Proc == nil || tenant.Proc.PID == 0 {
		return ResourceSnapshot{}, &TenantError{TenantID: tenantID, Op: "sample", Err: ErrProcessGone}
	}
	return m.monitor.Sample(tenantID, tenant.Proc.PID)
}

// CheckQuotas samples the tenant and returns any violated constraints,
// invoking the configured quota policy. Detection only.
func (m *Manager) CheckQuotas(tenantID string) ([]Violation, error) {
	snap, err := m.Sample(tenantID)
	if err != nil {
		return nil, err
	}

	limits := m.isolator.Limits()
	violations := CheckQuotas(snap, Quotas{
		MaxMemoryBytes: int64(limits.MaxMemoryMB) * 1024 * 1024,
		MaxCPUPercent:  float64(limits.MaxCPUPercent),
		MaxOpenHandles: limits.MaxOpenFiles,
		MaxConnections: limits.MaxConns,
	})

	if len(violations) > 0 {
		for _, v := range violations {
			slog.Warn("manager: quota violation", "tenant", tenantID, "kind", v.Kind, "detail", v.Message)
		}
		m.record("quota_violation", tenantID, violations[0].Message)
		if m.onViolations != nil {
			m.onViolations(tenantID, violations)
		}
	}
	return violations, nil
}

// ---- Recovery and sweeping ------------------------------------------------

// Recover reconciles persisted state with reality after a host restart.
// Persisted process handles are unverified: each one is probed, and tenants
// whose worker cannot be confirmed are demoted to ERROR rather than assumed
// alive.
func (m *Manager) Recover(ctx context.Context) {
	for _, tenant := range m.registry.List() {
		tenant.ops.Lock()
		if tenant.Status == StatusActive || tenant.Status == StatusStarting {
			var err error
			if tenant.Proc != nil && m.runner.Alive(ctx, tenant.Proc) {
				err = m.registry.Mutate(tenant.TenantID, func(t *Tenant) {
					t.Status = StatusActive
				})
				slog.Info("manager: recovered running worker", "tenant", tenant.TenantID, "pid", tenant.Proc.PID)
			} else {
				err = m.registry.Mutate(tenant.TenantID, func(t *Tenant) {
					t.Status = StatusError
					t.Proc = nil
				})
				slog.Warn("manager: persisted worker unverifiable, demoting", "tenant", tenant.TenantID)
				m.record("recovery_demoted", tenant.TenantID, "")
			}
			if err != nil {
				slog.Error("manager: persist after recovery failed", "tenant", tenant.TenantID, "error", err)
			}
		}
		tenant.ops.Unlock()
	}
}

// Sweep runs one background maintenance pass: expired auth sessions are
// discarded together with their never-registered environments, and tenants
// whose worker died underneath them are demoted.
func (m *Manager) Sweep(ctx context.Context) {
	if expired := m.sessions.SweepExpired(time.Now()); len(expired) > 0 {
		slog.Info("manager: swept expired auth sessions", "count", len(expired))
		for _, tenantID := range expired {
			m.discardEnvironment(tenantID)
		}
	}

	for _, tenant := range m.registry.List() {
		tenant.ops.Lock()
		if tenant.Status == StatusActive && (tenant.Proc == nil || !m.runner.Alive(ctx, tenant.Proc)) {
			m.registry.Mutate(tenant.TenantID, func(t *Tenant) {
				t.Status = StatusError
				t.Proc = nil
			})
			slog.Warn("manager: worker died, demoting", "tenant", tenant.TenantID)
			m.record("worker_died", tenant.TenantID, "")
		}
		tenant.ops.Unlock()
	}
}

// IsDuplicate reports whether err is the duplicate-tenant failure.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateTenant)
}

// IsExhausted reports whether err is the pool-exhausted failure.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// IsRetryableAuth reports whether err is a wrong code or wrong password that
// the user may simply re-enter without restarting the handshake.
func IsRetryableAuth(err error) bool {
	return errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrInvalidPassword)
}
