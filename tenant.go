package hive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/everbots/hive/worker"
)

// TenantStatus is the lifecycle state of a tenant's worker.
type TenantStatus string

const (
	StatusInactive TenantStatus = "inactive"
	StatusStarting TenantStatus = "starting"
	StatusActive   TenantStatus = "active"
	StatusError    TenantStatus = "error"
)

// Tenant is one end user's isolated bot instance. The credential reference
// is weak: the pool owns the credential's lifetime, the tenant only records
// which one it was allocated.
type Tenant struct {
	TenantID     string         `json:"tenant_id"`
	Phone        string         `json:"phone"`
	CredentialID string         `json:"assigned_credential_id"`
	Status       TenantStatus   `json:"status"`
	Proc         *worker.Handle `json:"process,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity,omitempty"`
	EnvPath      string         `json:"env_path"`

	// ops serializes start/stop/delete against the same tenant id
	ops sync.Mutex
}

// Registry is the durable record of every tenant on this host. Operations on
// different tenants proceed concurrently; the per-tenant ops lock orders
// operations against the same id.
type Registry struct {
	path    string
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// NewRegistry loads the registry from the JSON store at path. Persisted
// process handles are NOT trusted yet: every recovered tenant that claims to
// be running keeps its handle but is left for the supervisor to verify.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		tenants: make(map[string]*Tenant),
	}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("load tenant registry: %w", err)
	}
	return r, nil
}

type registryFile struct {
	Tenants []*Tenant `json:"tenants"`
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}

	for _, t := range file.Tenants {
		r.tenants[t.TenantID] = t
	}

	slog.Info("registry: loaded", "tenants", len(r.tenants))
	return nil
}

// save persists the registry. Caller must hold r.mu for writing: the marshal
// reads every record, so it must exclude field mutations.
func (r *Registry) save() error {
	file := registryFile{Tenants: make([]*Tenant, 0, len(r.tenants))}
	for _, t := range r.tenants {
		file.Tenants = append(file.Tenants, t)
	}
	// Stable order keeps the on-disk document diffable.
	sort.Slice(file.Tenants, func(i, j int) bool {
		return file.Tenants[i].TenantID < file.Tenants[j].TenantID
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o600)
}

// Add registers a new tenant. Registering an id twice fails with
// ErrDuplicateTenant and leaves the first registration untouched.
func (r *Registry) Add(t *Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tenants[t.TenantID]; exists {
		return fmt.Errorf("tenant %s: %w", t.TenantID, ErrDuplicateTenant)
	}

	r.tenants[t.TenantID] = t
	return r.save()
}

// Get returns the tenant with the given id, or nil.
func (r *Registry) Get(tenantID string) *Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenants[tenantID]
}

// Remove deletes the tenant record. If the delete cannot be persisted the
// in-memory record is restored so a retry sees consistent state.
func (r *Registry) Remove(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tenants[tenantID]
	if !exists {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	delete(r.tenants, tenantID)
	if err := r.save(); err != nil {
		r.tenants[tenantID] = t
		return err
	}
	return nil
}

// Mutate applies fn to the named record and persists the registry, all under
// the write lock. Field writes must go through here: save marshals every
// record, so an unlocked write from another goroutine would race it.
func (r *Registry) Mutate(tenantID string, fn func(*Tenant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tenants[tenantID]
	if !exists {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	fn(t)
	return r.save()
}

// view copies the record's fields. The copy is built field by field because
// the record embeds its ops mutex.
func (t *Tenant) view() *Tenant {
	return &Tenant{
		TenantID:     t.TenantID,
		Phone:        t.Phone,
		CredentialID: t.CredentialID,
		Status:       t.Status,
		Proc:         t.Proc,
		CreatedAt:    t.CreatedAt,
		LastActivity: t.LastActivity,
		EnvPath:      t.EnvPath,
	}
}

// Snapshot returns a copy of the named record that is safe to read without
// holding any lock, or nil.
func (r *Registry) Snapshot(tenantID string) *Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tenants[tenantID]
	if !exists {
		return nil
	}
	return t.view()
}

// Snapshots returns copies of every record, ordered by id.
func (r *Registry) Snapshots() []*Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t.view())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TenantID < out[j].TenantID
	})
	return out
}

// List returns the live records, ordered by id. Callers that only read tenant
// state should use Snapshots; lifecycle code uses List to reach the per-id
// ops lock.
func (r *Registry) List() []*Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TenantID < out[j].TenantID
	})
	return out
}

// Count returns total and active tenant counts.
func (r *Registry) Count() (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tenants {
		if t.Status == StatusActive {
			active++
		}
	}
	return len(r.tenants), active
}
