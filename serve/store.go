package serve

import "time"

// Store persists audit events and resource snapshots for historical queries.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// InsertEvent records a tenant lifecycle event.
	InsertEvent(e StoreEvent) error

	// InsertResourceSnapshot records a point-in-time resource sample.
	InsertResourceSnapshot(s ResourceRecord) error

	// ListEvents returns recent events, newest first.
	ListEvents(limit int) ([]StoreEvent, error)

	// ListTenantEvents returns recent events for one tenant, newest first.
	ListTenantEvents(tenantID string, limit int) ([]StoreEvent, error)

	// ListResourceHistory returns recent samples for a tenant, newest first.
	ListResourceHistory(tenantID string, limit int) ([]ResourceRecord, error)

	// LatestResourceSnapshots returns the newest sample per tenant.
	LatestResourceSnapshots() ([]ResourceRecord, error)

	// InsertViolation records a quota violation.
	InsertViolation(v ViolationRecord) error

	// ListViolations returns recent violations, newest first.
	ListViolations(limit int) ([]ViolationRecord, error)
}

// StoreEvent is a persisted tenant lifecycle event.
type StoreEvent struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// ResourceRecord is a persisted resource sample.
type ResourceRecord struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ProcessID   int       `json:"process_id"`
	MemoryBytes int64     `json:"memory_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	OpenHandles int       `json:"open_handles"`
	Connections int       `json:"connections"`
	SampledAt   time.Time `json:"sampled_at"`
}

// ViolationRecord is a persisted quota violation.
type ViolationRecord struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Kind      string    `json:"kind"`
	Value     float64   `json:"value"`
	Limit     float64   `json:"limit"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
