package serve

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	if err := store.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreEvents(t *testing.T) {
	store := newTestStore(t)

	events := []StoreEvent{
		{Type: "tenant_created", TenantID: "alice", Timestamp: time.Now(), Detail: "credential cred-1"},
		{Type: "tenant_started", TenantID: "alice", Timestamp: time.Now(), Detail: "pid 4242"},
		{Type: "tenant_created", TenantID: "bob", Timestamp: time.Now()},
	}
	for _, e := range events {
		if err := store.InsertEvent(e); err != nil {
			t.Fatalf("InsertEvent() error: %v", err)
		}
	}

	got, err := store.ListEvents(10)
	if err != nil {
		t.Fatalf("ListEvents() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListEvents() len = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].TenantID != "bob" {
		t.Errorf("ListEvents()[0].TenantID = %q, want bob", got[0].TenantID)
	}

	alice, err := store.ListTenantEvents("alice", 10)
	if err != nil {
		t.Fatalf("ListTenantEvents() error: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("ListTenantEvents(alice) len = %d, want 2", len(alice))
	}
	for _, e := range alice {
		if e.TenantID != "alice" {
			t.Errorf("ListTenantEvents(alice) returned event for %q", e.TenantID)
		}
	}

	limited, err := store.ListEvents(1)
	if err != nil {
		t.Fatalf("ListEvents(1) error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListEvents(1) len = %d, want 1", len(limited))
	}
}

func TestStoreResourceSnapshots(t *testing.T) {
	store := newTestStore(t)

	for i, mem := range []int64{100 << 20, 110 << 20, 120 << 20} {
		r := ResourceRecord{
			TenantID:    "alice",
			ProcessID:   4242,
			MemoryBytes: mem,
			CPUPercent:  float64(i),
			SampledAt:   time.Now(),
		}
		if err := store.InsertResourceSnapshot(r); err != nil {
			t.Fatalf("InsertResourceSnapshot() error: %v", err)
		}
	}
	if err := store.InsertResourceSnapshot(ResourceRecord{
		TenantID: "bob", ProcessID: 5151, MemoryBytes: 50 << 20, SampledAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertResourceSnapshot(bob) error: %v", err)
	}

	history, err := store.ListResourceHistory("alice", 2)
	if err != nil {
		t.Fatalf("ListResourceHistory() error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("ListResourceHistory() len = %d, want 2", len(history))
	}
	if history[0].MemoryBytes != 120<<20 {
		t.Errorf("newest MemoryBytes = %d, want %d", history[0].MemoryBytes, int64(120<<20))
	}

	latest, err := store.LatestResourceSnapshots()
	if err != nil {
		t.Fatalf("LatestResourceSnapshots() error: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("LatestResourceSnapshots() len = %d, want 2 (one per tenant)", len(latest))
	}
	byTenant := map[string]ResourceRecord{}
	for _, r := range latest {
		byTenant[r.TenantID] = r
	}
	if byTenant["alice"].MemoryBytes != 120<<20 {
		t.Errorf("alice latest MemoryBytes = %d, want newest sample", byTenant["alice"].MemoryBytes)
	}
}

func TestStoreViolations(t *testing.T) {
	store := newTestStore(t)

	v := ViolationRecord{
		TenantID:  "alice",
		Kind:      "memory",
		Value:     600 << 20,
		Limit:     512 << 20,
		Message:   "memory usage 600.0MB > 512.0MB",
		Timestamp: time.Now(),
	}
	if err := store.InsertViolation(v); err != nil {
		t.Fatalf("InsertViolation() error: %v", err)
	}

	got, err := store.ListViolations(10)
	if err != nil {
		t.Fatalf("ListViolations() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListViolations() len = %d, want 1", len(got))
	}
	if got[0].Kind != "memory" || got[0].TenantID != "alice" {
		t.Errorf("ListViolations()[0] = %+v", got[0])
	}
	if got[0].Limit != 512<<20 {
		t.Errorf("Limit = %f, want %d", got[0].Limit, int64(512<<20))
	}
}
