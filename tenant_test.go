package hive

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/everbots/hive/worker"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "tenants.json"))
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	return r
}

func TestRegistryAddDuplicate(t *testing.T) {
	r := newTestRegistry(t)

	first := &Tenant{TenantID: "alice", Phone: "+15551230001", Status: StatusInactive, CreatedAt: time.Now()}
	if err := r.Add(first); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	err := r.Add(&Tenant{TenantID: "alice", Phone: "+15551230002"})
	if !errors.Is(err, ErrDuplicateTenant) {
		t.Errorf("Add() duplicate = %v, want ErrDuplicateTenant", err)
	}

	// The first registration must be untouched.
	if got := r.Get("alice"); got.Phone != "+15551230001" {
		t.Errorf("Get() phone = %q, want original registration", got.Phone)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(&Tenant{TenantID: "alice"})

	if err := r.Remove("alice"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if r.Get("alice") != nil {
		t.Error("Get() after remove should be nil")
	}
	if err := r.Remove("alice"); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("Remove() missing = %v, want ErrTenantNotFound", err)
	}
}

func TestRegistryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.json")

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	r.Add(&Tenant{
		TenantID:     "alice",
		Phone:        "+15551230001",
		CredentialID: "cred-1",
		Status:       StatusActive,
		Proc:         &worker.Handle{TenantID: "alice", PID: 4242},
		CreatedAt:    time.Now(),
	})

	reloaded, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() reload error: %v", err)
	}
	got := reloaded.Get("alice")
	if got == nil {
		t.Fatal("reloaded registry missing tenant")
	}
	if got.CredentialID != "cred-1" {
		t.Errorf("CredentialID = %q, want cred-1", got.CredentialID)
	}
	if got.Proc == nil || got.Proc.PID != 4242 {
		t.Errorf("Proc = %+v, want persisted handle with pid 4242", got.Proc)
	}
	// The persisted status survives verbatim; verification is the
	// supervisor's job, not the registry's.
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, StatusActive)
	}
}

func TestRegistryListOrdered(t *testing.T) {
	r := newTestRegistry(t)
	for _, id := range []string{"carol", "alice", "bob"} {
		r.Add(&Tenant{TenantID: id})
	}

	list := r.List()
	want := []string{"alice", "bob", "carol"}
	if len(list) != len(want) {
		t.Fatalf("List() len = %d, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].TenantID != id {
			t.Errorf("List()[%d] = %q, want %q", i, list[i].TenantID, id)
		}
	}
}

func TestRegistryCount(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(&Tenant{TenantID: "a", Status: StatusActive})
	r.Add(&Tenant{TenantID: "b", Status: StatusInactive})
	r.Add(&Tenant{TenantID: "c", Status: StatusActive})

	total, active := r.Count()
	if total != 3 {
		t.Errorf("Count() total = %d, want 3", total)
	}
	if active != 2 {
		t.Errorf("Count() active = %d, want 2", active)
	}
}
