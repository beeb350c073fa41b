package hive

import (
	"errors"
	"path/filepath"
	"testing"
)

func testCredential(id string, maxUsers int) *Credential {
	return &Credential{
		ID:       id,
		APIID:    12345,
		APIHash:  "0123456789abcdef0123456789abcdef",
		MaxUsers: maxUsers,
	}
}

func newTestPool(t *testing.T) *CredentialPool {
	t.Helper()
	pool, err := NewCredentialPool(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatalf("NewCredentialPool() error: %v", err)
	}
	return pool
}

func TestCredentialValidate(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		ok   bool
	}{
		{"valid", *testCredential("a", 1), true},
		{"zero api id", Credential{APIHash: "0123456789abcdef0123456789abcdef", MaxUsers: 1}, false},
		{"short hash", Credential{APIID: 1, APIHash: "abc", MaxUsers: 1}, false},
		{"placeholder hash", Credential{APIID: 1, APIHash: "your_api_hash_here_your_api_hash", MaxUsers: 1}, false},
		{"zero max users", Credential{APIID: 1, APIHash: "0123456789abcdef0123456789abcdef"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cred.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("Validate() = %v, want ErrInvalidCredential", err)
			}
		})
	}
}

func TestPoolAddDuplicate(t *testing.T) {
	pool := newTestPool(t)

	if err := pool.Add(testCredential("a", 1)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	err := pool.Add(testCredential("a", 1))
	if !errors.Is(err, ErrDuplicateCredential) {
		t.Errorf("Add() duplicate = %v, want ErrDuplicateCredential", err)
	}
}

func TestPoolAddGeneratesID(t *testing.T) {
	pool := newTestPool(t)

	cred := testCredential("", 1)
	if err := pool.Add(cred); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if cred.ID == "" {
		t.Error("Add() should assign an id when empty")
	}
}

func TestPoolAllocateAndRelease(t *testing.T) {
	pool := newTestPool(t)
	if err := pool.Add(testCredential("a", 2)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	cred := pool.GetAvailable()
	if cred == nil {
		t.Fatal("GetAvailable() = nil, want credential")
	}
	if err := pool.Allocate(cred); err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if cred.InUse != 1 {
		t.Errorf("InUse = %d, want 1", cred.InUse)
	}
	if cred.LastUsed.IsZero() {
		t.Error("Allocate() should set LastUsed")
	}

	if err := pool.Release(cred); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if cred.InUse != 0 {
		t.Errorf("InUse after release = %d, want 0", cred.InUse)
	}

	// Releasing at zero is a no-op, never negative.
	if err := pool.Release(cred); err != nil {
		t.Fatalf("Release() at zero error: %v", err)
	}
	if cred.InUse != 0 {
		t.Errorf("InUse after double release = %d, want 0", cred.InUse)
	}
}

func TestPoolExhaustion(t *testing.T) {
	pool := newTestPool(t)
	if err := pool.Add(testCredential("a", 1)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	cred := pool.GetAvailable()
	if err := pool.Allocate(cred); err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}

	if got := pool.GetAvailable(); got != nil {
		t.Errorf("GetAvailable() on saturated pool = %v, want nil", got)
	}
	err := pool.Allocate(cred)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("Allocate() on saturated credential = %v, want ErrResourceExhausted", err)
	}
}

func TestPoolLeastUsedSelection(t *testing.T) {
	pool := newTestPool(t)
	for _, id := range []string{"a", "b"} {
		if err := pool.Add(testCredential(id, 3)); err != nil {
			t.Fatalf("Add(%s) error: %v", id, err)
		}
	}

	// Saturating "a" partially should steer allocation to "b".
	a := pool.Get("a")
	pool.Allocate(a)
	pool.Allocate(a)

	got := pool.GetAvailable()
	if got == nil || got.ID != "b" {
		t.Fatalf("GetAvailable() = %v, want credential b", got)
	}

	// A tie resolves to pool order, so back to "a" after "b" catches up.
	pool.Allocate(got)
	pool.Allocate(pool.Get("b"))
	got = pool.GetAvailable()
	if got == nil || got.ID != "a" {
		t.Errorf("GetAvailable() after tie-break = %v, want credential a", got)
	}
}

func TestPoolRemoveInUse(t *testing.T) {
	pool := newTestPool(t)
	if err := pool.Add(testCredential("a", 1)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	pool.Allocate(pool.Get("a"))

	err := pool.Remove("a")
	if !errors.Is(err, ErrCredentialInUse) {
		t.Errorf("Remove() in-use = %v, want ErrCredentialInUse", err)
	}

	pool.Release(pool.Get("a"))
	if err := pool.Remove("a"); err != nil {
		t.Errorf("Remove() after release error: %v", err)
	}
	if err := pool.Remove("a"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Remove() missing = %v, want ErrCredentialNotFound", err)
	}
}

func TestPoolPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	pool, err := NewCredentialPool(path)
	if err != nil {
		t.Fatalf("NewCredentialPool() error: %v", err)
	}
	if err := pool.Add(testCredential("a", 2)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	pool.Allocate(pool.Get("a"))

	reloaded, err := NewCredentialPool(path)
	if err != nil {
		t.Fatalf("NewCredentialPool() reload error: %v", err)
	}
	cred := reloaded.Get("a")
	if cred == nil {
		t.Fatal("reloaded pool missing credential a")
	}
	if cred.InUse != 1 {
		t.Errorf("reloaded InUse = %d, want 1", cred.InUse)
	}
}

func TestPoolLoadSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	pool, err := NewCredentialPool(path)
	if err != nil {
		t.Fatalf("NewCredentialPool() error: %v", err)
	}
	if err := pool.Add(testCredential("good", 1)); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	// Corrupt one record on disk: a placeholder hash must not survive load.
	bad := testCredential("bad", 1)
	bad.APIHash = "your_api_hash_here_your_api_hash"
	pool.credentials = append(pool.credentials, bad)
	if err := pool.save(); err != nil {
		t.Fatalf("save() error: %v", err)
	}

	reloaded, err := NewCredentialPool(path)
	if err != nil {
		t.Fatalf("NewCredentialPool() reload error: %v", err)
	}
	if reloaded.Get("bad") != nil {
		t.Error("invalid credential survived reload")
	}
	if reloaded.Get("good") == nil {
		t.Error("valid credential dropped on reload")
	}
}

func TestPoolTotalUsage(t *testing.T) {
	pool := newTestPool(t)
	pool.Add(testCredential("a", 2))
	pool.Add(testCredential("b", 2))
	pool.Allocate(pool.Get("a"))
	pool.Allocate(pool.Get("b"))
	pool.Allocate(pool.Get("b"))

	count, usage := pool.TotalUsage()
	if count != 2 {
		t.Errorf("TotalUsage() count = %d, want 2", count)
	}
	if usage != 3 {
		t.Errorf("TotalUsage() usage = %d, want 3", usage)
	}
}
