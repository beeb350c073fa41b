package hive

import (
	"errors"
	"fmt"
	"testing"
)

func TestTenantErrorFormat(t *testing.T) {
	err := &TenantError{TenantID: "alice", Op: "start", Err: ErrSpawnFailed}

	want := "tenant alice (start): worker spawn failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTenantErrorUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"direct", &TenantError{TenantID: "a", Op: "create", Err: ErrDuplicateTenant}, ErrDuplicateTenant},
		{"nested", &TenantError{TenantID: "a", Op: "start", Err: fmt.Errorf("%w: fork failed", ErrSpawnFailed)}, ErrSpawnFailed},
		{"exhausted", &TenantError{TenantID: "a", Op: "authenticate", Err: ErrResourceExhausted}, ErrResourceExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}

	var te *TenantError
	wrapped := fmt.Errorf("request failed: %w", &TenantError{TenantID: "a", Op: "stop", Err: ErrTenantNotFound})
	if !errors.As(wrapped, &te) {
		t.Fatal("errors.As should find the TenantError")
	}
	if te.TenantID != "a" || te.Op != "stop" {
		t.Errorf("TenantError = %+v", te)
	}
}

func TestErrorHelpers(t *testing.T) {
	if !IsDuplicate(&TenantError{Err: ErrDuplicateTenant}) {
		t.Error("IsDuplicate() = false for wrapped ErrDuplicateTenant")
	}
	if IsDuplicate(ErrTenantNotFound) {
		t.Error("IsDuplicate() = true for ErrTenantNotFound")
	}
	if !IsExhausted(&TenantError{Err: ErrResourceExhausted}) {
		t.Error("IsExhausted() = false for wrapped ErrResourceExhausted")
	}
	if !IsRetryableAuth(ErrInvalidCode) || !IsRetryableAuth(ErrInvalidPassword) {
		t.Error("IsRetryableAuth() should cover wrong code and wrong password")
	}
	if IsRetryableAuth(ErrSessionExpired) {
		t.Error("IsRetryableAuth() = true for ErrSessionExpired")
	}
}
