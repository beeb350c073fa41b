package hive

import (
	"errors"
	"fmt"
)

// Standard errors returned by the orchestration layer.
var (
	// ErrResourceExhausted means the credential pool has no capacity left.
	ErrResourceExhausted = errors.New("no api credential available")

	// ErrDuplicateTenant means a tenant with that id already exists.
	ErrDuplicateTenant = errors.New("tenant already exists")

	// ErrTenantNotFound means no tenant is registered under that id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrNoSession means no authentication session is in flight for the tenant.
	ErrNoSession = errors.New("no active authentication session")

	// ErrInvalidCode means the verification code was rejected by the provider.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrInvalidPassword means the two-factor password was rejected.
	ErrInvalidPassword = errors.New("invalid two-factor password")

	// ErrSessionExpired means the authentication session passed its deadline.
	ErrSessionExpired = errors.New("authentication session expired")

	// ErrInvalidPhone means the phone number failed validation.
	ErrInvalidPhone = errors.New("invalid phone number format")

	// ErrSpawnFailed means the worker process could not be started.
	ErrSpawnFailed = errors.New("worker spawn failed")

	// ErrCredentialInUse means a credential with active users cannot be removed.
	ErrCredentialInUse = errors.New("credential is in use")

	// ErrCredentialNotFound means no credential exists under that id.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrDuplicateCredential means a credential with that id already exists.
	ErrDuplicateCredential = errors.New("credential already exists")

	// ErrInvalidCredential means a credential failed format validation.
	ErrInvalidCredential = errors.New("invalid api credential")

	// ErrProcessGone means the recorded worker process id is stale.
	ErrProcessGone = errors.New("worker process not found")
)

// TenantError wraps an error with the tenant and operation it belongs to.
type TenantError struct {
	TenantID string
	Op       string
	Err      error
}

// Error returns the formatted error string.
func (e *TenantError) Error() string {
	return fmt.Sprintf("tenant %s (%s): %v", e.TenantID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TenantError) Unwrap() error {
	return e.Err
}
