// Package chat defines the boundary to the external chat provider.
//
// The orchestrator never speaks the remote chat protocol itself. It drives
// authentication and worker sessions through the narrow Service interface,
// which a real MTProto-style client implements in production and fakes
// implement in tests.
package chat

import (
	"context"
	"errors"
	"time"
)

// Service is one connection to the chat provider on behalf of a tenant.
// Implementations must be safe for sequential use from a single goroutine;
// the orchestrator serializes calls per tenant.
type Service interface {
	// Connect establishes the provider connection.
	Connect(ctx context.Context) error

	// IsAuthorized reports whether the stored session is already signed in.
	IsAuthorized(ctx context.Context) (bool, error)

	// SendCode asks the provider to send a login code to the phone number.
	// The returned challenge token must be passed back to SignIn.
	SendCode(ctx context.Context, phone string) (challenge string, err error)

	// SignIn submits the verification code. Returns ErrPasswordNeeded when
	// the account has two-factor authentication enabled, ErrCodeInvalid
	// when the code is wrong.
	SignIn(ctx context.Context, phone, code, challenge string) error

	// SignInWithPassword submits the two-factor password.
	// Returns ErrPasswordInvalid when it is wrong.
	SignInWithPassword(ctx context.Context, password string) error

	// Disconnect closes the connection. The on-disk session survives.
	Disconnect() error
}

// Dialer creates provider connections bound to a tenant's session storage
// and an API credential.
type Dialer interface {
	// Dial opens a Service whose session state lives under sessionPath.
	Dial(ctx context.Context, sessionPath string, apiID int, apiHash string) (Service, error)
}

// CompletionService is the boundary to the language model backend used by
// tenant workers. The orchestrator only passes it through; prompt
// construction lives with the worker.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Provider errors. Authentication rejections are never retried; only
// transient dial failures are.
var (
	ErrPhoneInvalid    = errors.New("chat: invalid phone number")
	ErrCodeInvalid     = errors.New("chat: invalid verification code")
	ErrPasswordNeeded  = errors.New("chat: two-factor password required")
	ErrPasswordInvalid = errors.New("chat: invalid two-factor password")
)

// DialTimeout bounds a single provider connection attempt.
const DialTimeout = 15 * time.Second

// DialRetries is how many times a transient dial failure is retried.
const DialRetries = 2
