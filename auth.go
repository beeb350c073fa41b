package hive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/everbots/hive/chat"
)

// AuthStatus is the state of an authentication session.
type AuthStatus string

const (
	AuthPending          AuthStatus = "pending"
	AuthCodeSent         AuthStatus = "code_sent"
	AuthPasswordRequired AuthStatus = "password_required"
	AuthAuthenticated    AuthStatus = "authenticated"
	AuthError            AuthStatus = "error"
	AuthExpired          AuthStatus = "expired"
)

// SessionTTL is how long a tenant has to complete the code/password exchange.
const SessionTTL = 5 * time.Minute

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidatePhone checks E.164-style phone format.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// AuthSession tracks one tenant's progress through the phone/code/2FA
// handshake. It is transient: it exists from StartAuthentication until a
// terminal state or expiry, and is disjoint from the Tenant record created
// after it succeeds.
type AuthSession struct {
	TenantID     string
	Phone        string
	CredentialID string
	Status       AuthStatus
	Token        string

	challenge string
	svc       chat.Service

	// turn serializes verify calls against this session
	turn sync.Mutex

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session's deadline has passed. Sessions that
// never progressed past connecting (no deadline) do not expire.
func (s *AuthSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Service returns the provider connection carried by the session.
func (s *AuthSession) Service() chat.Service {
	return s.svc
}

// AuthResult is the structured outcome of an authentication turn.
type AuthResult struct {
	Success bool       `json:"success"`
	Status  AuthStatus `json:"status"`
	Message string     `json:"message"`
}

// SessionManager drives authentication sessions, at most one per tenant id.
// Sessions for different tenants are independent; a second start for the
// same tenant deterministically supersedes the one in flight.
type SessionManager struct {
	dialer chat.Dialer

	mu       sync.Mutex
	sessions map[string]*AuthSession
}

// NewSessionManager creates a SessionManager using the given provider dialer.
func NewSessionManager(dialer chat.Dialer) *SessionManager {
	return &SessionManager{
		dialer:   dialer,
		sessions: make(map[string]*AuthSession),
	}
}

// StartAuthentication begins the handshake for a tenant. If the provider
// reports the stored session as already signed in, the returned session is
// immediately AUTHENTICATED and carries the live connection. Otherwise a
// code is sent and the session waits in CODE_SENT with a 5-minute deadline.
//
// An in-flight session for the same tenant is superseded: its connection is
// closed and the new handshake replaces it.
func (m *SessionManager) StartAuthentication(ctx context.Context, tenantID, phone, sessionPath string, cred *Credential) (*AuthSession, AuthResult, error) {
	if err := ValidatePhone(phone); err != nil {
		return nil, AuthResult{Status: AuthError, Message: "invalid phone number format"}, err
	}

	m.mu.Lock()
	if prev, ok := m.sessions[tenantID]; ok {
		delete(m.sessions, tenantID)
		if prev.svc != nil {
			prev.svc.Disconnect()
		}
		slog.Info("auth: superseding in-flight session", "tenant", tenantID)
	}
	m.mu.Unlock()

	svc, err := m.dial(ctx, sessionPath, cred)
	if err != nil {
		slog.Error("auth: provider dial failed", "tenant", tenantID, "error", err)
		return nil, AuthResult{Status: AuthError, Message: "could not reach chat provider"}, err
	}

	session := &AuthSession{
		TenantID:     tenantID,
		Phone:        phone,
		CredentialID: cred.ID,
		Status:       AuthPending,
		Token:        uuid.New().String(),
		svc:          svc,
		CreatedAt:    time.Now(),
	}

	authorized, err := svc.IsAuthorized(ctx)
	if err != nil {
		svc.Disconnect()
		return nil, AuthResult{Status: AuthError, Message: "authorization check failed"}, err
	}
	if authorized {
		session.Status = AuthAuthenticated
		slog.Info("auth: already authorized", "tenant", tenantID)
		return session, AuthResult{Success: true, Status: AuthAuthenticated, Message: "already authenticated"}, nil
	}

	challenge, err := svc.SendCode(ctx, phone)
	if err != nil {
		svc.Disconnect()
		if errors.Is(err, chat.ErrPhoneInvalid) {
			return nil, AuthResult{Status: AuthError, Message: "invalid phone number format"}, ErrInvalidPhone
		}
		slog.Error("auth: send code failed", "tenant", tenantID, "error", err)
		return nil, AuthResult{Status: AuthError, Message: "could not send verification code"}, err
	}

	session.Status = AuthCodeSent
	session.challenge = challenge
	session.ExpiresAt = time.Now().Add(SessionTTL)

	m.mu.Lock()
	m.sessions[tenantID] = session
	m.mu.Unlock()

	slog.Info("auth: code sent", "tenant", tenantID, "phone", phone)
	return session, AuthResult{
		Success: true,
		Status:  AuthCodeSent,
		Message: fmt.Sprintf("verification code sent to %s", phone),
	}, nil
}

// SubmitCode verifies the login code for the tenant's in-flight session.
// A wrong code keeps the session in CODE_SENT with its original deadline;
// no new code is sent. On success the session is consumed: it leaves the
// manager and the caller owns the authenticated connection.
func (m *SessionManager) SubmitCode(ctx context.Context, tenantID, code string) (*AuthSession, AuthResult, error) {
	session, res, err := m.take(tenantID, AuthCodeSent)
	if err != nil {
		return nil, res, err
	}
	session.turn.Lock()
	defer session.turn.Unlock()

	err = session.svc.SignIn(ctx, session.Phone, code, session.challenge)
	switch {
	case err == nil:
		m.consume(session, AuthAuthenticated)
		slog.Info("auth: authenticated", "tenant", tenantID)
		return session, AuthResult{Success: true, Status: AuthAuthenticated, Message: "authentication successful"}, nil

	case errors.Is(err, chat.ErrPasswordNeeded):
		m.mu.Lock()
		session.Status = AuthPasswordRequired
		m.mu.Unlock()
		return session, AuthResult{Status: AuthPasswordRequired, Message: "two-factor password required"}, nil

	case errors.Is(err, chat.ErrCodeInvalid):
		return session, AuthResult{Status: AuthCodeSent, Message: "invalid verification code"}, ErrInvalidCode

	default:
		slog.Error("auth: sign in failed", "tenant", tenantID, "error", err)
		return session, AuthResult{Status: AuthError, Message: "verification failed"}, err
	}
}

// SubmitPassword verifies the two-factor password. Only reachable from
// PASSWORD_REQUIRED, which itself is only reachable from CODE_SENT.
func (m *SessionManager) SubmitPassword(ctx context.Context, tenantID, password string) (*AuthSession, AuthResult, error) {
	session, res, err := m.take(tenantID, AuthPasswordRequired)
	if err != nil {
		return nil, res, err
	}
	session.turn.Lock()
	defer session.turn.Unlock()

	err = session.svc.SignInWithPassword(ctx, password)
	switch {
	case err == nil:
		m.consume(session, AuthAuthenticated)
		slog.Info("auth: authenticated with 2fa", "tenant", tenantID)
		return session, AuthResult{Success: true, Status: AuthAuthenticated, Message: "two-factor authentication successful"}, nil

	case errors.Is(err, chat.ErrPasswordInvalid):
		return session, AuthResult{Status: AuthPasswordRequired, Message: "invalid two-factor password"}, ErrInvalidPassword

	default:
		slog.Error("auth: password sign in failed", "tenant", tenantID, "error", err)
		return session, AuthResult{Status: AuthError, Message: "password verification failed"}, err
	}
}

// Status reports the in-flight session state for a tenant.
func (m *SessionManager) Status(tenantID string) (AuthStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[tenantID]
	if !ok {
		return "", false
	}
	return session.Status, true
}

// Drop discards a tenant's in-flight session and closes its connection.
func (m *SessionManager) Drop(tenantID string) {
	m.mu.Lock()
	session, ok := m.sessions[tenantID]
	delete(m.sessions, tenantID)
	m.mu.Unlock()

	if ok && session.svc != nil {
		session.svc.Disconnect()
	}
}

// SweepExpired discards every session past its deadline, closing provider
// connections, and returns the swept tenant ids so the caller can reclaim
// whatever it staged for them. Expiry is otherwise checked lazily at the
// moment of use; this pass bounds memory growth for abandoned handshakes.
func (m *SessionManager) SweepExpired(now time.Time) []string {
	m.mu.Lock()
	var expired []*AuthSession
	for id, session := range m.sessions {
		if session.Expired(now) {
			expired = append(expired, session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, session := range expired {
		session.Status = AuthExpired
		if session.svc != nil {
			session.svc.Disconnect()
		}
		slog.Info("auth: session expired", "tenant", session.TenantID)
		ids = append(ids, session.TenantID)
	}
	return ids
}

// take fetches the tenant's session for a verify turn, enforcing lazy
// expiry and the expected state.
func (m *SessionManager) take(tenantID string, want AuthStatus) (*AuthSession, AuthResult, error) {
	m.mu.Lock()
	session, ok := m.sessions[tenantID]
	if !ok {
		m.mu.Unlock()
		return nil, AuthResult{Status: AuthError, Message: "no active authentication session"}, ErrNoSession
	}

	if session.Expired(time.Now()) {
		delete(m.sessions, tenantID)
		session.Status = AuthExpired
		m.mu.Unlock()
		if session.svc != nil {
			session.svc.Disconnect()
		}
		slog.Info("auth: session expired at use", "tenant", tenantID)
		return nil, AuthResult{Status: AuthExpired, Message: "authentication session expired"}, ErrSessionExpired
	}

	if session.Status != want {
		status := session.Status
		m.mu.Unlock()
		return nil, AuthResult{Status: status, Message: fmt.Sprintf("session is %s", status)}, ErrNoSession
	}
	m.mu.Unlock()

	return session, AuthResult{}, nil
}

// consume marks the session terminal and removes it from the manager. The
// authenticated provider connection now belongs to the caller; even if
// downstream provisioning fails, the handshake is spent and will not
// re-prompt the user.
func (m *SessionManager) consume(session *AuthSession, status AuthStatus) {
	m.mu.Lock()
	session.Status = status
	delete(m.sessions, session.TenantID)
	m.mu.Unlock()
}

// dial opens a provider connection with a bounded timeout, retrying only
// transient failures a bounded number of times.
func (m *SessionManager) dial(ctx context.Context, sessionPath string, cred *Credential) (chat.Service, error) {
	var lastErr error
	for attempt := 0; attempt <= chat.DialRetries; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, chat.DialTimeout)
		svc, err := m.dialer.Dial(dialCtx, sessionPath, cred.APIID, cred.APIHash)
		if err == nil {
			err = svc.Connect(dialCtx)
			if err == nil {
				cancel()
				return svc, nil
			}
			svc.Disconnect()
		}
		cancel()

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("dial chat provider: %w", lastErr)
}
