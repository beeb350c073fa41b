package hive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Credential is one shared third-party API credential set with a usage ceiling.
type Credential struct {
	// ID identifies this credential within the pool
	ID string `json:"id"`

	// APIID is the numeric application id issued by the provider
	APIID int `json:"api_id"`

	// APIHash is the secret application hash issued by the provider
	APIHash string `json:"api_hash"`

	// AppName is a human-readable label
	AppName string `json:"app_name"`

	// InUse is the number of tenants currently allocated to this credential
	InUse int `json:"in_use"`

	// MaxUsers is the usage ceiling
	MaxUsers int `json:"max_users"`

	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

// Validate checks the credential for obviously broken or placeholder values.
func (c *Credential) Validate() error {
	if c.APIID <= 0 {
		return fmt.Errorf("%w: api id must be positive", ErrInvalidCredential)
	}
	if len(c.APIHash) < 32 {
		return fmt.Errorf("%w: api hash too short", ErrInvalidCredential)
	}
	lower := strings.ToLower(c.APIHash)
	for _, pattern := range []string{"your_api", "example", "test", "fake", "demo"} {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("%w: api hash looks like a placeholder", ErrInvalidCredential)
		}
	}
	if c.MaxUsers <= 0 {
		return fmt.Errorf("%w: max users must be positive", ErrInvalidCredential)
	}
	return nil
}

// CredentialPool owns a bounded set of shared API credentials and their
// usage counters. Allocate and Release serialize on a single pool-wide
// mutex: eligibility depends on the whole pool, not one record.
type CredentialPool struct {
	path        string
	mu          sync.Mutex
	credentials []*Credential
}

// NewCredentialPool loads the pool from the JSON store at path.
// A missing file yields an empty pool.
func NewCredentialPool(path string) (*CredentialPool, error) {
	p := &CredentialPool{path: path}
	if err := p.load(); err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return p, nil
}

type credentialFile struct {
	Credentials []*Credential `json:"credentials"`
}

func (p *CredentialPool) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}

	for _, cred := range file.Credentials {
		if err := cred.Validate(); err != nil {
			slog.Warn("credential pool: skipping invalid credential", "id", cred.ID, "error", err)
			continue
		}
		if cred.InUse < 0 {
			cred.InUse = 0
		}
		if cred.InUse > cred.MaxUsers {
			cred.InUse = cred.MaxUsers
		}
		p.credentials = append(p.credentials, cred)
	}

	slog.Info("credential pool: loaded", "count", len(p.credentials))
	return nil
}

// save persists the pool. Caller must hold p.mu.
func (p *CredentialPool) save() error {
	data, err := json.MarshalIndent(credentialFile{Credentials: p.credentials}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o600)
}

// Add validates and appends a credential to the pool.
func (p *CredentialPool) Add(cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	for _, existing := range p.credentials {
		if existing.ID == cred.ID {
			return fmt.Errorf("credential %s: %w", cred.ID, ErrDuplicateCredential)
		}
	}

	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	p.credentials = append(p.credentials, cred)
	return p.save()
}

// Remove deletes a credential from the pool. Credentials with active users
// cannot be removed.
func (p *CredentialPool) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, cred := range p.credentials {
		if cred.ID != id {
			continue
		}
		if cred.InUse > 0 {
			return fmt.Errorf("credential %s: %w", id, ErrCredentialInUse)
		}
		p.credentials = append(p.credentials[:i], p.credentials[i+1:]...)
		return p.save()
	}
	return fmt.Errorf("credential %s: %w", id, ErrCredentialNotFound)
}

// GetAvailable returns the credential with the smallest in-use count among
// those below their ceiling, or nil if the pool is exhausted. Ties resolve
// to the earliest pool entry so allocation order is reproducible.
func (p *CredentialPool) GetAvailable() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Credential
	for _, cred := range p.credentials {
		if cred.InUse >= cred.MaxUsers {
			continue
		}
		if best == nil || cred.InUse < best.InUse {
			best = cred
		}
	}
	return best
}

// Allocate increments the credential's usage counter and persists the pool.
// It fails without mutating anything if the credential is saturated.
func (p *CredentialPool) Allocate(cred *Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cred.InUse >= cred.MaxUsers {
		return ErrResourceExhausted
	}

	cred.InUse++
	cred.LastUsed = time.Now()
	if err := p.save(); err != nil {
		cred.InUse--
		return fmt.Errorf("persist credential allocation: %w", err)
	}
	return nil
}

// Release decrements the credential's usage counter and persists the pool.
// Releasing a credential that is already at zero is a no-op.
func (p *CredentialPool) Release(cred *Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cred.InUse == 0 {
		return nil
	}

	cred.InUse--
	if err := p.save(); err != nil {
		cred.InUse++
		return fmt.Errorf("persist credential release: %w", err)
	}
	return nil
}

// Get returns the credential with the given id, or nil.
func (p *CredentialPool) Get(id string) *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cred := range p.credentials {
		if cred.ID == id {
			return cred
		}
	}
	return nil
}

// List returns a snapshot of the pool's credentials.
func (p *CredentialPool) List() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Credential, 0, len(p.credentials))
	for _, cred := range p.credentials {
		out = append(out, *cred)
	}
	return out
}

// TotalUsage returns the credential count and the summed in-use counters.
func (p *CredentialPool) TotalUsage() (count, usage int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cred := range p.credentials {
		usage += cred.InUse
	}
	return len(p.credentials), usage
}
