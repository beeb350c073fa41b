// Package isolate manages per-tenant filesystem namespaces. Each tenant gets
// a private directory subtree holding its provider session, logs, data, and
// rendered configuration, with owner-only permissions throughout.
package isolate

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Subdirectories created inside every tenant environment.
var subdirs = []string{"sessions", "logs", "data", "temp"}

// ResourceLimits are the static ceilings written into the security manifest.
type ResourceLimits struct {
	MaxMemoryMB   int `json:"max_memory_mb"`
	MaxCPUPercent int `json:"max_cpu_percent"`
	MaxDiskMB     int `json:"max_disk_mb"`
	MaxOpenFiles  int `json:"max_open_files"`
	MaxConns      int `json:"max_connections"`
}

// DefaultLimits are applied when an isolator is built without explicit limits.
var DefaultLimits = ResourceLimits{
	MaxMemoryMB:   512,
	MaxCPUPercent: 25,
	MaxDiskMB:     1024,
	MaxOpenFiles:  100,
	MaxConns:      50,
}

// Manifest is the security manifest persisted inside every environment.
type Manifest struct {
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	Permissions struct {
		NetworkAccess    bool   `json:"network_access"`
		FileSystemAccess string `json:"file_system_access"`
		ProcessIsolation bool   `json:"process_isolation"`
	} `json:"permissions"`
	ResourceLimits ResourceLimits `json:"resource_limits"`
}

// Config is the tenant-scoped configuration rendered into the environment.
type Config struct {
	TenantID string
	Phone    string
	APIID    int
	APIHash  string

	// CompletionKey is the language model API key handed to the worker
	CompletionKey string
}

// Isolator creates and destroys tenant environments under a base directory.
type Isolator struct {
	base   string
	limits ResourceLimits
}

// Option configures an Isolator.
type Option func(*Isolator)

// WithLimits overrides the default resource limits written to manifests.
func WithLimits(l ResourceLimits) Option {
	return func(i *Isolator) {
		i.limits = l
	}
}

// New creates an Isolator rooted at base, creating base if needed.
func New(base string, opts ...Option) (*Isolator, error) {
	i := &Isolator{base: base, limits: DefaultLimits}
	for _, opt := range opts {
		opt(i)
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("isolator base: %w", err)
	}
	return i, nil
}

// Limits returns the resource limits this isolator stamps into manifests.
func (i *Isolator) Limits() ResourceLimits {
	return i.limits
}

// Path returns the environment directory for a tenant.
func (i *Isolator) Path(tenantID string) string {
	return filepath.Join(i.base, tenantID)
}

// SessionPath returns where the tenant's provider session lives.
func (i *Isolator) SessionPath(tenantID string) string {
	return filepath.Join(i.Path(tenantID), "sessions")
}

// CreateEnvironment materializes the tenant's directory subtree with
// owner-only permissions and writes the security manifest. Idempotent.
func (i *Isolator) CreateEnvironment(tenantID string) (string, error) {
	root := i.Path(tenantID)

	for _, dir := range append([]string{""}, subdirs...) {
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return "", fmt.Errorf("create environment %s: %w", tenantID, err)
		}
		// MkdirAll leaves existing directories' modes alone.
		if err := os.Chmod(path, 0o700); err != nil {
			return "", fmt.Errorf("create environment %s: %w", tenantID, err)
		}
	}

	manifest := Manifest{
		TenantID:       tenantID,
		CreatedAt:      time.Now(),
		ResourceLimits: i.limits,
	}
	manifest.Permissions.NetworkAccess = true
	manifest.Permissions.FileSystemAccess = "restricted"
	manifest.Permissions.ProcessIsolation = true

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	manifestPath := filepath.Join(root, "security_manifest.json")
	if err := os.WriteFile(manifestPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write manifest %s: %w", tenantID, err)
	}

	slog.Info("isolator: environment created", "tenant", tenantID, "path", root)
	return root, nil
}

// WriteConfig renders the tenant's configuration file into its environment.
// The referenced credential is whatever the caller allocated for this
// tenant, never shared config state.
func (i *Isolator) WriteConfig(cfg Config) (string, error) {
	root, err := i.CreateEnvironment(cfg.TenantID)
	if err != nil {
		return "", err
	}

	completionKey := cfg.CompletionKey
	if completionKey == "" {
		completionKey = "SERVICE_PROVIDED"
	}

	content := fmt.Sprintf(`# Worker configuration for tenant %s
# Generated by the hive host; do not edit.

TELEGRAM_API_ID=%d
TELEGRAM_API_HASH=%s
TELEGRAM_PHONE=%s

OPENAI_API_KEY=%s

SESSION_PATH=%s/sessions/
LOG_PATH=%s/logs/
DATA_PATH=%s/data/

TENANT_ID=%s
ISOLATED_MODE=true
`, cfg.TenantID, cfg.APIID, cfg.APIHash, cfg.Phone, completionKey, root, root, root, cfg.TenantID)

	path := filepath.Join(root, ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write config %s: %w", cfg.TenantID, err)
	}

	slog.Info("isolator: config written", "tenant", cfg.TenantID)
	return path, nil
}

// ReadManifest loads a tenant's security manifest.
func (i *Isolator) ReadManifest(tenantID string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(i.Path(tenantID), "security_manifest.json"))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DestroyEnvironment removes the tenant's subtree. With secure set, every
// regular file is overwritten with random bytes of the same length first so
// session secrets do not survive on disk. A missing environment is success.
func (i *Isolator) DestroyEnvironment(tenantID string, secure bool) error {
	root := i.Path(tenantID)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	if secure {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !d.Type().IsRegular() {
				return err
			}
			if werr := overwriteFile(path); werr != nil {
				slog.Warn("isolator: secure overwrite failed", "tenant", tenantID, "path", path, "error", werr)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("destroy environment %s: %w", tenantID, err)
		}
	}

	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("destroy environment %s: %w", tenantID, err)
	}

	slog.Info("isolator: environment destroyed", "tenant", tenantID, "secure", secure)
	return nil
}

// overwriteFile replaces a file's contents with random bytes of equal length.
func overwriteFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	noise := make([]byte, info.Size())
	if _, err := rand.Read(noise); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(noise, 0); err != nil {
		return err
	}
	return f.Sync()
}
