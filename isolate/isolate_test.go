package isolate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestIsolator(t *testing.T, opts ...Option) *Isolator {
	t.Helper()
	i, err := New(filepath.Join(t.TempDir(), "tenants"), opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return i
}

func TestCreateEnvironment(t *testing.T) {
	i := newTestIsolator(t)

	root, err := i.CreateEnvironment("alice")
	if err != nil {
		t.Fatalf("CreateEnvironment() error: %v", err)
	}
	if root != i.Path("alice") {
		t.Errorf("root = %q, want %q", root, i.Path("alice"))
	}

	for _, dir := range []string{"", "sessions", "logs", "data", "temp"} {
		path := filepath.Join(root, dir)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("missing %s: %v", path, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", path)
		}
		if perm := info.Mode().Perm(); perm != 0o700 {
			t.Errorf("%s perm = %o, want 700", path, perm)
		}
	}

	info, err := os.Stat(filepath.Join(root, "security_manifest.json"))
	if err != nil {
		t.Fatalf("missing manifest: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("manifest perm = %o, want 600", perm)
	}
}

func TestCreateEnvironmentIdempotent(t *testing.T) {
	i := newTestIsolator(t)

	if _, err := i.CreateEnvironment("alice"); err != nil {
		t.Fatalf("CreateEnvironment() error: %v", err)
	}

	// Pre-existing data survives a second create.
	marker := filepath.Join(i.Path("alice"), "data", "keep.txt")
	if err := os.WriteFile(marker, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := i.CreateEnvironment("alice"); err != nil {
		t.Fatalf("CreateEnvironment() again error: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("existing file lost on re-create: %v", err)
	}
}

func TestManifestContents(t *testing.T) {
	limits := ResourceLimits{MaxMemoryMB: 256, MaxCPUPercent: 10, MaxDiskMB: 512, MaxOpenFiles: 64, MaxConns: 16}
	i := newTestIsolator(t, WithLimits(limits))

	if _, err := i.CreateEnvironment("alice"); err != nil {
		t.Fatalf("CreateEnvironment() error: %v", err)
	}

	m, err := i.ReadManifest("alice")
	if err != nil {
		t.Fatalf("ReadManifest() error: %v", err)
	}
	if m.TenantID != "alice" {
		t.Errorf("TenantID = %q, want alice", m.TenantID)
	}
	if m.ResourceLimits != limits {
		t.Errorf("ResourceLimits = %+v, want %+v", m.ResourceLimits, limits)
	}
	if !m.Permissions.NetworkAccess {
		t.Error("NetworkAccess should be true")
	}
	if m.Permissions.FileSystemAccess != "restricted" {
		t.Errorf("FileSystemAccess = %q, want restricted", m.Permissions.FileSystemAccess)
	}
	if m.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestWriteConfig(t *testing.T) {
	i := newTestIsolator(t)

	path, err := i.WriteConfig(Config{
		TenantID: "alice",
		Phone:    "+15551234567",
		APIID:    12345,
		APIHash:  "0123456789abcdef0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("WriteConfig() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("missing config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perm = %o, want 600", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	for _, want := range []string{
		"TELEGRAM_API_ID=12345",
		"TELEGRAM_API_HASH=0123456789abcdef0123456789abcdef",
		"TELEGRAM_PHONE=+15551234567",
		"OPENAI_API_KEY=SERVICE_PROVIDED",
		"TENANT_ID=alice",
		"ISOLATED_MODE=true",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("config missing %q", want)
		}
	}
	// Paths point inside the tenant's own environment.
	if !strings.Contains(content, "SESSION_PATH="+i.Path("alice")) {
		t.Error("SESSION_PATH should live under the tenant root")
	}
}

func TestWriteConfigExplicitKey(t *testing.T) {
	i := newTestIsolator(t)

	path, err := i.WriteConfig(Config{
		TenantID:      "alice",
		Phone:         "+15551234567",
		APIID:         1,
		APIHash:       "h",
		CompletionKey: "sk-tenant-own-key",
	})
	if err != nil {
		t.Fatalf("WriteConfig() error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "OPENAI_API_KEY=sk-tenant-own-key") {
		t.Error("explicit completion key not rendered")
	}
}

func TestDestroyEnvironment(t *testing.T) {
	i := newTestIsolator(t)

	if _, err := i.CreateEnvironment("alice"); err != nil {
		t.Fatalf("CreateEnvironment() error: %v", err)
	}
	session := filepath.Join(i.SessionPath("alice"), "alice.session")
	if err := os.WriteFile(session, []byte("secret session bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := i.DestroyEnvironment("alice", true); err != nil {
		t.Fatalf("DestroyEnvironment() error: %v", err)
	}
	if _, err := os.Stat(i.Path("alice")); !os.IsNotExist(err) {
		t.Errorf("environment should be gone, stat err = %v", err)
	}

	// Destroying a missing environment is success.
	if err := i.DestroyEnvironment("alice", true); err != nil {
		t.Errorf("DestroyEnvironment() missing = %v, want nil", err)
	}
	if err := i.DestroyEnvironment("never-existed", false); err != nil {
		t.Errorf("DestroyEnvironment() never created = %v, want nil", err)
	}
}

func TestOverwriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	original := []byte("highly secret contents")
	if err := os.WriteFile(path, original, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := overwriteFile(path); err != nil {
		t.Fatalf("overwriteFile() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(original) {
		t.Errorf("overwritten length = %d, want %d", len(data), len(original))
	}
	if string(data) == string(original) {
		t.Error("contents should be scrambled")
	}
}
