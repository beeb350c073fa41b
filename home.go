package hive

import (
	"os"
	"path/filepath"
)

// Home returns the hive home directory.
// It defaults to ~/.hive but can be overridden with the HIVE_HOME environment variable.
func Home() string {
	if v := os.Getenv("HIVE_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hive")
}

// DefaultCredentialsPath returns the default credential store path.
func DefaultCredentialsPath() string {
	return filepath.Join(Home(), "credentials.json")
}

// DefaultRegistryPath returns the default tenant registry path.
func DefaultRegistryPath() string {
	return filepath.Join(Home(), "tenants.json")
}

// DefaultDBPath returns the default SQLite audit database path (~/.hive/hive.db).
func DefaultDBPath() string {
	return filepath.Join(Home(), "hive.db")
}

// TenantsPath returns the base directory holding per-tenant environments.
func TenantsPath() string {
	return filepath.Join(Home(), "tenants")
}

// EnsureHome creates the hive home and tenant directories if they don't exist.
func EnsureHome() error {
	return os.MkdirAll(TenantsPath(), 0o700)
}
