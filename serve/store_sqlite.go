package serve

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		type      TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		detail    TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS resource_snapshots (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id    TEXT NOT NULL,
		process_id   INTEGER NOT NULL DEFAULT 0,
		memory_bytes INTEGER NOT NULL DEFAULT 0,
		cpu_percent  REAL NOT NULL DEFAULT 0,
		open_handles INTEGER NOT NULL DEFAULT 0,
		connections  INTEGER NOT NULL DEFAULT 0,
		sampled_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS violations (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		kind      TEXT NOT NULL,
		value     REAL NOT NULL DEFAULT 0,
		limit_val REAL NOT NULL DEFAULT 0,
		message   TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_tenant ON events(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_snapshots_tenant ON resource_snapshots(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_violations_tenant ON violations(tenant_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertEvent records a tenant lifecycle event.
func (s *SQLiteStore) InsertEvent(e StoreEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO events (type, tenant_id, timestamp, detail)
		 VALUES (?, ?, ?, ?)`,
		e.Type, e.TenantID, e.Timestamp, e.Detail,
	)
	return err
}

// InsertResourceSnapshot records a resource sample.
func (s *SQLiteStore) InsertResourceSnapshot(r ResourceRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO resource_snapshots
		 (tenant_id, process_id, memory_bytes, cpu_percent, open_handles, connections, sampled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TenantID, r.ProcessID, r.MemoryBytes, r.CPUPercent,
		r.OpenHandles, r.Connections, r.SampledAt,
	)
	return err
}

// ListEvents returns recent events, newest first.
func (s *SQLiteStore) ListEvents(limit int) ([]StoreEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, type, tenant_id, timestamp, detail
		 FROM events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListTenantEvents returns recent events for one tenant, newest first.
func (s *SQLiteStore) ListTenantEvents(tenantID string, limit int) ([]StoreEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, type, tenant_id, timestamp, detail
		 FROM events WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]StoreEvent, error) {
	var events []StoreEvent
	for rows.Next() {
		var e StoreEvent
		if err := rows.Scan(&e.ID, &e.Type, &e.TenantID, &e.Timestamp, &e.Detail); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListResourceHistory returns recent samples for a tenant, newest first.
func (s *SQLiteStore) ListResourceHistory(tenantID string, limit int) ([]ResourceRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, process_id, memory_bytes, cpu_percent, open_handles, connections, sampled_at
		 FROM resource_snapshots WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResources(rows)
}

// LatestResourceSnapshots returns the newest sample per tenant.
func (s *SQLiteStore) LatestResourceSnapshots() ([]ResourceRecord, error) {
	rows, err := s.db.Query(
		`SELECT rs.id, rs.tenant_id, rs.process_id, rs.memory_bytes, rs.cpu_percent,
		        rs.open_handles, rs.connections, rs.sampled_at
		 FROM resource_snapshots rs
		 INNER JOIN (
		   SELECT tenant_id, MAX(id) as max_id FROM resource_snapshots GROUP BY tenant_id
		 ) latest ON rs.id = latest.max_id
		 ORDER BY rs.tenant_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResources(rows)
}

func scanResources(rows *sql.Rows) ([]ResourceRecord, error) {
	var records []ResourceRecord
	for rows.Next() {
		var r ResourceRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ProcessID, &r.MemoryBytes,
			&r.CPUPercent, &r.OpenHandles, &r.Connections, &r.SampledAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertViolation records a quota violation.
func (s *SQLiteStore) InsertViolation(v ViolationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO violations (tenant_id, kind, value, limit_val, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.TenantID, v.Kind, v.Value, v.Limit, v.Message, v.Timestamp,
	)
	return err
}

// ListViolations returns recent violations, newest first.
func (s *SQLiteStore) ListViolations(limit int) ([]ViolationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, kind, value, limit_val, message, timestamp
		 FROM violations ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []ViolationRecord
	for rows.Next() {
		var v ViolationRecord
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Kind, &v.Value, &v.Limit, &v.Message, &v.Timestamp); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}
