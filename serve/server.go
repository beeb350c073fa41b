package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	hive "github.com/everbots/hive"
)

// Config holds server configuration.
type Config struct {
	Addr   string
	DBPath string
}

// Server is the admin HTTP server for the hive host.
type Server struct {
	mgr       *hive.Manager
	store     Store
	metrics   *Metrics
	cfg       Config
	startedAt time.Time
	notify    func(string)
}

// New creates a new Server. The manager may be nil at construction and set
// later with SetManager, which lets the caller wire the server's recorder
// into the manager first.
func New(mgr *hive.Manager, cfg Config) *Server {
	return &Server{
		mgr:     mgr,
		metrics: NewMetrics(),
		cfg:     cfg,
	}
}

// SetManager installs the manager. Must happen before Start.
func (s *Server) SetManager(mgr *hive.Manager) {
	s.mgr = mgr
}

// SetNotifier installs a push-notification sink, such as TelegramBot.Notify,
// for quota violation alerts.
func (s *Server) SetNotifier(fn func(string)) {
	s.notify = fn
}

// Store returns the audit store, available after Start opened it.
func (s *Server) Store() Store {
	return s.store
}

// Recorder returns an event recorder writing to the audit store, for wiring
// into the manager via hive.WithRecorder.
func (s *Server) Recorder() hive.EventRecorder {
	return storeRecorder{s: s}
}

// storeRecorder persists manager events into the audit store.
type storeRecorder struct {
	s *Server
}

func (r storeRecorder) Record(event, tenantID, detail string) {
	if r.s.store == nil {
		return
	}
	if err := r.s.store.InsertEvent(StoreEvent{
		Type:      event,
		TenantID:  tenantID,
		Timestamp: time.Now(),
		Detail:    detail,
	}); err != nil {
		slog.Warn("serve: audit insert failed", "event", event, "error", err)
	}
}

// OpenStore initializes the SQLite audit store. Call before Start when the
// recorder must be wired into the manager first.
func (s *Server) OpenStore() error {
	if s.store != nil {
		return nil
	}
	store, err := NewSQLiteStore(s.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := store.Init(); err != nil {
		store.Close()
		return fmt.Errorf("init database: %w", err)
	}
	s.store = store
	return nil
}

// Start opens the store, registers routes, and listens for HTTP requests.
// It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	if err := s.OpenStore(); err != nil {
		return err
	}

	// Keep the fleet gauges fresh.
	go s.refreshLoop(ctx)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("hive serve started", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with 5s timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	return nil
}

// registerRoutes adds all API routes to the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Authentication
	mux.HandleFunc("POST /api/tenants/{id}/auth", s.handleStartAuth)
	mux.HandleFunc("POST /api/tenants/{id}/auth/code", s.handleSubmitCode)
	mux.HandleFunc("POST /api/tenants/{id}/auth/password", s.handleSubmitPassword)

	// Tenant lifecycle
	mux.HandleFunc("GET /api/tenants", s.handleListTenants)
	mux.HandleFunc("POST /api/tenants", s.handleCreateTenant)
	mux.HandleFunc("GET /api/tenants/{id}", s.handleGetTenant)
	mux.HandleFunc("DELETE /api/tenants/{id}", s.handleDeleteTenant)
	mux.HandleFunc("POST /api/tenants/{id}/start", s.handleStartTenant)
	mux.HandleFunc("POST /api/tenants/{id}/stop", s.handleStopTenant)
	mux.HandleFunc("POST /api/tenants/{id}/restart", s.handleRestartTenant)

	// Monitoring
	mux.HandleFunc("GET /api/tenants/{id}/resources", s.handleTenantResources)
	mux.HandleFunc("GET /api/tenants/{id}/events", s.handleTenantEvents)
	mux.HandleFunc("GET /api/status", s.handleSystemStatus)
	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("GET /api/violations", s.handleListViolations)

	// Credential pool
	mux.HandleFunc("GET /api/credentials", s.handleListCredentials)
	mux.HandleFunc("POST /api/credentials", s.handleAddCredential)
	mux.HandleFunc("DELETE /api/credentials/{id}", s.handleRemoveCredential)

	// Prometheus
	mux.Handle("GET /metrics", promhttp.Handler())
}

// refreshLoop updates the fleet gauges and persists a resource sample per
// active tenant every 30 seconds.
func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		s.refresh()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) refresh() {
	status := s.mgr.SystemStatus()
	s.metrics.TenantsTotal.Set(float64(status.TotalTenants))
	s.metrics.TenantsActive.Set(float64(status.ActiveTenants))
	s.metrics.CredentialsTotal.Set(float64(status.CredentialCount))
	s.metrics.CredentialUsage.Set(float64(status.CredentialUsage))

	for _, tenant := range s.mgr.Tenants() {
		if tenant.Status != hive.StatusActive {
			continue
		}
		snap, err := s.mgr.Sample(tenant.TenantID)
		if err != nil {
			continue
		}
		s.metrics.WorkerMemoryBytes.WithLabelValues(snap.TenantID).Set(float64(snap.MemoryBytes))
		s.metrics.WorkerCPUPercent.WithLabelValues(snap.TenantID).Set(snap.CPUPercent)
		s.metrics.WorkerOpenHandles.WithLabelValues(snap.TenantID).Set(float64(snap.OpenHandles))
		s.metrics.WorkerConnections.WithLabelValues(snap.TenantID).Set(float64(snap.Connections))

		if s.store != nil {
			s.store.InsertResourceSnapshot(ResourceRecord{
				TenantID:    snap.TenantID,
				ProcessID:   snap.ProcessID,
				MemoryBytes: snap.MemoryBytes,
				CPUPercent:  snap.CPUPercent,
				OpenHandles: snap.OpenHandles,
				Connections: snap.Connections,
				SampledAt:   snap.SampledAt,
			})
		}
	}
}

// RecordViolations persists and counts quota violations; suitable for
// hive.WithQuotaPolicy.
func (s *Server) RecordViolations(tenantID string, violations []hive.Violation) {
	for _, v := range violations {
		if s.notify != nil {
			s.notify(fmt.Sprintf("quota violation: tenant %s — %s", tenantID, v.Message))
		}
		s.metrics.ViolationsTotal.WithLabelValues(v.Kind).Inc()
		if s.store == nil {
			continue
		}
		if err := s.store.InsertViolation(ViolationRecord{
			TenantID:  tenantID,
			Kind:      v.Kind,
			Value:     v.Value,
			Limit:     v.Limit,
			Message:   v.Message,
			Timestamp: time.Now(),
		}); err != nil {
			slog.Warn("serve: violation insert failed", "tenant", tenantID, "error", err)
		}
	}
}
