package serve

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	hive "github.com/everbots/hive"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TenantResponse is the admin view of one tenant.
type TenantResponse struct {
	TenantID     string    `json:"tenant_id"`
	Phone        string    `json:"phone"`
	Status       string    `json:"status"`
	ProcessID    int       `json:"process_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// CredentialResponse is the admin view of one pool credential. The API hash
// never leaves the host.
type CredentialResponse struct {
	ID        string    `json:"id"`
	AppName   string    `json:"app_name,omitempty"`
	InUse     int       `json:"in_use"`
	MaxUsers  int       `json:"max_users"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

// --- Authentication handlers ---

func (s *Server) handleStartAuth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "phone is required"})
		return
	}

	res, err := s.mgr.StartAuthentication(r.Context(), id, req.Phone)
	s.countAuth("start", err)
	if err != nil {
		writeJSON(w, authErrorStatus(err), authBody(res, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "code is required"})
		return
	}

	res, err := s.mgr.SubmitCode(r.Context(), id, req.Code)
	s.countAuth("code", err)
	if err != nil {
		writeJSON(w, authErrorStatus(err), authBody(res, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmitPassword(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "password is required"})
		return
	}

	res, err := s.mgr.SubmitPassword(r.Context(), id, req.Password)
	s.countAuth("password", err)
	if err != nil {
		writeJSON(w, authErrorStatus(err), authBody(res, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) countAuth(turn string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.AuthAttemptsTotal.WithLabelValues(turn, result).Inc()
}

// authBody prefers the structured result the manager produced; only a zero
// result falls back to the bare error envelope.
func authBody(res hive.AuthResult, err error) any {
	if res.Status != "" {
		return res
	}
	return ErrorResponse{Error: err.Error()}
}

// authErrorStatus maps authentication failures onto HTTP status codes.
func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, hive.ErrDuplicateTenant):
		return http.StatusConflict
	case errors.Is(err, hive.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, hive.ErrInvalidPhone),
		errors.Is(err, hive.ErrInvalidCode),
		errors.Is(err, hive.ErrInvalidPassword):
		return http.StatusBadRequest
	case errors.Is(err, hive.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, hive.ErrNoSession):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// --- Tenant lifecycle handlers ---

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := s.mgr.Tenants()
	resp := make([]TenantResponse, 0, len(tenants))
	for _, t := range tenants {
		resp = append(resp, tenantToResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID     string `json:"tenant_id"`
		Phone        string `json:"phone"`
		CredentialID string `json:"credential_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" || req.Phone == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "tenant_id and phone are required"})
		return
	}

	err := s.mgr.CreateTenant(r.Context(), req.TenantID, req.Phone, req.CredentialID)
	s.countLifecycle("create", err)
	if err != nil {
		writeJSON(w, lifecycleErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, s.mgr.Status(req.TenantID))
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report := s.mgr.Status(id)
	if !report.Exists {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "tenant not found"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.mgr.Delete(r.Context(), id)
	s.countLifecycle("delete", err)
	if err != nil {
		writeJSON(w, lifecycleErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	s.metrics.forgetTenant(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStartTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.mgr.Start(r.Context(), id)
	s.countLifecycle("start", err)
	if err != nil {
		writeJSON(w, lifecycleErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Status(id))
}

func (s *Server) handleStopTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.mgr.Stop(r.Context(), id)
	s.countLifecycle("stop", err)
	if err != nil {
		writeJSON(w, lifecycleErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Status(id))
}

func (s *Server) handleRestartTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.mgr.Restart(r.Context(), id)
	s.countLifecycle("restart", err)
	if err != nil {
		writeJSON(w, lifecycleErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Status(id))
}

func (s *Server) countLifecycle(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.LifecycleTotal.WithLabelValues(op, result).Inc()
}

func lifecycleErrorStatus(err error) int {
	switch {
	case errors.Is(err, hive.ErrTenantNotFound),
		errors.Is(err, hive.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, hive.ErrDuplicateTenant):
		return http.StatusConflict
	case errors.Is(err, hive.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, hive.ErrSpawnFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func tenantToResponse(t *hive.Tenant) TenantResponse {
	resp := TenantResponse{
		TenantID:     t.TenantID,
		Phone:        t.Phone,
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
		LastActivity: t.LastActivity,
	}
	if t.Proc != nil {
		resp.ProcessID = t.Proc.PID
	}
	return resp
}

// --- Monitoring handlers ---

func (s *Server) handleTenantResources(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.mgr.Sample(id)
	if err != nil {
		if errors.Is(err, hive.ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "tenant not found"})
			return
		}
		// Worker not running: fall back to the last persisted sample.
		history, herr := s.store.ListResourceHistory(id, 1)
		if herr == nil && len(history) > 0 {
			writeJSON(w, http.StatusOK, history[0])
			return
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTenantEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.store.ListTenantEvents(id, queryLimit(r, 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if events == nil {
		events = []StoreEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := s.mgr.SystemStatus()
	writeJSON(w, http.StatusOK, struct {
		hive.SystemStatusReport
		UptimeSeconds int64 `json:"uptime_seconds"`
	}{
		SystemStatusReport: status,
		UptimeSeconds:      int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(queryLimit(r, 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if events == nil {
		events = []StoreEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	violations, err := s.store.ListViolations(queryLimit(r, 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if violations == nil {
		violations = []ViolationRecord{}
	}
	writeJSON(w, http.StatusOK, violations)
}

// --- Credential pool handlers ---

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds := s.mgr.Pool().List()
	resp := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		resp = append(resp, CredentialResponse{
			ID:        c.ID,
			AppName:   c.AppName,
			InUse:     c.InUse,
			MaxUsers:  c.MaxUsers,
			CreatedAt: c.CreatedAt,
			LastUsed:  c.LastUsed,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		APIID    int    `json:"api_id"`
		APIHash  string `json:"api_hash"`
		AppName  string `json:"app_name"`
		MaxUsers int    `json:"max_users"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := s.mgr.Pool().Add(&hive.Credential{
		ID:       req.ID,
		APIID:    req.APIID,
		APIHash:  req.APIHash,
		AppName:  req.AppName,
		MaxUsers: req.MaxUsers,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, hive.ErrDuplicateCredential) {
			status = http.StatusConflict
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Pool().Remove(id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, hive.ErrCredentialNotFound):
			status = http.StatusNotFound
		case errors.Is(err, hive.ErrCredentialInUse):
			status = http.StatusConflict
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// --- Helpers ---

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
