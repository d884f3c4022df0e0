package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"warden/internal/auth"
	"warden/internal/models"
	"warden/internal/services"
	pkghttp "warden/pkg/http"
	pkglogger "warden/pkg/logger"
)

// LockoutAdminService defines the operator-facing lockout operations
type LockoutAdminService interface {
	Reset(ctx context.Context, ip, username string) (int64, error)
	ResetTrust(ctx context.Context, ip, username string) (int64, error)
	ListAttempts(ctx context.Context, limit, offset int) ([]services.AttemptStatus, error)
}

// AccessLogServiceInterface defines the operator surface of the access log
type AccessLogServiceInterface interface {
	List(ctx context.Context, filter services.AccessLogFilter) ([]*models.AccessLogEntry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// AdminHandler handles operator resets and stored-state queries
type AdminHandler struct {
	lockouts  LockoutAdminService
	accessLog AccessLogServiceInterface
	audit     *pkglogger.AuditLogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(lockouts LockoutAdminService, accessLog AccessLogServiceInterface, audit *pkglogger.AuditLogger) *AdminHandler {
	return &AdminHandler{
		lockouts:  lockouts,
		accessLog: accessLog,
		audit:     audit,
	}
}

// Request/Response DTOs

// ResetRequest narrows a reset to an IP, a username, or their intersection.
// Leaving both empty wipes every attempt record.
type ResetRequest struct {
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	Username  string `json:"username" validate:"omitempty,max=255"`
}

// ResetResponse reports how many records a reset removed
type ResetResponse struct {
	Removed int64 `json:"removed"`
}

// AttemptStatusResponse represents one stored attempt record with its lock
// state derived at read time
type AttemptStatusResponse struct {
	ScopeKey          string  `json:"scope_key"`
	ScopeKind         string  `json:"scope_kind"`
	Username          *string `json:"username,omitempty"`
	IPAddress         *string `json:"ip_address,omitempty"`
	UserAgent         string  `json:"user_agent,omitempty"`
	FailureCount      int     `json:"failure_count"`
	FirstFailureAt    string  `json:"first_failure_at"`
	LastFailureAt     string  `json:"last_failure_at"`
	Locked            bool    `json:"locked"`
	RetryAfterSeconds int64   `json:"retry_after_seconds,omitempty"`
}

// ListAttemptsResponse represents a page of attempt records
type ListAttemptsResponse struct {
	Attempts []*AttemptStatusResponse `json:"attempts"`
	Total    int                      `json:"total"`
}

// AccessLogEntryResponse represents one access log entry
type AccessLogEntryResponse struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	IPAddress  string  `json:"ip_address"`
	UserAgent  string  `json:"user_agent,omitempty"`
	HTTPAccept *string `json:"http_accept,omitempty"`
	PathInfo   *string `json:"path_info,omitempty"`
	LoginAt    string  `json:"login_at"`
	LogoutAt   *string `json:"logout_at,omitempty"`
}

// ListAccessLogResponse represents a page of access log entries
type ListAccessLogResponse struct {
	Entries []*AccessLogEntryResponse `json:"entries"`
	Total   int                       `json:"total"`
}

// attemptStatusToResponse converts an attempt status to a response DTO
func attemptStatusToResponse(status services.AttemptStatus) *AttemptStatusResponse {
	record := status.Record
	return &AttemptStatusResponse{
		ScopeKey:          record.Key,
		ScopeKind:         record.Kind,
		Username:          record.Username,
		IPAddress:         record.IPAddress,
		UserAgent:         record.UserAgent,
		FailureCount:      record.FailureCount,
		FirstFailureAt:    record.FirstFailureAt.Format("2006-01-02T15:04:05Z07:00"),
		LastFailureAt:     record.LastFailureAt.Format("2006-01-02T15:04:05Z07:00"),
		Locked:            status.Locked,
		RetryAfterSeconds: retryAfterSeconds(status.RetryAfter),
	}
}

// accessLogEntryToResponse converts an access log entry to a response DTO
func accessLogEntryToResponse(entry *models.AccessLogEntry) *AccessLogEntryResponse {
	response := &AccessLogEntryResponse{
		ID:         entry.ID.String(),
		Username:   entry.Username,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		HTTPAccept: entry.HTTPAccept,
		PathInfo:   entry.PathInfo,
		LoginAt:    entry.LoginAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if entry.LogoutAt != nil {
		logoutAt := entry.LogoutAt.Format("2006-01-02T15:04:05Z07:00")
		response.LogoutAt = &logoutAt
	}
	return response
}

// ResetAttempts deletes attempt records matching the given identifiers
//
// @Summary Reset lockout state
// @Accept json
// @Param request body ResetRequest true "Reset filter"
// @Produce json
// @Success 200 {object} ResetResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /v1/reset [post]
func (h *AdminHandler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)

	removed, err := h.lockouts.Reset(r.Context(), req.IPAddress, req.Username)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.audit.LogReset(pkglogger.AuditEvent{
		EventType: "attempts",
		Operator:  operatorSubject(r),
		IPAddress: req.IPAddress,
		Username:  req.Username,
	}, removed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&ResetResponse{Removed: removed})
}

// ResetTrust forgets which pairs have been seen logging in together
//
// @Summary Reset trust records
// @Param ip query string false "Client IP address"
// @Param username query string false "Username"
// @Produce json
// @Success 200 {object} ResetResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /v1/trust [delete]
func (h *AdminHandler) ResetTrust(w http.ResponseWriter, r *http.Request) {
	query := ResetRequest{
		IPAddress: r.URL.Query().Get("ip"),
		Username:  strings.TrimSpace(r.URL.Query().Get("username")),
	}

	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	removed, err := h.lockouts.ResetTrust(r.Context(), query.IPAddress, query.Username)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.audit.LogReset(pkglogger.AuditEvent{
		EventType: "trust",
		Operator:  operatorSubject(r),
		IPAddress: query.IPAddress,
		Username:  query.Username,
	}, removed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&ResetResponse{Removed: removed})
}

// ListAttempts retrieves stored attempt records with pagination
//
// @Summary List attempt records
// @Param limit query int false "Limit (default 50)" default(50)
// @Param offset query int false "Offset (default 0)" default(0)
// @Produce json
// @Success 200 {object} ListAttemptsResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /v1/attempts [get]
func (h *AdminHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if _, err := parseIntParam(l, &limit, 1, 500); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid limit parameter")
			return
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if _, err := parseIntParam(o, &offset, 0, 100000); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid offset parameter")
			return
		}
	}

	statuses, err := h.lockouts.ListAttempts(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteServiceUnavailable(w, "Attempt store unavailable")
		return
	}

	response := &ListAttemptsResponse{
		Attempts: make([]*AttemptStatusResponse, len(statuses)),
		Total:    len(statuses),
	}
	for i, status := range statuses {
		response.Attempts[i] = attemptStatusToResponse(status)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListAccessLog retrieves access log entries, newest first
//
// @Summary List access log entries
// @Param username query string false "Filter by username"
// @Param ip query string false "Filter by client IP"
// @Param limit query int false "Limit (default 50)" default(50)
// @Param offset query int false "Offset (default 0)" default(0)
// @Produce json
// @Success 200 {object} ListAccessLogResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /v1/access-log [get]
func (h *AdminHandler) ListAccessLog(w http.ResponseWriter, r *http.Request) {
	filter := services.AccessLogFilter{
		Username:  strings.TrimSpace(r.URL.Query().Get("username")),
		IPAddress: r.URL.Query().Get("ip"),
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if _, err := parseIntParam(l, &filter.Limit, 1, 500); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid limit parameter")
			return
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if _, err := parseIntParam(o, &filter.Offset, 0, 100000); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid offset parameter")
			return
		}
	}

	entries, err := h.accessLog.List(r.Context(), filter)
	if err != nil {
		pkghttp.WriteServiceUnavailable(w, "Access log store unavailable")
		return
	}

	response := &ListAccessLogResponse{
		Entries: make([]*AccessLogEntryResponse, len(entries)),
		Total:   len(entries),
	}
	for i, entry := range entries {
		response.Entries[i] = accessLogEntryToResponse(entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// PruneAccessLog deletes access log entries whose login predates the cutoff.
// This is the only way entries ever leave the log.
//
// @Summary Prune the access log
// @Param before query string true "RFC 3339 cutoff; entries older than this are removed"
// @Produce json
// @Success 200 {object} ResetResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /v1/access-log [delete]
func (h *AdminHandler) PruneAccessLog(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		pkghttp.WriteBadRequest(w, "before parameter is required")
		return
	}

	before, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		pkghttp.WriteBadRequest(w, "before must be an RFC 3339 timestamp")
		return
	}

	removed, err := h.accessLog.Prune(r.Context(), before)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.audit.LogReset(pkglogger.AuditEvent{
		EventType: "access_log",
		Operator:  operatorSubject(r),
	}, removed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&ResetResponse{Removed: removed})
}

// operatorSubject names the acting operator for audit lines. Admin routes
// sit behind RequireOperator, so claims are normally present.
func operatorSubject(r *http.Request) string {
	if claims := auth.GetOperatorFromContext(r); claims != nil {
		return claims.Subject
	}
	return ""
}
