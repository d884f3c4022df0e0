package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"warden/internal/services"
	pkghttp "warden/pkg/http"
	pkglogger "warden/pkg/logger"
)

// LockedMessage is the body sent with every lockout refusal.
const LockedMessage = "Account locked: too many login attempts."

// LockoutServiceInterface defines the interface for lockout decisions
type LockoutServiceInterface interface {
	RecordAttempt(ctx context.Context, attempt services.Attempt) services.Verdict
	Check(ctx context.Context, username, ip, userAgent string) services.Verdict
	RecordLogout(ctx context.Context, username, ip string, at time.Time) error
	IsTrusted(ctx context.Context, username, ip string) bool
}

// AttemptsHandler handles attempt ingestion and verdict lookups
type AttemptsHandler struct {
	service  LockoutServiceInterface
	audit    *pkglogger.AuditLogger
	ipConfig *pkghttp.IPConfig
}

// NewAttemptsHandler creates a new AttemptsHandler
func NewAttemptsHandler(service LockoutServiceInterface, audit *pkglogger.AuditLogger, ipConfig *pkghttp.IPConfig) *AttemptsHandler {
	return &AttemptsHandler{
		service:  service,
		audit:    audit,
		ipConfig: ipConfig,
	}
}

// Request/Response DTOs

// RecordAttemptRequest represents one login attempt reported by an application
type RecordAttemptRequest struct {
	Username   string `json:"username" validate:"omitempty,max=255"`
	IPAddress  string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent  string `json:"user_agent"`
	HTTPAccept string `json:"http_accept"`
	PathInfo   string `json:"path_info"`
	Success    bool   `json:"success"`
}

// VerdictQuery represents the identifiers of a verdict lookup
type VerdictQuery struct {
	Username  string `validate:"omitempty,max=255"`
	IPAddress string `validate:"omitempty,ip"`
}

// RecordLogoutRequest represents an explicit logout report
type RecordLogoutRequest struct {
	Username  string `json:"username" validate:"required,max=255"`
	IPAddress string `json:"ip_address" validate:"required,ip"`
}

// VerdictResponse reports the lock state for the attempt just recorded
type VerdictResponse struct {
	Locked            bool  `json:"locked"`
	FailureCount      int   `json:"failure_count"`
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// CheckResponse reports the lock state for a verdict lookup
type CheckResponse struct {
	Locked            bool  `json:"locked"`
	FailureCount      int   `json:"failure_count"`
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
	Trusted           bool  `json:"trusted"`
}

// RecordAttempt ingests one login attempt and answers with a verdict
//
// @Summary Report a login attempt
// @Accept json
// @Param request body RecordAttemptRequest true "Attempt report"
// @Produce json
// @Success 200 {object} VerdictResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /v1/attempts [post]
func (h *AttemptsHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)

	// Callers normally forward the end-user address in the body. When they
	// leave it out, fall back to the connection the report arrived on.
	if req.IPAddress == "" {
		req.IPAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	}

	verdict := h.service.RecordAttempt(r.Context(), services.Attempt{
		Username:   req.Username,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		HTTPAccept: req.HTTPAccept,
		PathInfo:   req.PathInfo,
		Success:    req.Success,
	})

	h.audit.LogAttempt(pkglogger.AuditEvent{
		Username:  req.Username,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   req.Success,
	})

	if verdict.Locked {
		pkghttp.WriteLocked(w, LockedMessage, verdict.RetryAfter)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(verdictToResponse(verdict))
}

// GetVerdict answers whether the given identifiers are currently locked out
// without recording anything
//
// @Summary Look up the current verdict
// @Param username query string false "Username"
// @Param ip query string false "Client IP address"
// @Param user_agent query string false "Client user agent"
// @Produce json
// @Success 200 {object} CheckResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /v1/verdict [get]
func (h *AttemptsHandler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	query := VerdictQuery{
		Username:  strings.TrimSpace(r.URL.Query().Get("username")),
		IPAddress: r.URL.Query().Get("ip"),
	}

	if query.Username == "" && query.IPAddress == "" {
		pkghttp.WriteBadRequest(w, "username or ip is required")
		return
	}

	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	verdict := h.service.Check(r.Context(), query.Username, query.IPAddress, r.URL.Query().Get("user_agent"))

	response := &CheckResponse{
		Locked:            verdict.Locked,
		FailureCount:      verdict.FailureCount,
		RetryAfterSeconds: retryAfterSeconds(verdict.RetryAfter),
	}
	if query.Username != "" && query.IPAddress != "" {
		response.Trusted = h.service.IsTrusted(r.Context(), query.Username, query.IPAddress)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RecordLogout closes the open access log entry for the pair and marks it
// as seen together
//
// @Summary Report a logout
// @Accept json
// @Param request body RecordLogoutRequest true "Logout report"
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /v1/logout [post]
func (h *AttemptsHandler) RecordLogout(w http.ResponseWriter, r *http.Request) {
	var req RecordLogoutRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.RecordLogout(r.Context(), strings.TrimSpace(req.Username), req.IPAddress, time.Now()); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// verdictToResponse converts a verdict to its response DTO
func verdictToResponse(verdict services.Verdict) *VerdictResponse {
	return &VerdictResponse{
		Locked:            verdict.Locked,
		FailureCount:      verdict.FailureCount,
		RetryAfterSeconds: retryAfterSeconds(verdict.RetryAfter),
	}
}

// retryAfterSeconds rounds a wait up to whole seconds so a caller that
// honors it never retries early.
func retryAfterSeconds(wait time.Duration) int64 {
	if wait <= 0 {
		return 0
	}
	return int64((wait + time.Second - 1) / time.Second)
}
