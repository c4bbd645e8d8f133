package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// PolicyRejectionResponse is returned when a credential policy denies the request.
type PolicyRejectionResponse struct {
	Reason  domain.FailureReason `json:"reason"`
	Message string               `json:"message"`
	TraceID string               `json:"trace_id,omitempty"`
}

// NewPolicyRejection builds a rejection payload for the given reason.
func NewPolicyRejection(c *gin.Context, reason domain.FailureReason) PolicyRejectionResponse {
	return PolicyRejectionResponse{
		Reason:  reason,
		Message: reason.Message(),
		TraceID: middleware.GetTraceID(c),
	}
}

// AccountSummary describes a minimal view of an account returned by the API.
type AccountSummary struct {
	ID                    string     `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	RequirePasswordChange bool       `json:"require_password_change"`
	PasswordChangedAt     *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

func newAccountSummary(account *domain.Account) AccountSummary {
	return AccountSummary{
		ID:                    account.ID,
		Username:              account.Username,
		Email:                 account.Email,
		RequirePasswordChange: account.RequirePasswordChange,
		PasswordChangedAt:     account.PasswordChangedAt,
		CreatedAt:             account.CreatedAt,
	}
}

// AuthLoginRequest defines the payload for the login endpoint.
type AuthLoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// AuthLoginResponse describes the response returned for a successful login.
type AuthLoginResponse struct {
	Message string         `json:"message"`
	Account AccountSummary `json:"account"`
}

// PasswordChangeRequest represents a password change payload.
type PasswordChangeRequest struct {
	AccountID         string `json:"account_id" binding:"required"`
	OldPassword       string `json:"old_password" binding:"required"`
	NewPassword       string `json:"new_password" binding:"required"`
	NewPasswordRepeat string `json:"new_password_repeat"`
}

// PasswordChangeResponse is returned after a successful password change.
type PasswordChangeResponse struct {
	Message         string    `json:"message"`
	ChangedAt       time.Time `json:"changed_at"`
	HistoryAppended int       `json:"history_appended"`
}

// AccountCreateRequest defines the payload for provisioning an account.
type AccountCreateRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AccountStatusResponse exposes the policy state of an account.
type AccountStatusResponse struct {
	AccountID             string     `json:"account_id"`
	Username              string     `json:"username"`
	LoginAttempts         int        `json:"login_attempts"`
	MaxLoginAttempts      int        `json:"max_login_attempts"`
	Locked                bool       `json:"locked"`
	LockedUntil           *time.Time `json:"locked_until,omitempty"`
	LockRemainingSeconds  int64      `json:"lock_remaining_seconds"`
	PasswordChangedAt     *time.Time `json:"password_changed_at,omitempty"`
	PasswordExpiresAt     *time.Time `json:"password_expires_at,omitempty"`
	PasswordExpired       bool       `json:"password_expired"`
	RequirePasswordChange bool       `json:"require_password_change"`
	HistoryEntries        int        `json:"history_entries"`
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse reports per-dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
