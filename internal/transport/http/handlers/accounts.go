package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-policy/internal/transport/http/middleware"
	"github.com/arklim/credential-policy/internal/usecase"
)

// AccountHandler exposes administrative account endpoints.
type AccountHandler struct {
	accounts *usecase.AccountService
}

// NewAccountHandler constructs AccountHandler.
func NewAccountHandler(accounts *usecase.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// RegisterRoutes binds account administration routes.
func (h *AccountHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("", h.Create)
	r.GET("/:id", h.Status)
	r.POST("/:id/unlock", h.Unlock)
}

var accountErrorCases = []ErrorCase{
	{Err: usecase.ErrAccountIDRequired, Status: http.StatusBadRequest, Message: "account id is required"},
	{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
}

// Create godoc
// @Summary Provision an account
// @Description Creates an account with an initial password. The forced change flag follows configuration.
// @Tags Accounts
// @Accept json
// @Produce json
// @Param X-Admin-Token header string true "Admin token"
// @Param request body AccountCreateRequest true "Account payload"
// @Success 201 {object} AccountSummary
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/admin/accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	var req AccountCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid account payload"))
		return
	}

	account, err := h.accounts.CreateAccount(c.Request.Context(), usecase.CreateAccountInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUsernameRequired, Status: http.StatusBadRequest, Message: "username is required"},
			{Err: usecase.ErrEmailRequired, Status: http.StatusBadRequest, Message: "email is required"},
			{Err: usecase.ErrPasswordRequired, Status: http.StatusBadRequest, Message: "password is required"},
			{Err: usecase.ErrWeakPassword, Status: http.StatusUnprocessableEntity, Message: "password does not meet strength requirements"},
			{Err: usecase.ErrAccountExists, Status: http.StatusConflict, Message: "username or email already registered"},
		}, http.StatusInternalServerError, "failed to create account")
		return
	}

	c.JSON(http.StatusCreated, newAccountSummary(account))
}

// Status godoc
// @Summary Inspect the policy state of an account
// @Tags Accounts
// @Produce json
// @Param X-Admin-Token header string true "Admin token"
// @Param id path string true "Account ID"
// @Success 200 {object} AccountStatusResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id} [get]
func (h *AccountHandler) Status(c *gin.Context) {
	status, err := h.accounts.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "failed to load account status")
		return
	}

	c.JSON(http.StatusOK, AccountStatusResponse{
		AccountID:             status.AccountID,
		Username:              status.Username,
		LoginAttempts:         status.LoginAttempts,
		MaxLoginAttempts:      status.MaxLoginAttempts,
		Locked:                status.Locked,
		LockedUntil:           status.LockedUntil,
		LockRemainingSeconds:  int64(status.LockRemaining.Seconds()),
		PasswordChangedAt:     status.PasswordChangedAt,
		PasswordExpiresAt:     status.PasswordExpiresAt,
		PasswordExpired:       status.PasswordExpired,
		RequirePasswordChange: status.RequirePasswordChange,
		HistoryEntries:        status.HistoryEntries,
	})
}

// Unlock godoc
// @Summary Clear an active account lock
// @Tags Accounts
// @Produce json
// @Param X-Admin-Token header string true "Admin token"
// @Param id path string true "Account ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/accounts/{id}/unlock [post]
func (h *AccountHandler) Unlock(c *gin.Context) {
	cases := append([]ErrorCase{
		{Err: usecase.ErrAccountNotLocked, Status: http.StatusConflict, Message: "account is not locked"},
	}, accountErrorCases...)

	if _, err := h.accounts.Unlock(c.Request.Context(), c.Param("id"), middleware.GetActor(c)); err != nil {
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to unlock account")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Account unlocked"})
}
