package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/usecase"
)

// PasswordHandler exposes endpoints for password management.
type PasswordHandler struct {
	passwords *usecase.PasswordService
}

func NewPasswordHandler(passwords *usecase.PasswordService) *PasswordHandler {
	return &PasswordHandler{passwords: passwords}
}

// RegisterRoutes binds password routes.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/change", h.ChangePassword)
}

// ChangePassword godoc
// @Summary Change the password of an account
// @Description Verifies the current password and enforces confirmation, strength and history rules.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordChangeRequest true "Password change request"
// @Success 200 {object} PasswordChangeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} PolicyRejectionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} PolicyRejectionResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/password/change [post]
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid change password payload"))
		return
	}

	result, err := h.passwords.ChangePassword(c.Request.Context(), usecase.ChangePasswordInput{
		AccountID:         req.AccountID,
		OldPassword:       req.OldPassword,
		NewPassword:       req.NewPassword,
		NewPasswordRepeat: req.NewPasswordRepeat,
	})
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountIDRequired, Status: http.StatusBadRequest, Message: "account id is required"},
			{Err: usecase.ErrNewPasswordRequired, Status: http.StatusBadRequest, Message: "new password is required"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to change password")
		return
	}

	if !result.Success {
		c.JSON(changeRejectionStatus(result.Reason), NewPolicyRejection(c, result.Reason))
		return
	}

	c.JSON(http.StatusOK, PasswordChangeResponse{
		Message:         "Password changed successfully",
		ChangedAt:       result.ChangedAt,
		HistoryAppended: result.HistoryAppended,
	})
}

func changeRejectionStatus(reason domain.FailureReason) int {
	switch reason {
	case domain.ReasonInvalidOldPassword, domain.ReasonLockedOut:
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}
