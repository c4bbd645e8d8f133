package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/transport/http/middleware"
	"github.com/arklim/credential-policy/internal/usecase"
)

// AuthHandler exposes the login endpoint.
type AuthHandler struct {
	auth *usecase.AuthService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes binds authentication routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/login", h.Login)
}

// Login godoc
// @Summary Authenticate with identifier and password
// @Description Verifies credentials and applies the lockout, password aging and first-login policies.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body AuthLoginRequest true "Login request payload"
// @Success 200 {object} AuthLoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} PolicyRejectionResponse
// @Failure 403 {object} PolicyRejectionResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		IP:         reqCtx.IP,
		UserAgent:  reqCtx.UserAgent,
	})
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrIdentifierRequired, Status: http.StatusBadRequest, Message: "identifier is required"},
			{Err: usecase.ErrPasswordRequired, Status: http.StatusBadRequest, Message: "password is required"},
		}, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	if !result.Success {
		c.JSON(loginRejectionStatus(result.Reason), NewPolicyRejection(c, result.Reason))
		return
	}

	c.JSON(http.StatusOK, AuthLoginResponse{
		Message: "Login successful",
		Account: newAccountSummary(result.Account),
	})
}

func loginRejectionStatus(reason domain.FailureReason) int {
	if reason == domain.ReasonInvalidCredentials {
		return http.StatusUnauthorized
	}
	return http.StatusForbidden
}
