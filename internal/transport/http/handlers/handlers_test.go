package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/usecase"
)

func TestRespondWithMappedError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []ErrorCase{
		{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
	}

	t.Run("mapped", func(t *testing.T) {
		rr := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rr)
		RespondWithMappedError(c, fmt.Errorf("lookup: %w", usecase.ErrAccountNotFound), cases, http.StatusInternalServerError, "boom")

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		if len(c.Errors) != 0 {
			t.Fatalf("mapped errors should not be attached to the context")
		}
	})

	t.Run("fallback", func(t *testing.T) {
		rr := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rr)
		RespondWithMappedError(c, errors.New("disk on fire"), cases, http.StatusInternalServerError, "boom")

		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
		if strings.Contains(rr.Body.String(), "disk on fire") {
			t.Fatalf("internal error leaked to client: %s", rr.Body.String())
		}
		if len(c.Errors) != 1 {
			t.Fatalf("expected fallback error to be recorded")
		}
	})
}

func TestLoginRejectionStatus(t *testing.T) {
	if got := loginRejectionStatus(domain.ReasonInvalidCredentials); got != http.StatusUnauthorized {
		t.Fatalf("invalid credentials: expected 401, got %d", got)
	}
	for _, reason := range []domain.FailureReason{domain.ReasonLockedOut, domain.ReasonPasswordExpired, domain.ReasonPasswordChangeRequired} {
		if got := loginRejectionStatus(reason); got != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", reason, got)
		}
	}
}

func TestChangeRejectionStatus(t *testing.T) {
	for _, reason := range []domain.FailureReason{domain.ReasonInvalidOldPassword, domain.ReasonLockedOut} {
		if got := changeRejectionStatus(reason); got != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", reason, got)
		}
	}
	for _, reason := range []domain.FailureReason{domain.ReasonConfirmationMismatch, domain.ReasonSamePasswords, domain.ReasonSamePreviousPasswords, domain.ReasonWeakPassword} {
		if got := changeRejectionStatus(reason); got != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", reason, got)
		}
	}
}

func TestReadinessAggregatesChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHealthHandler(
		WithReadinessCheck("postgres", func(context.Context) error { return nil }),
		WithReadinessCheck("kafka", func(context.Context) error { return errors.New("no brokers") }),
		WithReadinessCheck("ignored", nil),
	)

	r := gin.New()
	r.GET("/readyz", h.Readiness)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"postgres":"ok"`) || !strings.Contains(body, `"kafka":"no brokers"`) {
		t.Fatalf("unexpected readiness body %s", body)
	}
	if strings.Contains(body, "ignored") {
		t.Fatalf("nil checks must not be registered")
	}
}
