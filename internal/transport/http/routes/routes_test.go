package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-policy/internal/infra/config"
	"github.com/arklim/credential-policy/internal/infra/database"
	"github.com/arklim/credential-policy/internal/infra/kafka"
	"github.com/arklim/credential-policy/internal/infra/security"
	"github.com/arklim/credential-policy/internal/infra/telemetry"
	sqliterepo "github.com/arklim/credential-policy/internal/repository/sqlite"
	"github.com/arklim/credential-policy/internal/transport/http/middleware"
	httproutes "github.com/arklim/credential-policy/internal/transport/http/routes"
	"github.com/arklim/credential-policy/internal/usecase"
)

const adminToken = "admin-secret"

type testServer struct {
	router   *gin.Engine
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	cfg := &config.AppConfig{
		App:   config.AppSettings{Env: "test", AdminToken: adminToken},
		Store: config.StoreSettings{Driver: config.StoreDriverSQLite},
		Policy: config.PolicySettings{
			MaxLoginAttempts:         3,
			LockExpiration:           time.Hour,
			PasswordChangeInterval:   60 * 24 * time.Hour,
			LastPasswordChangesCount: 5,
			EnforceFirstLoginChange:  true,
		},
	}

	db, err := database.NewSQLite(context.Background(), config.SQLiteSettings{
		Path:        t.TempDir() + "/routes.db",
		BusyTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := sqliterepo.NewAccountRepository(db)

	hasher, err := security.NewHasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}

	policies, err := usecase.NewPolicies(cfg.Policy)
	if err != nil {
		t.Fatalf("policies: %v", err)
	}

	registry := prometheus.NewRegistry()
	policyMetrics := telemetry.NewPolicyMetrics(registry)
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("http metrics: %v", err)
	}
	events := kafka.NewStubPublisher(logger)

	router := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
		Services: httproutes.ServiceSet{
			Auth: usecase.NewAuthService(store, hasher, policies, events, policyMetrics, logger),
			Passwords: usecase.NewPasswordService(store,
				usecase.NewHistoryPolicy(hasher, store, policies.HistoryWindow),
				policies.Lockout, nil, events, policyMetrics, logger),
			Accounts: usecase.NewAccountService(store, hasher, nil, policies, events, logger),
		},
		Store:    httproutes.StoreCheckerFunc(db.PingContext),
		Metrics:  httpMetrics,
		Gatherer: registry,
	})

	return &testServer{router: router, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	payload := map[string]any{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rr, payload
}

func admin() map[string]string {
	return map[string]string{middleware.AdminTokenHeader: adminToken, middleware.AdminActorHeader: "ops"}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rr, _ := srv.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rr, body := srv.do(t, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", rr.Code, body)
	}
}

func TestReadinessReportsStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}, Store: config.StoreSettings{Driver: "redis"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: zaptest.NewLogger(t),
		Store: httproutes.StoreCheckerFunc(func(context.Context) error {
			return errors.New("connection refused")
		}),
		Gatherer: prometheus.NewRegistry(),
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("expected failing check in body, got %s", rr.Body.String())
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	rr, _ := srv.do(t, http.MethodPost, "/api/v1/admin/accounts", map[string]string{
		"username": "jdoe", "email": "jdoe@example.com", "password": "initial-Pass-1",
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestCredentialPolicyFlow(t *testing.T) {
	srv := newTestServer(t)

	rr, created := srv.do(t, http.MethodPost, "/api/v1/admin/accounts", map[string]string{
		"username": "jdoe", "email": "JDoe@Example.com", "password": "initial-Pass-1",
	}, admin())
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	accountID, _ := created["id"].(string)
	if accountID == "" || created["require_password_change"] != true || created["email"] != "jdoe@example.com" {
		t.Fatalf("unexpected created account %v", created)
	}

	rr, _ = srv.do(t, http.MethodPost, "/api/v1/admin/accounts", map[string]string{
		"username": "jdoe", "email": "other@example.com", "password": "initial-Pass-1",
	}, admin())
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rr.Code)
	}

	login := func(password string) (*httptest.ResponseRecorder, map[string]any) {
		return srv.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"identifier": "jdoe", "password": password,
		}, nil)
	}

	rr, body := login("initial-Pass-1")
	if rr.Code != http.StatusForbidden || body["reason"] != "password_change_required" {
		t.Fatalf("first login: expected forced change, got %d %v", rr.Code, body)
	}

	change := func(old, next, repeat string) (*httptest.ResponseRecorder, map[string]any) {
		return srv.do(t, http.MethodPost, "/api/v1/password/change", map[string]string{
			"account_id": accountID, "old_password": old, "new_password": next, "new_password_repeat": repeat,
		}, nil)
	}

	rr, body = change("initial-Pass-1", "second-Pass-2", "typo")
	if rr.Code != http.StatusUnprocessableEntity || body["reason"] != "confirmation_mismatch" {
		t.Fatalf("mismatch: got %d %v", rr.Code, body)
	}

	rr, body = change("wrong", "second-Pass-2", "second-Pass-2")
	if rr.Code != http.StatusForbidden || body["reason"] != "invalid_old_password" {
		t.Fatalf("old password: got %d %v", rr.Code, body)
	}

	rr, body = change("initial-Pass-1", "initial-Pass-1", "initial-Pass-1")
	if rr.Code != http.StatusUnprocessableEntity || body["reason"] != "same_passwords" {
		t.Fatalf("same password: got %d %v", rr.Code, body)
	}

	rr, body = change("initial-Pass-1", "second-Pass-2", "second-Pass-2")
	if rr.Code != http.StatusOK || body["history_appended"] != float64(2) {
		t.Fatalf("change: got %d %v", rr.Code, body)
	}

	rr, body = login("second-Pass-2")
	if rr.Code != http.StatusOK {
		t.Fatalf("login after change: got %d %v", rr.Code, body)
	}

	for i := 1; i <= 3; i++ {
		rr, body = login("bad-guess")
		want := http.StatusUnauthorized
		reason := "invalid_credentials"
		if i == 3 {
			want = http.StatusForbidden
			reason = "locked_out"
		}
		if rr.Code != want || body["reason"] != reason {
			t.Fatalf("attempt %d: expected %d %s, got %d %v", i, want, reason, rr.Code, body)
		}
	}

	rr, body = login("second-Pass-2")
	if rr.Code != http.StatusForbidden || body["reason"] != "locked_out" {
		t.Fatalf("locked login: got %d %v", rr.Code, body)
	}

	rr, body = change("second-Pass-2", "third-Pass-3", "third-Pass-3")
	if rr.Code != http.StatusForbidden || body["reason"] != "locked_out" {
		t.Fatalf("change while locked: got %d %v", rr.Code, body)
	}

	rr, body = srv.do(t, http.MethodGet, "/api/v1/admin/accounts/"+accountID, nil, admin())
	if rr.Code != http.StatusOK || body["locked"] != true || body["history_entries"] != float64(2) {
		t.Fatalf("status: got %d %v", rr.Code, body)
	}

	rr, _ = srv.do(t, http.MethodPost, "/api/v1/admin/accounts/"+accountID+"/unlock", nil, admin())
	if rr.Code != http.StatusOK {
		t.Fatalf("unlock: got %d", rr.Code)
	}
	rr, _ = srv.do(t, http.MethodPost, "/api/v1/admin/accounts/"+accountID+"/unlock", nil, admin())
	if rr.Code != http.StatusConflict {
		t.Fatalf("second unlock: expected 409, got %d", rr.Code)
	}

	rr, _ = login("second-Pass-2")
	if rr.Code != http.StatusOK {
		t.Fatalf("login after unlock: got %d", rr.Code)
	}

	rr, _ = srv.do(t, http.MethodGet, "/api/v1/admin/accounts/missing", nil, admin())
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing account: expected 404, got %d", rr.Code)
	}

	rr, _ = srv.do(t, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "credpol_account_lockouts_total 1") {
		t.Fatalf("expected lockout counter in metrics output")
	}
}

func TestLoginRejectsMalformedPayload(t *testing.T) {
	srv := newTestServer(t)

	rr, body := srv.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"identifier": "jdoe"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message, got %v", body)
	}
}
