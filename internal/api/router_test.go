package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/technically-fit/trust-engine/internal/auth"
	"github.com/technically-fit/trust-engine/internal/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("TRUST_JWT_SECRET", "test-jwt-secret-that-is-32-chars!!")
	os.Exit(m.Run())
}

// newTestRouter builds a full router over a sqlmock database. Background
// jobs are disabled through config; the mock accepts any number of queries
// in any order because middleware capture is asynchronous.
func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.MatchExpectationsInOrder(false)

	cfg := &config.Config{}
	router, bg := NewRouter(cfg, db)
	t.Cleanup(func() {
		bg.Shutdown()
		db.Close()
	})
	return router, mock
}

func bearerToken(t *testing.T, scopes []string) string {
	t.Helper()
	token, err := auth.GenerateJWT("user-1", "ops@technically.fit", scopes, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return "Bearer " + token
}

// ---------------------------------------------------------------------------
// Public endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("expected healthy status: %s", w.Body.String())
	}
}

func TestReadyEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ready", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestVersionEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/version", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "api_version") {
		t.Errorf("expected api_version: %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Authentication and scopes
// ---------------------------------------------------------------------------

func TestAPIRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/events"},
		{http.MethodPost, "/api/v1/events"},
		{http.MethodGet, "/api/v1/alerts/unacknowledged"},
		{http.MethodGet, "/api/v1/moderation/items"},
		{http.MethodPost, "/api/v1/detection/scan"},
		{http.MethodGet, "/api/v1/apikeys"},
	}
	for _, tt := range paths {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(tt.method, tt.path, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", tt.method, tt.path, w.Code)
		}
	}
}

func TestScopeEnforced(t *testing.T) {
	router, _ := newTestRouter(t)

	// events:read does not grant event appends
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{}`))
	req.Header.Set("Authorization", bearerToken(t, []string{"events:read"}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body: %s", w.Code, w.Body.String())
	}
}

func TestQueryEventsWithJWT(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(`FROM audit_events`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "actor_id", "action", "resource", "resource_id", "severity",
			"category", "outcome", "error_message", "ip_address", "metadata", "created_at",
		}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/events?actor_id=user-1", nil)
	req.Header.Set("Authorization", bearerToken(t, []string{"events:read"}))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"has_more":false`) {
		t.Errorf("expected has_more false: %s", w.Body.String())
	}
}

func TestWriteScopeImpliesRead(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(`FROM audit_events`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "actor_id", "action", "resource", "resource_id", "severity",
			"category", "outcome", "error_message", "ip_address", "metadata", "created_at",
		}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", bearerToken(t, []string{"events:write"}))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestAdminScopeGrantsEverything(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(`FROM security_alerts`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_event_id", "alert_level", "summary", "acknowledged",
			"acknowledged_by", "resolution", "created_at", "acknowledged_at", "notified_at",
		}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/alerts/unacknowledged", nil)
	req.Header.Set("Authorization", bearerToken(t, []string{"admin"}))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
