package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/technically-fit/trust-engine/internal/audit"
	"github.com/technically-fit/trust-engine/internal/config"
	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
)

// captureShipper collects shipped audit events via a buffered channel.
type captureShipper struct {
	ch chan *models.AuditEvent
}

func newCaptureShipper(buf int) *captureShipper {
	return &captureShipper{ch: make(chan *models.AuditEvent, buf)}
}

func (s *captureShipper) Ship(_ context.Context, e *models.AuditEvent) error {
	s.ch <- e
	return nil
}

func (s *captureShipper) Close() error { return nil }

// waitForEvent blocks until an event arrives or the timeout fires.
func (s *captureShipper) waitForEvent(t *testing.T, timeout time.Duration) *models.AuditEvent {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for audit event")
		return nil
	}
}

// newCaptureRecorder builds a Recorder whose repository INSERT always
// succeeds and whose shipper is the capture channel. The async append path
// makes exact expectation counting unreliable, so the mock accepts any
// number of inserts.
func newCaptureRecorder(t *testing.T, cs *captureShipper) *audit.Recorder {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 8; i++ {
		mock.ExpectExec(`INSERT INTO audit_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	return audit.NewRecorder(repositories.NewAuditRepository(db), nil, cs)
}

// ---------------------------------------------------------------------------
// AuditCaptureMiddleware — early-exit / skip paths
// ---------------------------------------------------------------------------

func TestAuditCapture_OptionsSkipped(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), nil))
	r.OPTIONS("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/", nil)
	r.ServeHTTP(w, req)

	select {
	case <-cs.ch:
		t.Error("event recorded for OPTIONS request, want none")
	case <-time.After(100 * time.Millisecond):
		// good — nothing captured
	}
}

func TestAuditCapture_GetSkippedWithNilConfig(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)

	select {
	case <-cs.ch:
		t.Error("event recorded for GET with nil config, want none")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAuditCapture_FailedPostSkippedWithNilConfig(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), nil))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	r.ServeHTTP(w, req)

	select {
	case <-cs.ch:
		t.Error("event recorded for failed POST with nil config, want none")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAuditCapture_EventAppendExempt(t *testing.T) {
	// POST /api/v1/events must never be captured: the appended event is
	// itself the audit record.
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), nil))
	r.POST("/api/v1/events", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/events", nil)
	r.ServeHTTP(w, req)

	select {
	case <-cs.ch:
		t.Error("event append endpoint was captured, want exemption")
	case <-time.After(100 * time.Millisecond):
	}
}

// ---------------------------------------------------------------------------
// AuditCaptureMiddleware — capture path
// ---------------------------------------------------------------------------

func TestAuditCapture_SuccessfulWriteRecorded(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), nil))
	r.POST("/api/v1/moderation/items", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)

	event := cs.waitForEvent(t, 500*time.Millisecond)
	if event.Resource != "moderation_items" {
		t.Errorf("Resource = %q, want moderation_items", event.Resource)
	}
	if event.Category != models.CategoryContentModeration {
		t.Errorf("Category = %q, want content_moderation", event.Category)
	}
	if event.Outcome != models.OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", event.Outcome)
	}
	if event.Action != "POST /api/v1/moderation/items" {
		t.Errorf("Action = %q, want POST /api/v1/moderation/items", event.Action)
	}
}

func TestAuditCapture_ReadRecordedWhenConfigured(t *testing.T) {
	cs := newCaptureShipper(1)
	cfg := &config.AuditConfig{LogReadOperations: true}
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), cfg))
	r.GET("/api/v1/alerts/unacknowledged", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/alerts/unacknowledged", nil)
	r.ServeHTTP(w, req)

	event := cs.waitForEvent(t, 500*time.Millisecond)
	if event.Resource != "security_alerts" {
		t.Errorf("Resource = %q, want security_alerts", event.Resource)
	}
	if event.Severity != models.SeverityLow {
		t.Errorf("Severity = %q, want low", event.Severity)
	}
}

func TestAuditCapture_FailureRecordedWhenConfigured(t *testing.T) {
	cs := newCaptureShipper(1)
	cfg := &config.AuditConfig{LogFailedRequests: true}
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), cfg))
	r.POST("/api/v1/moderation/items/:id/review", func(c *gin.Context) { c.Status(http.StatusConflict) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items/abc/review", nil)
	r.ServeHTTP(w, req)

	event := cs.waitForEvent(t, 500*time.Millisecond)
	if event.Outcome != models.OutcomeFailure {
		t.Errorf("Outcome = %q, want failure", event.Outcome)
	}
	if event.ErrorMessage == nil {
		t.Error("ErrorMessage is nil, want set for failed request")
	}
	if event.Severity != models.SeverityMedium {
		t.Errorf("Severity = %q, want medium for failed mutation", event.Severity)
	}
}

func TestAuditCapture_ContextValuesExtracted(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "user-42")
		c.Set("auth_method", "api_key")
		c.Next()
	})
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), nil))
	r.POST("/api/v1/detection/scan", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/detection/scan", nil)
	r.ServeHTTP(w, req)

	event := cs.waitForEvent(t, 500*time.Millisecond)
	if event.ActorID != "user-42" {
		t.Errorf("ActorID = %q, want user-42", event.ActorID)
	}
	if event.Metadata["auth_method"] != "api_key" {
		t.Errorf("metadata auth_method = %v, want api_key", event.Metadata["auth_method"])
	}
	if event.Resource != "anomaly_scans" {
		t.Errorf("Resource = %q, want anomaly_scans", event.Resource)
	}
}

func TestAuditCapture_UnauthenticatedFallsBackToSystemActor(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditCaptureMiddleware(newCaptureRecorder(t, cs), nil))
	r.POST("/api/v1/moderation/items", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items", nil)
	r.ServeHTTP(w, req)

	event := cs.waitForEvent(t, 500*time.Millisecond)
	if event.ActorID != models.SystemActorID {
		t.Errorf("ActorID = %q, want %q", event.ActorID, models.SystemActorID)
	}
}

// ---------------------------------------------------------------------------
// path classification helpers
// ---------------------------------------------------------------------------

func TestResourceForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/moderation/items", "moderation_items"},
		{"/api/v1/alerts/abc/acknowledge", "security_alerts"},
		{"/api/v1/detection/scan", "anomaly_scans"},
		{"/api/v1/apikeys", "api_keys"},
		{"/api/v1/events/statistics", "audit_events"},
		{"/healthz", "api"},
	}
	for _, tt := range tests {
		if got := resourceForPath(tt.path); got != tt.want {
			t.Errorf("resourceForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCategoryForPath(t *testing.T) {
	tests := []struct {
		path string
		want models.Category
	}{
		{"/api/v1/moderation/items/1/appeal", models.CategoryContentModeration},
		{"/api/v1/apikeys", models.CategorySystemConfig},
		{"/api/v1/events", models.CategoryDataAccess},
		{"/api/v1/alerts/unacknowledged", models.CategoryDataAccess},
	}
	for _, tt := range tests {
		if got := categoryForPath(tt.path); got != tt.want {
			t.Errorf("categoryForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
