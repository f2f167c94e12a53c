package moderation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	modsvc "github.com/technically-fit/trust-engine/internal/moderation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var moderationCols = []string{
	"id", "item_type", "item_id", "reported_by", "report_reason", "priority",
	"status", "assigned_to", "content", "content_digest", "flags",
	"auto_flagged", "confidence_score", "decision", "decision_reason",
	"created_at", "assigned_at", "reviewed_at", "escalated_at",
}

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	queue := modsvc.NewQueue(repositories.NewModerationRepository(sqlx.NewDb(db, "sqlmock")))
	return NewHandler(queue), mock
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "mod-1")
		c.Next()
	})
	r.POST("/api/v1/moderation/items", h.Create)
	r.GET("/api/v1/moderation/items", h.List)
	r.GET("/api/v1/moderation/items/:id", h.Get)
	r.POST("/api/v1/moderation/items/:id/assign", h.Assign)
	r.POST("/api/v1/moderation/items/:id/review", h.Review)
	r.POST("/api/v1/moderation/items/:id/escalate", h.Escalate)
	r.POST("/api/v1/moderation/items/:id/appeal", h.Appeal)
	return r
}

func pendingItemRow(id string) *sqlmock.Rows {
	content := []byte(`{"trainer_message":{"sender_id":"t-1","recipient_id":"u-1","body":"hey","sent_at":"2026-08-01T10:00:00Z"}}`)
	return sqlmock.NewRows(moderationCols).
		AddRow(id, "trainer_message", "msg-1", "u-1", "spam", "medium",
			"pending", nil, content, nil, []byte(`["spam"]`),
			false, nil, nil, nil, time.Now().UTC(), nil, nil, nil)
}

func approvedItemRow(id string) *sqlmock.Rows {
	content := []byte(`{"trainer_message":{"sender_id":"t-1","recipient_id":"u-1","body":"hey","sent_at":"2026-08-01T10:00:00Z"}}`)
	reason := "looks fine"
	return sqlmock.NewRows(moderationCols).
		AddRow(id, "trainer_message", "msg-1", "u-1", "spam", "medium",
			"approved", "mod-2", content, nil, []byte(`["spam"]`),
			false, nil, "approve", reason, time.Now().UTC(), time.Now().UTC(), time.Now().UTC(), nil)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_UserReport(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectExec(`INSERT INTO moderation_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{
		"item_id": "report-1",
		"reported_by": "u-2",
		"report_reason": "abusive messages",
		"content": {"user_report": {"reporter_id": "u-2", "subject_id": "t-1", "description": "sent threats"}},
		"flags": ["harassment"]
	}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items", strings.NewReader(body))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	// harassment is a high-risk flag: the item must jump the queue
	if !strings.Contains(w.Body.String(), `"priority":"urgent"`) {
		t.Errorf("expected urgent priority: %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreate_ConfidenceWithoutAutoFlag(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{
		"item_id": "msg-1",
		"content": {"trainer_message": {"sender_id": "t-1", "recipient_id": "u-1", "body": "hi", "sent_at": "2026-08-01T10:00:00Z"}},
		"auto_flagged": false,
		"confidence_score": 0.8
	}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items", strings.NewReader(body))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "confidence_score") {
		t.Errorf("expected confidence_score in error: %s", w.Body.String())
	}
}

func TestCreate_NoContentVariant(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"item_id": "x-1", "content": {}}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items", strings.NewReader(body))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// List / Get
// ---------------------------------------------------------------------------

func TestList_FilterByStatus(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`FROM moderation_items`).WillReturnRows(pendingItemRow("item-1"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/moderation/items?status=pending", nil)
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "item-1") {
		t.Errorf("expected item-1 in response: %s", w.Body.String())
	}
}

func TestList_UnknownItemType(t *testing.T) {
	h, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/moderation/items?item_type=meme", nil)
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGet_NotFound(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`FROM moderation_items`).WillReturnRows(sqlmock.NewRows(moderationCols))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/moderation/items/missing", nil)
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func TestAssign_Success(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectExec(`UPDATE moderation_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM moderation_items`).WillReturnRows(pendingItemRow("item-1"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items/item-1/assign", nil)
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestReview_TerminalItemConflicts(t *testing.T) {
	h, mock := newTestHandler(t)

	// Guarded update loses; the re-read shows the item already approved.
	mock.ExpectExec(`UPDATE moderation_items`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM moderation_items`).WillReturnRows(approvedItemRow("item-1"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items/item-1/review",
		strings.NewReader(`{"decision": "reject"}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "approved") {
		t.Errorf("expected current status in error: %s", w.Body.String())
	}
}

func TestReview_UnknownDecision(t *testing.T) {
	h, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items/item-1/review",
		strings.NewReader(`{"decision": "shrug"}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

func TestEscalate_NotFound(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectExec(`UPDATE moderation_items`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM moderation_items`).WillReturnRows(sqlmock.NewRows(moderationCols))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items/missing/escalate", nil)
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Appeal
// ---------------------------------------------------------------------------

func TestAppeal_CreatesNewItem(t *testing.T) {
	h, mock := newTestHandler(t)

	// Load the original (terminal) item, then insert the appeal as a fresh
	// user_report; the original row is never updated.
	mock.ExpectQuery(`FROM moderation_items`).WillReturnRows(approvedItemRow("item-1"))
	mock.ExpectExec(`INSERT INTO moderation_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"reason": "decision was wrong", "evidence": "context screenshot"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items/item-1/appeal",
		strings.NewReader(body))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "user_report") {
		t.Errorf("appeal should be a user_report item: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "appeal") {
		t.Errorf("appeal flag missing: %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAppeal_MissingReason(t *testing.T) {
	h, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/moderation/items/item-1/appeal",
		strings.NewReader(`{"evidence": "x"}`))
	newTestRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}
