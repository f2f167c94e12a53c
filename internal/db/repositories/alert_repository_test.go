package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/technically-fit/trust-engine/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var alertCols = []string{
	"id", "source_event_id", "alert_level", "summary", "acknowledged",
	"acknowledged_by", "resolution", "created_at", "acknowledged_at", "notified_at",
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newAlertRepo(t *testing.T) (*AlertRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAlertRepository(db), mock
}

func sampleAlertRow() *sqlmock.Rows {
	return sqlmock.NewRows(alertCols).
		AddRow("alert-1", "ev-1", "critical", "critical event: delete_member_data",
			false, nil, nil, time.Now(), nil, nil)
}

// ---------------------------------------------------------------------------
// CreateAlert
// ---------------------------------------------------------------------------

func TestCreateAlert_Inserted(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("INSERT INTO security_alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert := &models.SecurityAlert{
		SourceEventID: "ev-1",
		AlertLevel:    models.AlertLevelCritical,
		Summary:       "critical event: delete_member_data",
	}
	inserted, err := repo.CreateAlert(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true")
	}
	if alert.ID == "" {
		t.Error("expected generated ID, got empty string")
	}
}

func TestCreateAlert_DuplicateSourceEventIsNoop(t *testing.T) {
	repo, mock := newAlertRepo(t)
	// ON CONFLICT DO NOTHING reports zero rows affected for the duplicate.
	mock.ExpectExec("INSERT INTO security_alerts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	alert := &models.SecurityAlert{
		SourceEventID: "ev-1",
		AlertLevel:    models.AlertLevelHigh,
		Summary:       "high severity event",
	}
	inserted, err := repo.CreateAlert(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Error("inserted = true, want false")
	}
}

func TestCreateAlert_DBError(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("INSERT INTO security_alerts").
		WillReturnError(errDB)

	_, err := repo.CreateAlert(context.Background(), &models.SecurityAlert{SourceEventID: "ev-1"})
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Acknowledge
// ---------------------------------------------------------------------------

func TestAcknowledge_Winner(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("UPDATE security_alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.Acknowledge(context.Background(), "alert-1", "op-1", strPtr("false positive"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !won {
		t.Error("won = false, want true")
	}
}

func TestAcknowledge_AlreadyAcknowledged(t *testing.T) {
	repo, mock := newAlertRepo(t)
	// The guarded UPDATE matches no rows when acknowledged is already true.
	mock.ExpectExec("UPDATE security_alerts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.Acknowledge(context.Background(), "alert-1", "op-2", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if won {
		t.Error("won = true, want false")
	}
}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

func TestListUnacknowledged(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectQuery("SELECT id.*FROM security_alerts.*acknowledged").
		WillReturnRows(sampleAlertRow())

	alerts, err := repo.ListUnacknowledged(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(alerts))
	}
	if alerts[0].Acknowledged {
		t.Error("Acknowledged = true, want false")
	}
}

func TestGetAlert_NotFound(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectQuery("SELECT id.*FROM security_alerts.*WHERE id").
		WillReturnRows(sqlmock.NewRows(alertCols))

	alert, err := repo.GetAlert(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Errorf("expected nil, got %v", alert)
	}
}

// ---------------------------------------------------------------------------
// Notifier support
// ---------------------------------------------------------------------------

func TestFindUnnotifiedCritical(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectQuery("SELECT id.*FROM security_alerts.*notified_at IS NULL").
		WillReturnRows(sampleAlertRow())

	alerts, err := repo.FindUnnotifiedCritical(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("len(alerts) = %d, want 1", len(alerts))
	}
}

func TestMarkNotified(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("UPDATE security_alerts SET notified_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkNotified(context.Background(), "alert-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
