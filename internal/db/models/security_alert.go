package models

import "time"

// AlertLevel is the severity attached to a security alert. It mirrors the
// severity of the event or finding that raised it. Alerts are only raised
// for high/critical sources today, but the level keeps the full scale so an
// escalation path can reuse it.
type AlertLevel string

const (
	AlertLevelLow      AlertLevel = "low"
	AlertLevelMedium   AlertLevel = "medium"
	AlertLevelHigh     AlertLevel = "high"
	AlertLevelCritical AlertLevel = "critical"
)

// SecurityAlert is raised automatically for high/critical audit events and
// for critical anomaly findings. Alerts never expire; they stay open until a
// human acknowledges them.
type SecurityAlert struct {
	ID             string     `json:"id"`
	SourceEventID  string     `json:"source_event_id"` // Audit event that triggered the alert; unique per alert
	AlertLevel     AlertLevel `json:"alert_level"`
	Summary        string     `json:"summary"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	Resolution     *string    `json:"resolution,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	NotifiedAt     *time.Time `json:"-"` // Set once the notifier job has emailed about this alert
}
