// Package detection implements the anomaly detector: a stateless rule
// engine over the audit trail. A scan loads one window of events and
// evaluates a fixed rule set against it; findings are pure outputs that the
// caller decides whether to materialize into alerts.
package detection

import "time"

// Policy holds the detector thresholds. The defaults are operational
// starting points carried over from production tuning, not hard business
// truths — deployments adjust them through configuration.
type Policy struct {
	// FailedLoginThreshold is the minimum count of failed authentication
	// events per actor that raises multiple_failed_logins.
	FailedLoginThreshold int

	// OffHoursThreshold is the minimum count of events outside
	// [DayStartHour, DayEndHour] per actor that raises unusual_access_hours.
	OffHoursThreshold int
	// DayStartHour and DayEndHour bound the normal access day (local time,
	// inclusive). Events at hour < DayStartHour or > DayEndHour are off-hours.
	DayStartHour int
	DayEndHour   int

	// PermissionChangeThreshold is the minimum count of permission/role
	// events per actor that raises rapid_permission_changes.
	PermissionChangeThreshold int

	// FinancialAccessThreshold is the minimum count of financial events per
	// actor that raises excessive_financial_access.
	FinancialAccessThreshold int

	// DistinctIPThreshold is the minimum number of distinct source IPs per
	// actor that raises multiple_ips.
	DistinctIPThreshold int

	// RapidSequenceCount is the minimum run length of same-action events,
	// and RapidSequenceMedianGap the maximum median gap between them, that
	// together raise rapid_sequence.
	RapidSequenceCount     int
	RapidSequenceMedianGap time.Duration

	// RateLimitPerMinute is the per-actor-per-action events/minute count
	// above which (strictly) rate_limit_exceeded fires.
	RateLimitPerMinute int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		FailedLoginThreshold:      5,
		OffHoursThreshold:         3,
		DayStartHour:              6,
		DayEndHour:                22,
		PermissionChangeThreshold: 3,
		FinancialAccessThreshold:  20,
		DistinctIPThreshold:       4,
		RapidSequenceCount:        5,
		RapidSequenceMedianGap:    3 * time.Second,
		RateLimitPerMinute:        10,
	}
}
