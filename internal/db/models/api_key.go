package models

import "time"

// APIKey is a long-lived credential for machine callers (content-safety
// scanners, report intake services, paging integrations). Only the bcrypt
// hash of the full key is stored; the plaintext prefix exists solely to
// narrow the candidate set before the bcrypt comparison.
type APIKey struct {
	ID         string
	Name       string     // Friendly name (e.g., "content-scanner-prod")
	KeyHash    string     // Bcrypt hash of the full key
	KeyPrefix  string     // First 10 chars for lookup/display (e.g., "tse_abc123")
	Scopes     []string   // JSONB array: ["events:write", "moderation:read"]
	ExpiresAt  *time.Time // Optional expiration
	LastUsedAt *time.Time // Track last usage
	CreatedAt  time.Time
}
