// Package auth - scopes.go defines permission scope constants for all trust
// engine resources and provides HasScope, HasAnyScope, and HasAllScopes
// helper functions for scope checking.
package auth

import (
	"errors"
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Audit event scopes
	ScopeEventsRead  Scope = "events:read"  // Query events, statistics, critical actions
	ScopeEventsWrite Scope = "events:write" // Append new audit events

	// Security alert scopes
	ScopeAlertsRead   Scope = "alerts:read"   // List alerts
	ScopeAlertsManage Scope = "alerts:manage" // Acknowledge alerts

	// Moderation queue scopes
	ScopeModerationRead   Scope = "moderation:read"   // List and inspect items
	ScopeModerationReview Scope = "moderation:review" // Assign, review, escalate, appeal

	// Anomaly detection scopes
	ScopeDetectionRun Scope = "detection:run" // Trigger on-demand scans

	// API key management scopes
	ScopeAPIKeysManage Scope = "api_keys:manage"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeEventsRead,
		ScopeEventsWrite,
		ScopeAlertsRead,
		ScopeAlertsManage,
		ScopeModerationRead,
		ScopeModerationReview,
		ScopeDetectionRun,
		ScopeAPIKeysManage,
		ScopeAdmin,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	validScopes := ValidScopes()

	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// HasScope checks if a user has a required scope
// Supports wildcard admin scope
func HasScope(userScopes []string, required Scope) bool {
	requiredStr := string(required)

	for _, scope := range userScopes {
		// Check for exact match
		if scope == requiredStr {
			return true
		}

		// Check for admin wildcard
		if scope == string(ScopeAdmin) {
			return true
		}

		// Write/manage/review permission implies the matching read permission
		if required == ScopeEventsRead && scope == string(ScopeEventsWrite) {
			return true
		}
		if required == ScopeAlertsRead && scope == string(ScopeAlertsManage) {
			return true
		}
		if required == ScopeModerationRead && scope == string(ScopeModerationReview) {
			return true
		}
	}

	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a user has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}

// GetDefaultScopes returns default scopes for a new API key
func GetDefaultScopes() []string {
	return []string{
		string(ScopeEventsWrite),
		string(ScopeEventsRead),
	}
}

// GetAdminScopes returns all scopes including admin
func GetAdminScopes() []string {
	scopes := make([]string, 0)
	for _, scope := range AllScopes() {
		scopes = append(scopes, string(scope))
	}
	return scopes
}

// ValidateScopeString validates a single scope string
func ValidateScopeString(scope string) error {
	validScopes := ValidScopes()
	if !validScopes[scope] {
		return errors.New("invalid scope")
	}
	return nil
}
