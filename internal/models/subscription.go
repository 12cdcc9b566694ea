package models

import (
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Subscription mirrors the billing record for a user. Whether it is active is
// always derived from Status, ExpiresAt and the current time.
type Subscription struct {
	UserID    string             `json:"user_id"`
	Plan      string             `json:"plan"`
	Status    SubscriptionStatus `json:"status"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// IsActive reports status ∈ {active, trialing} with no expiry or an expiry after now.
// A nil or malformed record is inactive.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil {
		return false
	}
	switch SubscriptionStatus(strings.ToLower(strings.TrimSpace(string(s.Status)))) {
	case SubscriptionActive, SubscriptionTrialing:
	default:
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// SubscriptionView is the read model handed to the presentation layer.
type SubscriptionView struct {
	Plan      string             `json:"plan"`
	Status    SubscriptionStatus `json:"status"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	IsActive  bool               `json:"is_active"`
}

// View evaluates the subscription at now.
func (s *Subscription) View(now time.Time) SubscriptionView {
	if s == nil {
		return SubscriptionView{IsActive: false}
	}
	return SubscriptionView{
		Plan:      s.Plan,
		Status:    s.Status,
		ExpiresAt: s.ExpiresAt,
		IsActive:  s.IsActive(now),
	}
}
