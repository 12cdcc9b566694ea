// Package entitlement decides whether a user may send another chat turn.
package entitlement

import (
	"time"

	"github.com/wuwenbin0122/lumina/internal/models"
)

// TrialMessageLimit is the per-conversation message ceiling for users without an
// active subscription.
const TrialMessageLimit = 10

// CanSendTurn reports whether a new user turn is allowed in a conversation that
// currently holds messageCount messages. Active subscribers are never limited.
func CanSendTurn(sub *models.Subscription, messageCount int, now time.Time) bool {
	if sub.IsActive(now) {
		return true
	}
	return messageCount < TrialMessageLimit
}

// Evaluator binds CanSendTurn to a clock.
type Evaluator struct {
	now func() time.Time
}

func NewEvaluator(now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{now: now}
}

func (e *Evaluator) CanSendTurn(sub *models.Subscription, messageCount int) bool {
	return CanSendTurn(sub, messageCount, e.now())
}
