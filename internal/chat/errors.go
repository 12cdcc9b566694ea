package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput           = errors.New("chat: input is empty")
	ErrTurnInFlight         = errors.New("chat: a turn is already in flight")
	ErrEntitlementDenied    = errors.New("chat: trial message limit reached")
	ErrSessionClosed        = errors.New("chat: session closed")
	ErrConversationNotFound = errors.New("chat: conversation not found")
)

type FailureKind string

const (
	FailureValidation  FailureKind = "validation"
	FailureEntitlement FailureKind = "entitlement"
	FailureGeneration  FailureKind = "generation"
	FailurePersistence FailureKind = "persistence"
)

// Failure is what a turn reports to its caller. Title and Description are the
// short user-facing pair also published as a Notice.
type Failure struct {
	Kind        FailureKind
	Title       string
	Description string
	Err         error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Title, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Title)
}

func (f *Failure) Unwrap() error { return f.Err }

// Notice returns the user-facing form of f.
func (f *Failure) Notice() Notice {
	return Notice{Kind: f.Kind, Title: f.Title, Description: f.Description}
}

type Notice struct {
	Kind        FailureKind `json:"kind"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
}

// KindOf extracts the failure kind from err, or "" when err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

func validationFailure(err error) *Failure {
	return &Failure{Kind: FailureValidation, Title: "Invalid message", Description: "Type a message before sending.", Err: err}
}

func entitlementFailure() *Failure {
	return &Failure{
		Kind:        FailureEntitlement,
		Title:       "Trial limit reached",
		Description: "Upgrade to continue the conversation!",
		Err:         ErrEntitlementDenied,
	}
}

func persistenceFailure(title string, err error) *Failure {
	return &Failure{Kind: FailurePersistence, Title: title, Description: describe(err), Err: err}
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
