package completion

import "fmt"

type Operation string

const (
	OpText  Operation = "text"
	OpImage Operation = "image"
)

const (
	textFailureMessage  = "Failed to get AI response. Please try again."
	imageFailureMessage = "Failed to generate image. Please try again."
)

// GenerationFailure is returned by every gateway operation that did not yield a
// usable result. Message is safe to show to a user; Err keeps the provider detail.
type GenerationFailure struct {
	Op         Operation
	StatusCode int
	Message    string
	Err        error
}

func (f *GenerationFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("completion %s: %s", f.Op, f.Message)
	}
	return fmt.Sprintf("completion %s: %s: %v", f.Op, f.Message, f.Err)
}

func (f *GenerationFailure) Unwrap() error { return f.Err }

func newFailure(op Operation, status int, err error) *GenerationFailure {
	msg := textFailureMessage
	if op == OpImage {
		msg = imageFailureMessage
	}
	return &GenerationFailure{Op: op, StatusCode: status, Message: msg, Err: err}
}
