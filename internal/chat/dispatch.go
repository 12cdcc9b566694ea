package chat

import "strings"

// ImaginePrefix routes a turn to image generation. Matching is case-sensitive
// and requires exactly one trailing space.
const ImaginePrefix = "/imagine "

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Request is a parsed user turn. Everything downstream of ParseInput switches
// on Kind and never looks at the prefix again.
type Request struct {
	Kind   Kind
	Prompt string
}

// ParseInput resolves the generation mode for an already-trimmed input.
func ParseInput(input string) Request {
	if rest, ok := strings.CutPrefix(input, ImaginePrefix); ok {
		return Request{Kind: KindImage, Prompt: rest}
	}
	return Request{Kind: KindText, Prompt: input}
}
