package completion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type providerAPIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type providerErrorEnvelope struct {
	Error *providerAPIError `json:"error,omitempty"`
}

func newHTTPClient(d time.Duration) *http.Client {
	if d <= 0 {
		d = defaultHTTPTimeout
	}
	return &http.Client{Timeout: d}
}

func decodeProviderError(body []byte) *providerAPIError {
	if len(body) == 0 {
		return nil
	}

	var envelope providerErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	if envelope.Error == nil {
		return nil
	}

	envelope.Error.Message = strings.TrimSpace(envelope.Error.Message)
	return envelope.Error
}

// describeStatus renders a non-2xx provider reply for logs.
func describeStatus(statusCode int, body []byte) string {
	if apiErr := decodeProviderError(body); apiErr != nil {
		switch {
		case apiErr.Code != "" && apiErr.Message != "":
			return fmt.Sprintf("openai api error (%d, %s): %s", statusCode, apiErr.Code, apiErr.Message)
		case apiErr.Message != "":
			return fmt.Sprintf("openai api error (%d): %s", statusCode, apiErr.Message)
		case apiErr.Code != "":
			return fmt.Sprintf("openai api error (%d, %s)", statusCode, apiErr.Code)
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	return fmt.Sprintf("openai api error (%d): %s", statusCode, snippet)
}
