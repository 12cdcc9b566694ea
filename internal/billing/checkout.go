// Package billing calls the checkout and customer-portal endpoints of the
// payment collaborator and exposes the plan catalog.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/lumina/internal/utils"
)

var (
	ErrAuthRequired  = errors.New("billing: authentication required")
	ErrNotConfigured = errors.New("billing: endpoint not configured")
	ErrUnknownPrice  = errors.New("billing: unknown price id")
	ErrMissingURL    = errors.New("billing: response contained no url")
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// EndpointError is a non-2xx reply from a billing endpoint.
type EndpointError struct {
	StatusCode int
	Message    string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("billing endpoint error (%d): %s", e.StatusCode, e.Message)
}

type Client struct {
	checkoutEndpoint string
	portalEndpoint   string
	client           httpDoer
	logger           *zap.SugaredLogger
}

func NewClient(cfg utils.BillingConfig, logger *zap.SugaredLogger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		checkoutEndpoint: strings.TrimSpace(cfg.CheckoutEndpoint),
		portalEndpoint:   strings.TrimSpace(cfg.PortalEndpoint),
		client:           &http.Client{Timeout: timeout},
		logger:           utils.SugarOrNop(logger),
	}
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

type sessionResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// CreateCheckoutSession returns the redirect URL for purchasing priceID.
func (c *Client) CreateCheckoutSession(ctx context.Context, accessToken, priceID string) (string, error) {
	if _, ok := PlanByPriceID(priceID); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrice, priceID)
	}
	url, err := c.post(ctx, c.checkoutEndpoint, accessToken, checkoutRequest{PriceID: priceID}, "Failed to create checkout session")
	if err != nil {
		c.logger.Warnw("checkout session failed", "price_id", priceID, "error", err)
		return "", err
	}
	return url, nil
}

// CreatePortalSession returns the redirect URL of the customer portal.
func (c *Client) CreatePortalSession(ctx context.Context, accessToken string) (string, error) {
	url, err := c.post(ctx, c.portalEndpoint, accessToken, nil, "Failed to create portal session")
	if err != nil {
		c.logger.Warnw("portal session failed", "error", err)
		return "", err
	}
	return url, nil
}

func (c *Client) post(ctx context.Context, endpoint, accessToken string, payload any, fallback string) (string, error) {
	if strings.TrimSpace(accessToken) == "" {
		return "", ErrAuthRequired
	}
	if endpoint == "" {
		return "", ErrNotConfigured
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal billing payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create billing request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := c.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("call billing endpoint: %w", err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read billing response: %w", err)
	}

	var decoded sessionResponse
	decodeErr := json.Unmarshal(respBody, &decoded)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		message := fallback
		if decodeErr == nil && strings.TrimSpace(decoded.Error) != "" {
			message = strings.TrimSpace(decoded.Error)
		}
		return "", &EndpointError{StatusCode: response.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode billing response: %w", decodeErr)
	}
	if strings.TrimSpace(decoded.URL) == "" {
		return "", ErrMissingURL
	}
	return decoded.URL, nil
}
