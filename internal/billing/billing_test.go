package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/lumina/internal/utils"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(utils.BillingConfig{
		CheckoutEndpoint: srv.URL + "/checkout",
		PortalEndpoint:   srv.URL + "/portal",
		HTTPTimeout:      5 * time.Second,
	}, nil)
}

func TestCreateCheckoutSessionPostsPriceWithBearer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout", r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"priceId": "price_1S1bErFTONXgzBpNl7ZXkWsK"}, body)
		_, _ = w.Write([]byte(`{"url":"https://checkout.example.com/s/1"}`))
	})

	url, err := client.CreateCheckoutSession(context.Background(), "token-123", "price_1S1bErFTONXgzBpNl7ZXkWsK")
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example.com/s/1", url)
}

func TestCreatePortalSessionSendsNoBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/portal", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Empty(t, raw)
		_, _ = w.Write([]byte(`{"url":"https://portal.example.com/p/1"}`))
	})

	url, err := client.CreatePortalSession(context.Background(), "token-123")
	require.NoError(t, err)
	require.Equal(t, "https://portal.example.com/p/1", url)
}

func TestBillingFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/checkout":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"No such price"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream down`))
		}
	})

	_, err := client.CreateCheckoutSession(context.Background(), "", "price_1S1bErFTONXgzBpNl7ZXkWsK")
	require.ErrorIs(t, err, ErrAuthRequired)

	_, err = client.CreateCheckoutSession(context.Background(), "token", "price_bogus")
	require.ErrorIs(t, err, ErrUnknownPrice)
	require.Zero(t, calls)

	_, err = client.CreateCheckoutSession(context.Background(), "token", "price_1S1bFiFTONXgzBpNVhvbqsj3")
	var endpointErr *EndpointError
	require.True(t, errors.As(err, &endpointErr))
	require.Equal(t, http.StatusBadRequest, endpointErr.StatusCode)
	require.Equal(t, "No such price", endpointErr.Message)

	_, err = client.CreatePortalSession(context.Background(), "token")
	require.True(t, errors.As(err, &endpointErr))
	require.Equal(t, "Failed to create portal session", endpointErr.Message)

	unconfigured := NewClient(utils.BillingConfig{}, nil)
	_, err = unconfigured.CreatePortalSession(context.Background(), "token")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestPlanCatalog(t *testing.T) {
	plans := Plans()
	ids := make([]string, 0, len(plans))
	recommended := 0
	for _, p := range plans {
		ids = append(ids, p.ID)
		if p.Recommended {
			recommended++
		}
	}
	require.Equal(t, []string{"starter", "pro", "creator", "power", "enterprise"}, ids)
	require.Equal(t, 1, recommended)

	plan, ok := PlanByPriceID("price_1S1bG5FTONXgzBpNDdoEhET5")
	require.True(t, ok)
	require.Equal(t, "power", plan.ID)
	require.EqualValues(t, 1500000, plan.Tokens)

	_, ok = PlanByPriceID("")
	require.False(t, ok)

	// Callers get copies.
	plans[0].Features[0] = "mutated"
	again, _ := PlanByID("starter")
	require.Equal(t, "25,000 tokens/month", again.Features[0])
}
