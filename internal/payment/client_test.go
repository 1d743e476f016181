package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/safar/storefront-checkout/internal/checkout"
	"github.com/safar/storefront-checkout/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu             sync.Mutex
	t              *testing.T
	createStatus   int
	createBody     string
	captureStatus  int
	captureBody    string
	tokenStatus    int
	lastCreate     createOrderRequest
	capturedPath   string
	captureReqIDs  []string
	createCalls    int
	captureLatency time.Duration
}

func (f *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" || f.tokenStatus != 0 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid_client","error_description":"Client Authentication failed"}`)
			return
		}
		assert.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "client_credentials", r.PostForm.Get("grant_type"))
		_, _ = io.WriteString(w, `{"access_token":"tok-123","token_type":"Bearer","expires_in":32400}`)
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer tok-123", r.Header.Get("Authorization"))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.createCalls++
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastCreate))
		w.WriteHeader(f.createStatus)
		_, _ = io.WriteString(w, f.createBody)
	})
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.capturedPath = r.PathValue("id")
		f.captureReqIDs = append(f.captureReqIDs, r.Header.Get("PayPal-Request-Id"))
		f.mu.Unlock()
		if f.captureLatency > 0 {
			time.Sleep(f.captureLatency)
		}
		w.WriteHeader(f.captureStatus)
		_, _ = io.WriteString(w, f.captureBody)
	})
	return mux
}

func newTestClient(t *testing.T, gw *fakeGateway, timeout time.Duration) *Client {
	gw.t = t
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)

	return NewClient(config.GatewayConfig{
		BaseURL:      srv.URL + "/",
		ClientID:     "client",
		ClientSecret: "secret",
		Currency:     "USD",
		Timeout:      timeout,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateRemoteOrder_Success(t *testing.T) {
	gw := &fakeGateway{
		createStatus: http.StatusCreated,
		createBody:   `{"id":"5O190127TN364715T","status":"CREATED"}`,
	}
	client := newTestClient(t, gw, 5*time.Second)

	id, err := client.CreateRemoteOrder(context.Background(), decimal.RequireFromString("20"))
	require.NoError(t, err)

	assert.Equal(t, "5O190127TN364715T", id)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, "CAPTURE", gw.lastCreate.Intent)
	require.Len(t, gw.lastCreate.PurchaseUnits, 1)
	assert.Equal(t, money{CurrencyCode: "USD", Value: "20.00"}, gw.lastCreate.PurchaseUnits[0].Amount)
}

func TestCreateRemoteOrder_MissingID(t *testing.T) {
	gw := &fakeGateway{createStatus: http.StatusCreated, createBody: `{"status":"CREATED"}`}
	client := newTestClient(t, gw, 5*time.Second)

	_, err := client.CreateRemoteOrder(context.Background(), decimal.RequireFromString("20.00"))
	require.Error(t, err)
	assert.ErrorIs(t, err, checkout.ErrGateway)
}

func TestCreateRemoteOrder_GatewayRejects(t *testing.T) {
	gw := &fakeGateway{
		createStatus: http.StatusUnprocessableEntity,
		createBody: `{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed.",
			"debug_id":"abc123","details":[{"issue":"AMOUNT_MISMATCH","description":"Amount is invalid."}]}`,
	}
	client := newTestClient(t, gw, 5*time.Second)

	_, err := client.CreateRemoteOrder(context.Background(), decimal.RequireFromString("20.00"))

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.ErrorIs(t, err, checkout.ErrGateway)
	assert.Equal(t, http.StatusUnprocessableEntity, gwErr.StatusCode)
	assert.Equal(t, "UNPROCESSABLE_ENTITY", gwErr.Name)
	assert.Equal(t, "abc123", gwErr.DebugID)
	assert.True(t, gwErr.ClientFault())
	assert.Contains(t, gwErr.PublicMessage(), "Amount is invalid.")
	require.Len(t, gwErr.Details, 1)
	assert.Equal(t, "AMOUNT_MISMATCH", gwErr.Details[0].Issue)
}

func TestCreateRemoteOrder_TokenRejected(t *testing.T) {
	gw := &fakeGateway{tokenStatus: http.StatusUnauthorized}
	client := newTestClient(t, gw, 5*time.Second)

	_, err := client.CreateRemoteOrder(context.Background(), decimal.RequireFromString("20.00"))

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "access token", gwErr.Op)
	assert.Equal(t, "invalid_client", gwErr.Name)
	assert.Equal(t, "Client Authentication failed", gwErr.Description)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Zero(t, gw.createCalls)
}

func TestCaptureRemoteOrder_AmountLocations(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "capture amount",
			body: `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
				{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"20.00"}}]}}]}`,
			want: "20.00",
		},
		{
			name: "gross breakdown",
			body: `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
				{"id":"CAP-1","status":"COMPLETED","seller_receivable_breakdown":{"gross_amount":{"currency_code":"USD","value":"35.10"}}}]}}]}`,
			want: "35.10",
		},
		{
			name: "purchase unit amount",
			body: `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"amount":{"currency_code":"USD","value":"7.25"}}]}`,
			want: "7.25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{captureStatus: http.StatusCreated, captureBody: tt.body}
			client := newTestClient(t, gw, 5*time.Second)

			result, err := client.CaptureRemoteOrder(context.Background(), "ORDER-1")
			require.NoError(t, err)

			gw.mu.Lock()
			assert.Equal(t, "ORDER-1", gw.capturedPath)
			gw.mu.Unlock()
			assert.Equal(t, "COMPLETED", result.Status)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(result.Amount), "got %s", result.Amount)
		})
	}
}

func TestCaptureRemoteOrder_NotCompleted(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"order pending approval", `{"id":"ORDER-1","status":"PAYER_ACTION_REQUIRED"}`},
		{"capture pending", `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
			{"id":"CAP-1","status":"PENDING","amount":{"currency_code":"USD","value":"20.00"}}]}}]}`},
		{"no amount", `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[]}`},
		{"other currency", `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
			{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"EUR","value":"20.00"}}]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{captureStatus: http.StatusCreated, captureBody: tt.body}
			client := newTestClient(t, gw, 5*time.Second)

			_, err := client.CaptureRemoteOrder(context.Background(), "ORDER-1")
			assert.ErrorIs(t, err, checkout.ErrGateway)
		})
	}
}

func TestCaptureRemoteOrder_AlreadyCaptured(t *testing.T) {
	gw := &fakeGateway{
		captureStatus: http.StatusUnprocessableEntity,
		captureBody:   `{"name":"UNPROCESSABLE_ENTITY","message":"Order already captured.","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`,
	}
	client := newTestClient(t, gw, 5*time.Second)

	_, err := client.CaptureRemoteOrder(context.Background(), "ORDER-1")

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "Order already captured.", gwErr.PublicMessage())
}

func TestCaptureRemoteOrder_RetriesShareRequestID(t *testing.T) {
	gw := &fakeGateway{
		captureStatus: http.StatusCreated,
		captureBody: `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[
			{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"20.00"}}]}}]}`,
	}
	client := newTestClient(t, gw, 5*time.Second)

	for range 2 {
		_, err := client.CaptureRemoteOrder(context.Background(), "ORDER-1")
		require.NoError(t, err)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, []string{"capture-ORDER-1", "capture-ORDER-1"}, gw.captureReqIDs)
}

func TestCaptureRemoteOrder_Timeout(t *testing.T) {
	gw := &fakeGateway{
		captureStatus:  http.StatusCreated,
		captureBody:    `{"id":"ORDER-1","status":"COMPLETED"}`,
		captureLatency: 300 * time.Millisecond,
	}
	client := newTestClient(t, gw, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.CaptureRemoteOrder(ctx, "ORDER-1")

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, gwErr.Timeout)
	assert.False(t, gwErr.ClientFault())
	assert.True(t, errors.Is(err, checkout.ErrGateway))
}
