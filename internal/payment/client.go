// Package payment talks to a PayPal-style Orders API: create a remote order
// for an exact amount, then capture it once the buyer approves.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/safar/storefront-checkout/internal/checkout"
	"github.com/safar/storefront-checkout/internal/config"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	statusCompleted  = "COMPLETED"
	maxResponseBytes = 1 << 20

	// requestIDHeader makes the gateway replay the first response for a
	// repeated request instead of acting on it twice.
	requestIDHeader = "PayPal-Request-Id"
)

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	currency     string
	http         *http.Client
	logger       *slog.Logger
}

func NewClient(cfg config.GatewayConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		currency:     cfg.Currency,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnitRequest struct {
	Amount money `json:"amount"`
}

type createOrderRequest struct {
	Intent        string                `json:"intent"`
	PurchaseUnits []purchaseUnitRequest `json:"purchase_units"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount   *money `json:"amount"`
		Payments *struct {
			Captures []struct {
				ID                        string `json:"id"`
				Status                    string `json:"status"`
				Amount                    *money `json:"amount"`
				SellerReceivableBreakdown *struct {
					GrossAmount *money `json:"gross_amount"`
				} `json:"seller_receivable_breakdown"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// CreateRemoteOrder opens a remote order for amount in the configured currency.
func (c *Client) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal) (string, error) {
	const op = "create order"

	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnitRequest{{
			Amount: money{CurrencyCode: c.currency, Value: amount.StringFixed(2)},
		}},
	}

	var resp orderResponse
	if err := c.doJSON(ctx, op, token, "", "/v2/checkout/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &GatewayError{Op: op, Description: "gateway response did not include an order id"}
	}

	c.logger.Debug("remote order created", "provider_order_id", resp.ID, "status", resp.Status)
	return resp.ID, nil
}

// CaptureRemoteOrder captures an approved order and reports the amount the
// gateway actually settled.
func (c *Client) CaptureRemoteOrder(ctx context.Context, providerOrderID string) (*checkout.CaptureResult, error) {
	const op = "capture order"

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(providerOrderID) + "/capture"
	if err := c.doJSON(ctx, op, token, "capture-"+providerOrderID, path, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Status != statusCompleted {
		return nil, &GatewayError{Op: op, Description: fmt.Sprintf("payment was not completed (status %s)", resp.Status)}
	}

	amount, captureStatus := capturedAmount(&resp)
	if captureStatus != "" && captureStatus != statusCompleted {
		return nil, &GatewayError{Op: op, Description: fmt.Sprintf("payment capture was not completed (status %s)", captureStatus)}
	}
	if amount == nil {
		return nil, &GatewayError{Op: op, Description: "gateway response did not include a captured amount"}
	}
	if amount.CurrencyCode != "" && amount.CurrencyCode != c.currency {
		return nil, &GatewayError{Op: op, Description: fmt.Sprintf("captured currency %s does not match %s", amount.CurrencyCode, c.currency)}
	}

	value, err := decimal.NewFromString(amount.Value)
	if err != nil {
		return nil, &GatewayError{Op: op, Description: "gateway returned an unreadable captured amount", Err: err}
	}

	return &checkout.CaptureResult{
		ProviderOrderID: providerOrderID,
		Status:          resp.Status,
		Amount:          value,
		Currency:        c.currency,
	}, nil
}

// capturedAmount looks for the settled amount in the places gateway versions
// put it: the capture itself, its gross breakdown, then the purchase unit.
func capturedAmount(resp *orderResponse) (*money, string) {
	var status string
	for _, unit := range resp.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if status == "" {
				status = capture.Status
			}
			if capture.Amount != nil && capture.Amount.Value != "" {
				return capture.Amount, status
			}
			if b := capture.SellerReceivableBreakdown; b != nil && b.GrossAmount != nil && b.GrossAmount.Value != "" {
				return b.GrossAmount, status
			}
		}
	}
	for _, unit := range resp.PurchaseUnits {
		if unit.Amount != nil && unit.Amount.Value != "" {
			return unit.Amount, status
		}
	}
	return nil, status
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	const op = "access token"

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &GatewayError{Op: op, Err: err}
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp tokenResponse
	if err := c.do(req, op, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &GatewayError{Op: op, Description: "gateway did not issue an access token"}
	}
	return resp.AccessToken, nil
}

func (c *Client) doJSON(ctx context.Context, op, token, requestID, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}

	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Timeout: isTimeout(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := parseErrorBody(data)
		gwErr.Op = op
		gwErr.StatusCode = resp.StatusCode
		c.logger.Warn("gateway rejected request",
			"operation", op,
			"status", resp.StatusCode,
			"name", gwErr.Name,
			"debug_id", gwErr.DebugID,
		)
		return gwErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Description: "gateway returned an unreadable response", Err: err}
	}
	return nil
}

// parseErrorBody understands both the Orders API error shape and the OAuth one.
func parseErrorBody(data []byte) *GatewayError {
	var body struct {
		Name             string        `json:"name"`
		Message          string        `json:"message"`
		DebugID          string        `json:"debug_id"`
		Details          []IssueDetail `json:"details"`
		Error            string        `json:"error"`
		ErrorDescription string        `json:"error_description"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return &GatewayError{}
	}

	gwErr := &GatewayError{
		Name:        body.Name,
		Description: body.Message,
		DebugID:     body.DebugID,
		Details:     body.Details,
	}
	if gwErr.Name == "" {
		gwErr.Name = body.Error
	}
	if gwErr.Description == "" {
		gwErr.Description = body.ErrorDescription
	}
	if len(body.Details) > 0 && body.Details[0].Description != "" {
		gwErr.Description = strings.TrimSpace(gwErr.Description + " " + body.Details[0].Description)
	}
	return gwErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
