package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/safar/storefront-checkout/internal/checkout"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Message is the payload accepted by the mail service.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MailNotifier sends an order confirmation to the customer and, when
// configured, an order alert to the store operator.
type MailNotifier struct {
	endpoint      string
	operatorEmail string
	client        *http.Client
}

func NewMailNotifier(serviceURL, operatorEmail string) *MailNotifier {
	return &MailNotifier{
		endpoint:      strings.TrimRight(serviceURL, "/") + "/send",
		operatorEmail: operatorEmail,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (m *MailNotifier) Name() string { return "mail" }

func (m *MailNotifier) Notify(ctx context.Context, event checkout.OrderSettledEvent) error {
	var messages []Message
	if event.CustomerEmail != "" {
		messages = append(messages, customerMessage(event))
	}
	if m.operatorEmail != "" {
		messages = append(messages, operatorMessage(m.operatorEmail, event))
	}

	for _, msg := range messages {
		if err := m.send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *MailNotifier) send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send mail: mail service returned %d", resp.StatusCode)
	}
	return nil
}

func customerMessage(event checkout.OrderSettledEvent) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThank you for your order %s.\n\n", event.CustomerName, event.OrderID)
	writeSummary(&b, event)
	return Message{
		To:      event.CustomerEmail,
		Subject: fmt.Sprintf("Order confirmation %s", event.OrderID),
		Body:    b.String(),
	}
}

func operatorMessage(to string, event checkout.OrderSettledEvent) Message {
	var b strings.Builder
	customer := "registered customer"
	if event.Guest {
		customer = "guest"
	}
	fmt.Fprintf(&b, "New order %s from %s %s <%s>.\nPayment reference: %s\n\n",
		event.OrderID, customer, event.CustomerName, event.CustomerEmail, event.ProviderOrderID)
	writeSummary(&b, event)
	return Message{
		To:      to,
		Subject: fmt.Sprintf("New order %s", event.OrderID),
		Body:    b.String(),
	}
}

func writeSummary(b *strings.Builder, event checkout.OrderSettledEvent) {
	for _, item := range event.Items {
		fmt.Fprintf(b, "  %d x %s @ %s\n", item.Quantity, item.ProductID, item.UnitPrice.StringFixed(2))
	}
	fmt.Fprintf(b, "\nShipping (%s): %s\nTotal: %s\n",
		event.ShippingMethod, event.ShippingCost.StringFixed(2), event.Total.StringFixed(2))
}
