package payment

import (
	"fmt"
	"strings"

	"github.com/safar/storefront-checkout/internal/checkout"
)

// GatewayError describes a failed gateway call. Description is the gateway's
// own human-readable message and is safe to show to the client.
type GatewayError struct {
	Op          string
	StatusCode  int
	Name        string
	Description string
	DebugID     string
	Details     []IssueDetail
	Timeout     bool
	Err         error
}

type IssueDetail struct {
	Field       string `json:"field,omitempty"`
	Issue       string `json:"issue"`
	Description string `json:"description,omitempty"`
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " %s", e.Name)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{checkout.ErrGateway, e.Err}
	}
	return []error{checkout.ErrGateway}
}

// ClientFault reports whether the gateway rejected the request itself, as
// opposed to failing or being unreachable.
func (e *GatewayError) ClientFault() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// PublicMessage is the text shown to the client.
func (e *GatewayError) PublicMessage() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Timeout:
		return "payment gateway timed out"
	default:
		return "payment gateway request failed"
	}
}
