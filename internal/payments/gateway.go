package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status is the normalised outcome of a payment verification.
type Status string

const (
	// StatusPending means the gateway has not settled the payment yet.
	StatusPending Status = "pending"
	// StatusSuccess means the gateway confirmed the charge.
	StatusSuccess Status = "success"
	// StatusFailed means the gateway reports a definitive failure.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// LineItem is one itemised entry forwarded in the initialisation metadata.
type LineItem struct {
	CartID    string `json:"cartId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unitPrice"`
	Amount    int    `json:"amount"`
}

// Metadata accompanies the charge so the gateway can reconcile it with an order.
type Metadata struct {
	OrderID  string     `json:"orderId"`
	UserID   string     `json:"userId"`
	UserName string     `json:"userName"`
	Items    []LineItem `json:"items"`
}

// InitializeRequest is the payload sent to start a card payment.
type InitializeRequest struct {
	Email       string   `json:"email"`
	Amount      int      `json:"amount"`
	Currency    string   `json:"currency,omitempty"`
	CallbackURL string   `json:"callbackUrl,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// Initialization is returned by a successful initialisation.
type Initialization struct {
	Provider         string
	AuthorizationURL string
	Reference        string
	AccessCode       string
}

// Verification is the gateway's view of a payment reference.
type Verification struct {
	Provider  string
	Reference string
	Status    Status
	Amount    int
	Currency  string
	OrderID   string
	UserID    string
	Message   string
	PaidAt    *time.Time
}

// Gateway is implemented by every card payment backend.
type Gateway interface {
	InitializePayment(ctx context.Context, req InitializeRequest) (Initialization, error)
	VerifyPayment(ctx context.Context, reference string) (Verification, error)
}

// GatewayError is a response from the gateway that was not a success: a non-2xx status or an
// envelope with success=false. Transport and decoding failures are returned as plain errors instead.
type GatewayError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("payments %s: gateway returned %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payments %s: %s", e.Provider, e.Message)
}

// Temporary reports whether the gateway failed to answer rather than rejected the request: a 5xx,
// 429 or 408 status. The state of the payment is unknown after a temporary error.
func (e *GatewayError) Temporary() bool {
	if e == nil {
		return false
	}
	switch {
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return false
}

// AsGatewayError extracts a GatewayError from err.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// ParseStatus maps gateway specific status strings onto Status.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "succeeded", "paid", "complete", "completed":
		return StatusSuccess
	case "failed", "failure", "abandoned", "reversed", "declined", "cancelled", "canceled", "expired":
		return StatusFailed
	default:
		return StatusPending
	}
}
