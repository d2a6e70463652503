package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tourney-registry/internal/models"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// VerificationResult is the normalized answer to "was this paid?". It is consumed
// once and never persisted except as an audit row.
type VerificationResult struct {
	Status    Status
	Reference string
	Amount    int64
	// PayerEmail is the contact email the provider holds for the payment,
	// when it keeps one. Empty means the provider cannot say.
	PayerEmail string
	RawPayload []byte
	// Err classifies a failed result (*errs.Error); nil otherwise.
	Err error
}

// PaymentRequest is what every gateway needs to start a payment.
type PaymentRequest struct {
	Registration models.RegisterCommand
	Amount       int64
	Currency     string
	Description  string
	// ReturnURL is where redirect-style gateways send the payer afterwards.
	ReturnURL string
	CancelURL string
}

// Initiation is the client-facing half of a started payment. Only the fields
// relevant to the gateway are set.
type Initiation struct {
	Gateway      string         `json:"gateway"`
	OrderID      string         `json:"orderId,omitempty"`
	ClientParams map[string]any `json:"clientParams,omitempty"`
	RedirectURL  string         `json:"redirectUrl,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	TxnID        string         `json:"transactionId,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
}

// Evidence is whatever the payer's client echoes back after paying.
type Evidence struct {
	OrderID       string `json:"orderId,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
	Signature     string `json:"signature,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
}

// Gateway normalizes one provider's protocol. Implementations never touch the
// ledger and never let a transport failure escape Finalize as a panic or bare error.
type Gateway interface {
	Name() string

	// Initiate starts a payment. Errors are *errs.Error.
	Initiate(ctx context.Context, req PaymentRequest) (Initiation, error)

	// Finalize turns confirmation evidence into a VerificationResult.
	Finalize(ctx context.Context, ev Evidence) VerificationResult
}

// NewHTTPClient is the bounded-timeout client every gateway uses for outbound calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// RawJSON makes sure an arbitrary provider body can be stored in a JSON column.
func RawJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}
