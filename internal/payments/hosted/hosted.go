// Package hosted is the hosted-checkout gateway: the server creates an order,
// the provider's widget collects payment, and the client posts back
// (order id, payment id, signature) for verification.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"tourney-registry/internal/checksum"
	"tourney-registry/internal/errs"
	"tourney-registry/internal/payments"
)

type Gateway struct {
	keyID   string
	secret  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(keyID, secret, baseURL string, client *http.Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		keyID:   keyID,
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With("component", "gateway", "gateway", payments.MethodHosted),
	}
}

func (g *Gateway) Name() string { return payments.MethodHosted }

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type order struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	Currency   string            `json:"currency"`
	Status     string            `json:"status"` // created | attempted | paid
	Notes      map[string]string `json:"notes"`
}

func (g *Gateway) Initiate(ctx context.Context, req payments.PaymentRequest) (payments.Initiation, error) {
	const op = "hosted.initiate"
	body, _ := json.Marshal(orderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20],
		Notes: map[string]string{
			"team_name":     req.Registration.TeamName,
			"contact_email": req.Registration.ContactEmail,
		},
	})

	raw, err := g.do(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		g.logger.Error("create order failed", "email", req.Registration.ContactEmail, "err", err, "raw", string(raw))
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "could not create payment order", err)
	}
	var o order
	if err := json.Unmarshal(raw, &o); err != nil || o.ID == "" {
		g.logger.Error("bad order response", "raw", string(raw))
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "unexpected provider response", fmt.Errorf("decode order: %v", err))
	}

	return payments.Initiation{
		Gateway: g.Name(),
		OrderID: o.ID,
		ClientParams: map[string]any{
			"key":         g.keyID,
			"amount":      o.Amount,
			"currency":    o.Currency,
			"order_id":    o.ID,
			"name":        req.Description,
			"description": req.Registration.TeamName,
			"prefill": map[string]string{
				"email":   req.Registration.ContactEmail,
				"contact": req.Registration.ContactNumber,
			},
		},
	}, nil
}

// Finalize checks the callback signature before anything else: a mismatch is
// a failed payment whatever the provider's order says.
func (g *Gateway) Finalize(ctx context.Context, ev payments.Evidence) payments.VerificationResult {
	const op = "hosted.finalize"
	if ev.OrderID == "" || ev.PaymentID == "" || ev.Signature == "" {
		return failed(ev.PaymentID, nil, errs.Validation(op, "orderId, paymentId and signature are required"))
	}
	if !checksum.VerifySignature(ev.OrderID, ev.PaymentID, g.secret, ev.Signature) {
		g.logger.Warn("signature mismatch", "order_id", ev.OrderID, "payment_id", ev.PaymentID)
		return failed(ev.PaymentID, nil, errs.New(errs.KindSignatureMismatch, op, "payment signature is invalid"))
	}

	raw, err := g.do(ctx, http.MethodGet, "/v1/orders/"+ev.OrderID, nil)
	if err != nil {
		g.logger.Error("fetch order failed", "order_id", ev.OrderID, "err", err, "raw", string(raw))
		return failed(ev.PaymentID, raw, errs.Wrap(errs.KindGatewayTransport, op, "could not confirm payment with provider", err))
	}
	var o order
	if err := json.Unmarshal(raw, &o); err != nil {
		return failed(ev.PaymentID, raw, errs.Wrap(errs.KindGatewayTransport, op, "unexpected provider response", err))
	}

	res := payments.VerificationResult{Reference: ev.PaymentID, Amount: o.AmountPaid, PayerEmail: o.Notes["contact_email"], RawPayload: raw}
	switch o.Status {
	case "paid":
		res.Status = payments.StatusSuccess
	case "created", "attempted":
		res.Status = payments.StatusPending
	default:
		res.Status = payments.StatusFailed
		res.Err = errs.New(errs.KindValidation, op, "order is not paid")
	}
	return res
}

func (g *Gateway) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.keyID, g.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return raw, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	return raw, nil
}

func failed(ref string, raw []byte, err *errs.Error) payments.VerificationResult {
	return payments.VerificationResult{Status: payments.StatusFailed, Reference: ref, RawPayload: raw, Err: err}
}
