// Package redirect is the hosted-session checkout: the payer is sent to the
// provider's page and comes back with the session id, which we look up
// server-to-server before trusting it.
package redirect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/payments"
)

type Gateway struct {
	secretKey string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
}

func New(secretKey, baseURL string, client *http.Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		logger:    logger.With("component", "gateway", "gateway", payments.MethodRedirect),
	}
}

func (g *Gateway) Name() string { return payments.MethodRedirect }

type session struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`         // open | complete | expired
	PaymentStatus string `json:"payment_status"` // paid | unpaid | no_payment_required
	AmountTotal   int64  `json:"amount_total"`
	PaymentIntent string `json:"payment_intent"`

	Metadata map[string]string `json:"metadata"`
}

func (g *Gateway) Initiate(ctx context.Context, req payments.PaymentRequest) (payments.Initiation, error) {
	const op = "redirect.initiate"
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", withSessionPlaceholder(req.ReturnURL))
	form.Set("cancel_url", req.CancelURL)
	form.Set("customer_email", req.Registration.ContactEmail)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("metadata[team_name]", req.Registration.TeamName)
	form.Set("metadata[contact_email]", req.Registration.ContactEmail)

	raw, err := g.do(ctx, http.MethodPost, "/v1/checkout/sessions", form)
	if err != nil {
		g.logger.Error("create session failed", "email", req.Registration.ContactEmail, "err", err, "raw", string(raw))
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "could not start checkout", err)
	}
	var s session
	if err := json.Unmarshal(raw, &s); err != nil || s.ID == "" || s.URL == "" {
		g.logger.Error("bad session response", "raw", string(raw))
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "unexpected provider response", fmt.Errorf("decode session: %v", err))
	}
	return payments.Initiation{Gateway: g.Name(), SessionID: s.ID, RedirectURL: s.URL}, nil
}

// Finalize trusts only what the provider says about the echoed session id.
func (g *Gateway) Finalize(ctx context.Context, ev payments.Evidence) payments.VerificationResult {
	const op = "redirect.finalize"
	id := strings.TrimSpace(ev.SessionID)
	if id == "" {
		return failed("", nil, errs.Validation(op, "sessionId is required"))
	}
	raw, err := g.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		g.logger.Error("fetch session failed", "session_id", id, "err", err, "raw", string(raw))
		return failed(id, raw, errs.Wrap(errs.KindGatewayTransport, op, "could not confirm checkout", err))
	}
	var s session
	if err := json.Unmarshal(raw, &s); err != nil {
		return failed(id, raw, errs.Wrap(errs.KindGatewayTransport, op, "unexpected provider response", err))
	}

	res := payments.VerificationResult{Reference: id, Amount: s.AmountTotal, PayerEmail: s.Metadata["contact_email"], RawPayload: raw}
	if s.PaymentIntent != "" {
		res.Reference = s.PaymentIntent
	}
	switch {
	case s.PaymentStatus == "paid":
		res.Status = payments.StatusSuccess
	case s.Status == "expired":
		res.Status = payments.StatusFailed
		res.Err = errs.New(errs.KindValidation, op, "checkout session expired")
	default:
		res.Status = payments.StatusPending
	}
	return res
}

func (g *Gateway) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
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

// withSessionPlaceholder makes the provider echo the session id on return.
func withSessionPlaceholder(returnURL string) string {
	if strings.Contains(returnURL, "{CHECKOUT_SESSION_ID}") {
		return returnURL
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

func failed(ref string, raw []byte, err *errs.Error) payments.VerificationResult {
	return payments.VerificationResult{Status: payments.StatusFailed, Reference: ref, RawPayload: raw, Err: err}
}
