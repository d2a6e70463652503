// Package asyncpay is the server-initiated checkout whose outcome is learned by
// polling a checksum-signed status endpoint. The provider does not push a
// callback we rely on; the client re-polls until the state is terminal.
package asyncpay

import (
	"bytes"
	"context"
	"encoding/base64"
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

type Config struct {
	MerchantID  string
	SaltKey     string
	SaltIndex   string
	BaseURL     string
	CallbackURL string
}

type Gateway struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, client *http.Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "gateway", "gateway", payments.MethodAsync),
	}
}

func (g *Gateway) Name() string { return payments.MethodAsync }

type payPayload struct {
	MerchantID            string     `json:"merchantId"`
	MerchantTransactionID string     `json:"merchantTransactionId"`
	MerchantUserID        string     `json:"merchantUserId"`
	Amount                int64      `json:"amount"`
	RedirectURL           string     `json:"redirectUrl"`
	RedirectMode          string     `json:"redirectMode"`
	CallbackURL           string     `json:"callbackUrl,omitempty"`
	MobileNumber          string     `json:"mobileNumber,omitempty"`
	PaymentInstrument     instrument `json:"paymentInstrument"`
}

type instrument struct {
	Type string `json:"type"`
}

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type payData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	InstrumentResponse    struct {
		RedirectInfo struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse"`
}

type statusData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
	ResponseCode          string `json:"responseCode"`
}

// failureCodes are the explicit terminal failure codes; any other non-COMPLETED
// state is still in flight.
var failureCodes = map[string]bool{
	"PAYMENT_ERROR":        true,
	"PAYMENT_DECLINED":     true,
	"TIMED_OUT":            true,
	"AUTHORIZATION_FAILED": true,
}

// pendingCodes may arrive on a 4xx while the payment is still being set up.
var pendingCodes = map[string]bool{
	"PAYMENT_PENDING":       true,
	"PAYMENT_INITIATED":     true,
	"TRANSACTION_NOT_FOUND": true,
}

func (g *Gateway) Initiate(ctx context.Context, req payments.PaymentRequest) (payments.Initiation, error) {
	const op = "asyncpay.initiate"
	txnID := "TX" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:30]
	payload, _ := json.Marshal(payPayload{
		MerchantID:            g.cfg.MerchantID,
		MerchantTransactionID: txnID,
		MerchantUserID:        userID(req.Registration.ContactEmail),
		Amount:                req.Amount,
		RedirectURL:           req.ReturnURL,
		RedirectMode:          "POST",
		CallbackURL:           g.cfg.CallbackURL,
		MobileNumber:          req.Registration.ContactNumber,
		PaymentInstrument:     instrument{Type: "PAY_PAGE"},
	})
	b64 := base64.StdEncoding.EncodeToString(payload)
	body, _ := json.Marshal(map[string]string{"request": b64})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+checksum.PayPath, bytes.NewReader(body))
	if err != nil {
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "could not start payment", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", checksum.XVerify(b64, checksum.PayPath, g.cfg.SaltKey, g.cfg.SaltIndex))

	raw, env, _, err := g.send(httpReq)
	if err != nil {
		g.logger.Error("pay request failed", "txn_id", txnID, "err", err, "raw", string(raw))
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "could not start payment", err)
	}
	if !env.Success {
		g.logger.Error("pay request rejected", "txn_id", txnID, "code", env.Code, "raw", string(raw))
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "payment provider rejected the request", fmt.Errorf("code %s: %s", env.Code, env.Message))
	}
	var d payData
	if err := json.Unmarshal(env.Data, &d); err != nil || d.InstrumentResponse.RedirectInfo.URL == "" {
		g.logger.Error("pay response without redirect", "txn_id", txnID, "raw", string(raw))
		return payments.Initiation{}, errs.Wrap(errs.KindGatewayTransport, op, "unexpected provider response", fmt.Errorf("no redirect url"))
	}
	return payments.Initiation{
		Gateway:     g.Name(),
		TxnID:       txnID,
		RedirectURL: d.InstrumentResponse.RedirectInfo.URL,
	}, nil
}

// Finalize performs one status check. Pending is a normal answer.
func (g *Gateway) Finalize(ctx context.Context, ev payments.Evidence) payments.VerificationResult {
	const op = "asyncpay.finalize"
	txnID := strings.TrimSpace(ev.TransactionID)
	if txnID == "" {
		return failed("", nil, errs.Validation(op, "transactionId is required"))
	}
	path := checksum.StatusPath(g.cfg.MerchantID, txnID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+path, nil)
	if err != nil {
		return failed(txnID, nil, errs.Wrap(errs.KindGatewayTransport, op, "could not check payment status", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", checksum.XVerify("", path, g.cfg.SaltKey, g.cfg.SaltIndex))
	httpReq.Header.Set("X-MERCHANT-ID", g.cfg.MerchantID)

	raw, env, code, err := g.send(httpReq)
	if err != nil {
		g.logger.Error("status check failed", "txn_id", txnID, "err", err, "raw", string(raw))
		return failed(txnID, raw, errs.Wrap(errs.KindGatewayTransport, op, "could not check payment status", err))
	}
	// a rejected status call (bad checksum, unknown key) never turns into a payment
	if code >= 400 && !pendingCodes[env.Code] {
		g.logger.Error("status check rejected", "txn_id", txnID, "http_status", code, "code", env.Code, "raw", string(raw))
		return failed(txnID, raw, errs.Wrap(errs.KindGatewayTransport, op, "payment provider rejected the status check",
			fmt.Errorf("http %d code %s: %s", code, env.Code, env.Message)))
	}
	var d statusData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			g.logger.Error("status data undecodable", "txn_id", txnID, "err", err, "raw", string(raw))
			return failed(txnID, raw, errs.Wrap(errs.KindGatewayTransport, op, "unexpected provider response", err))
		}
	}

	res := payments.VerificationResult{Reference: txnID, Amount: d.Amount, RawPayload: raw}
	switch {
	case d.State == "COMPLETED" && env.Success:
		res.Status = payments.StatusSuccess
		if d.TransactionID != "" {
			res.Reference = d.TransactionID
		}
	case d.State == "FAILED" || failureCodes[env.Code]:
		res.Status = payments.StatusFailed
		res.Err = errs.New(errs.KindValidation, op, "payment failed at provider")
	default:
		res.Status = payments.StatusPending
	}
	return res
}

// send returns the raw body, the decoded envelope and the HTTP status. 5xx
// and undecodable bodies are errors; 4xx is left to the caller.
func (g *Gateway) send(req *http.Request) ([]byte, envelope, int, error) {
	var env envelope
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, env, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, env, resp.StatusCode, err
	}
	if resp.StatusCode >= 500 {
		return raw, env, resp.StatusCode, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw, env, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return raw, env, resp.StatusCode, nil
}

func userID(email string) string {
	r := strings.NewReplacer("@", "_", ".", "_", "+", "_")
	id := "MU_" + r.Replace(email)
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

func failed(ref string, raw []byte, err *errs.Error) payments.VerificationResult {
	return payments.VerificationResult{Status: payments.StatusFailed, Reference: ref, RawPayload: raw, Err: err}
}
