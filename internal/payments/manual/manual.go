// Package manual is the proof-of-transfer method. Nothing is started or checked
// programmatically; a reviewer's approval produces the verification result.
package manual

import (
	"context"
	"fmt"

	"tourney-registry/internal/models"
	"tourney-registry/internal/payments"
)

type Gateway struct {
	payee string
}

func New(payee string) *Gateway {
	return &Gateway{payee: payee}
}

func (g *Gateway) Name() string { return payments.MethodManual }

// Initiate only tells the payer where to send money.
func (g *Gateway) Initiate(_ context.Context, req payments.PaymentRequest) (payments.Initiation, error) {
	msg := fmt.Sprintf("Transfer %s to %s, then submit the transaction reference and a screenshot for review.",
		formatAmount(req.Amount, req.Currency), g.payee)
	return payments.Initiation{Gateway: g.Name(), Instructions: msg}, nil
}

// Finalize never confirms on its own: manual payments wait for review.
func (g *Gateway) Finalize(_ context.Context, ev payments.Evidence) payments.VerificationResult {
	return payments.VerificationResult{Status: payments.StatusPending, Reference: ev.TransactionID}
}

// Approve is the synthetic result for a proof a reviewer has accepted.
func (g *Gateway) Approve(p models.PaymentProof) payments.VerificationResult {
	return payments.VerificationResult{
		Status:    payments.StatusSuccess,
		Reference: p.TransactionReference,
		Amount:    p.Amount,
	}
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, currency)
}
