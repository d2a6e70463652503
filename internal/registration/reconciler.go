package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tourney-registry/internal/buffer"
	"tourney-registry/internal/errs"
	"tourney-registry/internal/metrics"
	"tourney-registry/internal/models"
	"tourney-registry/internal/notify"
	"tourney-registry/internal/payments"
)

// TeamStore is the part of the ledger the reconciler writes through.
type TeamStore interface {
	AllocateAndCreate(ctx context.Context, cmd models.RegisterCommand, vr payments.VerificationResult) (models.Team, error)
	GetByID(ctx context.Context, teamID int64) (models.Team, error)
}

// Reconciler drains the local buffer into the ledger.
type Reconciler struct {
	buffer   Buffer
	ledger   TeamStore
	notifier notify.Notifier
	interval time.Duration
	logger   *slog.Logger
}

func NewReconciler(buf Buffer, l TeamStore, n notify.Notifier, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Reconciler{buffer: buf, ledger: l, notifier: n, interval: interval, logger: logger.With("component", "reconciler")}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", "err", err)
			}
		}
	}
}

// RunOnce tries every buffered entry once and returns how many left the buffer.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.buffer.List()
	if err != nil {
		return 0, err
	}
	done := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if r.apply(ctx, e) {
			if err := r.buffer.Delete(e.Registration.ContactEmail); err != nil {
				return done, err
			}
			done++
		}
	}
	if n, err := r.buffer.Len(); err == nil {
		metrics.BufferedRegistrations.Set(float64(n))
	}
	return done, nil
}

// apply reports whether e is finished with, successfully or not.
func (r *Reconciler) apply(ctx context.Context, e buffer.Entry) bool {
	email := e.Registration.ContactEmail
	team, err := r.ledger.AllocateAndCreate(ctx, e.Registration, e.Verification())
	if err == nil {
		r.logger.Info("buffered registration saved", "email", email, "team_id", team.TeamID, "reference", e.Reference)
		metrics.Registrations.WithLabelValues(e.Method, string(Persisted)).Inc()
		r.notifier.TeamRegistered(ctx, team)
		return true
	}

	var de *errs.Error
	switch errs.KindOf(err) {
	case errs.KindDuplicateRegistration:
		errors.As(err, &de)
		existing, gerr := r.ledger.GetByID(ctx, de.TeamID)
		if gerr != nil {
			// the holder is unknown, so this payment may be the one already saved
			err = gerr
			break
		}
		if existing.PaymentReference == e.Reference {
			r.logger.Info("buffered registration already saved", "email", email, "team_id", existing.TeamID)
			return true
		}
		// Another payment already holds this email. The audit log keeps this
		// payment for a refund.
		r.logger.Error("buffered registration dropped, email taken by another payment",
			"email", email, "reference", e.Reference, "team_id", de.TeamID)
		return true
	case errs.KindValidation:
		r.logger.Error("buffered registration dropped, ledger rejected it", "email", email, "reference", e.Reference, "err", err)
		return true
	}

	e.Attempts++
	e.LastError = err.Error()
	if perr := r.buffer.Put(e); perr != nil {
		r.logger.Error("buffer update failed", "email", email, "err", perr)
	}
	r.logger.Warn("buffered registration still pending", "email", email, "attempts", e.Attempts, "kind", errs.KindOf(err), "err", err)
	return false
}
