// Package registration drives a registration from payment start to a ledger
// entry: it picks the gateway, finalizes the evidence, audits the result and
// hands confirmed payments to the ledger.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"tourney-registry/internal/buffer"
	"tourney-registry/internal/errs"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/metrics"
	"tourney-registry/internal/models"
	"tourney-registry/internal/notify"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/settings"
	"tourney-registry/internal/util"
)

type Durability string

const (
	// Persisted means the team is in the ledger.
	Persisted Durability = "persisted"
	// PendingSync means payment was confirmed but the team is only in the
	// local buffer until the reconciler writes it.
	PendingSync Durability = "pending_sync"
)

// Outcome is the result of Confirm. Team is set only when Durability is Persisted.
type Outcome struct {
	Status     payments.Status `json:"status"`
	Durability Durability      `json:"durability,omitempty"`
	Team       *models.Team    `json:"team,omitempty"`
	// Replayed is set when the same payment had already produced this team.
	Replayed bool `json:"replayed,omitempty"`
}

// Buffer is where confirmed registrations wait when the ledger is down.
type Buffer interface {
	Put(e buffer.Entry) error
	Get(email string) (buffer.Entry, error)
	List() ([]buffer.Entry, error)
	Delete(email string) error
	Len() (int, error)
}

type Options struct {
	Description string
	// ReturnURL and CancelURL are where redirecting gateways send the payer.
	ReturnURL string
	CancelURL string
}

type Service struct {
	gateways *payments.Registry
	ledger   *ledger.Ledger
	settings *settings.Store
	buffer   Buffer
	db       *gorm.DB
	notifier notify.Notifier
	opts     Options
	logger   *slog.Logger
}

func NewService(db *gorm.DB, gws *payments.Registry, l *ledger.Ledger, st *settings.Store, buf Buffer, n notify.Notifier, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		gateways: gws,
		ledger:   l,
		settings: st,
		buffer:   buf,
		db:       db,
		notifier: n,
		opts:     opts,
		logger:   logger.With("component", "registration"),
	}
}

func (s *Service) prepare(op, method string, cmd models.RegisterCommand) (payments.Gateway, models.RegisterCommand, error) {
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, cmd, errs.Validation(op, "unsupported payment method %q", method)
	}
	cmd.PaymentMethod = gw.Name()
	cmd = cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return nil, cmd, err
	}
	return gw, cmd, nil
}

// Initiate checks the registration can go ahead and starts the payment.
func (s *Service) Initiate(ctx context.Context, method string, cmd models.RegisterCommand) (payments.Initiation, error) {
	const op = "registration.initiate"
	gw, cmd, err := s.prepare(op, method, cmd)
	if err != nil {
		return payments.Initiation{}, err
	}
	cur, err := s.settings.RequireOpen(ctx, op)
	if err != nil {
		return payments.Initiation{}, err
	}
	if err := s.ensureFree(ctx, op, cmd.ContactEmail); err != nil {
		return payments.Initiation{}, err
	}

	init, err := gw.Initiate(ctx, payments.PaymentRequest{
		Registration: cmd,
		Amount:       cur.FeeAmount,
		Currency:     cur.Currency,
		Description:  s.opts.Description,
		ReturnURL:    s.opts.ReturnURL,
		CancelURL:    s.opts.CancelURL,
	})
	if err != nil {
		s.logger.Warn("initiate failed", "gateway", gw.Name(), "email", cmd.ContactEmail, "kind", errs.KindOf(err), "err", err)
		return payments.Initiation{}, err
	}
	s.logger.Info("payment initiated", "gateway", gw.Name(), "email", cmd.ContactEmail, "order_id", init.OrderID, "session_id", init.SessionID, "txn_id", init.TxnID)
	return init, nil
}

// ensureFree fails with DuplicateRegistration when the email already has a
// team, either in the ledger or waiting in the buffer.
func (s *Service) ensureFree(ctx context.Context, op, email string) error {
	team, err := s.ledger.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return errs.Duplicate(op, team.TeamID, team.TeamNumber, "a team is already registered with this email")
	case errs.KindOf(err) != errs.KindUnknownEntity:
		return err
	}
	if _, err := s.buffer.Get(email); err == nil {
		return errs.Duplicate(op, 0, "", "a registration for this email is already being saved")
	}
	return nil
}

// Confirm finalizes the evidence with the gateway. Pending results write
// nothing. Confirmed payments go to the ledger, retried once on an allocation
// race, and fall back to the local buffer when the ledger is unavailable.
func (s *Service) Confirm(ctx context.Context, method string, cmd models.RegisterCommand, ev payments.Evidence) (Outcome, error) {
	const op = "registration.confirm"
	gw, cmd, err := s.prepare(op, method, cmd)
	if err != nil {
		return Outcome{}, err
	}

	vr := gw.Finalize(ctx, ev)
	s.audit(ctx, gw.Name(), cmd.ContactEmail, vr)
	metrics.Verifications.WithLabelValues(gw.Name(), string(vr.Status)).Inc()

	switch vr.Status {
	case payments.StatusPending:
		return Outcome{Status: payments.StatusPending}, nil
	case payments.StatusFailed:
		err := vr.Err
		if err == nil {
			err = errs.New(errs.KindValidation, op, "payment was not completed")
		}
		s.logger.Warn("payment failed", "gateway", gw.Name(), "email", cmd.ContactEmail, "reference", vr.Reference, "kind", errs.KindOf(err), "err", err, "raw", string(vr.RawPayload))
		return Outcome{Status: payments.StatusFailed}, err
	}

	if vr.PayerEmail != "" && util.NormalizeEmail(vr.PayerEmail) != cmd.ContactEmail {
		s.logger.Warn("payment belongs to another registration", "gateway", gw.Name(), "email", cmd.ContactEmail, "payer_email", vr.PayerEmail, "reference", vr.Reference)
		return Outcome{Status: payments.StatusFailed}, errs.Validation(op, "payment was made for a different registration")
	}

	team, err := s.allocate(ctx, cmd, vr)
	if err == nil {
		metrics.Registrations.WithLabelValues(gw.Name(), string(Persisted)).Inc()
		s.notifier.TeamRegistered(ctx, team)
		return Outcome{Status: payments.StatusSuccess, Durability: Persisted, Team: &team}, nil
	}
	if replay, ok := s.replayed(ctx, err, vr.Reference); ok {
		return Outcome{Status: payments.StatusSuccess, Durability: Persisted, Team: &replay, Replayed: true}, nil
	}
	if errs.KindOf(err) != errs.KindUnavailable {
		return Outcome{}, err
	}

	entry := buffer.Entry{
		Registration: cmd,
		Method:       gw.Name(),
		Status:       vr.Status,
		Reference:    vr.Reference,
		Amount:       vr.Amount,
		BufferedAt:   time.Now().UTC(),
		LastError:    err.Error(),
	}
	if berr := s.buffer.Put(entry); berr != nil {
		if errors.Is(berr, buffer.ErrConflict) {
			// the audit row keeps this payment for a refund
			s.logger.Error("second payment for a buffered email refused", "email", cmd.ContactEmail, "reference", vr.Reference)
			return Outcome{}, errs.Duplicate(op, 0, "", "a registration for this email is already being saved")
		}
		s.logger.Error("buffer write failed, payment confirmed but not recorded", "email", cmd.ContactEmail, "reference", vr.Reference, "err", berr)
		return Outcome{}, err
	}
	metrics.Registrations.WithLabelValues(gw.Name(), string(PendingSync)).Inc()
	metrics.BufferedRegistrations.Inc()
	s.logger.Warn("ledger unavailable, registration buffered", "email", cmd.ContactEmail, "reference", vr.Reference, "err", err)
	return Outcome{Status: payments.StatusSuccess, Durability: PendingSync}, nil
}

func (s *Service) allocate(ctx context.Context, cmd models.RegisterCommand, vr payments.VerificationResult) (models.Team, error) {
	team, err := s.ledger.AllocateAndCreate(ctx, cmd, vr)
	if errs.KindOf(err) == errs.KindAllocationConflict {
		s.logger.Info("allocation conflict, retrying once", "email", cmd.ContactEmail)
		team, err = s.ledger.AllocateAndCreate(ctx, cmd, vr)
	}
	return team, err
}

// replayed reports whether err is a duplicate caused by this same payment
// having been recorded already, and returns that team.
func (s *Service) replayed(ctx context.Context, err error, reference string) (models.Team, bool) {
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindDuplicateRegistration || e.TeamID == 0 {
		return models.Team{}, false
	}
	team, gerr := s.ledger.GetByID(ctx, e.TeamID)
	if gerr != nil || team.PaymentReference != reference {
		return models.Team{}, false
	}
	return team, true
}

func (s *Service) audit(ctx context.Context, gateway, email string, vr payments.VerificationResult) {
	row := models.PaymentAudit{
		Gateway:      gateway,
		Reference:    vr.Reference,
		Status:       string(vr.Status),
		Amount:       vr.Amount,
		ContactEmail: email,
		RawPayload:   payments.RawJSON(vr.RawPayload),
	}
	if vr.Err != nil {
		row.Error = vr.Err.Error()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("audit write failed", "gateway", gateway, "reference", vr.Reference, "status", vr.Status, "err", err, "raw", string(vr.RawPayload))
	}
}

// Lookup reports where the registration for email stands.
func (s *Service) Lookup(ctx context.Context, email string) (Outcome, error) {
	const op = "registration.lookup"
	team, err := s.ledger.GetByEmail(ctx, email)
	if err == nil {
		return Outcome{Status: payments.StatusSuccess, Durability: Persisted, Team: &team}, nil
	}
	if errs.KindOf(err) != errs.KindUnknownEntity && errs.KindOf(err) != errs.KindUnavailable {
		return Outcome{}, err
	}
	if _, berr := s.buffer.Get(util.NormalizeEmail(email)); berr == nil {
		return Outcome{Status: payments.StatusSuccess, Durability: PendingSync}, nil
	}
	if errs.KindOf(err) == errs.KindUnavailable {
		return Outcome{}, err
	}
	return Outcome{}, errs.UnknownEntity(op, "registration for", email)
}

// Methods lists the enabled payment methods.
func (s *Service) Methods() []string { return s.gateways.Methods() }
