// Package review is the human approval path for manual payments. A proof
// becomes a team only when a reviewer verifies it.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/metrics"
	"tourney-registry/internal/models"
	"tourney-registry/internal/notify"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/settings"
)

// Approver turns an accepted proof into a verification result.
type Approver interface {
	Approve(p models.PaymentProof) payments.VerificationResult
}

type Queue struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	approver Approver
	settings *settings.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

func New(db *gorm.DB, l *ledger.Ledger, approver Approver, st *settings.Store, n notify.Notifier, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Queue{
		db:       db,
		ledger:   l,
		approver: approver,
		settings: st,
		notifier: n,
		logger:   logger.With("component", "review"),
	}
}

func (q *Queue) Submit(ctx context.Context, cmd models.SubmitProofCommand) (models.PaymentProof, error) {
	const op = "review.submit"
	cmd.RegisterCommand = cmd.Normalize()
	cmd.PaymentMethod = payments.MethodManual
	cmd.TransactionReference = strings.TrimSpace(cmd.TransactionReference)
	if err := cmd.Validate(); err != nil {
		return models.PaymentProof{}, err
	}
	cur, err := q.settings.RequireOpen(ctx, op)
	if err != nil {
		return models.PaymentProof{}, err
	}
	if cmd.Amount < cur.FeeAmount {
		return models.PaymentProof{}, errs.Validation(op, "amount %d is below the registration fee %d", cmd.Amount, cur.FeeAmount)
	}

	existing, err := q.ledger.GetByEmail(ctx, cmd.ContactEmail)
	switch {
	case err == nil:
		return models.PaymentProof{}, errs.Duplicate(op, existing.TeamID, existing.TeamNumber, "a team is already registered with this email")
	case errs.KindOf(err) != errs.KindUnknownEntity:
		return models.PaymentProof{}, err
	}

	var n int64
	err = q.db.WithContext(ctx).Model(&models.PaymentProof{}).
		Where("transaction_reference = ? AND status <> ?", cmd.TransactionReference, models.ProofRejected).
		Count(&n).Error
	if err != nil {
		return models.PaymentProof{}, errs.Wrap(errs.KindUnavailable, op, "review queue unavailable", err)
	}
	if n > 0 {
		return models.PaymentProof{}, errs.Validation(op, "transaction reference %s was already submitted", cmd.TransactionReference)
	}

	snapshot, err := json.Marshal(cmd.RegisterCommand)
	if err != nil {
		return models.PaymentProof{}, errs.Wrap(errs.KindInternal, op, "encode registration", err)
	}
	proof := models.PaymentProof{
		ID:                   uuid.NewString(),
		TeamName:             cmd.TeamName,
		ContactEmail:         cmd.ContactEmail,
		ContactNumber:        cmd.ContactNumber,
		PaymentMethod:        payments.MethodManual,
		Amount:               cmd.Amount,
		TransactionReference: cmd.TransactionReference,
		PayerName:            strings.TrimSpace(cmd.PayerName),
		ProofImage:           strings.TrimSpace(cmd.ProofImage),
		Registration:         datatypes.JSON(snapshot),
		Status:               models.ProofPending,
		SubmittedAt:          time.Now().UTC(),
	}
	if err := q.db.WithContext(ctx).Create(&proof).Error; err != nil {
		return models.PaymentProof{}, errs.Wrap(errs.KindUnavailable, op, "review queue unavailable", err)
	}

	metrics.ProofTransitions.WithLabelValues(string(models.ProofPending)).Inc()
	q.logger.Info("proof submitted", "proof_id", proof.ID, "email", proof.ContactEmail, "reference", proof.TransactionReference)
	q.notifier.ProofSubmitted(ctx, proof)
	return proof, nil
}

// Verify marks the proof verified and creates the team in one transaction. If
// the ledger refuses, the proof stays pending.
func (q *Queue) Verify(ctx context.Context, proofID, reviewer string) (models.Team, error) {
	const op = "review.verify"
	var team models.Team
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		proof, err := q.resolve(tx, op, proofID, models.ProofVerified, reviewer, "")
		if err != nil {
			return err
		}
		var reg models.RegisterCommand
		if err := json.Unmarshal(proof.Registration, &reg); err != nil {
			return errs.Wrap(errs.KindInternal, op, "stored registration is unreadable", err)
		}
		team, err = q.ledger.WithTx(tx).AllocateAndCreate(ctx, reg, q.approver.Approve(proof))
		return err
	})
	if err != nil {
		q.logger.Warn("verify failed", "proof_id", proofID, "reviewer", reviewer, "kind", errs.KindOf(err), "err", err)
		return models.Team{}, classify(op, err)
	}

	metrics.ProofTransitions.WithLabelValues(string(models.ProofVerified)).Inc()
	metrics.Registrations.WithLabelValues(payments.MethodManual, "persisted").Inc()
	q.logger.Info("proof verified", "proof_id", proofID, "reviewer", reviewer, "team_id", team.TeamID)
	q.notifier.TeamRegistered(ctx, team)
	return team, nil
}

func (q *Queue) Reject(ctx context.Context, proofID, reviewer, reason string) (models.PaymentProof, error) {
	const op = "review.reject"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.PaymentProof{}, errs.Validation(op, "a rejection reason is required")
	}
	var proof models.PaymentProof
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := q.resolve(tx, op, proofID, models.ProofRejected, reviewer, reason)
		proof = p
		return err
	})
	if err != nil {
		return models.PaymentProof{}, classify(op, err)
	}

	metrics.ProofTransitions.WithLabelValues(string(models.ProofRejected)).Inc()
	q.logger.Info("proof rejected", "proof_id", proofID, "reviewer", reviewer, "reason", reason)
	q.notifier.ProofRejected(ctx, proof)
	return proof, nil
}

// resolve moves a pending proof to a terminal status with a conditional update
// and returns it as written.
func (q *Queue) resolve(tx *gorm.DB, op, proofID string, to models.ProofStatus, reviewer, reason string) (models.PaymentProof, error) {
	var proof models.PaymentProof
	if err := tx.Where("id = ?", proofID).Take(&proof).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return proof, errs.UnknownEntity(op, "proof", proofID)
		}
		return proof, err
	}
	if proof.Status != models.ProofPending {
		return proof, errs.InvalidTransition(op, "proof is already %s", proof.Status)
	}

	now := time.Now().UTC()
	res := tx.Model(&models.PaymentProof{}).
		Where("id = ? AND status = ?", proofID, models.ProofPending).
		Updates(map[string]any{
			"status":           to,
			"reviewed_by":      reviewer,
			"rejection_reason": reason,
			"resolved_at":      now,
		})
	if res.Error != nil {
		return proof, res.Error
	}
	if res.RowsAffected == 0 {
		return proof, errs.InvalidTransition(op, "proof was resolved concurrently")
	}
	proof.Status = to
	proof.ReviewedBy = reviewer
	proof.RejectionReason = reason
	proof.ResolvedAt = &now
	return proof, nil
}

// ListByStatus returns proofs oldest first. An empty status lists all.
func (q *Queue) ListByStatus(ctx context.Context, status models.ProofStatus) ([]models.PaymentProof, error) {
	const op = "review.list"
	db := q.db.WithContext(ctx)
	if status != "" {
		if !status.Valid() {
			return nil, errs.Validation(op, "unknown proof status %q", status)
		}
		db = db.Where("status = ?", status)
	}
	var out []models.PaymentProof
	if err := db.Order("submitted_at ASC").Find(&out).Error; err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, op, "review queue unavailable", err)
	}
	return out, nil
}

func (q *Queue) Get(ctx context.Context, proofID string) (models.PaymentProof, error) {
	const op = "review.get"
	var proof models.PaymentProof
	err := q.db.WithContext(ctx).Where("id = ?", proofID).Take(&proof).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return proof, errs.UnknownEntity(op, "proof", proofID)
	}
	if err != nil {
		return proof, errs.Wrap(errs.KindUnavailable, op, "review queue unavailable", err)
	}
	return proof, nil
}

func classify(op string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.KindUnavailable, op, "review queue unavailable", err)
}
