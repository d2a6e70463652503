// Package ledger owns the team collection: it allocates team ids, enforces one
// team per contact email and records every mutation in the sync outbox.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/models"
	"tourney-registry/internal/outbox"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/store"
	"tourney-registry/internal/util"
)

type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		db:     db,
		logger: logger.With("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a Ledger whose operations join tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	cp := *l
	cp.db = tx
	return &cp
}

// AllocateAndCreate materializes a paid registration. The email check, the
// counter increment and the insert run in one transaction; unique indexes on
// email, team number and payment reference catch whatever a concurrent
// transaction slips past the check, and surface as AllocationConflict.
func (l *Ledger) AllocateAndCreate(ctx context.Context, cmd models.RegisterCommand, vr payments.VerificationResult) (models.Team, error) {
	const op = "ledger.allocate_and_create"
	cmd = cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return models.Team{}, err
	}
	if vr.Status != payments.StatusSuccess {
		return models.Team{}, errs.Validation(op, "payment is not confirmed")
	}
	ref := strings.TrimSpace(vr.Reference)
	if ref == "" {
		return models.Team{}, errs.Validation(op, "payment reference is missing")
	}

	var team models.Team
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var settings models.Settings
		if err := tx.Where("id = ?", store.SettingsID).Take(&settings).Error; err != nil {
			return err
		}
		if vr.Amount < settings.FeeAmount {
			return errs.Validation(op, "amount paid %d is below the registration fee %d", vr.Amount, settings.FeeAmount)
		}
		if existing, ok, err := findOne(tx, "contact_email = ?", cmd.ContactEmail); err != nil {
			return err
		} else if ok {
			return errs.Duplicate(op, existing.TeamID, existing.TeamNumber, "a team is already registered with this email")
		}
		if existing, ok, err := findOne(tx, "payment_reference = ?", ref); err != nil {
			return err
		} else if ok {
			return errs.Duplicate(op, existing.TeamID, existing.TeamNumber, "this payment is already linked to a team")
		}

		id, err := nextID(tx, store.TeamCounter)
		if err != nil {
			return err
		}
		now := l.now()
		team = models.Team{
			TeamID:           id,
			TeamNumber:       models.TeamNumber(id),
			TeamName:         cmd.TeamName,
			Players:          cmd.Players,
			ContactEmail:     cmd.ContactEmail,
			ContactNumber:    cmd.ContactNumber,
			TeamLogo:         cmd.TeamLogo,
			PaymentMethod:    cmd.PaymentMethod,
			PaymentStatus:    models.PaymentCompleted,
			PaymentReference: ref,
			AmountPaid:       vr.Amount,
			Stage:            models.StageEnrolled,
			RegisteredAt:     now,
			UpdatedAt:        now,
		}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		return outbox.Add(tx, models.EntityTeam, team.TeamID, models.OpUpsert, team)
	})
	if err != nil {
		err = l.classify(op, err)
		l.logger.Warn("allocate failed", "email", cmd.ContactEmail, "reference", ref, "kind", errs.KindOf(err), "err", err)
		return models.Team{}, err
	}
	l.logger.Info("team registered", "team_id", team.TeamID, "team_number", team.TeamNumber, "email", team.ContactEmail, "method", team.PaymentMethod)
	return team, nil
}

// nextID increments the named counter and reads it back inside tx. The UPDATE
// takes the row lock, so concurrent allocators queue behind each other.
func nextID(tx *gorm.DB, name string) (int64, error) {
	res := tx.Model(&models.Counter{}).Where("name = ?", name).
		Update("value", gorm.Expr("value + ?", 1))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected != 1 {
		return 0, errs.New(errs.KindInternal, "ledger.next_id", "counter "+name+" is missing")
	}
	var c models.Counter
	if err := tx.Where("name = ?", name).Take(&c).Error; err != nil {
		return 0, err
	}
	return c.Value, nil
}

func (l *Ledger) Update(ctx context.Context, teamID int64, cmd models.EditTeamCommand) (models.Team, error) {
	const op = "ledger.update"
	if err := cmd.Validate(); err != nil {
		return models.Team{}, err
	}
	var team models.Team
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, ok, err := findOne(tx, "team_id = ?", teamID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.UnknownEntity(op, "team", teamID)
		}
		if cmd.TeamName != nil {
			t.TeamName = strings.TrimSpace(*cmd.TeamName)
		}
		if cmd.Players != nil {
			players := make([]string, len(*cmd.Players))
			for i, p := range *cmd.Players {
				players[i] = strings.TrimSpace(p)
			}
			t.Players = players
		}
		if cmd.ContactEmail != nil {
			email := util.NormalizeEmail(*cmd.ContactEmail)
			if email != t.ContactEmail {
				if other, ok, err := findOne(tx, "contact_email = ?", email); err != nil {
					return err
				} else if ok {
					return errs.Duplicate(op, other.TeamID, other.TeamNumber, "another team is registered with this email")
				}
				t.ContactEmail = email
			}
		}
		if cmd.ContactNumber != nil {
			t.ContactNumber = strings.TrimSpace(*cmd.ContactNumber)
		}
		if cmd.TeamLogo != nil {
			t.TeamLogo = strings.TrimSpace(*cmd.TeamLogo)
		}
		t.UpdatedAt = l.now()

		if err := tx.Model(&models.Team{}).Where("team_id = ?", teamID).
			Select("team_name", "players", "contact_email", "contact_number", "team_logo", "updated_at").
			Updates(&t).Error; err != nil {
			return err
		}
		team = t
		return outbox.Add(tx, models.EntityTeam, t.TeamID, models.OpUpsert, t)
	})
	if err != nil {
		return models.Team{}, l.classify(op, err)
	}
	l.logger.Info("team updated", "team_id", teamID)
	return team, nil
}

// Delete removes the team. Its id is not returned to any pool.
func (l *Ledger) Delete(ctx context.Context, teamID int64) error {
	const op = "ledger.delete"
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("team_id = ?", teamID).Delete(&models.Team{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.UnknownEntity(op, "team", teamID)
		}
		return outbox.Add(tx, models.EntityTeam, teamID, models.OpDelete, nil)
	})
	if err != nil {
		return l.classify(op, err)
	}
	l.logger.Info("team deleted", "team_id", teamID)
	return nil
}

// SetStage moves a team to stage to. When from is non-nil the write only
// happens if the team is still at *from, so two concurrent single-step moves
// cannot both apply.
func (l *Ledger) SetStage(ctx context.Context, teamID int64, from *models.Stage, to models.Stage) (models.Team, error) {
	const op = "ledger.set_stage"
	if !to.Valid() {
		return models.Team{}, errs.Validation(op, "unknown stage %q", to)
	}
	var team models.Team
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Team{}).Where("team_id = ?", teamID)
		if from != nil {
			q = q.Where("stage = ?", *from)
		}
		res := q.Updates(map[string]any{"stage": to, "updated_at": l.now()})
		if res.Error != nil {
			return res.Error
		}
		t, ok, err := findOne(tx, "team_id = ?", teamID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.UnknownEntity(op, "team", teamID)
		}
		if res.RowsAffected == 0 {
			return errs.New(errs.KindAllocationConflict, op, "team stage changed concurrently")
		}
		team = t
		return outbox.Add(tx, models.EntityTeam, t.TeamID, models.OpUpsert, t)
	})
	if err != nil {
		return models.Team{}, l.classify(op, err)
	}
	return team, nil
}

func (l *Ledger) GetByID(ctx context.Context, teamID int64) (models.Team, error) {
	t, ok, err := findOne(l.db.WithContext(ctx), "team_id = ?", teamID)
	if err != nil {
		return models.Team{}, l.classify("ledger.get_by_id", err)
	}
	if !ok {
		return models.Team{}, errs.UnknownEntity("ledger.get_by_id", "team", teamID)
	}
	return t, nil
}

func (l *Ledger) GetByEmail(ctx context.Context, email string) (models.Team, error) {
	email = util.NormalizeEmail(email)
	t, ok, err := findOne(l.db.WithContext(ctx), "contact_email = ?", email)
	if err != nil {
		return models.Team{}, l.classify("ledger.get_by_email", err)
	}
	if !ok {
		return models.Team{}, errs.UnknownEntity("ledger.get_by_email", "team for", email)
	}
	return t, nil
}

// GetByNumber looks a team up by its display number, e.g. "007".
func (l *Ledger) GetByNumber(ctx context.Context, number string) (models.Team, error) {
	t, ok, err := findOne(l.db.WithContext(ctx), "team_number = ?", strings.TrimSpace(number))
	if err != nil {
		return models.Team{}, l.classify("ledger.get_by_number", err)
	}
	if !ok {
		return models.Team{}, errs.UnknownEntity("ledger.get_by_number", "team", number)
	}
	return t, nil
}

func findOne(db *gorm.DB, query string, args ...any) (models.Team, bool, error) {
	var teams []models.Team
	if err := db.Where(query, args...).Limit(1).Find(&teams).Error; err != nil {
		return models.Team{}, false, err
	}
	if len(teams) == 0 {
		return models.Team{}, false, nil
	}
	return teams[0], true, nil
}

// classify maps storage errors onto the error taxonomy.
func (l *Ledger) classify(op string, err error) error {
	var e *errs.Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errs.Wrap(errs.KindAllocationConflict, op, "concurrent registration, retry", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.KindUnavailable, op, "request cancelled", err)
	default:
		return errs.Wrap(errs.KindUnavailable, op, "registration store unavailable", err)
	}
}
