// Package settings holds the admin-editable registration switches.
package settings

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/models"
	"tourney-registry/internal/store"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "settings")}
}

func (s *Store) Get(ctx context.Context) (models.Settings, error) {
	var out models.Settings
	if err := s.db.WithContext(ctx).Where("id = ?", store.SettingsID).Take(&out).Error; err != nil {
		return models.Settings{}, errs.Wrap(errs.KindUnavailable, "settings.get", "settings unavailable", err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, cmd models.UpdateSettingsCommand) (models.Settings, error) {
	const op = "settings.update"
	if err := cmd.Validate(); err != nil {
		return models.Settings{}, err
	}
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if cmd.RegistrationOpen != nil {
		fields["registration_open"] = *cmd.RegistrationOpen
	}
	if cmd.FeeAmount != nil {
		fields["fee_amount"] = *cmd.FeeAmount
	}
	if cmd.Currency != nil {
		fields["currency"] = strings.ToUpper(strings.TrimSpace(*cmd.Currency))
	}
	err := s.db.WithContext(ctx).Model(&models.Settings{}).Where("id = ?", store.SettingsID).Updates(fields).Error
	if err != nil {
		return models.Settings{}, errs.Wrap(errs.KindUnavailable, op, "settings unavailable", err)
	}
	out, err := s.Get(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	s.logger.Info("settings updated", "registration_open", out.RegistrationOpen, "fee", out.FeeAmount, "currency", out.Currency)
	return out, nil
}

// RequireOpen returns a Validation error when registration is closed.
func (s *Store) RequireOpen(ctx context.Context, op string) (models.Settings, error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	if !cur.RegistrationOpen {
		return cur, errs.Validation(op, "registration is closed")
	}
	return cur, nil
}
