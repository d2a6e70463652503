// Package admin runs bulk operations over a set of teams and reports every
// team individually.
package admin

import (
	"context"
	"log/slog"

	"tourney-registry/internal/ledger"
	"tourney-registry/internal/metrics"
	"tourney-registry/internal/models"
	"tourney-registry/internal/stages"
)

type Coordinator struct {
	ledger *ledger.Ledger
	stages *stages.Engine
	logger *slog.Logger
}

func New(l *ledger.Ledger, e *stages.Engine, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{ledger: l, stages: e, logger: logger.With("component", "admin")}
}

func (c *Coordinator) BulkSetStage(ctx context.Context, cmd models.BulkStageCommand) (models.BulkReport, error) {
	if err := cmd.Validate(); err != nil {
		return models.BulkReport{}, err
	}
	return c.report("bulk_stage", c.stages.BulkSetStage(ctx, cmd.TeamIDs, cmd.Stage)), nil
}

func (c *Coordinator) BulkDelete(ctx context.Context, cmd models.BulkDeleteCommand) (models.BulkReport, error) {
	if err := cmd.Validate(); err != nil {
		return models.BulkReport{}, err
	}
	return c.report("bulk_delete", stages.Each(ctx, cmd.TeamIDs, c.ledger.Delete)), nil
}

func (c *Coordinator) report(op string, outcomes []models.BulkOutcome) models.BulkReport {
	report := models.BulkReport{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Result == models.BulkApplied {
			report.Applied++
		} else {
			report.Failed++
			c.logger.Warn("bulk item failed", "op", op, "team_id", o.TeamID, "kind", o.Kind, "reason", o.Reason)
		}
		metrics.BulkOutcomes.WithLabelValues(op, string(o.Result)).Inc()
	}
	c.logger.Info("bulk operation done", "op", op, "applied", report.Applied, "failed", report.Failed)
	return report
}
