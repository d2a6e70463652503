// Package stages moves teams through the tournament progression. Upgrade and
// Downgrade move exactly one step; only SetStage and BulkSetStage jump.
package stages

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"tourney-registry/internal/errs"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/models"
)

const bulkParallel = 8

type Engine struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func New(l *ledger.Ledger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ledger: l, logger: logger.With("component", "stages")}
}

func (e *Engine) Upgrade(ctx context.Context, teamID int64) (models.Team, error) {
	return e.step(ctx, "stages.upgrade", teamID, models.Stage.Next)
}

func (e *Engine) Downgrade(ctx context.Context, teamID int64) (models.Team, error) {
	return e.step(ctx, "stages.downgrade", teamID, models.Stage.Prev)
}

func (e *Engine) step(ctx context.Context, op string, teamID int64, move func(models.Stage) (models.Stage, bool)) (models.Team, error) {
	team, err := e.ledger.GetByID(ctx, teamID)
	if err != nil {
		return models.Team{}, err
	}
	from := team.Stage
	to, ok := move(from)
	if !ok {
		return models.Team{}, errs.InvalidTransition(op, "team %s is already at %s", team.TeamNumber, from)
	}
	updated, err := e.ledger.SetStage(ctx, teamID, &from, to)
	if err != nil {
		return models.Team{}, err
	}
	e.logger.Info("stage changed", "op", op, "team_id", teamID, "from", from, "to", to)
	return updated, nil
}

// SetStage is the administrative override: it sets target regardless of the
// current stage.
func (e *Engine) SetStage(ctx context.Context, teamID int64, target models.Stage) (models.Team, error) {
	team, err := e.ledger.SetStage(ctx, teamID, nil, target)
	if err != nil {
		return models.Team{}, err
	}
	e.logger.Info("stage set", "team_id", teamID, "to", target)
	return team, nil
}

// BulkSetStage sets every distinct id straight to target and reports each one.
// A failing id never stops the rest.
func (e *Engine) BulkSetStage(ctx context.Context, teamIDs []int64, target models.Stage) []models.BulkOutcome {
	return Each(ctx, teamIDs, func(ctx context.Context, id int64) error {
		_, err := e.SetStage(ctx, id, target)
		return err
	})
}

// Each runs apply for every distinct id, a few at a time, keeping first-seen
// order in the result. Workers never return an error to the group, so one
// failure cannot cancel the others.
func Each(ctx context.Context, teamIDs []int64, apply func(context.Context, int64) error) []models.BulkOutcome {
	ids := models.DedupIDs(teamIDs)
	out := make([]models.BulkOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkParallel)
	for i, id := range ids {
		g.Go(func() error {
			out[i] = Outcome(id, apply(gctx, id))
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Outcome converts a per-id error into a bulk outcome.
func Outcome(teamID int64, err error) models.BulkOutcome {
	if err == nil {
		return models.BulkOutcome{TeamID: teamID, Result: models.BulkApplied}
	}
	return models.BulkOutcome{
		TeamID: teamID,
		Result: models.BulkFailed,
		Kind:   string(errs.KindOf(err)),
		Reason: errs.Message(err),
	}
}
