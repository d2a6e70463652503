package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"tourney-registry/internal/metrics"
	"tourney-registry/internal/models"
)

// Sink is a read-only mirror of the team ledger.
type Sink interface {
	Name() string
	Upsert(ctx context.Context, t models.Team) error
	Delete(ctx context.Context, teamID int64) error
}

// Preparer is implemented by sinks that need setup (headers, index mappings)
// before the first event.
type Preparer interface {
	Prepare(ctx context.Context) error
}

type SyncWorker struct {
	db       *gorm.DB
	sinks    map[string]Sink
	order    []string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewSyncWorker(db *gorm.DB, sinks []Sink, interval time.Duration, logger *slog.Logger) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &SyncWorker{
		db:       db,
		sinks:    map[string]Sink{},
		interval: interval,
		batch:    200,
		logger:   logger.With("component", "sync"),
	}
	for _, s := range sinks {
		w.sinks[s.Name()] = s
		w.order = append(w.order, s.Name())
	}
	return w
}

func (w *SyncWorker) Run(ctx context.Context) {
	for _, name := range w.order {
		if p, ok := w.sinks[name].(Preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				w.logger.Error("prepare sink", "sink", name, "err", err)
			}
		}
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("worker error", "err", err)
			}
		}
	}
}

// ProcessOnce claims up to one batch of unprocessed events and applies each to
// every sink. A failing sink gets a DLQ row; the event is not retried from the
// outbox.
func (w *SyncWorker) ProcessOnce(ctx context.Context) (int, error) {
	var events []models.OutboxEvent
	err := w.db.WithContext(ctx).Where("processed = ?", false).Order("id ASC").Limit(w.batch).Find(&events).Error
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range events {
		claimed, err := w.claim(ctx, e.ID)
		if err != nil {
			return n, err
		}
		if !claimed {
			continue
		}
		for _, name := range w.order {
			if err := apply(ctx, w.sinks[name], e); err != nil {
				metrics.FailedEvents.Inc()
				w.putDLQ(ctx, name, e, err.Error())
				continue
			}
			metrics.ProcessedEvents.Inc()
		}
		n++
	}
	return n, nil
}

// claim flips processed false→true. Only one worker wins an event.
func (w *SyncWorker) claim(ctx context.Context, id int64) (bool, error) {
	res := w.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Update("processed", true)
	return res.RowsAffected == 1, res.Error
}

func apply(ctx context.Context, s Sink, e models.OutboxEvent) error {
	if e.EntityType != models.EntityTeam {
		return fmt.Errorf("unknown entity_type=%s", e.EntityType)
	}
	switch e.Op {
	case models.OpDelete:
		return s.Delete(ctx, e.EntityID)
	case models.OpUpsert:
		var t models.Team
		if err := json.Unmarshal(e.Payload, &t); err != nil {
			return fmt.Errorf("decode team payload: %w", err)
		}
		return s.Upsert(ctx, t)
	}
	return fmt.Errorf("unknown op=%s", e.Op)
}

func (w *SyncWorker) putDLQ(ctx context.Context, sink string, e models.OutboxEvent, msg string) {
	metrics.DLQEvents.Inc()
	dlq := models.DLQ{
		OutboxID:   e.ID,
		Sink:       sink,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Op:         e.Op,
		ErrorMsg:   msg,
		Payload:    e.Payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := w.db.WithContext(ctx).Create(&dlq).Error; err != nil {
		w.logger.Error("failed to insert into DLQ", "outbox_id", e.ID, "sink", sink, "err", err)
		return
	}
	w.logger.Warn("DLQ record created", "outbox_id", e.ID, "sink", sink, "team_id", e.EntityID, "reason", msg)
}

func (w *SyncWorker) RetryDLQ(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RetryDLQOnce(ctx); err != nil {
				w.logger.Error("DLQ fetch error", "err", err)
			}
		}
	}
}

// RetryDLQOnce re-applies unresolved DLQ rows and returns how many resolved.
func (w *SyncWorker) RetryDLQOnce(ctx context.Context) (int, error) {
	var dlqs []models.DLQ
	if err := w.db.WithContext(ctx).Where("resolved = ?", false).Order("id ASC").Limit(50).Find(&dlqs).Error; err != nil {
		return 0, err
	}
	resolved := 0
	for _, d := range dlqs {
		now := time.Now().UTC()
		sink, ok := w.sinks[d.Sink]
		if !ok {
			continue
		}
		e := models.OutboxEvent{ID: d.OutboxID, EntityType: d.EntityType, EntityID: d.EntityID, Op: d.Op, Payload: d.Payload}
		fields := map[string]any{"retried_at": &now}
		if err := apply(ctx, sink, e); err != nil {
			fields["error_msg"] = err.Error()
		} else {
			fields["resolved"] = true
			resolved++
			metrics.ProcessedEvents.Inc()
			w.logger.Info("DLQ resolved", "dlq_id", d.ID, "sink", d.Sink, "team_id", d.EntityID)
		}
		if err := w.db.WithContext(ctx).Model(&models.DLQ{}).Where("id = ?", d.ID).Updates(fields).Error; err != nil {
			return resolved, err
		}
	}
	return resolved, nil
}
