package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"tourney-registry/internal/admin"
	"tourney-registry/internal/buffer"
	"tourney-registry/internal/config"
	"tourney-registry/internal/elastic"
	"tourney-registry/internal/ledger"
	"tourney-registry/internal/metrics"
	"tourney-registry/internal/notify"
	"tourney-registry/internal/outbox"
	"tourney-registry/internal/payments/gateways"
	"tourney-registry/internal/registration"
	"tourney-registry/internal/review"
	"tourney-registry/internal/server"
	"tourney-registry/internal/settings"
	"tourney-registry/internal/sheets"
	"tourney-registry/internal/stages"
	"tourney-registry/internal/tgbot"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, Telegram console and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(newLogger())
		},
	}
}

func serve(logger *slog.Logger) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	metrics.Register()

	buf, err := buffer.Open(cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("buffer: %w", err)
	}
	defer buf.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var bot *tgbotapi.BotAPI
	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifier = notify.NewTelegram(bot, cfg.AdminTGIDs, logger)
	}

	sinks, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry, approver := gateways.NewRegistry(cfg, logger)
	l := ledger.New(db, logger)
	st := settings.New(db, logger)
	eng := stages.New(l, logger)
	queue := review.New(db, l, approver, st, notifier, logger)
	regSvc := registration.NewService(db, registry, l, st, buf, notifier, registration.Options{
		Description: cfg.TournamentName,
		ReturnURL:   cfg.PublicURL("/registration/complete"),
		CancelURL:   cfg.PublicURL("/registration/cancelled"),
	}, logger)

	httpSrv := server.New(server.Deps{
		Config:       cfg,
		Registration: regSvc,
		Ledger:       l,
		Stages:       eng,
		Review:       queue,
		Admin:        admin.New(l, eng, logger),
		Settings:     st,
		Logger:       logger,
	})

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	if len(sinks) > 0 {
		worker := outbox.NewSyncWorker(db, sinks, cfg.SyncInterval, logger)
		run(worker.Run)
		run(worker.RetryDLQ)
	}
	run(registration.NewReconciler(buf, l, notifier, cfg.ReconcileInterval, logger).Run)

	if bot != nil {
		app := tgbot.New(cfg, bot, tgbot.Services{Ledger: l, Stages: eng, Review: queue, Settings: st}, logger)
		run(func(ctx context.Context) {
			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("bot stopped", "err", err)
			}
		})
	}

	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctxTimeout)
	if bot != nil {
		bot.StopReceivingUpdates()
	}
	wg.Wait()

	logger.Info("bye")
	return nil
}

// buildSinks wires the outbox mirrors that have configuration.
func buildSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]outbox.Sink, error) {
	var sinks []outbox.Sink
	if cfg.SpreadsheetID != "" {
		sh, err := sheets.New(ctx, cfg.GoogleServiceAccountJSON, cfg.SpreadsheetID)
		if err != nil {
			return nil, fmt.Errorf("sheets: %w", err)
		}
		logger.Info("sheets mirror enabled", "spreadsheet_id", sh.SpreadsheetID())
		sinks = append(sinks, sh)
	}
	if cfg.ElasticURL != "" {
		es, err := elastic.Connect(cfg.ElasticURL)
		if err != nil {
			return nil, fmt.Errorf("elastic: %w", err)
		}
		logger.Info("elastic mirror enabled", "url", cfg.ElasticURL)
		sinks = append(sinks, elastic.NewSink(es))
	}
	return sinks, nil
}
