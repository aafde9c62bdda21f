// Package main contains the entrypoint for the audit service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tgaudit/tgaudit/internal/bot"
	"github.com/tgaudit/tgaudit/internal/config"
	"github.com/tgaudit/tgaudit/internal/database"
	"github.com/tgaudit/tgaudit/internal/ingest"
	"github.com/tgaudit/tgaudit/internal/logger"
	"github.com/tgaudit/tgaudit/internal/platform"
	"github.com/tgaudit/tgaudit/internal/reaper"
	"github.com/tgaudit/tgaudit/internal/reconcile"
	"github.com/tgaudit/tgaudit/internal/scheduler"
	"github.com/tgaudit/tgaudit/internal/telegram"
	"github.com/tgaudit/tgaudit/internal/vault"

	// An MTProto transport package registers itself with the platform
	// registry from init, the way database drivers do; builds link their
	// transport with a blank import alongside the sqlite driver.
	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components, handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	// Store and media directories are created idempotently at startup.
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o700); err != nil {
		log.Error("Failed to create store directory", "path", cfg.Storage.DBPath, "error", err)
		return 1
	}

	db, err := database.NewDB(cfg.Storage.DBPath)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Storage.DBPath, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	v, err := vault.New(cfg.Storage.MediaDir, cfg.Storage.FilePassword, cfg.Storage.MaxFileSize, log)
	if err != nil {
		log.Error("Failed to initialize media vault", "path", cfg.Storage.MediaDir, "error", err)
		return 1
	}

	notifier, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Audit.LogChatID, log)
	if err != nil {
		log.Error("Failed to create Telegram notifier", "error", err)
		return 1
	}

	session, err := platform.Open(ctx, cfg.Telegram.Transport, platform.Credentials{
		APIID:       cfg.Telegram.APIID,
		APIHash:     cfg.Telegram.APIHash,
		SessionName: cfg.Telegram.SessionName,
	})
	if err != nil {
		log.Error("Failed to open platform session", "transport", cfg.Telegram.Transport, "error", err)
		return 1
	}
	defer func() {
		if err := session.Client.Close(); err != nil {
			log.Error("Error closing platform session", "error", err)
		}
	}()
	log.Info("Platform session opened", "account_id", session.AccountID)

	ignore := cfg.IgnoreSet()

	refetcher := reconcile.NewRefetcher(v, session, notifier, log)
	engine := reconcile.NewEngine(store, v, session, notifier, ignore, reconcile.Options{
		SaveEditedMessages:          cfg.Audit.SaveEditedMessages,
		DeleteSentGIFsFromSaved:     cfg.Audit.DeleteSentGIFsFromSaved,
		DeleteSentStickersFromSaved: cfg.Audit.DeleteSentStickersFromSaved,
		RateLimitNumMessages:        cfg.Audit.RateLimitNumMessages,
	}, log)
	ingestor := ingest.NewIngestor(store, v, session, ignore, cfg.Audit.LogChatID, refetcher, log)

	day := 24 * time.Hour
	horizons := map[database.ChatType]time.Duration{
		database.ChatTypeUser:    time.Duration(cfg.Audit.PersistDaysUser) * day,
		database.ChatTypeChannel: time.Duration(cfg.Audit.PersistDaysChannel) * day,
		database.ChatTypeGroup:   time.Duration(cfg.Audit.PersistDaysGroup) * day,
		database.ChatTypeBot:     time.Duration(cfg.Audit.PersistDaysBot) * day,
		database.ChatTypeUnknown: time.Duration(cfg.Audit.PersistDaysGroup) * day,
	}
	rp := reaper.New(store, v, horizons, log)

	sched, err := scheduler.NewScheduler(log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	if err := sched.AddEvery("retention_sweep", reaper.Interval, rp.Sweep); err != nil {
		log.Error("Failed to schedule retention sweep", "error", err)
		return 1
	}

	app := bot.NewApp(log, session, ingestor, engine, sched, cfg.Audit.ListenOutgoingMessages)

	log.Info("Starting audit service...")
	runErr := app.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Audit service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Audit service stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
