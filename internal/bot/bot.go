// Package bot orchestrates the audit service: the event dispatch loop
// consuming the account session and the background scheduler running the
// retention reaper.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tgaudit/tgaudit/internal/ingest"
	"github.com/tgaudit/tgaudit/internal/platform"
	"github.com/tgaudit/tgaudit/internal/reconcile"
	"github.com/tgaudit/tgaudit/internal/scheduler"
)

// App wires the pipeline components and manages their lifecycle.
type App struct {
	logger         *slog.Logger
	session        *platform.Session
	ingestor       *ingest.Ingestor
	engine         *reconcile.Engine
	scheduler      *scheduler.Scheduler
	listenOutgoing bool
}

// NewApp creates the orchestrator with all required dependencies.
func NewApp(
	logger *slog.Logger,
	session *platform.Session,
	ingestor *ingest.Ingestor,
	engine *reconcile.Engine,
	sched *scheduler.Scheduler,
	listenOutgoing bool,
) *App {
	return &App{
		logger:         logger.With("component", "orchestrator"),
		session:        session,
		ingestor:       ingestor,
		engine:         engine,
		scheduler:      sched,
		listenOutgoing: listenOutgoing,
	}
}

// Run starts the dispatch loop and the scheduler, handling graceful
// shutdown on context cancellation. It returns an error if any component
// fails during startup or execution.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting audit orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting event dispatch loop...")
		err := a.dispatch(gCtx)
		a.logger.Info("Event dispatch loop stopped.")
		return err
	})

	g.Go(func() error {
		a.logger.Info("Starting scheduler...")
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Orchestrator stopped gracefully.")
	return nil
}

// dispatch consumes the session's event stream one event at a time.
// Handler failures are logged per event so a single bad update never
// stalls the stream.
func (a *App) dispatch(ctx context.Context) error {
	updates := a.session.Client.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("event stream closed unexpectedly")
			}
			a.handle(ctx, ev)
		}
	}
}

// handle routes one event through the closed union exactly once.
func (a *App) handle(ctx context.Context, ev platform.Event) {
	switch ev := ev.(type) {
	case platform.NewMessage:
		if ev.Message.Outgoing && !a.listenOutgoing {
			return
		}
		if err := a.ingestor.Handle(ctx, ev.Message, false); err != nil {
			a.logger.ErrorContext(ctx, "Failed to ingest message",
				"chat_id", ev.Message.Chat.ID, "message_id", ev.Message.ID, "error", err)
		}
	case platform.MessageEdited:
		if err := a.ingestor.Handle(ctx, ev.Message, true); err != nil {
			a.logger.ErrorContext(ctx, "Failed to ingest edited message",
				"chat_id", ev.Message.Chat.ID, "message_id", ev.Message.ID, "error", err)
		}
		if err := a.engine.HandleEdited(ctx, &ev); err != nil {
			a.logger.ErrorContext(ctx, "Failed to reconcile edit",
				"chat_id", ev.Message.Chat.ID, "message_id", ev.Message.ID, "error", err)
		}
	case platform.MessagesDeleted:
		if err := a.engine.HandleDeleted(ctx, &ev); err != nil {
			a.logger.ErrorContext(ctx, "Failed to reconcile deletion",
				"chat_id", ev.ChatID, "ids", len(ev.IDs), "error", err)
		}
	case platform.ContentExpiredRead:
		if err := a.engine.HandleExpired(ctx, &ev); err != nil {
			a.logger.ErrorContext(ctx, "Failed to reconcile expired content",
				"ids", len(ev.IDs), "error", err)
		}
	}
}
