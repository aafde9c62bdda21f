// Package reaper purges audit records and vault files past their
// retention horizon. It runs as a background task for the process
// lifetime, independent of event dispatch.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tgaudit/tgaudit/internal/database"
	"github.com/tgaudit/tgaudit/internal/vault"
)

// Interval is the fixed pause between retention sweeps.
const Interval = 300 * time.Second

// Reaper sweeps the store and the vault on a fixed schedule.
type Reaper struct {
	store    database.Store
	vault    *vault.Vault
	horizons map[database.ChatType]time.Duration
	logger   *slog.Logger
}

// New creates a retention reaper. horizons maps each chat type to its
// retention duration; vault files live until the longest horizon among all
// types has passed.
func New(store database.Store, v *vault.Vault, horizons map[database.ChatType]time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:    store,
		vault:    v,
		horizons: horizons,
		logger:   logger.With("component", "reaper"),
	}
}

// MaxHorizon returns the longest retention horizon among all chat types.
func (r *Reaper) MaxHorizon() time.Duration {
	var max time.Duration
	for _, h := range r.horizons {
		if h > max {
			max = h
		}
	}
	return max
}

// Sweep runs one retention pass: expired store rows first, then vault
// files older than the longest horizon. Partial failures are logged and
// joined so a store outage never blocks the file sweep, and one failed
// iteration never terminates retention.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	var errs []error

	removed, err := r.store.PurgeExpired(ctx, now, r.horizons)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to purge expired messages", "error", err)
		errs = append(errs, err)
	} else if removed > 0 {
		r.logger.InfoContext(ctx, "Deleted expired messages", "count", removed)
	}

	files, err := r.vault.Sweep(now, r.MaxHorizon())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to sweep media directory", "error", err)
		errs = append(errs, err)
	}
	if files > 0 {
		r.logger.InfoContext(ctx, "Deleted expired files", "count", files)
	}

	return errors.Join(errs...)
}
