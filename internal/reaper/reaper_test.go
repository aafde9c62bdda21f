package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgaudit/tgaudit/internal/database"
	"github.com/tgaudit/tgaudit/internal/vault"
)

type stubStore struct {
	purged   int64
	purgeErr error
	gotNow   time.Time
	gotHors  map[database.ChatType]time.Duration
}

func (s *stubStore) Ping(context.Context) error { return nil }

func (s *stubStore) Insert(context.Context, *database.AuditMessage) error { return nil }

func (s *stubStore) Exists(context.Context, int64, int64) (bool, error) { return false, nil }

func (s *stubStore) MarkEdited(context.Context, int64, int64, time.Time) error { return nil }

func (s *stubStore) Reconcile(context.Context, int64, []int64) ([]database.AuditMessage, error) {
	return nil, nil
}

func (s *stubStore) PurgeExpired(_ context.Context, now time.Time, horizons map[database.ChatType]time.Duration) (int64, error) {
	s.gotNow = now
	s.gotHors = horizons
	return s.purged, s.purgeErr
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(t.TempDir(), "passphrase", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func TestMaxHorizon(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	r := New(&stubStore{}, testVault(t), map[database.ChatType]time.Duration{
		database.ChatTypeUser:    1 * day,
		database.ChatTypeGroup:   7 * day,
		database.ChatTypeChannel: 2 * day,
	}, nil)
	assert.Equal(t, 7*day, r.MaxHorizon())

	empty := New(&stubStore{}, testVault(t), nil, nil)
	assert.Zero(t, empty.MaxHorizon())
}

func TestSweepPurgesStoreAndVault(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	horizons := map[database.ChatType]time.Duration{database.ChatTypeUser: 2 * day}
	store := &stubStore{purged: 3}
	v := testVault(t)

	// One vault file older than the horizon, one fresh.
	write := func(id int64, age time.Duration) {
		require.NoError(t, v.Capture(id, 1, 4, func(w io.Writer) error {
			_, err := w.Write([]byte("data"))
			return err
		}))
		old := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(v.Path(id, 1), old, old))
	}
	write(1, 3*day)
	write(2, 1*day)

	r := New(store, v, horizons, nil)
	require.NoError(t, r.Sweep(context.Background()))

	assert.Equal(t, horizons, store.gotHors)
	assert.WithinDuration(t, time.Now().UTC(), store.gotNow, time.Minute)

	_, err := os.Stat(v.Path(1, 1))
	assert.True(t, os.IsNotExist(err), "aged file must be swept")
	_, err = os.Stat(v.Path(2, 1))
	assert.NoError(t, err, "fresh file must survive")
}

func TestSweepStoreFailureStillSweepsVault(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	wantErr := errors.New("database is locked")
	store := &stubStore{purgeErr: wantErr}
	v := testVault(t)

	require.NoError(t, v.Capture(1, 1, 4, func(w io.Writer) error {
		_, err := w.Write([]byte("data"))
		return err
	}))
	old := time.Now().Add(-3 * day)
	require.NoError(t, os.Chtimes(v.Path(1, 1), old, old))

	r := New(store, v, map[database.ChatType]time.Duration{database.ChatTypeUser: 2 * day}, nil)
	err := r.Sweep(context.Background())
	require.ErrorIs(t, err, wantErr)

	_, statErr := os.Stat(v.Path(1, 1))
	assert.True(t, os.IsNotExist(statErr), "a store outage must not block the file sweep")
}
