package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrAlreadyExists is returned by Insert when a record with the same
// (chat_id, id) pair is already present. Callers treat it as benign: the
// primary key, not a prior existence check, is the correctness guard
// against concurrent duplicate observations.
var ErrAlreadyExists = errors.New("audit message already exists")

// Store defines the interface for audit record operations. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Insert stores a new audit record. It fails with ErrAlreadyExists if
	// the (chat_id, id) pair is already present.
	Insert(ctx context.Context, msg *AuditMessage) error

	// Exists reports whether a record for (chat_id, id) is present. It is
	// an optimization to skip redundant work, not a uniqueness guard.
	Exists(ctx context.Context, chatID, id int64) (bool, error)

	// MarkEdited sets edited_at on an existing record. The stored text is
	// deliberately left untouched; the edit report carries the new text
	// from the event itself.
	MarkEdited(ctx context.Context, chatID, id int64, at time.Time) error

	// Reconcile returns the surviving records for the given ids. A
	// nonzero chatID scopes the query to that chat; zero means the
	// triggering event was chat-agnostic, in which case rows in the
	// reserved -100… channel/supergroup namespace are excluded. Rows
	// sharing a (chat_id, id) pair are deduplicated keeping the greatest
	// edited_at; survivors are ordered ascending by created_at.
	Reconcile(ctx context.Context, chatID int64, ids []int64) ([]AuditMessage, error)

	// PurgeExpired deletes every record whose chat type's retention
	// horizon has elapsed since created_at and returns the number removed.
	PurgeExpired(ctx context.Context, now time.Time, horizons map[ChatType]time.Duration) (int64, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx. It requires
// a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores a new audit record.
func (s *sqlxStore) Insert(ctx context.Context, msg *AuditMessage) error {
	if msg == nil {
		return fmt.Errorf("cannot insert nil message")
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if msg.CreatedAt.IsZero() {
		return fmt.Errorf("message must have a non-zero created_at")
	}

	query := `
        INSERT INTO messages (id, chat_id, from_id, chat_type, text, media, noforwards, self_destructing, created_at, edited_at)
        VALUES (:id, :chat_id, :from_id, :chat_type, :text, :media, :noforwards, :self_destructing, :created_at, :edited_at);
    `

	_, err := s.db.NamedExecContext(ctx, query, msg)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.DebugContext(ctx, "Record already present, insert skipped",
				"chat_id", msg.ChatID, "message_id", msg.ID)
			return ErrAlreadyExists
		}
		s.logger.ErrorContext(ctx, "Error inserting audit message",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
		return fmt.Errorf("failed to insert message (chat %d, id %d): %w", msg.ChatID, msg.ID, err)
	}

	s.logger.DebugContext(ctx, "Audit message inserted",
		"chat_id", msg.ChatID, "message_id", msg.ID, "chat_type", msg.ChatType.String())
	return nil
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure from the sqlite driver.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// Exists reports whether a record for (chat_id, id) is present.
func (s *sqlxStore) Exists(ctx context.Context, chatID, id int64) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		`SELECT 1 FROM messages WHERE chat_id = ? AND id = ? LIMIT 1;`, chatID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence (chat %d, id %d): %w", chatID, id, err)
	}
	return true, nil
}

// MarkEdited sets edited_at on an existing record.
func (s *sqlxStore) MarkEdited(ctx context.Context, chatID, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET edited_at = ? WHERE chat_id = ? AND id = ?;`, at, chatID, id)
	if err != nil {
		return fmt.Errorf("failed to mark message edited (chat %d, id %d): %w", chatID, id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		s.logger.DebugContext(ctx, "MarkEdited matched no rows",
			"chat_id", chatID, "message_id", id)
	}
	return nil
}

// Reconcile returns the surviving records for the given ids, deduplicated
// and ordered for reporting.
func (s *sqlxStore) Reconcile(ctx context.Context, chatID int64, ids []int64) ([]AuditMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// Channel and supergroup ids occupy the reserved -100… namespace;
	// chat-agnostic events only ever concern user and basic-group rows.
	scope := `chat_id NOT LIKE '-100%'`
	args := []interface{}{}
	if chatID != 0 {
		scope = `chat_id = ?`
		args = append(args, chatID)
	}

	// At most one row exists per (chat_id, id) under the primary key; the
	// window dedup is defensive, keeping the row with the greatest
	// edited_at should duplicates ever appear.
	query := fmt.Sprintf(`
        SELECT id, chat_id, from_id, chat_type, text, media, noforwards, self_destructing, created_at, edited_at
        FROM (
            SELECT m.*, ROW_NUMBER() OVER (
                PARTITION BY chat_id, id
                ORDER BY edited_at DESC, rowid DESC
            ) AS rn
            FROM messages m
            WHERE %s AND id IN (?)
        )
        WHERE rn = 1
        ORDER BY created_at ASC;
    `, scope)
	args = append(args, ids)

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand reconciliation query: %w", err)
	}

	var messages []AuditMessage
	if err := s.db.SelectContext(ctx, &messages, s.db.Rebind(query), inArgs...); err != nil {
		s.logger.ErrorContext(ctx, "Error running reconciliation query",
			"chat_id", chatID, "ids", len(ids), "error", err)
		return nil, fmt.Errorf("failed to load records for reconciliation: %w", err)
	}

	s.logger.DebugContext(ctx, "Reconciliation query finished",
		"chat_id", chatID, "requested", len(ids), "found", len(messages))
	return messages, nil
}

// PurgeExpired deletes every record whose retention horizon has elapsed.
func (s *sqlxStore) PurgeExpired(ctx context.Context, now time.Time, horizons map[ChatType]time.Duration) (int64, error) {
	if len(horizons) == 0 {
		return 0, nil
	}

	conds := make([]string, 0, len(horizons))
	args := make([]interface{}, 0, len(horizons)*2)
	for _, t := range ChatTypes {
		horizon, ok := horizons[t]
		if !ok {
			continue
		}
		conds = append(conds, "(chat_type = ? AND created_at < ?)")
		args = append(args, t, now.Add(-horizon))
	}

	query := "DELETE FROM messages WHERE " + strings.Join(conds, " OR ") + ";"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired messages: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged messages: %w", err)
	}
	return affected, nil
}
