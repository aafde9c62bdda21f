// Package ingest turns raw platform events into classified, deduplicated
// audit records, capturing restricted media to the vault at observation
// time.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/tgaudit/tgaudit/internal/database"
	"github.com/tgaudit/tgaudit/internal/platform"
	"github.com/tgaudit/tgaudit/internal/vault"
)

// LinkSaver handles message links the account owner posts into the audit
// log chat, re-fetching and preserving the referenced messages.
type LinkSaver interface {
	SaveFromLink(ctx context.Context, link string) error
}

// Ingestor classifies incoming messages and stores audit records.
type Ingestor struct {
	store     database.Store
	vault     *vault.Vault
	session   *platform.Session
	ignore    map[int64]bool
	logChatID int64
	linkSaver LinkSaver
	logger    *slog.Logger
}

// NewIngestor creates the ingestion guard. linkSaver may be nil, in which
// case message links in the log chat are archived like any other message.
func NewIngestor(
	store database.Store,
	v *vault.Vault,
	session *platform.Session,
	ignore map[int64]bool,
	logChatID int64,
	linkSaver LinkSaver,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:     store,
		vault:     v,
		session:   session,
		ignore:    ignore,
		logChatID: logChatID,
		linkSaver: linkSaver,
		logger:    logger.With("component", "ingest"),
	}
}

var (
	msgLinkHead  = regexp.MustCompile(`^(https://)?t\.me/(?:c/)?\w+/\d+`)
	openLinkHead = regexp.MustCompile(`^tg://openmessage\?user_id=\d+&message_id=\d+`)
	msgLinkAll   = regexp.MustCompile(`(?:https://)?t\.me/(?:c/)?\w+/\d+`)
	openLinkAll  = regexp.MustCompile(`tg://openmessage\?user_id=\d+&message_id=\d+`)
)

// Handle processes one new or edited message. edited distinguishes a
// MessageEdited delivery, which still inserts when the message was never
// observed and otherwise only stamps edited_at.
func (g *Ingestor) Handle(ctx context.Context, msg *platform.Message, edited bool) error {
	chatID := msg.Chat.ID
	fromID := SenderID(msg, g.session.AccountID)

	if g.interceptLinks(ctx, msg, chatID, fromID) {
		return nil
	}

	if g.ignore[fromID] || g.ignore[chatID] {
		return nil
	}

	noforwards := resolveNoForwards(msg)
	selfDestructing := msg.Media != nil && msg.Media.TTLSeconds > 0

	// Capture before the platform's own copy can vanish. Failures degrade
	// to a record without media bytes; they never abort the event.
	if msg.Media != nil && (noforwards || selfDestructing) {
		err := g.vault.Capture(msg.ID, chatID, msg.Media.Size, func(w io.Writer) error {
			return g.session.Client.DownloadMedia(ctx, msg.Media, w)
		})
		if err != nil {
			if errors.Is(err, vault.ErrTooLarge) {
				g.logger.WarnContext(ctx, "Media too large to capture, storing record without bytes",
					"chat_id", chatID, "message_id", msg.ID, "size", msg.Media.Size)
			} else {
				g.logger.ErrorContext(ctx, "Media capture failed, storing record without bytes",
					"chat_id", chatID, "message_id", msg.ID, "error", err)
			}
		}
	}

	now := time.Now().UTC()

	exists, err := g.store.Exists(ctx, chatID, msg.ID)
	if err != nil {
		return fmt.Errorf("existence check failed: %w", err)
	}
	if exists {
		if edited {
			return g.store.MarkEdited(ctx, chatID, msg.ID, now)
		}
		return nil
	}

	media, err := platform.EncodeMedia(msg.Media)
	if err != nil {
		return fmt.Errorf("failed to encode media descriptor: %w", err)
	}

	record := &database.AuditMessage{
		ID:              msg.ID,
		ChatID:          chatID,
		FromID:          fromID,
		ChatType:        ChatTypeOf(msg),
		Media:           media,
		NoForwards:      noforwards,
		SelfDestructing: selfDestructing,
		CreatedAt:       now,
	}
	if msg.Text != "" {
		record.Text = sql.NullString{String: msg.Text, Valid: true}
	}
	if edited {
		record.EditedAt = sql.NullTime{Time: now, Valid: true}
	}

	if err := g.store.Insert(ctx, record); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			// Lost a race against a concurrent observation of the same
			// message; the stored row wins.
			if edited {
				return g.store.MarkEdited(ctx, chatID, msg.ID, now)
			}
			return nil
		}
		return err
	}
	return nil
}

// interceptLinks diverts message links the account owner posts into the
// log chat to the manual re-fetch path. Returns true when the message was
// consumed.
func (g *Ingestor) interceptLinks(ctx context.Context, msg *platform.Message, chatID, fromID int64) bool {
	if g.linkSaver == nil || chatID != g.logChatID || fromID != g.session.AccountID || msg.Text == "" {
		return false
	}
	if !msgLinkHead.MatchString(msg.Text) && !openLinkHead.MatchString(msg.Text) {
		return false
	}

	links := msgLinkAll.FindAllString(msg.Text, -1)
	if len(links) == 0 {
		links = openLinkAll.FindAllString(msg.Text, -1)
	}
	if len(links) == 0 {
		return false
	}

	for _, link := range links {
		if err := g.linkSaver.SaveFromLink(ctx, link); err != nil {
			g.logger.WarnContext(ctx, "Failed to save message from link", "link", link, "error", err)
		}
	}
	return true
}

// resolveNoForwards prefers the chat-level forwarding restriction and
// falls back to the message-level flag when the chat object has none,
// which is the case for plain users.
func resolveNoForwards(msg *platform.Message) bool {
	if msg.Chat.NoForwards != nil {
		return *msg.Chat.NoForwards
	}
	return msg.NoForwards
}

// ChatTypeOf resolves the conversation category from the event shape.
// Groups win over channels because supergroups report both memberships.
func ChatTypeOf(msg *platform.Message) database.ChatType {
	switch {
	case msg.Chat.Group:
		return database.ChatTypeGroup
	case msg.Chat.Channel:
		return database.ChatTypeChannel
	case msg.Chat.Private:
		if msg.SenderBot {
			return database.ChatTypeBot
		}
		return database.ChatTypeUser
	default:
		return database.ChatTypeUnknown
	}
}

// SenderID resolves the author id of a message. Self-authored private
// messages resolve to the account's own id; group and channel messages use
// the nested author reference when present; 0 means unknown.
func SenderID(msg *platform.Message, accountID int64) int64 {
	switch msg.Peer.Kind {
	case platform.PeerUser:
		if msg.Outgoing {
			return accountID
		}
		return msg.Peer.ID
	case platform.PeerChat, platform.PeerChannel:
		if msg.From != nil {
			switch msg.From.Kind {
			case platform.PeerUser, platform.PeerChannel:
				return msg.From.ID
			}
		}
	}
	return 0
}
