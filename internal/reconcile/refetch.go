package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tgaudit/tgaudit/internal/ingest"
	"github.com/tgaudit/tgaudit/internal/platform"
	"github.com/tgaudit/tgaudit/internal/vault"
)

// Refetcher implements the manual re-fetch command: a message link posted
// into the log chat is resolved, captured to the vault, and re-sent to the
// account's saved messages.
type Refetcher struct {
	vault    *vault.Vault
	session  *platform.Session
	notifier Notifier
	logger   *slog.Logger
}

// NewRefetcher creates the manual re-fetch handler.
func NewRefetcher(v *vault.Vault, session *platform.Session, notifier Notifier, logger *slog.Logger) *Refetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refetcher{
		vault:    v,
		session:  session,
		notifier: notifier,
		logger:   logger.With("component", "refetch"),
	}
}

var linkDigits = regexp.MustCompile(`\d+`)

// SaveFromLink fetches the message behind a t.me or tg://openmessage link
// and preserves it. Failures are reported to the log chat rather than
// propagated; the triggering message was typed by the account owner and a
// crash would silently swallow the request.
func (r *Refetcher) SaveFromLink(ctx context.Context, link string) error {
	chat, msgID, err := parseLink(link)
	if err != nil {
		if sendErr := r.notifier.SendText(ctx, fmt.Sprintf("Could not parse link: %s", link)); sendErr != nil {
			r.logger.ErrorContext(ctx, "Failed to report unparseable link", "error", sendErr)
		}
		return err
	}

	msgs, err := r.session.Client.FetchMessages(ctx, chat, []int64{msgID})
	if err != nil || len(msgs) == 0 {
		if err == nil {
			err = fmt.Errorf("message %d not found", msgID)
		}
		return fmt.Errorf("failed to fetch %s: %w", link, err)
	}
	msg := msgs[0]

	chatID := msg.Chat.ID
	fromID := ingest.SenderID(msg, r.session.AccountID)

	mentioner := NewMentioner(r.session.Client, r.logger)
	mentionSender := mentioner.Mention(ctx, fromID, nil)
	mentionChat := mentioner.Mention(ctx, chatID, &msgID)

	text := fmt.Sprintf("Saved message from: %s\nin %s\n", mentionSender, mentionChat)
	if msg.Text != "" {
		text += msg.Text
	}

	if err := r.deliver(ctx, msg, chatID, text); err != nil {
		// Diagnostics go to the log chat instead of crashing the handler.
		if sendErr := r.notifier.SendText(ctx, err.Error()); sendErr != nil {
			r.logger.ErrorContext(ctx, "Failed to report refetch error", "error", sendErr)
		}
		return err
	}
	return nil
}

// deliver re-sends the fetched message, with its media when present, to
// the account's saved messages.
func (r *Refetcher) deliver(ctx context.Context, msg *platform.Message, chatID int64, text string) error {
	me := r.session.AccountID

	if msg.Media == nil {
		return r.session.Client.SendMessage(ctx, me, text, nil)
	}

	err := r.vault.Capture(msg.ID, chatID, msg.Media.Size, func(w io.Writer) error {
		return r.session.Client.DownloadMedia(ctx, msg.Media, w)
	})
	if err != nil {
		return fmt.Errorf("failed to capture media for %d: %w", msg.ID, err)
	}

	rc, err := r.vault.Open(msg.ID, chatID)
	if err != nil {
		return fmt.Errorf("failed to reopen captured media for %d: %w", msg.ID, err)
	}
	defer rc.Close()

	upload := &platform.Upload{Name: platform.FileName(msg.Media), Reader: rc}
	return r.session.Client.SendMessage(ctx, me, text, upload)
}

// parseLink extracts the chat reference and message id from a t.me link
// (public username or private /c/ form) or a tg://openmessage link.
func parseLink(link string) (platform.ChatRef, int64, error) {
	if strings.HasPrefix(link, "tg://") {
		parts := linkDigits.FindAllString(link, -1)
		if len(parts) != 2 {
			return platform.ChatRef{}, 0, fmt.Errorf("unparseable link: %s", link)
		}
		chatID, _ := strconv.ParseInt(parts[0], 10, 64)
		msgID, _ := strconv.ParseInt(parts[1], 10, 64)
		return platform.ChatRef{ID: chatID}, msgID, nil
	}

	parts := strings.Split(link, "/")
	if len(parts) < 2 {
		return platform.ChatRef{}, 0, fmt.Errorf("unparseable link: %s", link)
	}
	msgID, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return platform.ChatRef{}, 0, fmt.Errorf("unparseable link: %s", link)
	}

	chatPart := parts[len(parts)-2]
	if chatID, err := strconv.ParseInt(chatPart, 10, 64); err == nil {
		return platform.ChatRef{ID: chatID}, msgID, nil
	}
	return platform.ChatRef{Username: chatPart}, msgID, nil
}
