// Package reconcile responds to edit, delete, and expiry notifications
// using previously stored audit records, rendering human-readable reports
// into the configured log chat under a rate-limited rollup policy.
package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/tgaudit/tgaudit/internal/database"
	"github.com/tgaudit/tgaudit/internal/platform"
	"github.com/tgaudit/tgaudit/internal/vault"
)

// Notifier delivers audit reports to the log destination.
type Notifier interface {
	// SendText sends a plain report.
	SendText(ctx context.Context, text string) error

	// SendFile sends a bare attachment and returns the posted message id
	// so the report text can be attached as a reply.
	SendFile(ctx context.Context, file *platform.Upload) (int, error)

	// SendFileWithText sends an attachment with the report as caption.
	SendFileWithText(ctx context.Context, file *platform.Upload, text string) error

	// Reply attaches text as a reply to an earlier posted message.
	Reply(ctx context.Context, toMessageID int, text string) error
}

// Options carries the reconciliation policy knobs.
type Options struct {
	SaveEditedMessages          bool
	DeleteSentGIFsFromSaved     bool
	DeleteSentStickersFromSaved bool
	RateLimitNumMessages        int
}

// Engine is the reconciliation engine.
type Engine struct {
	store     database.Store
	vault     *vault.Vault
	session   *platform.Session
	notifier  Notifier
	mentioner *Mentioner
	ignore    map[int64]bool
	opts      Options
	logger    *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(
	store database.Store,
	v *vault.Vault,
	session *platform.Session,
	notifier Notifier,
	ignore map[int64]bool,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		vault:     v,
		session:   session,
		notifier:  notifier,
		mentioner: NewMentioner(session.Client, logger),
		ignore:    ignore,
		opts:      opts,
		logger:    logger.With("component", "reconcile"),
	}
}

// trigger normalizes the three reconciliation-relevant event shapes.
type trigger struct {
	verb    string // deleted, self destructed, edited
	chatID  int64  // 0 = chat-agnostic event
	ids     []int64
	expired bool   // drop records that are not self-destructing
	newText string // replacement text, edit events only
}

// HandleDeleted reports deleted messages from their stored records.
func (e *Engine) HandleDeleted(ctx context.Context, ev *platform.MessagesDeleted) error {
	return e.process(ctx, trigger{verb: "deleted", chatID: ev.ChatID, ids: ev.IDs})
}

// HandleExpired reports self-destructing content that was read and purged
// by the platform.
func (e *Engine) HandleExpired(ctx context.Context, ev *platform.ContentExpiredRead) error {
	return e.process(ctx, trigger{verb: "self destructed", ids: ev.IDs, expired: true})
}

// HandleEdited reports an edit against the stored original. It is a no-op
// when edit logging is disabled.
func (e *Engine) HandleEdited(ctx context.Context, ev *platform.MessageEdited) error {
	if !e.opts.SaveEditedMessages {
		return nil
	}
	return e.process(ctx, trigger{
		verb:    "edited",
		chatID:  ev.Message.Chat.ID,
		ids:     []int64{ev.Message.ID},
		newText: ev.Message.Text,
	})
}

func (e *Engine) process(ctx context.Context, t trigger) error {
	capped := t.ids
	if len(capped) > e.opts.RateLimitNumMessages {
		capped = capped[:e.opts.RateLimitNumMessages]
	}

	records, err := e.store.Reconcile(ctx, t.chatID, capped)
	if err != nil {
		return err
	}

	var senderIDs []int64
	for i := range records {
		rec := &records[i]

		// Read receipts only matter for expiring content.
		if t.expired && !rec.SelfDestructing {
			continue
		}

		skip, err := e.processRecord(ctx, t, rec)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
		senderIDs = append(senderIDs, rec.FromID)
	}

	// The rollup counts the raw event's ids, not the capped candidates.
	if len(t.ids) > e.opts.RateLimitNumMessages && len(senderIDs) > 0 {
		notice := fmt.Sprintf("%d messages %s. Logged %d.",
			len(t.ids), t.verb, e.opts.RateLimitNumMessages)
		if err := e.notifier.SendText(ctx, notice); err != nil {
			e.logger.ErrorContext(ctx, "Failed to send rollup notice", "error", err)
		}
	}

	e.logger.InfoContext(ctx, "Reconciliation finished",
		"verb", t.verb, "event_ids", len(t.ids), "reported", len(senderIDs))
	return nil
}

// processRecord reports one stored record. It returns skip=true when the
// record belongs to an ignored sender or chat, which silences the whole
// event.
func (e *Engine) processRecord(ctx context.Context, t trigger, rec *database.AuditMessage) (bool, error) {
	if e.ignore[rec.FromID] || e.ignore[rec.ChatID] {
		return true, nil
	}

	media, err := platform.DecodeMedia(rec.Media)
	if err != nil {
		e.logger.WarnContext(ctx, "Stored media descriptor is unreadable",
			"chat_id", rec.ChatID, "message_id", rec.ID, "error", err)
		media = nil
	}

	mentionSender := e.mentioner.Mention(ctx, rec.FromID, nil)
	mentionChat := e.mentioner.Mention(ctx, rec.ChatID, &rec.ID)

	text := composeText(t, rec, mentionSender, mentionChat)
	kind := platform.Classify(media)

	upload, done := e.retrieve(ctx, rec, media, kind)
	if done != nil {
		defer done()
	}

	if err := e.emit(ctx, kind, upload, text); err != nil {
		e.logger.ErrorContext(ctx, "Failed to send audit report",
			"chat_id", rec.ChatID, "message_id", rec.ID, "error", err)
	}

	e.unsave(ctx, media)
	return false, nil
}

// composeText builds the human-readable audit text for one record.
func composeText(t trigger, rec *database.AuditMessage, sender, chat string) string {
	var text string
	switch {
	case t.verb == "edited":
		text = fmt.Sprintf("Edited message from: %s\nin %s\n", sender, chat)
		if rec.Text.Valid && rec.Text.String != "" {
			text += fmt.Sprintf("Original message:\n%s\n\n", rec.Text.String)
		}
		if t.newText != "" {
			text += fmt.Sprintf("Edited message:\n%s", t.newText)
		}
	case t.expired:
		text = fmt.Sprintf("Deleted #selfdestructing message from: %s\nin %s\n", sender, chat)
		if rec.Text.Valid && rec.Text.String != "" {
			text += rec.Text.String
		}
	default:
		text = fmt.Sprintf("Deleted message from: %s\nin %s\n", sender, chat)
		if rec.Text.Valid && rec.Text.String != "" {
			text += rec.Text.String
		}
	}
	return text
}

// retrieve obtains the attachment for display. Restricted content comes
// decrypted from the vault; everything else is re-fetched from the
// platform, which still holds the bytes. A nil upload means the report
// goes out as text only.
func (e *Engine) retrieve(ctx context.Context, rec *database.AuditMessage, media *platform.Media, kind platform.Kind) (*platform.Upload, func()) {
	if media == nil {
		return nil, nil
	}

	if (rec.NoForwards || rec.SelfDestructing) && kind.HasPayload() {
		rc, err := e.vault.Open(rec.ID, rec.ChatID)
		if err != nil {
			e.logger.WarnContext(ctx, "Vault media unavailable, reporting text only",
				"chat_id", rec.ChatID, "message_id", rec.ID, "error", err)
			return nil, nil
		}
		return &platform.Upload{Name: platform.FileName(media), Reader: rc}, func() { rc.Close() }
	}

	if !kind.HasPayload() {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := e.session.Client.DownloadMedia(ctx, media, &buf); err != nil {
		e.logger.WarnContext(ctx, "Live media download failed, reporting text only",
			"chat_id", rec.ChatID, "message_id", rec.ID, "error", err)
		return nil, nil
	}
	return &platform.Upload{Name: platform.FileName(media), Reader: &buf}, nil
}

// attachmentOnly lists the kinds that are sent as a bare file with the
// report text attached as a reply.
var attachmentOnly = map[platform.Kind]bool{
	platform.KindSticker:    true,
	platform.KindRoundVideo: true,
	platform.KindDice:       true,
	platform.KindGame:       true,
	platform.KindContact:    true,
	platform.KindGeo:        true,
	platform.KindPoll:       true,
}

// emit routes the report by attachment kind.
func (e *Engine) emit(ctx context.Context, kind platform.Kind, upload *platform.Upload, text string) error {
	switch {
	case attachmentOnly[kind]:
		if upload == nil {
			return e.notifier.SendText(ctx, text)
		}
		sentID, err := e.notifier.SendFile(ctx, upload)
		if err != nil {
			return err
		}
		return e.notifier.Reply(ctx, sentID, text)
	case kind == platform.KindInstantView:
		// Instant-view previews carry no payload worth re-sending.
		return e.notifier.SendText(ctx, text)
	default:
		if upload == nil {
			return e.notifier.SendText(ctx, text)
		}
		return e.notifier.SendFileWithText(ctx, upload, text)
	}
}

// unsave removes reported gifs and stickers from the account's saved
// collections when configured to.
func (e *Engine) unsave(ctx context.Context, media *platform.Media) {
	if media == nil || media.Document == nil {
		return
	}
	doc := media.Document
	if doc.Animated && e.opts.DeleteSentGIFsFromSaved {
		if err := e.session.Client.RemoveSavedGif(ctx, doc); err != nil {
			e.logger.WarnContext(ctx, "Failed to remove gif from saved", "document_id", doc.ID, "error", err)
		}
	}
	if doc.Sticker && e.opts.DeleteSentStickersFromSaved {
		if err := e.session.Client.RemoveSavedSticker(ctx, doc); err != nil {
			e.logger.WarnContext(ctx, "Failed to remove sticker from saved", "document_id", doc.ID, "error", err)
		}
	}
}
