// Package telegram delivers audit reports into the configured log chat
// through the Bot API. The bot identity is separate from the observed
// account session so reports survive even if the account is restricted.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tgaudit/tgaudit/internal/platform"
)

// Notifier posts audit reports to a single log chat.
type Notifier struct {
	bot       *tgbot.Bot
	logChatID int64
	logger    *slog.Logger
}

// NewNotifier creates the Bot API client for the audit log destination.
func NewNotifier(token string, logChatID int64, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := tgbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Notifier{
		bot:       b,
		logChatID: logChatID,
		logger:    logger.With("component", "notifier"),
	}, nil
}

// SendText posts a plain report to the log chat.
func (n *Notifier) SendText(ctx context.Context, text string) error {
	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: n.logChatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	return nil
}

// SendFile posts a bare attachment and returns the posted message id so
// the report text can follow as a reply.
func (n *Notifier) SendFile(ctx context.Context, file *platform.Upload) (int, error) {
	sent, err := n.bot.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID:   n.logChatID,
		Document: &models.InputFileUpload{Filename: file.Name, Data: file.Reader},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to send attachment: %w", err)
	}
	return sent.ID, nil
}

// SendFileWithText posts an attachment with the report text as caption.
func (n *Notifier) SendFileWithText(ctx context.Context, file *platform.Upload, text string) error {
	_, err := n.bot.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID:   n.logChatID,
		Document: &models.InputFileUpload{Filename: file.Name, Data: file.Reader},
		Caption:  text,
	})
	if err != nil {
		return fmt.Errorf("failed to send attachment with report: %w", err)
	}
	return nil
}

// Reply attaches text as a reply to an earlier posted message.
func (n *Notifier) Reply(ctx context.Context, toMessageID int, text string) error {
	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:          n.logChatID,
		Text:            text,
		ReplyParameters: &models.ReplyParameters{MessageID: toMessageID},
	})
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}
