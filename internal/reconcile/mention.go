package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tgaudit/tgaudit/internal/platform"
)

// Mentioner renders display mentions for users, groups, and channels.
// Resolution failures are never fatal: the stringified id is used instead.
type Mentioner struct {
	client platform.Client
	logger *slog.Logger
}

// NewMentioner creates a mention renderer backed by the platform client.
func NewMentioner(client platform.Client, logger *slog.Logger) *Mentioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mentioner{client: client, logger: logger.With("component", "mention")}
}

// Mention renders a markdown mention for an entity. chatMsgID, when
// non-nil, targets the deep link at a specific message and marks user
// mentions as private-message references.
func (m *Mentioner) Mention(ctx context.Context, entityID int64, chatMsgID *int64) string {
	if entityID == 0 {
		return "Unknown"
	}

	msgID := int64(1)
	if chatMsgID != nil {
		msgID = *chatMsgID
	}

	entity, err := m.client.ResolveEntity(ctx, entityID)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to resolve entity", "entity_id", entityID, "error", err)
		return strconv.FormatInt(entityID, 10)
	}

	if entity.IsChat() {
		// Channel and supergroup ids carry a reserved -100 prefix that
		// deep links omit.
		chatID := strings.Replace(strconv.FormatInt(entityID, 10), "-100", "", 1)
		return fmt.Sprintf("[%s](t.me/c/%s/%d)", entity.Title, chatID, msgID)
	}

	switch {
	case entity.FirstName != "":
		name := entity.FirstName
		if entity.LastName != "" {
			name += " " + entity.LastName
		}
		mention := fmt.Sprintf("[%s](tg://user?id=%d)", name, entity.ID)
		if chatMsgID != nil {
			mention += " #pm"
		}
		return mention
	case entity.Username != "":
		return fmt.Sprintf("[@%s](t.me/%s)", entity.Username, entity.Username)
	case entity.Phone != "":
		return entity.Phone
	default:
		return strconv.FormatInt(entity.ID, 10)
	}
}
