package database

import (
	"database/sql"
	"time"
)

// ChatType categorizes the conversation a message was observed in. Values
// are stored in the chat_type column and each type has its own retention
// horizon.
type ChatType int

const (
	ChatTypeUnknown ChatType = iota
	ChatTypeUser
	ChatTypeChannel
	ChatTypeGroup
	ChatTypeBot
)

// ChatTypes lists every type, for retention sweeps that must cover all of
// them.
var ChatTypes = []ChatType{
	ChatTypeUnknown,
	ChatTypeUser,
	ChatTypeChannel,
	ChatTypeGroup,
	ChatTypeBot,
}

func (t ChatType) String() string {
	switch t {
	case ChatTypeUser:
		return "user"
	case ChatTypeChannel:
		return "channel"
	case ChatTypeGroup:
		return "group"
	case ChatTypeBot:
		return "bot"
	default:
		return "unknown"
	}
}

// AuditMessage is one audit record per originally observed message. The
// platform message id is unique only together with the chat id, which is
// why the primary key spans both columns.
type AuditMessage struct {
	ID              int64          `db:"id"`
	ChatID          int64          `db:"chat_id"`
	FromID          int64          `db:"from_id"` // 0 = unknown sender
	ChatType        ChatType       `db:"chat_type"`
	Text            sql.NullString `db:"text"`
	Media           []byte         `db:"media"` // serialized descriptor, never raw bytes
	NoForwards      bool           `db:"noforwards"`
	SelfDestructing bool           `db:"self_destructing"`
	CreatedAt       time.Time      `db:"created_at"`
	EditedAt        sql.NullTime   `db:"edited_at"`
}
