package platform

import (
	"context"
	"io"
)

// Entity is the resolved identity behind a user, group, or channel id.
type Entity struct {
	ID        int64
	Title     string // channels and groups
	FirstName string
	LastName  string
	Username  string
	Phone     string
	Broadcast bool // broadcast channel
	Group     bool // basic group or supergroup
	Bot       bool
}

// IsChat reports whether the entity is a channel or group rather than an
// individual account.
func (e *Entity) IsChat() bool {
	return e.Broadcast || e.Group
}

// Client enumerates the operations consumed from the external account
// session. Implementations are registered by transport packages; the rest
// of the application never touches the wire protocol.
type Client interface {
	// Updates yields the live event stream. The channel is closed when
	// the session ends.
	Updates() <-chan Event

	// ResolveEntity resolves a user, group, or channel id.
	ResolveEntity(ctx context.Context, id int64) (*Entity, error)

	// FetchMessages fetches specific messages from a chat by id.
	FetchMessages(ctx context.Context, chat ChatRef, ids []int64) ([]*Message, error)

	// DownloadMedia streams the attachment behind a descriptor into w.
	DownloadMedia(ctx context.Context, media *Media, w io.Writer) error

	// SendMessage sends text, optionally with an attached file, to a chat.
	SendMessage(ctx context.Context, chatID int64, text string, file *Upload) error

	// RemoveSavedGif removes a gif from the account's saved collection.
	RemoveSavedGif(ctx context.Context, doc *Document) error

	// RemoveSavedSticker removes a sticker from the account's recent
	// sticker collection.
	RemoveSavedSticker(ctx context.Context, doc *Document) error

	// Close terminates the session.
	Close() error
}

// Upload is a file to attach to an outgoing message.
type Upload struct {
	Name   string
	Reader io.Reader
}

// ChatRef addresses a chat either by numeric id or by public username,
// whichever a message link carried.
type ChatRef struct {
	ID       int64
	Username string
}

// Session is the authenticated platform context: the live client handle
// and the account's own id, resolved once after login and never mutated.
type Session struct {
	Client    Client
	AccountID int64
}
