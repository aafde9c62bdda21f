// Package platform defines the typed surface of the messaging platform:
// the event union delivered by the account session, the media descriptors
// persisted alongside audit records, and the client operations the rest of
// the application is allowed to call. The wire protocol itself lives in an
// external transport; see Register and Open.
package platform

// Event is the closed set of platform events the dispatcher handles.
// Each variant is matched exhaustively once at the dispatch boundary.
type Event interface {
	isEvent()
}

// NewMessage is delivered for every incoming (and, if configured,
// outgoing) message observed by the account.
type NewMessage struct {
	Message *Message
}

// MessageEdited is delivered when a message is edited. It feeds both the
// ingestion path (the edited message may never have been observed) and the
// reconciliation path (reporting the edit against the stored original).
type MessageEdited struct {
	Message *Message
}

// MessagesDeleted is delivered when one or more messages are deleted.
// ChatID is zero when the platform does not say which chat was affected,
// which is the norm for deletions outside channels.
type MessagesDeleted struct {
	ChatID int64
	IDs    []int64
}

// ContentExpiredRead is delivered when self-destructing content is read
// and purged by the platform. It never carries a chat id.
type ContentExpiredRead struct {
	IDs []int64
}

func (NewMessage) isEvent()         {}
func (MessageEdited) isEvent()      {}
func (MessagesDeleted) isEvent()    {}
func (ContentExpiredRead) isEvent() {}

// PeerKind discriminates the origin reference attached to a message.
type PeerKind int

const (
	PeerUser PeerKind = iota
	PeerChat
	PeerChannel
)

// Peer is a reference to a user, basic group, or channel.
type Peer struct {
	Kind PeerKind
	ID   int64
}

// Chat describes the conversation a message belongs to, as far as the
// transport resolved it.
type Chat struct {
	ID      int64
	Group   bool // basic group or supergroup
	Channel bool // supergroup or broadcast channel
	Private bool // 1:1 conversation

	// NoForwards is the chat-level forwarding restriction. It is nil when
	// the chat object carries no such flag (plain users do not), in which
	// case the message-level flag is authoritative.
	NoForwards *bool
}

// Message is one observed platform message.
type Message struct {
	ID       int64
	Chat     Chat
	Peer     Peer  // where the message was posted
	From     *Peer // author, present for group/channel messages
	Outgoing bool  // authored by the account itself
	Text     string
	Media    *Media

	// NoForwards is the message-level forwarding restriction, used as a
	// fallback when the chat object has no flag of its own.
	NoForwards bool

	// SenderBot reports whether the counterpart of a private chat is an
	// automated account.
	SenderBot bool
}
