package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgaudit/tgaudit/internal/database"
	"github.com/tgaudit/tgaudit/internal/platform"
	"github.com/tgaudit/tgaudit/internal/vault"
)

type fakeStore struct {
	mu        sync.Mutex
	inserted  []*database.AuditMessage
	edited    []int64
	existing  map[int64]bool // keyed by message id
	insertErr error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) Insert(_ context.Context, msg *database.AuditMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, msg)
	return nil
}

func (f *fakeStore) Exists(_ context.Context, _, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[id], nil
}

func (f *fakeStore) MarkEdited(_ context.Context, _, id int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, id)
	return nil
}

func (f *fakeStore) Reconcile(context.Context, int64, []int64) ([]database.AuditMessage, error) {
	return nil, nil
}

func (f *fakeStore) PurgeExpired(context.Context, time.Time, map[database.ChatType]time.Duration) (int64, error) {
	return 0, nil
}

type fakeClient struct {
	downloads   int
	payload     []byte
	downloadErr error
}

func (f *fakeClient) Updates() <-chan platform.Event { return nil }

func (f *fakeClient) ResolveEntity(context.Context, int64) (*platform.Entity, error) {
	return nil, errors.New("not resolvable")
}

func (f *fakeClient) FetchMessages(context.Context, platform.ChatRef, []int64) ([]*platform.Message, error) {
	return nil, nil
}

func (f *fakeClient) DownloadMedia(_ context.Context, _ *platform.Media, w io.Writer) error {
	f.downloads++
	if f.downloadErr != nil {
		return f.downloadErr
	}
	_, err := w.Write(f.payload)
	return err
}

func (f *fakeClient) SendMessage(context.Context, int64, string, *platform.Upload) error { return nil }

func (f *fakeClient) RemoveSavedGif(context.Context, *platform.Document) error { return nil }

func (f *fakeClient) RemoveSavedSticker(context.Context, *platform.Document) error { return nil }

func (f *fakeClient) Close() error { return nil }

type fakeLinkSaver struct {
	links []string
}

func (f *fakeLinkSaver) SaveFromLink(_ context.Context, link string) error {
	f.links = append(f.links, link)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIngestor(t *testing.T, store database.Store, client platform.Client, ignore map[int64]bool, logChatID int64, saver LinkSaver) (*Ingestor, *vault.Vault) {
	t.Helper()
	v, err := vault.New(t.TempDir(), "passphrase", 0, discardLogger())
	require.NoError(t, err)
	session := &platform.Session{Client: client, AccountID: 777}
	return NewIngestor(store, v, session, ignore, logChatID, saver, discardLogger()), v
}

func privateMessage(id int64, text string) *platform.Message {
	return &platform.Message{
		ID:   id,
		Chat: platform.Chat{ID: 100, Private: true},
		Peer: platform.Peer{Kind: platform.PeerUser, ID: 100},
		Text: text,
	}
}

func TestHandleStoresRecord(t *testing.T) {
	t.Parallel()

	store := &fakeStore{existing: map[int64]bool{}}
	client := &fakeClient{}
	g, _ := newTestIngestor(t, store, client, nil, 0, nil)

	require.NoError(t, g.Handle(context.Background(), privateMessage(1, "hello"), false))

	require.Len(t, store.inserted, 1)
	rec := store.inserted[0]
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, int64(100), rec.ChatID)
	assert.Equal(t, int64(100), rec.FromID)
	assert.Equal(t, database.ChatTypeUser, rec.ChatType)
	assert.Equal(t, "hello", rec.Text.String)
	assert.False(t, rec.EditedAt.Valid)
	assert.Zero(t, client.downloads, "unrestricted text must not trigger a download")
}

func TestHandleCapturesRestrictedMedia(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*platform.Message)
		capture bool
	}{
		{
			name:    "protected chat",
			mutate:  func(m *platform.Message) { m.NoForwards = true },
			capture: true,
		},
		{
			name:    "self destructing",
			mutate:  func(m *platform.Message) { m.Media.TTLSeconds = 30 },
			capture: true,
		},
		{
			name:    "ordinary media",
			mutate:  func(m *platform.Message) {},
			capture: false,
		},
		{
			name: "chat object overrides message flag",
			mutate: func(m *platform.Message) {
				m.NoForwards = true
				off := false
				m.Chat.NoForwards = &off
			},
			capture: false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &fakeStore{existing: map[int64]bool{}}
			client := &fakeClient{payload: []byte("media bytes")}
			g, v := newTestIngestor(t, store, client, nil, 0, nil)

			msg := privateMessage(5, "")
			msg.Media = &platform.Media{Photo: true, Size: 11}
			tc.mutate(msg)

			require.NoError(t, g.Handle(context.Background(), msg, false))
			require.Len(t, store.inserted, 1)

			if tc.capture {
				assert.Equal(t, 1, client.downloads)
				rc, err := v.Open(5, 100)
				require.NoError(t, err)
				defer rc.Close()
				got, err := io.ReadAll(rc)
				require.NoError(t, err)
				assert.Equal(t, []byte("media bytes"), got)
			} else {
				assert.Zero(t, client.downloads)
			}
		})
	}
}

func TestHandleCaptureFailureDegrades(t *testing.T) {
	t.Parallel()

	store := &fakeStore{existing: map[int64]bool{}}
	client := &fakeClient{downloadErr: errors.New("flood wait")}
	g, _ := newTestIngestor(t, store, client, nil, 0, nil)

	msg := privateMessage(6, "caption")
	msg.Media = &platform.Media{Photo: true, Size: 100}
	msg.NoForwards = true

	require.NoError(t, g.Handle(context.Background(), msg, false),
		"a failed capture must not abort the event")
	require.Len(t, store.inserted, 1)
	assert.NotNil(t, store.inserted[0].Media, "the descriptor is kept even without bytes")
}

func TestHandleOversizedMediaDegrades(t *testing.T) {
	t.Parallel()

	store := &fakeStore{existing: map[int64]bool{}}
	client := &fakeClient{payload: []byte("media bytes")}
	small, err := vault.New(t.TempDir(), "passphrase", 10, discardLogger())
	require.NoError(t, err)
	session := &platform.Session{Client: client, AccountID: 777}
	g := NewIngestor(store, small, session, nil, 0, nil, discardLogger())

	msg := privateMessage(7, "")
	msg.Media = &platform.Media{Photo: true, Size: 1 << 20}
	msg.NoForwards = true

	require.NoError(t, g.Handle(context.Background(), msg, false))
	require.Len(t, store.inserted, 1)
	assert.Zero(t, client.downloads, "oversized media is rejected before download")
}

func TestHandleIgnoredSenders(t *testing.T) {
	t.Parallel()

	store := &fakeStore{existing: map[int64]bool{}}
	g, _ := newTestIngestor(t, store, &fakeClient{}, map[int64]bool{100: true}, 0, nil)

	require.NoError(t, g.Handle(context.Background(), privateMessage(1, "ignored"), false))
	assert.Empty(t, store.inserted)
}

func TestHandleEditStampsExistingRecord(t *testing.T) {
	t.Parallel()

	store := &fakeStore{existing: map[int64]bool{3: true}}
	g, _ := newTestIngestor(t, store, &fakeClient{}, nil, 0, nil)

	require.NoError(t, g.Handle(context.Background(), privateMessage(3, "new text"), true))
	assert.Empty(t, store.inserted, "an existing record must not be rewritten")
	assert.Equal(t, []int64{3}, store.edited)
}

func TestHandleEditOfUnseenMessageInserts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{existing: map[int64]bool{}}
	g, _ := newTestIngestor(t, store, &fakeClient{}, nil, 0, nil)

	require.NoError(t, g.Handle(context.Background(), privateMessage(4, "edited"), true))
	require.Len(t, store.inserted, 1)
	assert.True(t, store.inserted[0].EditedAt.Valid)
}

func TestHandleInsertRaceFallsBackToMarkEdited(t *testing.T) {
	t.Parallel()

	store := &fakeStore{existing: map[int64]bool{}, insertErr: database.ErrAlreadyExists}
	g, _ := newTestIngestor(t, store, &fakeClient{}, nil, 0, nil)

	require.NoError(t, g.Handle(context.Background(), privateMessage(8, "x"), true))
	assert.Equal(t, []int64{8}, store.edited)

	require.NoError(t, g.Handle(context.Background(), privateMessage(8, "x"), false))
	assert.Len(t, store.edited, 1, "a lost race on a plain message is silently dropped")
}

func TestInterceptLinks(t *testing.T) {
	t.Parallel()

	const logChatID = 555

	tests := []struct {
		name      string
		chatID    int64
		outgoing  bool
		text      string
		wantLinks []string
	}{
		{
			name:      "message link in log chat",
			chatID:    logChatID,
			outgoing:  true,
			text:      "https://t.me/somechannel/42",
			wantLinks: []string{"https://t.me/somechannel/42"},
		},
		{
			name:      "private channel link",
			chatID:    logChatID,
			outgoing:  true,
			text:      "t.me/c/123456/789",
			wantLinks: []string{"t.me/c/123456/789"},
		},
		{
			name:      "openmessage link",
			chatID:    logChatID,
			outgoing:  true,
			text:      "tg://openmessage?user_id=100&message_id=7",
			wantLinks: []string{"tg://openmessage?user_id=100&message_id=7"},
		},
		{
			name:      "multiple links",
			chatID:    logChatID,
			outgoing:  true,
			text:      "t.me/a/1 t.me/b/2",
			wantLinks: []string{"t.me/a/1", "t.me/b/2"},
		},
		{name: "link outside log chat", chatID: 999, outgoing: true, text: "t.me/a/1"},
		{name: "link from someone else", chatID: logChatID, outgoing: false, text: "t.me/a/1"},
		{name: "plain text in log chat", chatID: logChatID, outgoing: true, text: "note to self"},
		{name: "link not at start", chatID: logChatID, outgoing: true, text: "see t.me/a/1"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &fakeStore{existing: map[int64]bool{}}
			saver := &fakeLinkSaver{}
			g, _ := newTestIngestor(t, store, &fakeClient{}, nil, logChatID, saver)

			msg := &platform.Message{
				ID:       1,
				Chat:     platform.Chat{ID: tc.chatID, Private: true},
				Peer:     platform.Peer{Kind: platform.PeerUser, ID: tc.chatID},
				Outgoing: tc.outgoing,
				Text:     tc.text,
			}
			require.NoError(t, g.Handle(context.Background(), msg, false))

			assert.Equal(t, tc.wantLinks, saver.links)
			if len(tc.wantLinks) > 0 {
				assert.Empty(t, store.inserted, "intercepted links must not become audit records")
			} else {
				assert.Len(t, store.inserted, 1)
			}
		})
	}
}

func TestChatTypeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *platform.Message
		want database.ChatType
	}{
		{name: "group", msg: &platform.Message{Chat: platform.Chat{Group: true}}, want: database.ChatTypeGroup},
		{
			name: "supergroup reports both memberships",
			msg:  &platform.Message{Chat: platform.Chat{Group: true, Channel: true}},
			want: database.ChatTypeGroup,
		},
		{name: "channel", msg: &platform.Message{Chat: platform.Chat{Channel: true}}, want: database.ChatTypeChannel},
		{name: "private user", msg: &platform.Message{Chat: platform.Chat{Private: true}}, want: database.ChatTypeUser},
		{
			name: "private bot",
			msg:  &platform.Message{Chat: platform.Chat{Private: true}, SenderBot: true},
			want: database.ChatTypeBot,
		},
		{name: "unclassified", msg: &platform.Message{}, want: database.ChatTypeUnknown},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ChatTypeOf(tc.msg))
		})
	}
}

func TestSenderID(t *testing.T) {
	t.Parallel()

	const accountID = 777

	tests := []struct {
		name string
		msg  *platform.Message
		want int64
	}{
		{
			name: "incoming private",
			msg:  &platform.Message{Peer: platform.Peer{Kind: platform.PeerUser, ID: 42}},
			want: 42,
		},
		{
			name: "outgoing private resolves to own account",
			msg:  &platform.Message{Peer: platform.Peer{Kind: platform.PeerUser, ID: 42}, Outgoing: true},
			want: accountID,
		},
		{
			name: "group message with user author",
			msg: &platform.Message{
				Peer: platform.Peer{Kind: platform.PeerChat, ID: 10},
				From: &platform.Peer{Kind: platform.PeerUser, ID: 42},
			},
			want: 42,
		},
		{
			name: "channel post signed by channel",
			msg: &platform.Message{
				Peer: platform.Peer{Kind: platform.PeerChannel, ID: 10},
				From: &platform.Peer{Kind: platform.PeerChannel, ID: 10},
			},
			want: 10,
		},
		{
			name: "anonymous group message",
			msg:  &platform.Message{Peer: platform.Peer{Kind: platform.PeerChat, ID: 10}},
			want: 0,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, SenderID(tc.msg, accountID))
		})
	}
}
