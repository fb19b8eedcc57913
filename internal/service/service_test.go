package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/media"
	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
	"github.com/clippy-oss/homie/marketplace-chat/internal/repository"
)

const waitFor = 2 * time.Second

type sentFrame struct {
	dest string
	body []byte
}

// fakeConn stays disconnected but accepts publishes.
type fakeConn struct {
	mu       sync.Mutex
	sent     []sentFrame
	connects int
}

func (c *fakeConn) OnStateChange(fn realtime.StateObserver) func() {
	fn(realtime.Disconnected, nil)
	return func() {}
}

func (c *fakeConn) Publish(dest string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentFrame{dest: dest, body: body})
	return nil
}

func (c *fakeConn) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
}

func (c *fakeConn) Disconnect()               {}
func (c *fakeConn) State() realtime.ConnState { return realtime.Disconnected }
func (c *fakeConn) IsConnected() bool         { return false }

func (c *fakeConn) sentTo(dest string) []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentFrame
	for _, f := range c.sent {
		if f.dest == dest {
			out = append(out, f)
		}
	}
	return out
}

type fakeBackend struct {
	mu         sync.Mutex
	chats      []domain.Chat
	chatsErr   error
	history    map[int64][]domain.ChatMessage
	historyErr error
	deleteErr  error
	deleted    []int64
	engaged    []int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[int64][]domain.ChatMessage)}
}

func (b *fakeBackend) ListChats(ctx context.Context) ([]domain.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chatsErr != nil {
		return nil, b.chatsErr
	}
	return append([]domain.Chat(nil), b.chats...), nil
}

func (b *fakeBackend) ListMessages(ctx context.Context, chatID int64) ([]domain.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	return append([]domain.ChatMessage(nil), b.history[chatID]...), nil
}

func (b *fakeBackend) UploadMedia(ctx context.Context, name, contentType string, data []byte) (domain.ChatImage, error) {
	return domain.ChatImage{MediaName: name, MediaURL: "/media/" + name}, nil
}

func (b *fakeBackend) ReportMessage(ctx context.Context, chatID, messageID int64, reason string) (*api.ReportDetail, error) {
	return &api.ReportDetail{MessageID: messageID}, nil
}

func (b *fakeBackend) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	return []byte("media"), nil
}

func (b *fakeBackend) EngageChat(ctx context.Context, jobRequestID int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engaged = append(b.engaged, jobRequestID)
	chatID := jobRequestID * 10
	b.chats = append([]domain.Chat{{ID: chatID, JobRequestID: jobRequestID}}, b.chats...)
	return chatID, nil
}

func (b *fakeBackend) DeleteChat(ctx context.Context, chatID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, chatID)
	return b.deleteErr
}

func (b *fakeBackend) LastMessage(ctx context.Context, chatID int64) (*domain.ChatMessage, error) {
	return nil, nil
}

func (b *fakeBackend) MyReports(ctx context.Context) ([]api.ReportListItem, error) {
	return nil, nil
}

func (b *fakeBackend) SearchReports(ctx context.Context, q api.ReportQuery) (*domain.Page[api.ReportListItem], error) {
	return &domain.Page[api.ReportListItem]{}, nil
}

func (b *fakeBackend) setChatsErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatsErr = err
}

type fixture struct {
	svc      *ChatService
	conn     *fakeConn
	backend  *fakeBackend
	bus      *domain.SimpleEventBus
	msgRepo  repository.MessageRepository
	chatRepo repository.ChatRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close(db) })

	store, err := media.NewStore(filepath.Join(t.TempDir(), "media"))
	require.NoError(t, err)

	f := &fixture{
		conn:     &fakeConn{},
		backend:  newFakeBackend(),
		bus:      domain.NewEventBus(),
		msgRepo:  repository.NewMessageRepository(db),
		chatRepo: repository.NewChatRepository(db),
	}
	f.svc = NewChatService(f.conn, f.backend, store, f.msgRepo, f.chatRepo, f.bus, ChatServiceConfig{
		Username:       "alice",
		MaxUploadSize:  5 << 20,
		MediaCacheSize: 8,
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Stop() })
}

func networkErr() error {
	return fmt.Errorf("%w: connection refused", api.ErrNetwork)
}

func msg(id int64, sender, text string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{ID: id, SenderUsername: sender, MessageType: domain.MessageTypeText, Message: text, Timestamp: at}
}

func TestStartLoadsAndCachesChats(t *testing.T) {
	f := newFixture(t)
	f.backend.chats = []domain.Chat{{ID: 2, CounterPartName: "bob"}, {ID: 1, CounterPartName: "carol"}}
	f.start(t)

	assert.Equal(t, 1, f.conn.connects)
	assert.Len(t, f.svc.Chats(), 2)
	assert.False(t, f.svc.ReadOnly())

	cached, err := f.chatRepo.GetAll(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, int64(2), cached[0].ID)
}

func TestLoadChatsFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.chatRepo.ReplaceAll(ctx, []domain.Chat{{ID: 5, CounterPartName: "dave"}}))
	f.backend.setChatsErr(networkErr())

	notices := f.bus.Subscribe([]domain.EventType{domain.EventTypeNotice})
	chats, err := f.svc.LoadChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "dave", chats[0].CounterPartName)
	assert.True(t, f.svc.ReadOnly())
	assert.Equal(t, chats, f.svc.Chats())

	select {
	case ev := <-notices:
		assert.Equal(t, domain.NoticeWarning, ev.(domain.NoticeEvent).Level)
	case <-time.After(waitFor):
		t.Fatal("no notice")
	}

	f.backend.setChatsErr(nil)
	_, err = f.svc.LoadChats(ctx)
	require.NoError(t, err)
	assert.False(t, f.svc.ReadOnly())
}

func TestLoadChatsReturnsBackendErrors(t *testing.T) {
	f := newFixture(t)
	f.backend.setChatsErr(&api.Error{Status: http.StatusInternalServerError, Message: "boom"})

	_, err := f.svc.LoadChats(context.Background())
	require.Error(t, err)
	assert.False(t, f.svc.ReadOnly())
}

func TestOpenChatCachesHistory(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC().Truncate(time.Second)
	f.backend.chats = []domain.Chat{{ID: 1, CounterPartName: "bob", NumberOfUnreadMessages: 3}}
	f.backend.history[1] = []domain.ChatMessage{
		msg(11, "bob", "newest", now.Add(time.Minute)),
		msg(10, "alice", "oldest", now),
	}
	f.start(t)

	msgs, err := f.svc.OpenChat(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(10), msgs[0].ID)
	assert.Equal(t, int64(1), f.svc.ActiveChat())

	cached, err := f.msgRepo.GetByChat(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	chat, ok := f.svc.Chat(1)
	require.True(t, ok)
	assert.Zero(t, chat.NumberOfUnreadMessages)
}

func TestOpenChatFallsBackToCachedHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	f.backend.chats = []domain.Chat{{ID: 1}}
	f.start(t)

	require.NoError(t, f.msgRepo.ReplaceHistory(ctx, 1, []domain.ChatMessage{
		msg(10, "alice", "first", now),
		msg(11, "bob", "second", now.Add(time.Minute)),
	}))
	f.backend.mu.Lock()
	f.backend.historyErr = networkErr()
	f.backend.mu.Unlock()

	msgs, err := f.svc.OpenChat(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(10), msgs[0].ID)
	assert.True(t, f.svc.ReadOnly())
	assert.Equal(t, realtime.WindowError, f.svc.WindowState())

	again, err := f.svc.Messages(ctx)
	require.NoError(t, err)
	assert.Equal(t, msgs, again)
}

func TestOpenUnknownChat(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	_, err := f.svc.OpenChat(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrChatNotFound)
}

func TestSendMessageRules(t *testing.T) {
	f := newFixture(t)
	f.backend.chats = []domain.Chat{{ID: 1}, {ID: 2, CounterPartBanned: true}}
	f.start(t)

	assert.ErrorIs(t, f.svc.SendMessage("hi"), domain.ErrNoActiveChat)

	_, err := f.svc.OpenChat(context.Background(), 2)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.SendMessage("hi"), domain.ErrCounterpartBanned)
	_, err = f.svc.AttachFile("a.pdf", media.ContentTypePDF, []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, domain.ErrCounterpartBanned)

	_, err = f.svc.OpenChat(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, f.svc.SendMessage("hi"))
	sent := f.conn.sentTo(domain.SendMessageDestination(1))
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"messageType":"TEXT","message":"hi","mediaName":"","mediaUrl":""}`, string(sent[0].body))
}

func TestDeleteChatReportsOutcome(t *testing.T) {
	f := newFixture(t)
	f.backend.chats = []domain.Chat{{ID: 1}, {ID: 2}, {ID: 3}}
	f.start(t)
	_, err := f.svc.OpenChat(context.Background(), 1)
	require.NoError(t, err)

	notices := f.bus.Subscribe([]domain.EventType{domain.EventTypeNotice})
	nextNotice := func() domain.NoticeEvent {
		t.Helper()
		select {
		case ev := <-notices:
			return ev.(domain.NoticeEvent)
		case <-time.After(waitFor):
			t.Fatal("no notice")
			return domain.NoticeEvent{}
		}
	}

	require.NoError(t, f.svc.DeleteChat(context.Background(), 1))
	assert.Equal(t, domain.NoticeSuccess, nextNotice().Level)
	assert.Zero(t, f.svc.ActiveChat())
	_, ok := f.svc.Chat(1)
	assert.False(t, ok)

	f.backend.mu.Lock()
	f.backend.deleteErr = &api.Error{Status: http.StatusNotFound}
	f.backend.mu.Unlock()
	require.NoError(t, f.svc.DeleteChat(context.Background(), 2))
	assert.Equal(t, domain.NoticeWarning, nextNotice().Level)

	f.backend.mu.Lock()
	f.backend.deleteErr = errors.New("boom")
	f.backend.mu.Unlock()
	require.Error(t, f.svc.DeleteChat(context.Background(), 3))
	assert.Equal(t, domain.NoticeError, nextNotice().Level)

	assert.Empty(t, f.svc.Chats())
	assert.Eventually(t, func() bool {
		cached, err := f.chatRepo.GetAll(context.Background(), 0, 0)
		return err == nil && len(cached) == 0
	}, waitFor, 10*time.Millisecond)
}

func TestEngageChatReloadsList(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	chatID, err := f.svc.EngageChat(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(70), chatID)
	_, ok := f.svc.Chat(70)
	assert.True(t, ok)
}

func TestPersistMirrorsNotifications(t *testing.T) {
	f := newFixture(t)
	f.backend.chats = []domain.Chat{{ID: 1}, {ID: 2}}
	f.start(t)

	f.bus.Publish(domain.ChatUpdatedEvent{
		Chat:      &domain.Chat{ID: 2, LastMessageOfCounterpart: "ping", NumberOfUnreadMessages: 1},
		Position:  0,
		EventTime: time.Now(),
	})

	assert.Eventually(t, func() bool {
		cached, err := f.chatRepo.GetAll(context.Background(), 0, 0)
		return err == nil && len(cached) == 2 && cached[0].ID == 2 && cached[0].NumberOfUnreadMessages == 1
	}, waitFor, 10*time.Millisecond)
}

func TestMessageServiceSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.msgRepo.ReplaceHistory(ctx, 4, []domain.ChatMessage{msg(1, "bob", "quote for the roof", now)}))

	svc := NewMessageService(f.msgRepo, f.chatRepo)
	hits, err := svc.SearchMessages(ctx, "roof", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(4), hits[0].ChatID)

	got, err := svc.GetMessage(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "quote for the roof", got.Message)
}
