// Package servicetest builds a ChatService over an idle connection and an in-memory backend for
// surface tests.
package servicetest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/media"
	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
	"github.com/clippy-oss/homie/marketplace-chat/internal/repository"
	"github.com/clippy-oss/homie/marketplace-chat/internal/service"
)

const Username = "alice"

type Frame struct {
	Destination string
	Body        []byte
}

// Conn never connects. Publishes fail with realtime.ErrNotConnected unless Accept is set.
type Conn struct {
	mu     sync.Mutex
	accept bool
	sent   []Frame
}

func (c *Conn) OnStateChange(fn realtime.StateObserver) func() {
	fn(realtime.Disconnected, nil)
	return func() {}
}

func (c *Conn) Publish(dest string, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.accept {
		return realtime.ErrNotConnected
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, Frame{Destination: dest, Body: body})
	return nil
}

func (c *Conn) Connect()                  {}
func (c *Conn) Disconnect()               {}
func (c *Conn) State() realtime.ConnState { return realtime.Disconnected }
func (c *Conn) IsConnected() bool         { return false }

// Accept makes publishes succeed.
func (c *Conn) Accept() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accept = true
}

func (c *Conn) Sent() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.sent...)
}

// Backend serves fixed chats and histories.
type Backend struct {
	mu      sync.Mutex
	Chats   []domain.Chat
	History map[int64][]domain.ChatMessage
	Reports []api.ReportListItem
	Deleted []int64
}

func NewBackend(chats ...domain.Chat) *Backend {
	return &Backend{Chats: chats, History: make(map[int64][]domain.ChatMessage)}
}

func (b *Backend) ListChats(context.Context) ([]domain.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Chat(nil), b.Chats...), nil
}

func (b *Backend) ListMessages(_ context.Context, chatID int64) ([]domain.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.ChatMessage(nil), b.History[chatID]...), nil
}

func (b *Backend) UploadMedia(_ context.Context, name, _ string, _ []byte) (domain.ChatImage, error) {
	return domain.ChatImage{MediaName: name, MediaURL: "/media/" + name}, nil
}

func (b *Backend) ReportMessage(_ context.Context, _, messageID int64, reason string) (*api.ReportDetail, error) {
	return &api.ReportDetail{ReportListItem: api.ReportListItem{Reason: reason, IsOpen: true}, MessageID: messageID}, nil
}

func (b *Backend) DownloadMedia(context.Context, string) ([]byte, error) {
	return []byte("media"), nil
}

func (b *Backend) EngageChat(_ context.Context, jobRequestID int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chatID := jobRequestID * 10
	b.Chats = append([]domain.Chat{{ID: chatID, JobRequestID: jobRequestID}}, b.Chats...)
	return chatID, nil
}

func (b *Backend) DeleteChat(_ context.Context, chatID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Deleted = append(b.Deleted, chatID)
	return nil
}

func (b *Backend) LastMessage(_ context.Context, chatID int64) (*domain.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.History[chatID]
	if len(h) == 0 {
		return nil, &api.Error{Status: 404, Message: "no messages"}
	}
	m := h[0]
	return &m, nil
}

func (b *Backend) MyReports(context.Context) ([]api.ReportListItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.ReportListItem(nil), b.Reports...), nil
}

func (b *Backend) SearchReports(_ context.Context, q api.ReportQuery) (*domain.Page[api.ReportListItem], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var items []api.ReportListItem
	for _, r := range b.Reports {
		if r.IsOpen == q.Open {
			items = append(items, r)
		}
	}
	return &domain.Page[api.ReportListItem]{Content: items, TotalElements: len(items), PageSize: q.Limit}, nil
}

type Fixture struct {
	Service  *service.ChatService
	Messages *service.MessageService
	Bus      *domain.SimpleEventBus
	Conn     *Conn
	Backend  *Backend
	MsgRepo  repository.MessageRepository
	ChatRepo repository.ChatRepository
}

// New starts a ChatService for Username over backend and stops it when t ends.
func New(t testing.TB, backend *Backend) *Fixture {
	t.Helper()
	db, err := repository.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close(db) })

	store, err := media.NewStore(filepath.Join(t.TempDir(), "media"))
	require.NoError(t, err)

	f := &Fixture{
		Bus:      domain.NewEventBus(),
		Conn:     &Conn{},
		Backend:  backend,
		MsgRepo:  repository.NewMessageRepository(db),
		ChatRepo: repository.NewChatRepository(db),
	}
	f.Service = service.NewChatService(f.Conn, backend, store, f.MsgRepo, f.ChatRepo, f.Bus, service.ChatServiceConfig{
		Username:       Username,
		MaxUploadSize:  5 << 20,
		MediaCacheSize: 4,
	})
	f.Messages = service.NewMessageService(f.MsgRepo, f.ChatRepo)

	require.NoError(t, f.Service.Start(context.Background()))
	t.Cleanup(func() { _ = f.Service.Stop() })
	return f
}
