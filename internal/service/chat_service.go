package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
	"github.com/clippy-oss/homie/marketplace-chat/internal/media"
	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
	"github.com/clippy-oss/homie/marketplace-chat/internal/repository"
)

// Connection is the realtime side the service drives.
type Connection interface {
	realtime.StateSource
	realtime.Publisher
	Connect()
	Disconnect()
	State() realtime.ConnState
	IsConnected() bool
}

// Backend is the REST side the service drives.
type Backend interface {
	realtime.ChatLister
	realtime.ChatBackend
	media.Downloader
	EngageChat(ctx context.Context, jobRequestID int64) (int64, error)
	DeleteChat(ctx context.Context, chatID int64) error
	LastMessage(ctx context.Context, chatID int64) (*domain.ChatMessage, error)
	MyReports(ctx context.Context) ([]api.ReportListItem, error)
	SearchReports(ctx context.Context, q api.ReportQuery) (*domain.Page[api.ReportListItem], error)
}

type ChatServiceConfig struct {
	Username       string
	MaxUploadSize  int64
	MediaCacheSize int
}

// ChatService ties the connection, the reconcilers, the REST client and the local cache
// together. It is the only entry point of the CLI, MCP and gRPC surfaces.
type ChatService struct {
	conn     Connection
	backend  Backend
	registry *realtime.Registry
	overview *realtime.Overview
	window   *realtime.Window
	msgRepo  repository.MessageRepository
	chatRepo repository.ChatRepository
	eventBus domain.EventBus
	config   ChatServiceConfig
	log      zerolog.Logger

	mu       sync.RWMutex
	readOnly bool
	stop     func()
	done     chan struct{}
}

func NewChatService(
	conn Connection,
	backend Backend,
	store *media.Store,
	msgRepo repository.MessageRepository,
	chatRepo repository.ChatRepository,
	eventBus domain.EventBus,
	config ChatServiceConfig,
) *ChatService {
	registry := realtime.NewRegistry(conn)
	newMedia := func() (realtime.MediaCache, error) {
		return media.NewCache(store, backend, config.MediaCacheSize)
	}

	return &ChatService{
		conn:     conn,
		backend:  backend,
		registry: registry,
		overview: realtime.NewOverview(registry, backend, eventBus),
		window: realtime.NewWindow(registry, conn, backend, newMedia, eventBus, realtime.WindowConfig{
			Username:      config.Username,
			MaxUploadSize: config.MaxUploadSize,
		}),
		msgRepo:  msgRepo,
		chatRepo: chatRepo,
		eventBus: eventBus,
		config:   config,
		log:      logger.Module("service"),
	}
}

// Start subscribes to the user queues, starts the connection loop and the cache writer, and
// reloads the chat list on every (re)connect.
func (s *ChatService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	events := s.eventBus.Subscribe([]domain.EventType{
		domain.EventTypeMessageReceived,
		domain.EventTypeMessageEdited,
		domain.EventTypeMessageDeleted,
		domain.EventTypeMessagesRead,
		domain.EventTypeChatUpdated,
		domain.EventTypeChatRemoved,
	})
	done := make(chan struct{})
	s.done = done
	go s.persist(ctx, events, done)

	unobserve := s.conn.OnStateChange(func(state realtime.ConnState, _ realtime.Session) {
		if state == realtime.Connected {
			go func() {
				if _, err := s.LoadChats(ctx); err != nil && ctx.Err() == nil {
					s.log.Warn().Err(err).Msg("failed to reload chats after connect")
				}
			}()
		}
	})
	s.stop = func() {
		unobserve()
		cancel()
		s.eventBus.Unsubscribe(events)
	}
	s.mu.Unlock()

	s.overview.Start()
	s.conn.Connect()

	if _, err := s.LoadChats(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial chat list unavailable")
	}
	return nil
}

// Stop tears everything down in reverse order of Start.
func (s *ChatService) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}

	s.conn.Disconnect()
	err := multierr.Combine(
		s.window.Close(),
		s.overview.Stop(),
		s.registry.Close(),
	)
	stop()
	<-done
	return err
}

func (s *ChatService) Connect() {
	s.conn.Connect()
}

func (s *ChatService) Disconnect() {
	s.conn.Disconnect()
}

func (s *ChatService) State() realtime.ConnState {
	return s.conn.State()
}

func (s *ChatService) IsConnected() bool {
	return s.conn.IsConnected()
}

// ReadOnly is true while the chat list is served from the local cache.
func (s *ChatService) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

func (s *ChatService) Username() string {
	return s.config.Username
}

// LiveChannels lists the channels with a transport subscription.
func (s *ChatService) LiveChannels() []domain.Channel {
	return s.registry.Live()
}

func (s *ChatService) setReadOnly(v bool) {
	s.mu.Lock()
	changed := s.readOnly != v
	s.readOnly = v
	s.mu.Unlock()

	if changed && v {
		s.publish(domain.NoticeEvent{
			Level:     domain.NoticeWarning,
			Text:      "Backend unreachable, showing cached chats",
			EventTime: time.Now(),
		})
	}
}

// LoadChats refreshes the chat list from the backend, or from the local cache when the backend
// can not be reached.
func (s *ChatService) LoadChats(ctx context.Context) ([]domain.Chat, error) {
	err := s.overview.Load(ctx)
	if err != nil {
		if !api.IsNetwork(err) {
			return nil, err
		}
		cached, cacheErr := s.chatRepo.GetAll(ctx, 0, 0)
		if cacheErr != nil {
			return nil, multierr.Append(err, cacheErr)
		}
		s.log.Warn().Err(err).Int("cached", len(cached)).Msg("serving chats from local cache")
		s.overview.Replace(cached)
		s.setReadOnly(true)
		return cached, nil
	}

	s.setReadOnly(false)
	chats := s.overview.Chats()
	if err := s.chatRepo.ReplaceAll(ctx, chats); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache chats")
	}
	return chats, nil
}

func (s *ChatService) Chats() []domain.Chat {
	return s.overview.Chats()
}

func (s *ChatService) Chat(chatID int64) (domain.Chat, bool) {
	return s.overview.Chat(chatID)
}

// ActiveChat is the open chat, or 0.
func (s *ChatService) ActiveChat() int64 {
	return s.window.ChatID()
}

func (s *ChatService) WindowState() realtime.WindowState {
	return s.window.State()
}

// OpenChat selects chatID and loads its history, oldest first. When the backend is unreachable
// the cached history is returned instead.
func (s *ChatService) OpenChat(ctx context.Context, chatID int64) ([]domain.ChatMessage, error) {
	if _, err := s.overview.Select(chatID); err != nil {
		return nil, err
	}

	err := s.window.Open(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrChatNotFound) {
			s.overview.Remove(chatID)
			return nil, err
		}
		if !api.IsNetwork(err) {
			return nil, err
		}
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("serving history from local cache")
		s.setReadOnly(true)
		return s.cachedHistory(ctx, chatID)
	}

	msgs := s.window.Messages()
	if err := s.cacheHistory(ctx, chatID, msgs); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to cache history")
	}
	return msgs, nil
}

func (s *ChatService) CloseChat() error {
	s.overview.Clear()
	return s.window.Close()
}

// Messages returns the open chat's log, or its cached history while the window could not load.
func (s *ChatService) Messages(ctx context.Context) ([]domain.ChatMessage, error) {
	if s.window.State() == realtime.WindowReady {
		return s.window.Messages(), nil
	}
	chatID := s.overview.Active()
	if chatID == 0 {
		return nil, domain.ErrNoActiveChat
	}
	return s.cachedHistory(ctx, chatID)
}

func (s *ChatService) cachedHistory(ctx context.Context, chatID int64) ([]domain.ChatMessage, error) {
	newest, err := s.msgRepo.GetByChat(ctx, chatID, 0, 0)
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, len(newest))
	for i, m := range newest {
		msgs[len(newest)-1-i] = m
	}
	return msgs, nil
}

func (s *ChatService) cacheHistory(ctx context.Context, chatID int64, msgs []domain.ChatMessage) error {
	if err := s.msgRepo.ReplaceHistory(ctx, chatID, msgs); err != nil {
		return err
	}
	return s.chatRepo.UpdateUnreadCount(ctx, chatID, 0)
}

// EngageChat starts (or finds) the conversation about a job request and lists it.
func (s *ChatService) EngageChat(ctx context.Context, jobRequestID int64) (int64, error) {
	chatID, err := s.backend.EngageChat(ctx, jobRequestID)
	if err != nil {
		return 0, fmt.Errorf("failed to engage chat: %w", err)
	}
	if _, err := s.LoadChats(ctx); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to reload chats after engage")
	}
	return chatID, nil
}

// DeleteChat removes the chat locally first, then on the backend. A chat the backend no longer
// knows counts as deleted.
func (s *ChatService) DeleteChat(ctx context.Context, chatID int64) error {
	if s.window.ChatID() == chatID {
		if err := s.window.Close(); err != nil {
			s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to release chat")
		}
	}
	s.overview.Remove(chatID)

	err := s.backend.DeleteChat(ctx, chatID)
	switch {
	case err == nil:
		s.publish(domain.NoticeEvent{Level: domain.NoticeSuccess, ChatID: chatID, Text: "Chat deleted", EventTime: time.Now()})
		return nil
	case api.IsNotFound(err):
		s.publish(domain.NoticeEvent{Level: domain.NoticeWarning, ChatID: chatID, Text: "Chat was already deleted", EventTime: time.Now()})
		return nil
	default:
		s.publish(domain.NoticeEvent{Level: domain.NoticeError, ChatID: chatID, Text: "Failed to delete chat", EventTime: time.Now()})
		return fmt.Errorf("failed to delete chat: %w", err)
	}
}

func (s *ChatService) LastMessage(ctx context.Context, chatID int64) (*domain.ChatMessage, error) {
	return s.backend.LastMessage(ctx, chatID)
}

func (s *ChatService) MyReports(ctx context.Context) ([]api.ReportListItem, error) {
	return s.backend.MyReports(ctx)
}

func (s *ChatService) SearchReports(ctx context.Context, q api.ReportQuery) (*domain.Page[api.ReportListItem], error) {
	return s.backend.SearchReports(ctx, q)
}

func (s *ChatService) publish(ev domain.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(ev)
	}
}

// persist mirrors reconciled state into the local cache until ctx ends.
func (s *ChatService) persist(ctx context.Context, events <-chan domain.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.persistEvent(ctx, ev); err != nil {
				s.log.Warn().Err(err).Str("event", string(ev.Type())).Msg("failed to update local cache")
			}
		}
	}
}

func (s *ChatService) persistEvent(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.MessageReceivedEvent:
		return s.msgRepo.Upsert(ctx, e.ChatID, e.Message)
	case domain.MessageEditedEvent:
		return s.msgRepo.UpdateText(ctx, e.MessageID, e.NewMessage)
	case domain.MessageDeletedEvent:
		return s.msgRepo.Delete(ctx, e.MessageID)
	case domain.MessagesReadEvent:
		return s.msgRepo.MarkChatRead(ctx, e.ChatID)
	case domain.ChatUpdatedEvent:
		// Position 0 means the chat moved to the front; anything else is an in-place refresh.
		if e.Position == 0 {
			return s.chatRepo.Upsert(ctx, e.Chat)
		}
		return s.chatRepo.UpdateUnreadCount(ctx, e.Chat.ID, e.Chat.NumberOfUnreadMessages)
	case domain.ChatRemovedEvent:
		return multierr.Append(
			s.chatRepo.Delete(ctx, e.ChatID),
			s.msgRepo.DeleteByChat(ctx, e.ChatID),
		)
	}
	return nil
}
