package repository

import (
	"context"
	"time"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

// MessageHit is a cached message found by Search together with its chat.
type MessageHit struct {
	ChatID  int64
	Message domain.ChatMessage
}

type MessageRepository interface {
	Upsert(ctx context.Context, chatID int64, msg *domain.ChatMessage) error
	ReplaceHistory(ctx context.Context, chatID int64, msgs []domain.ChatMessage) error
	GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error)
	GetByChat(ctx context.Context, chatID int64, limit, offset int) ([]domain.ChatMessage, error)
	UpdateText(ctx context.Context, id int64, text string) error
	MarkChatRead(ctx context.Context, chatID int64) error
	Search(ctx context.Context, query string, limit int) ([]MessageHit, error)
	Delete(ctx context.Context, id int64) error
	DeleteByChat(ctx context.Context, chatID int64) error
}

type ChatRepository interface {
	ReplaceAll(ctx context.Context, chats []domain.Chat) error
	Upsert(ctx context.Context, chat *domain.Chat) error
	GetByID(ctx context.Context, id int64) (*domain.Chat, error)
	GetAll(ctx context.Context, limit, offset int) ([]domain.Chat, error)
	UpdateLastMessage(ctx context.Context, id int64, text string, timestamp time.Time) error
	UpdateUnreadCount(ctx context.Context, id int64, count int) error
	IncrementUnreadCount(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}
