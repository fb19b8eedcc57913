package service

import (
	"context"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/repository"
)

// MessageService answers queries from the local cache only.
type MessageService struct {
	msgRepo  repository.MessageRepository
	chatRepo repository.ChatRepository
}

func NewMessageService(
	msgRepo repository.MessageRepository,
	chatRepo repository.ChatRepository,
) *MessageService {
	return &MessageService{
		msgRepo:  msgRepo,
		chatRepo: chatRepo,
	}
}

// GetMessages returns cached messages of a chat, newest first.
func (s *MessageService) GetMessages(ctx context.Context, chatID int64, limit, offset int) ([]domain.ChatMessage, error) {
	return s.msgRepo.GetByChat(ctx, chatID, limit, offset)
}

func (s *MessageService) GetMessage(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	return s.msgRepo.GetByID(ctx, id)
}

func (s *MessageService) SearchMessages(ctx context.Context, query string, limit int) ([]repository.MessageHit, error) {
	return s.msgRepo.Search(ctx, query, limit)
}

func (s *MessageService) GetChats(ctx context.Context, limit, offset int) ([]domain.Chat, error) {
	return s.chatRepo.GetAll(ctx, limit, offset)
}

func (s *MessageService) GetChat(ctx context.Context, id int64) (*domain.Chat, error) {
	return s.chatRepo.GetByID(ctx, id)
}
