package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Upsert(ctx context.Context, chatID int64, msg *domain.ChatMessage) error {
	model := MessageDomainToModel(chatID, msg)
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert message: %w", result.Error)
	}
	return nil
}

// ReplaceHistory swaps the cached history of a chat for msgs.
func (r *gormMessageRepository) ReplaceHistory(ctx context.Context, chatID int64, msgs []domain.ChatMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		models := make([]*MessageModel, 0, len(msgs))
		for i := range msgs {
			models = append(models, MessageDomainToModel(chatID, &msgs[i]))
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}

func (r *gormMessageRepository) GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	var model MessageModel
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return MessageModelToDomain(&model), nil
}

// GetByChat returns cached messages of a chat, newest first.
func (r *gormMessageRepository) GetByChat(ctx context.Context, chatID int64, limit, offset int) ([]domain.ChatMessage, error) {
	var models []MessageModel
	query := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return modelsToMessages(models), nil
}

func (r *gormMessageRepository) UpdateText(ctx context.Context, id int64, text string) error {
	result := r.db.WithContext(ctx).Model(&MessageModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"text":      text,
		"is_edited": true,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update message: %w", result.Error)
	}
	return nil
}

func (r *gormMessageRepository) MarkChatRead(ctx context.Context, chatID int64) error {
	result := r.db.WithContext(ctx).Model(&MessageModel{}).
		Where("chat_id = ? AND is_read = ?", chatID, false).
		Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark chat read: %w", result.Error)
	}
	return nil
}

func (r *gormMessageRepository) Search(ctx context.Context, query string, limit int) ([]MessageHit, error) {
	var models []MessageModel
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	q := r.db.WithContext(ctx).
		Where(`text LIKE ? ESCAPE '\'`, "%"+escaped+"%").
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	hits := make([]MessageHit, len(models))
	for i := range models {
		hits[i] = MessageHit{ChatID: models[i].ChatID, Message: *MessageModelToDomain(&models[i])}
	}
	return hits, nil
}

func (r *gormMessageRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&MessageModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}
	return nil
}

func (r *gormMessageRepository) DeleteByChat(ctx context.Context, chatID int64) error {
	result := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&MessageModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete messages: %w", result.Error)
	}
	return nil
}

func modelsToMessages(models []MessageModel) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, len(models))
	for i := range models {
		msgs[i] = *MessageModelToDomain(&models[i])
	}
	return msgs
}
