package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &gormChatRepository{db: db}
}

// ReplaceAll stores a fresh chat list snapshot, keeping its order.
func (r *gormChatRepository) ReplaceAll(ctx context.Context, chats []domain.Chat) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ChatModel{}).Error; err != nil {
			return err
		}
		if len(chats) == 0 {
			return nil
		}
		models := make([]*ChatModel, 0, len(chats))
		for i := range chats {
			models = append(models, ChatDomainToModel(&chats[i], i))
		}
		return tx.Create(&models).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace chats: %w", err)
	}
	return nil
}

// Upsert stores chat at the front of the list.
func (r *gormChatRepository) Upsert(ctx context.Context, chat *domain.Chat) error {
	front, err := r.frontPosition(ctx)
	if err != nil {
		return err
	}
	model := ChatDomainToModel(chat, front)
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert chat: %w", result.Error)
	}
	return nil
}

func (r *gormChatRepository) GetByID(ctx context.Context, id int64) (*domain.Chat, error) {
	var model ChatModel
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chat: %w", result.Error)
	}
	return ChatModelToDomain(&model), nil
}

func (r *gormChatRepository) GetAll(ctx context.Context, limit, offset int) ([]domain.Chat, error) {
	var models []ChatModel
	query := r.db.WithContext(ctx).Order("position ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to get chats: %w", err)
	}
	chats := make([]domain.Chat, len(models))
	for i := range models {
		chats[i] = *ChatModelToDomain(&models[i])
	}
	return chats, nil
}

// UpdateLastMessage records the counterpart's latest text and moves the chat to the front.
func (r *gormChatRepository) UpdateLastMessage(ctx context.Context, id int64, text string, timestamp time.Time) error {
	front, err := r.frontPosition(ctx)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&ChatModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_message_text": text,
		"last_message_time": timestamp,
		"position":          front,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update last message: %w", result.Error)
	}
	return nil
}

func (r *gormChatRepository) UpdateUnreadCount(ctx context.Context, id int64, count int) error {
	result := r.db.WithContext(ctx).Model(&ChatModel{}).Where("id = ?", id).Update("unread_count", count)
	if result.Error != nil {
		return fmt.Errorf("failed to update unread count: %w", result.Error)
	}
	return nil
}

func (r *gormChatRepository) IncrementUnreadCount(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Model(&ChatModel{}).Where("id = ?", id).
		Update("unread_count", gorm.Expr("unread_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment unread count: %w", result.Error)
	}
	return nil
}

func (r *gormChatRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&ChatModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete chat: %w", result.Error)
	}
	return nil
}

func (r *gormChatRepository) frontPosition(ctx context.Context) (int, error) {
	var min sql.NullInt64
	row := r.db.WithContext(ctx).Model(&ChatModel{}).Select("MIN(position)").Row()
	if err := row.Scan(&min); err != nil {
		return 0, fmt.Errorf("failed to read chat order: %w", err)
	}
	if !min.Valid {
		return 0, nil
	}
	return int(min.Int64) - 1, nil
}
