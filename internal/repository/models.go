package repository

import (
	"time"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

type MessageModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false;column:id"`
	ChatID         int64     `gorm:"column:chat_id;index:idx_chat_timestamp"`
	SenderUsername string    `gorm:"column:sender_username"`
	Type           string    `gorm:"column:type"`
	Text           string    `gorm:"column:text"`
	MediaName      string    `gorm:"column:media_name"`
	MediaURL       string    `gorm:"column:media_url"`
	Timestamp      time.Time `gorm:"column:timestamp;index:idx_chat_timestamp"`
	IsRead         bool      `gorm:"column:is_read"`
	IsEdited       bool      `gorm:"column:is_edited"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (MessageModel) TableName() string { return "messages" }

type ChatModel struct {
	ID                int64      `gorm:"primaryKey;autoIncrement:false;column:id"`
	JobRequestID      int64      `gorm:"column:job_request_id"`
	JobRequestTitle   string     `gorm:"column:job_request_title"`
	CounterPartName   string     `gorm:"column:counter_part_name"`
	CounterPartBanned bool       `gorm:"column:counter_part_banned"`
	LastMessageText   string     `gorm:"column:last_message_text"`
	LastMessageTime   *time.Time `gorm:"column:last_message_time"`
	UnreadCount       int        `gorm:"column:unread_count"`
	Position          int        `gorm:"column:position;index"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (ChatModel) TableName() string { return "chats" }

func MessageModelToDomain(m *MessageModel) *domain.ChatMessage {
	if m == nil {
		return nil
	}
	return &domain.ChatMessage{
		ID:             m.ID,
		SenderUsername: m.SenderUsername,
		MessageType:    domain.MessageType(m.Type),
		Message:        m.Text,
		MediaName:      m.MediaName,
		MediaURL:       m.MediaURL,
		Read:           m.IsRead,
		Edited:         m.IsEdited,
		Timestamp:      m.Timestamp,
	}
}

func MessageDomainToModel(chatID int64, msg *domain.ChatMessage) *MessageModel {
	if msg == nil {
		return nil
	}
	return &MessageModel{
		ID:             msg.ID,
		ChatID:         chatID,
		SenderUsername: msg.SenderUsername,
		Type:           string(msg.MessageType),
		Text:           msg.Message,
		MediaName:      msg.MediaName,
		MediaURL:       msg.MediaURL,
		Timestamp:      msg.Timestamp,
		IsRead:         msg.Read,
		IsEdited:       msg.Edited,
	}
}

func ChatModelToDomain(m *ChatModel) *domain.Chat {
	if m == nil {
		return nil
	}
	return &domain.Chat{
		ID:                           m.ID,
		JobRequestID:                 m.JobRequestID,
		JobRequestTitle:              m.JobRequestTitle,
		CounterPartName:              m.CounterPartName,
		CounterPartBanned:            m.CounterPartBanned,
		LastMessageOfCounterpart:     m.LastMessageText,
		LastMessageOfCounterpartTime: m.LastMessageTime,
		NumberOfUnreadMessages:       m.UnreadCount,
	}
}

func ChatDomainToModel(chat *domain.Chat, position int) *ChatModel {
	if chat == nil {
		return nil
	}
	return &ChatModel{
		ID:                chat.ID,
		JobRequestID:      chat.JobRequestID,
		JobRequestTitle:   chat.JobRequestTitle,
		CounterPartName:   chat.CounterPartName,
		CounterPartBanned: chat.CounterPartBanned,
		LastMessageText:   chat.LastMessageOfCounterpart,
		LastMessageTime:   chat.LastMessageOfCounterpartTime,
		UnreadCount:       chat.NumberOfUnreadMessages,
		Position:          position,
	}
}
