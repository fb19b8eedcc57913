package domain

import "time"

// Chat is one conversation between a customer and a worker about a job request.
type Chat struct {
	ID                           int64      `json:"id"`
	JobRequestID                 int64      `json:"jobRequestId"`
	JobRequestTitle              string     `json:"jobRequestTitle"`
	CounterPartName              string     `json:"counterPartName"`
	CounterPartBanned            bool       `json:"counterPartBanned"`
	LastMessageOfCounterpart     string     `json:"lastMessageOfCounterpart,omitempty"`
	LastMessageOfCounterpartTime *time.Time `json:"lastMessageOfCounterpartTime,omitempty"`
	NumberOfUnreadMessages       int        `json:"numberOfUnreadMessages"`
}

// CreatedChat is returned when a conversation is engaged for a job request.
type CreatedChat struct {
	ChatID int64 `json:"chatId"`
}

// ChatNotification is pushed to the recipient's notification queue for every sent message.
type ChatNotification struct {
	ChatID      int64       `json:"chatId"`
	Username    string      `json:"username"`
	MessageType MessageType `json:"messageType"`
	Message     string      `json:"message"`
}

// ChatDeleted is pushed to the counterpart when a chat is deleted.
type ChatDeleted struct {
	ChatID int64 `json:"chatId"`
}

func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	cp := *c
	if c.LastMessageOfCounterpartTime != nil {
		t := *c.LastMessageOfCounterpartTime
		cp.LastMessageOfCounterpartTime = &t
	}
	return &cp
}

// Page is the envelope of paginated REST listings.
type Page[T any] struct {
	Content       []T `json:"content"`
	TotalElements int `json:"totalElements"`
	PageSize      int `json:"pageSize"`
	Offset        int `json:"offset"`
}
