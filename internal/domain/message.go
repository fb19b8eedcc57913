package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeMedia MessageType = "MEDIA"
)

// MaxMessageLength bounds message text, edits and report reasons.
const MaxMessageLength = 4095

// AttachmentText is the text carried by MEDIA messages.
const AttachmentText = "Attachment"

type ChatMessage struct {
	ID             int64       `json:"id"`
	SenderUsername string      `json:"senderUsername"`
	MessageType    MessageType `json:"messageType"`
	Message        string      `json:"message"`
	MediaName      string      `json:"mediaName"`
	MediaURL       string      `json:"mediaUrl"`
	Read           bool        `json:"read"`
	Edited         bool        `json:"edited"`
	Timestamp      time.Time   `json:"timestamp"`
}

// IsMine reports whether username sent the message.
func (m *ChatMessage) IsMine(username string) bool {
	return m.SenderUsername == username
}

// CanEdit is true for the sender's own TEXT messages.
func (m *ChatMessage) CanEdit(username string) bool {
	return m.IsMine(username) && m.MessageType == MessageTypeText
}

func (m *ChatMessage) CanDelete(username string) bool {
	return m.IsMine(username)
}

// CanReport is true for messages sent by someone else.
func (m *ChatMessage) CanReport(username string) bool {
	return !m.IsMine(username)
}

// ChatMessagePayload is the body published to the send-message destination.
type ChatMessagePayload struct {
	MessageType MessageType `json:"messageType"`
	Message     string      `json:"message"`
	MediaName   string      `json:"mediaName"`
	MediaURL    string      `json:"mediaUrl"`
}

func NewTextPayload(text string) ChatMessagePayload {
	return ChatMessagePayload{MessageType: MessageTypeText, Message: text}
}

func NewMediaPayload(img ChatImage) ChatMessagePayload {
	return ChatMessagePayload{
		MessageType: MessageTypeMedia,
		Message:     AttachmentText,
		MediaName:   img.MediaName,
		MediaURL:    img.MediaURL,
	}
}

// ChatImage describes an uploaded attachment.
type ChatImage struct {
	MediaName string `json:"mediaName"`
	MediaURL  string `json:"mediaUrl"`
}

type MessageAction string

const (
	MessageActionEdit   MessageAction = "EDIT"
	MessageActionDelete MessageAction = "DELETE"
)

type MessageActionRequest struct {
	Action     MessageAction `json:"action"`
	MessageID  int64         `json:"messageId"`
	NewMessage string        `json:"newMessage,omitempty"`
}

// MessageActionNotification is broadcast after an edit or delete.
type MessageActionNotification struct {
	MessageID  int64  `json:"messageId"`
	NewMessage string `json:"newMessage"`
	Deleted    bool   `json:"deleted"`
	Edited     bool   `json:"edited"`
}

type ReadRequest struct {
	ChatID int64 `json:"chatId"`
}

// ReadReceipt says that Reader opened the conversation.
type ReadReceipt struct {
	Read   bool   `json:"read"`
	Reader string `json:"reader"`
}

// NormalizeText trims text and checks it against the length limit.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}
