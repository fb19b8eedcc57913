package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

// Event is a decoded inbound frame.
type Event interface {
	Channel() domain.Channel
}

type MessageEvent struct {
	ChatID  int64
	Message domain.ChatMessage
}

func (e MessageEvent) Channel() domain.Channel { return domain.MessagesChannel(e.ChatID) }

type ReadEvent struct {
	ChatID  int64
	Receipt domain.ReadReceipt
}

func (e ReadEvent) Channel() domain.Channel { return domain.ReadReceiptsChannel(e.ChatID) }

type ActionEvent struct {
	ChatID int64
	Action domain.MessageActionNotification
}

func (e ActionEvent) Channel() domain.Channel { return domain.MessageActionChannel(e.ChatID) }

type NotificationEvent struct {
	Notification domain.ChatNotification
}

func (e NotificationEvent) Channel() domain.Channel { return domain.NotificationsChannel() }

type ChatDeletedEvent struct {
	ChatID int64
}

func (e ChatDeletedEvent) Channel() domain.Channel { return domain.ChatDeletedChannel() }

// Decode turns a frame body received on ch into its event.
func Decode(ch domain.Channel, body []byte) (Event, error) {
	switch ch.Kind {
	case domain.ChannelMessages:
		var msg domain.ChatMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message on %s: %w", ch, err)
		}
		return MessageEvent{ChatID: ch.ChatID, Message: msg}, nil

	case domain.ChannelReadReceipts:
		var receipt domain.ReadReceipt
		if err := json.Unmarshal(body, &receipt); err != nil {
			return nil, fmt.Errorf("failed to decode read receipt on %s: %w", ch, err)
		}
		return ReadEvent{ChatID: ch.ChatID, Receipt: receipt}, nil

	case domain.ChannelMessageAction:
		var action domain.MessageActionNotification
		if err := json.Unmarshal(body, &action); err != nil {
			return nil, fmt.Errorf("failed to decode message action on %s: %w", ch, err)
		}
		return ActionEvent{ChatID: ch.ChatID, Action: action}, nil

	case domain.ChannelNotifications:
		var n domain.ChatNotification
		if err := json.Unmarshal(body, &n); err != nil {
			return nil, fmt.Errorf("failed to decode notification: %w", err)
		}
		return NotificationEvent{Notification: n}, nil

	case domain.ChannelChatDeleted:
		var d domain.ChatDeleted
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("failed to decode chat deletion: %w", err)
		}
		return ChatDeletedEvent{ChatID: d.ChatID}, nil
	}
	return nil, fmt.Errorf("unknown channel kind %q", ch.Kind)
}
