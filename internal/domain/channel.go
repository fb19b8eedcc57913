package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelKind names a logical inbound stream.
type ChannelKind string

const (
	ChannelMessages      ChannelKind = "messages"
	ChannelReadReceipts  ChannelKind = "read"
	ChannelMessageAction ChannelKind = "message-action"
	ChannelNotifications ChannelKind = "notifications"
	ChannelChatDeleted   ChannelKind = "chat-deleted"
)

const (
	topicChatPrefix     = "/topic/chat/"
	queueNotifications  = "/user/queue/notifications"
	queueChatDeleted    = "/user/queue/chat/deleted"
	appChatPrefix       = "/app/chat/"
	suffixRead          = "/read"
	suffixMessageAction = "/messageAction"
	suffixSendMessage   = "/sendMessage"
)

// Channel identifies a subscription. User scoped kinds carry ChatID 0.
type Channel struct {
	Kind   ChannelKind
	ChatID int64
}

func MessagesChannel(chatID int64) Channel {
	return Channel{Kind: ChannelMessages, ChatID: chatID}
}

func ReadReceiptsChannel(chatID int64) Channel {
	return Channel{Kind: ChannelReadReceipts, ChatID: chatID}
}

func MessageActionChannel(chatID int64) Channel {
	return Channel{Kind: ChannelMessageAction, ChatID: chatID}
}

func NotificationsChannel() Channel {
	return Channel{Kind: ChannelNotifications}
}

func ChatDeletedChannel() Channel {
	return Channel{Kind: ChannelChatDeleted}
}

// ChatChannels returns the channels a chat window listens on.
func ChatChannels(chatID int64) []Channel {
	return []Channel{
		MessagesChannel(chatID),
		ReadReceiptsChannel(chatID),
		ChatDeletedChannel(),
		MessageActionChannel(chatID),
	}
}

// UserScoped reports whether the channel is bound to the user rather than a chat.
func (c Channel) UserScoped() bool {
	return c.Kind == ChannelNotifications || c.Kind == ChannelChatDeleted
}

// Destination is the broker destination backing the channel.
func (c Channel) Destination() string {
	switch c.Kind {
	case ChannelMessages:
		return topicChatPrefix + strconv.FormatInt(c.ChatID, 10)
	case ChannelReadReceipts:
		return topicChatPrefix + strconv.FormatInt(c.ChatID, 10) + suffixRead
	case ChannelMessageAction:
		return topicChatPrefix + strconv.FormatInt(c.ChatID, 10) + suffixMessageAction
	case ChannelNotifications:
		return queueNotifications
	case ChannelChatDeleted:
		return queueChatDeleted
	}
	return ""
}

func (c Channel) String() string {
	if c.UserScoped() {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s:%d", c.Kind, c.ChatID)
}

// ParseDestination maps a broker destination back to its channel.
func ParseDestination(dest string) (Channel, error) {
	switch dest {
	case queueNotifications:
		return NotificationsChannel(), nil
	case queueChatDeleted:
		return ChatDeletedChannel(), nil
	}

	if !strings.HasPrefix(dest, topicChatPrefix) {
		return Channel{}, fmt.Errorf("invalid destination: %s", dest)
	}

	rest := strings.TrimPrefix(dest, topicChatPrefix)
	kind := ChannelMessages
	switch {
	case strings.HasSuffix(rest, suffixRead):
		kind = ChannelReadReceipts
		rest = strings.TrimSuffix(rest, suffixRead)
	case strings.HasSuffix(rest, suffixMessageAction):
		kind = ChannelMessageAction
		rest = strings.TrimSuffix(rest, suffixMessageAction)
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return Channel{}, fmt.Errorf("invalid destination: %s", dest)
	}
	return Channel{Kind: kind, ChatID: id}, nil
}

// SendMessageDestination is where a chat's messages are published.
func SendMessageDestination(chatID int64) string {
	return appChatPrefix + strconv.FormatInt(chatID, 10) + suffixSendMessage
}

func SendReadDestination(chatID int64) string {
	return appChatPrefix + strconv.FormatInt(chatID, 10) + suffixRead
}

func SendMessageActionDestination(chatID int64) string {
	return appChatPrefix + strconv.FormatInt(chatID, 10) + suffixMessageAction
}
