package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventTypeConnectionStatus EventType = "connection.status"
	EventTypeMessageReceived  EventType = "message.received"
	EventTypeMessageEdited    EventType = "message.edited"
	EventTypeMessageDeleted   EventType = "message.deleted"
	EventTypeMessagesRead     EventType = "messages.read"
	EventTypeChatUpdated      EventType = "chat.updated"
	EventTypeChatRemoved      EventType = "chat.removed"
	EventTypeChatClosed       EventType = "chat.closed"
	EventTypeNotice           EventType = "notice"
)

type Event interface {
	Type() EventType
	Timestamp() time.Time
}

type ConnectionStatusEvent struct {
	State     string
	Connected bool
	Attempt   int
	Reason    string
	EventTime time.Time
}

func (e ConnectionStatusEvent) Type() EventType      { return EventTypeConnectionStatus }
func (e ConnectionStatusEvent) Timestamp() time.Time { return e.EventTime }

type MessageReceivedEvent struct {
	ChatID    int64
	Message   *ChatMessage
	EventTime time.Time
}

func (e MessageReceivedEvent) Type() EventType      { return EventTypeMessageReceived }
func (e MessageReceivedEvent) Timestamp() time.Time { return e.EventTime }

type MessageEditedEvent struct {
	ChatID     int64
	MessageID  int64
	NewMessage string
	EventTime  time.Time
}

func (e MessageEditedEvent) Type() EventType      { return EventTypeMessageEdited }
func (e MessageEditedEvent) Timestamp() time.Time { return e.EventTime }

type MessageDeletedEvent struct {
	ChatID    int64
	MessageID int64
	EventTime time.Time
}

func (e MessageDeletedEvent) Type() EventType      { return EventTypeMessageDeleted }
func (e MessageDeletedEvent) Timestamp() time.Time { return e.EventTime }

type MessagesReadEvent struct {
	ChatID    int64
	Reader    string
	EventTime time.Time
}

func (e MessagesReadEvent) Type() EventType      { return EventTypeMessagesRead }
func (e MessagesReadEvent) Timestamp() time.Time { return e.EventTime }

type ChatUpdatedEvent struct {
	Chat      *Chat
	Position  int
	EventTime time.Time
}

func (e ChatUpdatedEvent) Type() EventType      { return EventTypeChatUpdated }
func (e ChatUpdatedEvent) Timestamp() time.Time { return e.EventTime }

type ChatRemovedEvent struct {
	ChatID        int64
	ByCounterpart bool
	EventTime     time.Time
}

func (e ChatRemovedEvent) Type() EventType      { return EventTypeChatRemoved }
func (e ChatRemovedEvent) Timestamp() time.Time { return e.EventTime }

// ChatClosedEvent asks the surface to navigate away from a chat.
type ChatClosedEvent struct {
	ChatID    int64
	Reason    string
	EventTime time.Time
}

func (e ChatClosedEvent) Type() EventType      { return EventTypeChatClosed }
func (e ChatClosedEvent) Timestamp() time.Time { return e.EventTime }

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// NoticeEvent is a user facing toast.
type NoticeEvent struct {
	Level     NoticeLevel
	ChatID    int64
	Text      string
	EventTime time.Time
}

func (e NoticeEvent) Type() EventType      { return EventTypeNotice }
func (e NoticeEvent) Timestamp() time.Time { return e.EventTime }

// EventBus fans domain events out to the CLI, MCP and gRPC surfaces.
type EventBus interface {
	Publish(event Event)
	Subscribe(eventTypes []EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
}

const defaultBusBuffer = 100

// SimpleEventBus is an in-memory EventBus. Slow subscribers lose events instead of blocking
// publishers.
type SimpleEventBus struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]subscription
	buffer      int
	dropped     atomic.Int64
}

type subscription struct {
	ch         chan Event
	eventTypes map[EventType]bool
}

func NewEventBus() *SimpleEventBus {
	return NewEventBusWithBuffer(defaultBusBuffer)
}

func NewEventBusWithBuffer(buffer int) *SimpleEventBus {
	if buffer <= 0 {
		buffer = defaultBusBuffer
	}
	return &SimpleEventBus{
		subscribers: make(map[<-chan Event]subscription),
		buffer:      buffer,
	}
}

func (b *SimpleEventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if len(sub.eventTypes) > 0 && !sub.eventTypes[event.Type()] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *SimpleEventBus) Subscribe(eventTypes []EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	typeMap := make(map[EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeMap[t] = true
	}

	b.subscribers[ch] = subscription{ch: ch, eventTypes: typeMap}
	return ch
}

func (b *SimpleEventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[ch]; ok {
		close(sub.ch)
		delete(b.subscribers, ch)
	}
}

// Dropped is the number of events discarded because a subscriber was full.
func (b *SimpleEventBus) Dropped() int64 {
	return b.dropped.Load()
}
