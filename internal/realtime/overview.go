package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
)

// ChatLister loads the chat list.
type ChatLister interface {
	ListChats(ctx context.Context) ([]domain.Chat, error)
}

// Overview reconciles the user's chat list, most recent first.
type Overview struct {
	subscriber Subscriber
	source     ChatLister
	eventBus   domain.EventBus
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	chats   []*domain.Chat
	active  int64
	gen     uint64
	loaded  bool
	handles []*Handle
}

func NewOverview(subscriber Subscriber, source ChatLister, eventBus domain.EventBus) *Overview {
	return &Overview{
		subscriber: subscriber,
		source:     source,
		eventBus:   eventBus,
		log:        logger.Module("overview"),
		now:        time.Now,
	}
}

// Start listens on the user scoped notification and chat deletion queues.
func (o *Overview) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.handles) > 0 {
		return
	}
	for _, ch := range []domain.Channel{domain.NotificationsChannel(), domain.ChatDeletedChannel()} {
		channel := ch
		o.handles = append(o.handles, o.subscriber.Subscribe(channel, o.Apply, func(err error) {
			o.log.Warn().Err(err).Str("channel", channel.String()).Msg("ignoring malformed event")
		}))
	}
}

// Stop detaches from the queues.
func (o *Overview) Stop() error {
	o.mu.Lock()
	handles := o.handles
	o.handles = nil
	o.mu.Unlock()

	d := NewDisposer()
	for _, h := range handles {
		d.Add(h.Close)
	}
	return d.Dispose()
}

// Load replaces the list with the backend's. A load overtaken by a newer one is dropped.
func (o *Overview) Load(ctx context.Context) error {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	chats, err := o.source.ListChats(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.gen {
		o.log.Debug().Msg("discarding stale chat list")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load chats: %w", err)
	}

	o.chats = make([]*domain.Chat, 0, len(chats))
	for i := range chats {
		c := chats[i]
		if c.ID == o.active {
			c.NumberOfUnreadMessages = 0
		}
		o.chats = append(o.chats, &c)
	}
	o.loaded = true
	return nil
}

// Replace installs chats without fetching, as when serving from the local cache.
func (o *Overview) Replace(chats []domain.Chat) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.gen++
	o.chats = make([]*domain.Chat, 0, len(chats))
	for i := range chats {
		c := chats[i]
		o.chats = append(o.chats, &c)
	}
	o.loaded = true
}

func (o *Overview) Loaded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loaded
}

// Chats returns a copy of the list.
func (o *Overview) Chats() []domain.Chat {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.Chat, len(o.chats))
	for i, c := range o.chats {
		out[i] = *c.Clone()
	}
	return out
}

func (o *Overview) Chat(chatID int64) (domain.Chat, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if i := o.indexLocked(chatID); i >= 0 {
		return *o.chats[i].Clone(), true
	}
	return domain.Chat{}, false
}

// Active is the selected chat, or 0.
func (o *Overview) Active() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Select marks chatID as the open chat and clears its unread counter.
func (o *Overview) Select(chatID int64) (domain.Chat, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := o.indexLocked(chatID)
	if i < 0 {
		return domain.Chat{}, fmt.Errorf("%w: %d", domain.ErrChatNotFound, chatID)
	}
	o.active = chatID
	c := o.chats[i]
	if c.NumberOfUnreadMessages != 0 {
		c.NumberOfUnreadMessages = 0
		o.publishUpdateLocked(i)
	}
	return *c.Clone(), nil
}

func (o *Overview) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = 0
}

// Upsert puts chat at the front, or refreshes it in place when already listed.
func (o *Overview) Upsert(chat domain.Chat) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if i := o.indexLocked(chat.ID); i >= 0 {
		*o.chats[i] = chat
		o.publishUpdateLocked(i)
		return
	}
	c := chat
	o.chats = append([]*domain.Chat{&c}, o.chats...)
	o.publishUpdateLocked(0)
}

// Remove drops a chat deleted locally and clears the selection if it was open.
func (o *Overview) Remove(chatID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removeLocked(chatID, false)
}

// CanSend reports whether messages may be sent to chatID.
func (o *Overview) CanSend(chatID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := o.indexLocked(chatID)
	if i < 0 {
		return nil
	}
	if o.chats[i].CounterPartBanned {
		return domain.ErrCounterpartBanned
	}
	return nil
}

// Apply dispatches one inbound event against the list.
func (o *Overview) Apply(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch e := ev.(type) {
	case NotificationEvent:
		o.applyNotificationLocked(e.Notification)
	case ChatDeletedEvent:
		if o.removeLocked(e.ChatID, true) {
			o.publish(domain.NoticeEvent{
				Level:     domain.NoticeWarning,
				ChatID:    e.ChatID,
				Text:      "A chat was deleted by the other participant",
				EventTime: o.now(),
			})
		}
	}
}

func (o *Overview) applyNotificationLocked(n domain.ChatNotification) {
	preview := n.Message
	if n.MessageType == domain.MessageTypeMedia {
		preview = domain.AttachmentText
	}
	now := o.now()

	i := o.indexLocked(n.ChatID)
	var c *domain.Chat
	if i < 0 {
		// A chat engaged by the counterpart that the list has not seen yet.
		c = &domain.Chat{ID: n.ChatID, CounterPartName: n.Username}
	} else {
		c = o.chats[i]
		o.chats = append(o.chats[:i], o.chats[i+1:]...)
	}
	o.chats = append([]*domain.Chat{c}, o.chats...)

	c.LastMessageOfCounterpart = preview
	c.LastMessageOfCounterpartTime = &now

	open := n.ChatID == o.active
	if open {
		c.NumberOfUnreadMessages = 0
	} else {
		c.NumberOfUnreadMessages++
	}
	o.publishUpdateLocked(0)

	if !open {
		o.publish(domain.NoticeEvent{
			Level:     domain.NoticeInfo,
			ChatID:    n.ChatID,
			Text:      fmt.Sprintf("%s: %s", n.Username, preview),
			EventTime: now,
		})
	}
}

func (o *Overview) removeLocked(chatID int64, byCounterpart bool) bool {
	i := o.indexLocked(chatID)
	if i >= 0 {
		o.chats = append(o.chats[:i], o.chats[i+1:]...)
	}
	wasActive := o.active == chatID
	if wasActive {
		o.active = 0
	}
	if i < 0 && !wasActive {
		return false
	}
	o.publish(domain.ChatRemovedEvent{ChatID: chatID, ByCounterpart: byCounterpart, EventTime: o.now()})
	return true
}

func (o *Overview) indexLocked(chatID int64) int {
	for i, c := range o.chats {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}

func (o *Overview) publishUpdateLocked(i int) {
	o.publish(domain.ChatUpdatedEvent{Chat: o.chats[i].Clone(), Position: i, EventTime: o.now()})
}

func (o *Overview) publish(ev domain.Event) {
	if o.eventBus != nil {
		o.eventBus.Publish(ev)
	}
}
