package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
	"github.com/clippy-oss/homie/marketplace-chat/internal/media"
)

type WindowState int

const (
	WindowClosed WindowState = iota
	WindowLoading
	WindowReady
	WindowError
)

func (s WindowState) String() string {
	switch s {
	case WindowLoading:
		return "loading"
	case WindowReady:
		return "ready"
	case WindowError:
		return "error"
	default:
		return "closed"
	}
}

// Publisher sends outbound frames.
type Publisher interface {
	Publish(destination string, v interface{}) error
}

// ChatBackend is the REST side of an open chat.
type ChatBackend interface {
	ListMessages(ctx context.Context, chatID int64) ([]domain.ChatMessage, error)
	UploadMedia(ctx context.Context, name, contentType string, data []byte) (domain.ChatImage, error)
	ReportMessage(ctx context.Context, chatID, messageID int64, reason string) (*api.ReportDetail, error)
}

// MediaCache holds the local copies of a chat's attachments until closed.
type MediaCache interface {
	Fetch(ctx context.Context, mediaURL string) (string, error)
	Get(mediaURL string) (string, bool)
	Close() error
}

type WindowConfig struct {
	Username      string
	MaxUploadSize int64
}

// Window reconciles the message log of the open chat. The log only changes through inbound
// events; local actions publish and wait for the broadcast.
type Window struct {
	subscriber Subscriber
	publisher  Publisher
	backend    ChatBackend
	newMedia   func() (MediaCache, error)
	eventBus   domain.EventBus
	config     WindowConfig
	log        zerolog.Logger

	mu       sync.Mutex
	state    WindowState
	chatID   int64
	gen      uint64
	messages []domain.ChatMessage
	pending  []Event
	lastErr  error
	draft    string
	preview  *media.Preview
	media    MediaCache
	mediaCtx context.Context
	disposer *Disposer
}

func NewWindow(
	subscriber Subscriber,
	publisher Publisher,
	backend ChatBackend,
	newMedia func() (MediaCache, error),
	eventBus domain.EventBus,
	config WindowConfig,
) *Window {
	return &Window{
		subscriber: subscriber,
		publisher:  publisher,
		backend:    backend,
		newMedia:   newMedia,
		eventBus:   eventBus,
		config:     config,
		log:        logger.Module("window"),
	}
}

// Open switches the window to chatID. The previous chat's subscriptions and media are released
// before the new ones are attached. History that arrives after another Open is discarded.
func (w *Window) Open(ctx context.Context, chatID int64) error {
	gen, err := w.attach(chatID)
	if err != nil {
		return err
	}

	history, err := w.backend.ListMessages(ctx, chatID)
	return w.install(gen, chatID, history, err)
}

func (w *Window) attach(chatID int64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.releaseLocked()

	cache, err := w.newMedia()
	if err != nil {
		w.gen++
		w.chatID = 0
		w.messages = nil
		w.state = WindowError
		w.lastErr = err
		return 0, fmt.Errorf("failed to create media cache: %w", err)
	}

	w.gen++
	gen := w.gen
	w.chatID = chatID
	w.state = WindowLoading
	w.messages = nil
	w.pending = nil
	w.lastErr = nil
	w.preview = nil

	mediaCtx, cancel := context.WithCancel(context.Background())
	d := NewDisposer()
	d.Add(cache.Close)
	d.Add(func() error {
		cancel()
		return nil
	})
	for _, ch := range domain.ChatChannels(chatID) {
		h := w.subscriber.Subscribe(ch, w.handler(gen), w.errorHandler(ch))
		d.Add(h.Close)
	}

	w.media = cache
	w.mediaCtx = mediaCtx
	w.disposer = d

	w.log.Debug().Int64("chat_id", chatID).Msg("chat opened")
	return gen, nil
}

func (w *Window) install(gen uint64, chatID int64, history []domain.ChatMessage, fetchErr error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen || w.state != WindowLoading {
		w.log.Debug().Int64("chat_id", chatID).Msg("discarding stale history")
		return nil
	}

	if fetchErr != nil {
		if api.IsNotFound(fetchErr) {
			w.closeLocked(chatID, "This chat no longer exists")
			return fmt.Errorf("%w: %d", domain.ErrChatNotFound, chatID)
		}
		w.state = WindowError
		w.lastErr = fetchErr
		return fmt.Errorf("failed to load messages: %w", fetchErr)
	}

	// History arrives newest first.
	msgs := make([]domain.ChatMessage, len(history))
	for i, m := range history {
		msgs[len(history)-1-i] = m
	}
	w.messages = msgs
	w.state = WindowReady

	for _, m := range msgs {
		if m.MessageType == domain.MessageTypeMedia {
			w.preloadLocked(m)
		}
	}
	w.markReadLocked()

	pending := w.pending
	w.pending = nil
	for _, ev := range pending {
		w.applyLocked(ev)
	}
	return nil
}

// Close releases the open chat.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.gen++
	err := w.releaseLocked()
	w.state = WindowClosed
	w.chatID = 0
	w.messages = nil
	w.pending = nil
	return err
}

func (w *Window) releaseLocked() error {
	w.preview = nil
	if w.disposer == nil {
		return nil
	}
	err := w.disposer.Dispose()
	if err != nil {
		w.log.Warn().Err(err).Int64("chat_id", w.chatID).Msg("failed to release chat resources")
	}
	w.disposer = nil
	w.media = nil
	w.mediaCtx = nil
	return err
}

// closeLocked ends the window because the chat is gone.
func (w *Window) closeLocked(chatID int64, reason string) {
	w.gen++
	w.releaseLocked()
	w.state = WindowClosed
	w.chatID = 0
	w.messages = nil
	w.pending = nil

	now := time.Now()
	w.publishEvent(domain.NoticeEvent{Level: domain.NoticeWarning, ChatID: chatID, Text: reason, EventTime: now})
	w.publishEvent(domain.ChatClosedEvent{ChatID: chatID, Reason: reason, EventTime: now})
}

func (w *Window) handler(gen uint64) func(Event) {
	return func(ev Event) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if gen != w.gen {
			return
		}
		w.applyLocked(ev)
	}
}

func (w *Window) errorHandler(ch domain.Channel) func(error) {
	return func(err error) {
		w.log.Warn().Err(err).Str("channel", ch.String()).Msg("ignoring malformed event")
	}
}

// Apply dispatches one inbound event against the open chat.
func (w *Window) Apply(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyLocked(ev)
}

func (w *Window) applyLocked(ev Event) {
	if e, ok := ev.(ChatDeletedEvent); ok {
		if w.state != WindowClosed && e.ChatID == w.chatID {
			w.closeLocked(e.ChatID, "This chat was deleted")
		}
		return
	}

	if w.chatID == 0 || ev.Channel().ChatID != w.chatID {
		return
	}

	switch w.state {
	case WindowLoading:
		w.pending = append(w.pending, ev)
		return
	case WindowReady:
	default:
		return
	}

	switch e := ev.(type) {
	case MessageEvent:
		w.applyMessageLocked(e.Message)
	case ActionEvent:
		switch {
		case e.Action.Deleted:
			w.applyDeleteLocked(e.Action.MessageID)
		case e.Action.Edited:
			w.applyEditLocked(e.Action.MessageID, e.Action.NewMessage)
		}
	case ReadEvent:
		w.applyReadLocked(e.Receipt.Reader)
	}
}

func (w *Window) applyMessageLocked(msg domain.ChatMessage) {
	if w.indexLocked(msg.ID) >= 0 {
		return
	}
	w.messages = append(w.messages, msg)

	m := msg
	w.publishEvent(domain.MessageReceivedEvent{ChatID: w.chatID, Message: &m, EventTime: time.Now()})

	if msg.MessageType == domain.MessageTypeMedia {
		w.preloadLocked(msg)
	}
	if !msg.IsMine(w.config.Username) {
		w.markReadLocked()
	}
}

func (w *Window) applyDeleteLocked(id int64) {
	i := w.indexLocked(id)
	if i < 0 {
		return
	}
	w.messages = append(w.messages[:i], w.messages[i+1:]...)
	w.publishEvent(domain.MessageDeletedEvent{ChatID: w.chatID, MessageID: id, EventTime: time.Now()})
}

func (w *Window) applyEditLocked(id int64, text string) {
	i := w.indexLocked(id)
	if i < 0 {
		return
	}
	w.messages[i].Message = text
	w.messages[i].Edited = true
	w.publishEvent(domain.MessageEditedEvent{ChatID: w.chatID, MessageID: id, NewMessage: text, EventTime: time.Now()})
}

func (w *Window) applyReadLocked(reader string) {
	if reader == w.config.Username {
		return
	}
	changed := false
	for i := range w.messages {
		if !w.messages[i].Read {
			w.messages[i].Read = true
			changed = true
		}
	}
	if changed {
		w.publishEvent(domain.MessagesReadEvent{ChatID: w.chatID, Reader: reader, EventTime: time.Now()})
	}
}

func (w *Window) markReadLocked() {
	err := w.publisher.Publish(domain.SendReadDestination(w.chatID), domain.ReadRequest{ChatID: w.chatID})
	if err != nil {
		w.log.Debug().Err(err).Int64("chat_id", w.chatID).Msg("read acknowledgment not sent")
	}
}

func (w *Window) preloadLocked(msg domain.ChatMessage) {
	if msg.MediaURL == "" || w.media == nil {
		return
	}
	cache, ctx, chatID := w.media, w.mediaCtx, w.chatID
	go func() {
		_, err := cache.Fetch(ctx, msg.MediaURL)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, media.ErrCacheClosed) {
			w.log.Warn().Err(err).Int64("chat_id", chatID).Str("media_url", msg.MediaURL).Msg("failed to preload media")
		}
	}()
}

func (w *Window) indexLocked(id int64) int {
	for i := range w.messages {
		if w.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (w *Window) activeLocked() (int64, error) {
	if w.state == WindowClosed || w.chatID == 0 {
		return 0, domain.ErrNoActiveChat
	}
	return w.chatID, nil
}

func (w *Window) findLocked(id int64) (domain.ChatMessage, error) {
	i := w.indexLocked(id)
	if i < 0 {
		return domain.ChatMessage{}, fmt.Errorf("%w: %d", domain.ErrMessageNotFound, id)
	}
	return w.messages[i], nil
}

func (w *Window) publishEvent(ev domain.Event) {
	if w.eventBus != nil {
		w.eventBus.Publish(ev)
	}
}

// SendMessage publishes a text message. The log is updated when the broadcast comes back.
func (w *Window) SendMessage(text string) error {
	text, err := domain.NormalizeText(text)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	chatID, err := w.activeLocked()
	if err != nil {
		return err
	}
	return w.publisher.Publish(domain.SendMessageDestination(chatID), domain.NewTextPayload(text))
}

// SendDraft sends the compose text and clears it once published.
func (w *Window) SendDraft() error {
	if err := w.SendMessage(w.Draft()); err != nil {
		return err
	}
	w.SetDraft("")
	return nil
}

// RequestEdit asks the backend to replace the text of one of the user's own text messages.
func (w *Window) RequestEdit(messageID int64, text string) error {
	text, err := domain.NormalizeText(text)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	chatID, err := w.activeLocked()
	if err != nil {
		return err
	}
	msg, err := w.findLocked(messageID)
	if err != nil {
		return err
	}
	if !msg.IsMine(w.config.Username) {
		return domain.ErrNotMessageOwner
	}
	if !msg.CanEdit(w.config.Username) {
		return domain.ErrNotEditable
	}

	return w.publisher.Publish(domain.SendMessageActionDestination(chatID), domain.MessageActionRequest{
		Action:     domain.MessageActionEdit,
		MessageID:  messageID,
		NewMessage: text,
	})
}

func (w *Window) RequestDelete(messageID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	chatID, err := w.activeLocked()
	if err != nil {
		return err
	}
	msg, err := w.findLocked(messageID)
	if err != nil {
		return err
	}
	if !msg.CanDelete(w.config.Username) {
		return domain.ErrNotMessageOwner
	}

	return w.publisher.Publish(domain.SendMessageActionDestination(chatID), domain.MessageActionRequest{
		Action:    domain.MessageActionDelete,
		MessageID: messageID,
	})
}

// RequestReport reports someone else's message through the REST API.
func (w *Window) RequestReport(ctx context.Context, messageID int64, reason string) (*api.ReportDetail, error) {
	reason, err := domain.NormalizeText(reason)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	chatID, err := w.activeLocked()
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	msg, err := w.findLocked(messageID)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if !msg.CanReport(w.config.Username) {
		w.mu.Unlock()
		return nil, domain.ErrOwnMessage
	}
	w.mu.Unlock()

	detail, err := w.backend.ReportMessage(ctx, chatID, messageID, reason)
	switch {
	case err == nil:
	case api.IsConflict(err):
		return nil, domain.ErrAlreadyReported
	case api.IsNotFound(err):
		return nil, fmt.Errorf("%w: %d", domain.ErrMessageNotFound, messageID)
	default:
		return nil, fmt.Errorf("failed to report message: %w", err)
	}

	w.publishEvent(domain.NoticeEvent{
		Level:     domain.NoticeSuccess,
		ChatID:    chatID,
		Text:      "Message reported",
		EventTime: time.Now(),
	})
	return detail, nil
}

// SelectFile builds the preview of an attachment. An unsupported or unreadable file clears the
// current selection.
func (w *Window) SelectFile(name, contentType string, data []byte) (*media.Preview, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.activeLocked(); err != nil {
		return nil, err
	}

	p, err := media.NewPreview(name, contentType, data)
	if err != nil {
		w.preview = nil
		return nil, err
	}
	w.preview = p
	return p, nil
}

func (w *Window) CancelPreview() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.preview = nil
}

func (w *Window) Preview() *media.Preview {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.preview
}

// ConfirmUpload uploads the selected file and, on success only, publishes it as a MEDIA
// message. The selection is cleared whatever the outcome; the draft is left alone.
func (w *Window) ConfirmUpload(ctx context.Context) (domain.ChatImage, error) {
	w.mu.Lock()
	chatID, err := w.activeLocked()
	if err != nil {
		w.mu.Unlock()
		return domain.ChatImage{}, err
	}
	p := w.preview
	if p == nil {
		w.mu.Unlock()
		return domain.ChatImage{}, domain.ErrNoFileSelected
	}
	if limit := w.config.MaxUploadSize; limit > 0 && p.Size() > limit {
		w.preview = nil
		w.mu.Unlock()
		return domain.ChatImage{}, fmt.Errorf("%w: %d bytes, limit is %d", domain.ErrFileTooLarge, p.Size(), limit)
	}
	gen := w.gen
	w.mu.Unlock()

	img, uploadErr := w.backend.UploadMedia(ctx, p.Name, p.ContentType, p.Data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.preview == p {
		w.preview = nil
	}

	switch {
	case uploadErr == nil:
	case api.IsTooLarge(uploadErr):
		return domain.ChatImage{}, fmt.Errorf("%w: %v", domain.ErrFileTooLarge, uploadErr)
	case api.IsUnsupportedMedia(uploadErr):
		return domain.ChatImage{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedMedia, uploadErr)
	default:
		return domain.ChatImage{}, fmt.Errorf("failed to upload attachment: %w", uploadErr)
	}

	if gen != w.gen {
		return domain.ChatImage{}, fmt.Errorf("%w: chat changed during upload", domain.ErrNoActiveChat)
	}
	if err := w.publisher.Publish(domain.SendMessageDestination(chatID), domain.NewMediaPayload(img)); err != nil {
		return domain.ChatImage{}, err
	}
	return img, nil
}

func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ChatID is the open chat, or 0.
func (w *Window) ChatID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chatID
}

// Err is the error that put the window into WindowError.
func (w *Window) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Messages returns a copy of the log, oldest first.
func (w *Window) Messages() []domain.ChatMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.ChatMessage, len(w.messages))
	copy(out, w.messages)
	return out
}

func (w *Window) Message(id int64) (domain.ChatMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findLocked(id)
}

func (w *Window) Draft() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

func (w *Window) SetDraft(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = text
}

// MediaPath is the local file of an attachment once it has been fetched.
func (w *Window) MediaPath(mediaURL string) (string, bool) {
	w.mu.Lock()
	cache := w.media
	w.mu.Unlock()
	if cache == nil {
		return "", false
	}
	return cache.Get(mediaURL)
}

// FetchMedia downloads an attachment of the open chat into its cache.
func (w *Window) FetchMedia(ctx context.Context, mediaURL string) (string, error) {
	w.mu.Lock()
	cache := w.media
	w.mu.Unlock()
	if cache == nil {
		return "", domain.ErrNoActiveChat
	}
	return cache.Fetch(ctx, mediaURL)
}
