package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
)

const waitFor = 2 * time.Second

type fakeSub struct {
	dest         string
	ch           chan Frame
	unsubscribed atomic.Bool
}

func (s *fakeSub) C() <-chan Frame { return s.ch }

func (s *fakeSub) Unsubscribe() error {
	s.unsubscribed.Store(true)
	return nil
}

type sentFrame struct {
	dest string
	body []byte
}

type fakeSession struct {
	mu         sync.Mutex
	subs       []*fakeSub
	sent       []sentFrame
	done       chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (s *fakeSession) Subscribe(dest string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &fakeSub{dest: dest, ch: make(chan Frame, 64)}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeSession) Send(dest string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentFrame{dest: dest, body: body})
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.closeCalls.Add(1)
	s.drop()
	return nil
}

// drop simulates the connection going away.
func (s *fakeSession) drop() {
	s.closeOnce.Do(func() { close(s.done) })
}

// deliver pushes a frame to the live subscription of dest.
func (s *fakeSession) deliver(t *testing.T, dest string, v interface{}) {
	t.Helper()
	var body []byte
	switch b := v.(type) {
	case string:
		body = []byte(b)
	default:
		var err error
		body, err = json.Marshal(v)
		require.NoError(t, err)
	}

	s.mu.Lock()
	var target *fakeSub
	for i := len(s.subs) - 1; i >= 0; i-- {
		if s.subs[i].dest == dest && !s.subs[i].unsubscribed.Load() {
			target = s.subs[i]
			break
		}
	}
	s.mu.Unlock()
	require.NotNil(t, target, "no live subscription for %s", dest)
	target.ch <- Frame{Destination: dest, Body: body}
}

// active lists destinations with a subscription that was not unsubscribed.
func (s *fakeSession) active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sub := range s.subs {
		if !sub.unsubscribed.Load() {
			out = append(out, sub.dest)
		}
	}
	sort.Strings(out)
	return out
}

func (s *fakeSession) subscribeCount(dest string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.dest == dest {
			n++
		}
	}
	return n
}

func (s *fakeSession) sentTo(dest string) []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentFrame
	for _, f := range s.sent {
		if f.dest == dest {
			out = append(out, f)
		}
	}
	return out
}

type fakeTransport struct {
	mu       sync.Mutex
	errs     []error
	tokens   []string
	sessions []*fakeSession
	dialed   chan *fakeSession
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan *fakeSession, 16)}
}

func (f *fakeTransport) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeTransport) Dial(ctx context.Context, token string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	s := newFakeSession()
	f.sessions = append(f.sessions, s)
	select {
	case f.dialed <- s:
	default:
	}
	return s, nil
}

func (f *fakeTransport) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *fakeTransport) next(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-f.dialed:
		return s
	case <-time.After(waitFor):
		t.Fatal("no session dialed")
		return nil
	}
}

type fakeTokens struct {
	mu      sync.Mutex
	token   string
	err     error
	refresh chan struct{}
}

func newFakeTokens(token string) *fakeTokens {
	return &fakeTokens{token: token, refresh: make(chan struct{})}
}

func (f *fakeTokens) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.err
}

func (f *fakeTokens) Refreshed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh
}

func (f *fakeTokens) set(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	f.err = nil
	close(f.refresh)
	f.refresh = make(chan struct{})
}

type harness struct {
	transport *fakeTransport
	tokens    *fakeTokens
	bus       *domain.SimpleEventBus
	manager   *Manager
	registry  *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		tokens:    newFakeTokens("token-1"),
		bus:       domain.NewEventBus(),
	}
	h.manager = NewManager(h.transport, h.tokens, h.bus, ManagerConfig{ReconnectDelay: 10 * time.Millisecond})
	h.registry = NewRegistry(h.manager)
	t.Cleanup(func() {
		h.registry.Close()
		h.manager.Disconnect()
	})
	return h
}

// connect starts the manager and returns the first session once connected.
func (h *harness) connect(t *testing.T) *fakeSession {
	t.Helper()
	h.manager.Connect()
	s := h.transport.next(t)
	require.Eventually(t, func() bool { return h.manager.State() == Connected }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		h.registry.mu.Lock()
		defer h.registry.mu.Unlock()
		return h.registry.session == Session(s)
	}, waitFor, time.Millisecond)
	return s
}

type fakeBackend struct {
	mu        sync.Mutex
	history   map[int64][]domain.ChatMessage
	listErr   map[int64]error
	gates     map[int64]chan struct{}
	entered   chan int64
	uploads   []string
	uploadErr error
	image     domain.ChatImage
	reports   []int64
	reportErr error
	chats     []domain.Chat
	chatsErr  error
	chatGate  chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[int64][]domain.ChatMessage),
		listErr: make(map[int64]error),
		gates:   make(map[int64]chan struct{}),
		entered: make(chan int64, 16),
		image:   domain.ChatImage{MediaName: "photo.png", MediaURL: "/media/photo.png"},
	}
}

func (b *fakeBackend) ListMessages(ctx context.Context, chatID int64) ([]domain.ChatMessage, error) {
	b.mu.Lock()
	gate := b.gates[chatID]
	b.mu.Unlock()

	select {
	case b.entered <- chatID:
	default:
	}
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.listErr[chatID]; err != nil {
		return nil, err
	}
	out := make([]domain.ChatMessage, len(b.history[chatID]))
	copy(out, b.history[chatID])
	return out, nil
}

func (b *fakeBackend) UploadMedia(ctx context.Context, name, contentType string, data []byte) (domain.ChatImage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, name)
	if b.uploadErr != nil {
		return domain.ChatImage{}, b.uploadErr
	}
	return b.image, nil
}

func (b *fakeBackend) ReportMessage(ctx context.Context, chatID, messageID int64, reason string) (*api.ReportDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reportErr != nil {
		return nil, b.reportErr
	}
	b.reports = append(b.reports, messageID)
	return &api.ReportDetail{MessageID: messageID}, nil
}

func (b *fakeBackend) ListChats(ctx context.Context) ([]domain.Chat, error) {
	b.mu.Lock()
	gate := b.chatGate
	b.chatGate = nil
	chats := append([]domain.Chat(nil), b.chats...)
	err := b.chatsErr
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return chats, err
}

type fakeMedia struct {
	mu      sync.Mutex
	fetched []string
	closed  bool
}

func (m *fakeMedia) Fetch(ctx context.Context, mediaURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", errors.New("closed")
	}
	m.fetched = append(m.fetched, mediaURL)
	return "/tmp/" + mediaURL, nil
}

func (m *fakeMedia) Get(mediaURL string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fetched {
		if f == mediaURL {
			return "/tmp/" + mediaURL, true
		}
	}
	return "", false
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) fetchedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetched...)
}

// mediaFactory records every cache handed to a window.
type mediaFactory struct {
	mu     sync.Mutex
	caches []*fakeMedia
}

func (f *mediaFactory) new() (MediaCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &fakeMedia{}
	f.caches = append(f.caches, m)
	return m, nil
}

func (f *mediaFactory) last() *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caches[len(f.caches)-1]
}

// nextEvent waits for an event of type typ on ch.
func nextEvent(t *testing.T, ch <-chan domain.Event, typ domain.EventType) domain.Event {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-ch:
			if ev.Type() == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return nil
		}
	}
}
