package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
)

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateObserver is called on every connection state change. session is only set while
// Connected.
type StateObserver func(state ConnState, session Session)

type ManagerConfig struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

const (
	defaultReconnectDelay = 1500 * time.Millisecond
	defaultDialTimeout    = 15 * time.Second
)

// Manager owns the single broker connection. It reconnects after a fixed delay and only
// retries a rejected credential once the token source reports a refresh.
type Manager struct {
	transport Transport
	tokens    TokenSource
	eventBus  domain.EventBus
	config    ManagerConfig
	log       zerolog.Logger

	// notifyMu serializes observer notification so every observer sees transitions in order.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	state     ConnState
	session   Session
	attempts  int
	observers []*observerEntry
	cancel    context.CancelFunc
	done      chan struct{}
}

type observerEntry struct {
	fn StateObserver
}

func NewManager(transport Transport, tokens TokenSource, eventBus domain.EventBus, config ManagerConfig) *Manager {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaultReconnectDelay
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}
	return &Manager{
		transport: transport,
		tokens:    tokens,
		eventBus:  eventBus,
		config:    config,
		log:       logger.Module("realtime"),
	}
}

// Connect starts the connection loop. It is a no-op while the loop is already running.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Disconnect stops the loop and closes the session. It must not be called from an observer.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Attempts is the number of failed attempts since the last successful connect.
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// OnStateChange registers fn and immediately calls it with the current state. The returned
// function removes it.
func (m *Manager) OnStateChange(fn StateObserver) func() {
	entry := &observerEntry{fn: fn}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.observers = append(m.observers, entry)
	state, session := m.state, m.session
	m.mu.Unlock()

	fn(state, session)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.observers {
			if e == entry {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Publish JSON encodes v and sends it to destination.
func (m *Manager) Publish(destination string, v interface{}) error {
	m.mu.RLock()
	state, session := m.state, m.session
	m.mu.RUnlock()

	if state != Connected || session == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := session.Send(destination, body); err != nil {
		return fmt.Errorf("failed to send to %s: %w", destination, err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	policy := backoff.WithContext(backoff.NewConstantBackOff(m.config.ReconnectDelay), ctx)

	for {
		m.setState(Connecting, nil, "")

		refreshed := m.tokens.Refreshed()
		session, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(Disconnected, nil, "disconnected")
				return
			}

			m.mu.Lock()
			m.attempts++
			attempt := m.attempts
			m.mu.Unlock()

			m.log.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
			m.setState(Disconnected, nil, err.Error())

			if errors.Is(err, ErrRejected) {
				m.log.Info().Msg("waiting for credential refresh")
				select {
				case <-refreshed:
				case <-ctx.Done():
					return
				}
			}
		} else {
			m.mu.Lock()
			m.attempts = 0
			m.mu.Unlock()

			m.log.Info().Msg("connected")
			m.setState(Connected, session, "")

			select {
			case <-session.Done():
				m.log.Warn().Msg("connection lost")
				m.closeSession(session)
				m.setState(Disconnected, nil, "connection lost")
			case <-ctx.Done():
				m.closeSession(session)
				m.setState(Disconnected, nil, "disconnected")
				return
			}
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (Session, error) {
	token, err := m.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()
	return m.transport.Dial(dialCtx, token)
}

func (m *Manager) closeSession(session Session) {
	if err := session.Close(); err != nil {
		m.log.Debug().Err(err).Msg("failed to close session")
	}
}

func (m *Manager) setState(state ConnState, session Session, reason string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.state = state
	m.session = session
	attempt := m.attempts
	observers := make([]*observerEntry, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, o := range observers {
		o.fn(state, session)
	}

	if m.eventBus != nil {
		m.eventBus.Publish(domain.ConnectionStatusEvent{
			State:     state.String(),
			Connected: state == Connected,
			Attempt:   attempt,
			Reason:    reason,
			EventTime: time.Now(),
		})
	}
}
