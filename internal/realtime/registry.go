package realtime

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
)

// StateSource is the part of Manager the registry follows.
type StateSource interface {
	OnStateChange(fn StateObserver) func()
}

// Subscriber hands out channel handles.
type Subscriber interface {
	Subscribe(channel domain.Channel, onEvent func(Event), onError func(error)) *Handle
}

// Registry maps logical channels onto transport subscriptions. A channel is subscribed on the
// transport while it has at least one open Handle and the connection is up.
type Registry struct {
	log     zerolog.Logger
	stopObs func()

	mu      sync.Mutex
	session Session
	entries map[domain.Channel]*entry
}

type entry struct {
	channel domain.Channel
	handles []*Handle
	sub     Subscription
	stop    chan struct{}
}

// Handle is one observer of a channel.
type Handle struct {
	registry *Registry
	channel  domain.Channel
	onEvent  func(Event)
	onError  func(error)
	closed   atomic.Bool
}

func NewRegistry(conn StateSource) *Registry {
	r := &Registry{
		log:     logger.Module("registry"),
		entries: make(map[domain.Channel]*entry),
	}
	r.stopObs = conn.OnStateChange(r.handleState)
	return r
}

// Subscribe attaches an observer to channel. Events for the channel are delivered in order
// from a single goroutine; a frame that fails to decode is passed to onError instead.
func (r *Registry) Subscribe(channel domain.Channel, onEvent func(Event), onError func(error)) *Handle {
	h := &Handle{
		registry: r,
		channel:  channel,
		onEvent:  onEvent,
		onError:  onError,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channel]
	if !ok {
		e = &entry{channel: channel}
		r.entries[channel] = e
	}
	e.handles = append(e.handles, h)

	if e.sub == nil && r.session != nil {
		r.subscribeLocked(e)
	}
	return h
}

func (h *Handle) Channel() domain.Channel {
	return h.channel
}

// Close detaches the observer. The last Close on a channel unsubscribes it on the transport.
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.registry.detach(h)
}

// Live lists the channels that currently hold a transport subscription.
func (r *Registry) Live() []domain.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]domain.Channel, 0, len(r.entries))
	for ch, e := range r.entries {
		if e.sub != nil {
			live = append(live, ch)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].String() < live[j].String()
	})
	return live
}

// Observers is the number of open handles on channel.
func (r *Registry) Observers(channel domain.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[channel]; ok {
		return len(e.handles)
	}
	return 0
}

// Close stops following the connection and unsubscribes every channel.
func (r *Registry) Close() error {
	if r.stopObs != nil {
		r.stopObs()
	}

	r.mu.Lock()
	var subs []Subscription
	for ch, e := range r.entries {
		if sub := r.releaseLocked(e); sub != nil {
			subs = append(subs, sub)
		}
		for _, h := range e.handles {
			h.closed.Store(true)
		}
		delete(r.entries, ch)
	}
	r.session = nil
	r.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			r.log.Debug().Err(err).Msg("failed to unsubscribe")
		}
	}
	return nil
}

func (r *Registry) detach(h *Handle) error {
	r.mu.Lock()
	e, ok := r.entries[h.channel]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	for i, other := range e.handles {
		if other == h {
			e.handles = append(e.handles[:i], e.handles[i+1:]...)
			break
		}
	}

	var sub Subscription
	if len(e.handles) == 0 {
		sub = r.releaseLocked(e)
		delete(r.entries, h.channel)
	}
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	r.log.Debug().Str("channel", h.channel.String()).Msg("unsubscribing")
	return sub.Unsubscribe()
}

func (r *Registry) handleState(state ConnState, session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch state {
	case Connected:
		r.session = session
		for _, e := range r.entries {
			if e.sub == nil && len(e.handles) > 0 {
				r.subscribeLocked(e)
			}
		}
	case Disconnected:
		// The session is gone and its subscriptions with it.
		r.session = nil
		for _, e := range r.entries {
			r.releaseLocked(e)
		}
	}
}

func (r *Registry) subscribeLocked(e *entry) {
	sub, err := r.session.Subscribe(e.channel.Destination())
	if err != nil {
		// The entry keeps its observers and is re-issued on the next Connected transition.
		r.log.Warn().Err(err).Str("channel", e.channel.String()).Msg("subscribe failed")
		return
	}
	e.sub = sub
	e.stop = make(chan struct{})
	r.log.Debug().Str("channel", e.channel.String()).Msg("subscribed")
	go r.pump(e.channel, sub, e.stop)
}

// releaseLocked stops the pump and returns the subscription it was reading.
func (r *Registry) releaseLocked(e *entry) Subscription {
	sub := e.sub
	if sub == nil {
		return nil
	}
	close(e.stop)
	e.sub = nil
	e.stop = nil
	return sub
}

func (r *Registry) pump(channel domain.Channel, sub Subscription, stop <-chan struct{}) {
	frames := sub.C()
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			r.deliver(channel, frame, stop)
		}
	}
}

func (r *Registry) deliver(channel domain.Channel, frame Frame, stop <-chan struct{}) {
	if frame.Err != nil {
		r.log.Warn().Err(frame.Err).Str("channel", channel.String()).Msg("subscription error")
		return
	}

	r.mu.Lock()
	select {
	case <-stop:
		r.mu.Unlock()
		return
	default:
	}
	var handles []*Handle
	if e, ok := r.entries[channel]; ok {
		handles = make([]*Handle, len(e.handles))
		copy(handles, e.handles)
	}
	r.mu.Unlock()

	event, err := Decode(channel, frame.Body)
	if err != nil {
		r.log.Warn().Err(err).Str("channel", channel.String()).Msg("dropping malformed frame")
	}

	for _, h := range handles {
		if h.closed.Load() {
			continue
		}
		if err != nil {
			if h.onError != nil {
				h.onError(err)
			}
			continue
		}
		if h.onEvent != nil {
			h.onEvent(event)
		}
	}
}
