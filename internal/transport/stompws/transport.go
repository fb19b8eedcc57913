// Package stompws carries STOMP 1.2 over a WebSocket connection.
package stompws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
)

const (
	subprotocol = "v12.stomp"
	contentType = "application/json"

	defaultReadLimit = 4 << 20
)

type Config struct {
	// URL is the raw websocket endpoint, e.g. ws://localhost:8080/ws-chat/websocket.
	URL       string
	HeartBeat time.Duration
	// ReadLimit caps a single websocket message. A larger frame drops the session.
	ReadLimit int64
}

type Transport struct {
	config Config
	log    zerolog.Logger
}

func New(config Config) *Transport {
	if config.ReadLimit <= 0 {
		config.ReadLimit = defaultReadLimit
	}
	return &Transport{
		config: config,
		log:    logger.Module("stompws"),
	}
}

// Dial upgrades to a websocket and sends CONNECT with the bearer token. A 401/403 on the
// upgrade or an ERROR frame in answer to CONNECT is reported as realtime.ErrRejected.
func (t *Transport) Dial(ctx context.Context, token string) (realtime.Session, error) {
	u, err := url.Parse(t.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}

	ws, resp, err := websocket.Dial(ctx, t.config.URL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: upgrade answered %d", realtime.ErrRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", t.config.URL, err)
	}
	ws.SetReadLimit(t.config.ReadLimit)

	// The net.Conn outlives the dial context.
	connCtx, cancel := context.WithCancel(context.Background())
	conn := newWatchedConn(websocket.NetConn(connCtx, ws, websocket.MessageText))

	type result struct {
		conn *stomp.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := stomp.Connect(conn,
			stomp.ConnOpt.Host(u.Hostname()),
			stomp.ConnOpt.Header("Authorization", "Bearer "+token),
			stomp.ConnOpt.HeartBeat(t.config.HeartBeat, t.config.HeartBeat),
		)
		done <- result{conn: c, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		conn.Close()
		cancel()
		return nil, ctx.Err()
	}

	if res.err != nil {
		conn.Close()
		cancel()
		var stompErr stomp.Error
		if errors.As(res.err, &stompErr) {
			return nil, fmt.Errorf("%w: %s", realtime.ErrRejected, stompErr.Message)
		}
		return nil, fmt.Errorf("failed to connect stomp: %w", res.err)
	}

	t.log.Debug().Str("url", t.config.URL).Msg("stomp connected")
	return &session{
		conn:   res.conn,
		raw:    conn,
		cancel: cancel,
		log:    t.log,
	}, nil
}

type session struct {
	conn   *stomp.Conn
	raw    *watchedConn
	cancel context.CancelFunc
	log    zerolog.Logger

	closeOnce sync.Once
}

func (s *session) Subscribe(destination string) (realtime.Subscription, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}
	return newSubscription(sub, destination, s.log), nil
}

func (s *session) Send(destination string, body []byte) error {
	return s.conn.Send(destination, contentType, body)
}

func (s *session) Done() <-chan struct{} {
	return s.raw.done
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.MustDisconnect()
		s.raw.Close()
		s.cancel()
	})
	return err
}

// watchedConn closes done once the connection can no longer be read.
type watchedConn struct {
	net.Conn
	done chan struct{}
	once sync.Once
}

func newWatchedConn(c net.Conn) *watchedConn {
	return &watchedConn{Conn: c, done: make(chan struct{})}
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.signal()
	}
	return n, err
}

func (c *watchedConn) Close() error {
	c.signal()
	return c.Conn.Close()
}

func (c *watchedConn) signal() {
	c.once.Do(func() { close(c.done) })
}

// subscription forwards broker messages until unsubscribed. Unsubscribe does not wait for the
// broker's receipt.
type subscription struct {
	sub         *stomp.Subscription
	destination string
	ch          chan realtime.Frame
	stop        chan struct{}
	once        sync.Once
	log         zerolog.Logger
}

func newSubscription(sub *stomp.Subscription, destination string, log zerolog.Logger) *subscription {
	s := &subscription{
		sub:         sub,
		destination: destination,
		ch:          make(chan realtime.Frame),
		stop:        make(chan struct{}),
		log:         log,
	}
	go s.forward()
	return s
}

func (s *subscription) C() <-chan realtime.Frame {
	return s.ch
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.stop)
		go func() {
			if err := s.sub.Unsubscribe(); err != nil {
				s.log.Debug().Err(err).Str("destination", s.destination).Msg("unsubscribe failed")
			}
		}()
	})
	return nil
}

func (s *subscription) forward() {
	defer close(s.ch)
	// Keep draining after stop so the stomp reader is never blocked.
	for msg := range s.sub.C {
		frame := realtime.Frame{Destination: msg.Destination, Body: msg.Body, Err: msg.Err}
		select {
		case <-s.stop:
			continue
		default:
		}
		select {
		case s.ch <- frame:
		case <-s.stop:
		}
	}
}
