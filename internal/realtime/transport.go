// Package realtime keeps the broker connection alive, multiplexes topic subscriptions over it and
// reconciles chat state from the frames that arrive.
package realtime

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by Publish while no session is up. Nothing is buffered.
	ErrNotConnected = errors.New("not connected")
	// ErrRejected marks a connect attempt refused because of the credential.
	ErrRejected = errors.New("connection rejected")
)

// Frame is one inbound broker message. Err is set when the transport reports a failure on the
// subscription instead of a message.
type Frame struct {
	Destination string
	Body        []byte
	Err         error
}

type Subscription interface {
	C() <-chan Frame
	Unsubscribe() error
}

// Session is one authenticated connection. Done is closed when the connection is lost.
type Session interface {
	Subscribe(destination string) (Subscription, error)
	Send(destination string, body []byte) error
	Done() <-chan struct{}
	Close() error
}

// Transport opens sessions. Dial must honour ctx and wrap credential failures in ErrRejected.
type Transport interface {
	Dial(ctx context.Context, token string) (Session, error)
}

// TokenSource supplies the bearer token read on every connect attempt. Refreshed is closed
// when a new token becomes available.
type TokenSource interface {
	Token() (string, error)
	Refreshed() <-chan struct{}
}
