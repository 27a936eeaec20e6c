// Package transport provides the duplex byte channels the client talks to the
// server through. Every transport reports through the same four callbacks,
// which may be invoked from any goroutine.
package transport

import (
	"context"
	"fmt"
	"sync"
)

// Callbacks receive the lifecycle of one handle. OnClose is called exactly
// once per handle, after OnError if the handle failed. OnOpen is not called
// when opening fails.
type Callbacks struct {
	OnOpen    func(h Handle)
	OnMessage func(h Handle, data []byte)
	OnError   func(h Handle, err error)
	OnClose   func(h Handle)
}

// Handle is one open (or opening) connection.
type Handle interface {
	ID() string
	RemoteAddress() string
	Send(packet []byte) error
	Close() error
}

type Transport interface {
	Name() string

	// Open starts connecting to address and returns immediately. The
	// outcome is reported through cb.
	Open(ctx context.Context, address string, cb Callbacks) (Handle, error)

	// MaxPacketSize is the largest packet a bundle should produce.
	MaxPacketSize() int

	// IsStream reports whether received chunks may cut messages at arbitrary
	// byte boundaries.
	IsStream() bool
}

type NotOpen struct {
	HandleId string
}

func (e *NotOpen) Error() string {
	return fmt.Sprintf("Transport handle %s is not open", e.HandleId)
}

// lifecycle makes sure each callback fires at most once in the right order.
type lifecycle struct {
	cb Callbacks

	mut_state sync.Mutex
	opened    bool
	closed    bool
}

func (l *lifecycle) open(h Handle) bool {
	l.mut_state.Lock()
	if l.closed || l.opened {
		l.mut_state.Unlock()
		return false
	}
	l.opened = true
	l.mut_state.Unlock()

	if l.cb.OnOpen != nil {
		l.cb.OnOpen(h)
	}
	return true
}

func (l *lifecycle) message(h Handle, data []byte) {
	if l.cb.OnMessage != nil {
		l.cb.OnMessage(h, data)
	}
}

// close reports err, if any, and the close. Later calls do nothing.
func (l *lifecycle) close(h Handle, err error) {
	l.mut_state.Lock()
	if l.closed {
		l.mut_state.Unlock()
		return
	}
	l.closed = true
	l.mut_state.Unlock()

	if err != nil && l.cb.OnError != nil {
		l.cb.OnError(h, err)
	}
	if l.cb.OnClose != nil {
		l.cb.OnClose(h)
	}
}

func (l *lifecycle) isClosed() bool {
	l.mut_state.Lock()
	defer l.mut_state.Unlock()
	return l.closed
}
