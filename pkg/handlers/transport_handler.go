package handlers

import (
	"context"
	"time"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/transport"
)

// TransportEventHandler turns transport callbacks into TransportEvents on a
// channel.
type TransportEventHandler struct {
	Name            string
	GetNowTimestamp func() int64

	Events chan<- TransportEvent

	// Done stops delivery once closed, so callbacks never block on a
	// client that stopped reading.
	Done <-chan struct{}
}

// Callbacks returns transport callbacks that post into h.Events.
func (h *TransportEventHandler) Callbacks() transport.Callbacks {
	return transport.Callbacks{
		OnOpen: func(handle transport.Handle) {
			h.post(TransportEvent{Kind: TransportOpened, HandleId: handle.ID()})
		},
		OnMessage: func(handle transport.Handle, data []byte) {
			h.post(TransportEvent{Kind: TransportMessage, HandleId: handle.ID(), Data: data})
		},
		OnError: func(handle transport.Handle, err error) {
			h.post(TransportEvent{Kind: TransportError, HandleId: handle.ID(), Err: err})
		},
		OnClose: func(handle transport.Handle) {
			h.post(TransportEvent{Kind: TransportClosed, HandleId: handle.ID()})
		},
	}
}

func (h *TransportEventHandler) post(ev TransportEvent) {
	if h.GetNowTimestamp != nil {
		ev.RecvTimestamp = h.GetNowTimestamp()
	} else {
		ev.RecvTimestamp = time.Now().UnixMicro()
	}

	select {
	case h.Events <- ev:
	case <-h.Done:
	}
}

// Drain returns every event already queued on events without blocking.
func Drain(ctx context.Context, events <-chan TransportEvent) []TransportEvent {
	drained := []TransportEvent{}
	for {
		select {
		case <-ctx.Done():
			return drained
		case ev := <-events:
			drained = append(drained, ev)
		default:
			return drained
		}
	}
}
