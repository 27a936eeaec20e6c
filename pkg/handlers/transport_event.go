package handlers

// TransportEventKind says which transport callback produced an event.
type TransportEventKind uint8

const (
	TransportOpened TransportEventKind = iota
	TransportMessage
	TransportError
	TransportClosed
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportOpened:
		return "opened"
	case TransportMessage:
		return "message"
	case TransportError:
		return "error"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// TransportEvent is one transport callback, captured so it can be handled on
// the client's own goroutine.
type TransportEvent struct {
	Kind     TransportEventKind
	HandleId string
	Data     []byte
	Err      error

	// Telemetry
	RecvTimestamp int64
}
