package message

import (
	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"go.uber.org/zap"
)

// Reader splits received packets into messages and runs their handlers.
type Reader struct {
	log      *zap.Logger
	registry *Registry
	stream   bool

	// Bytes of a message that started in a previous packet.
	carry []byte

	stopped bool
}

type ReaderParams struct {
	Registry *Registry
	Logger   *zap.Logger

	// Stream transports may cut a message at any byte. When set, an
	// incomplete trailing message is kept and completed by the next packet.
	// Otherwise it is a decode failure.
	Stream bool
}

func CreateReader(params ReaderParams) *Reader {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Reader{
		log:      logger.With(zap.String("component", "MessageReader")),
		registry: params.Registry,
		stream:   params.Stream,
	}
}

// Reset drops any partially received message, e.g. after reconnecting.
func (r *Reader) Reset() {
	r.carry = nil
}

// Stop discards everything not handled yet, including the rest of a packet
// whose handler called Stop. Later packets are ignored.
func (r *Reader) Stop() {
	r.stopped = true
	r.carry = nil
}

func (r *Reader) Stopped() bool {
	return r.stopped
}

// Pending is the number of carried over bytes waiting for the next packet.
func (r *Reader) Pending() int {
	return len(r.carry)
}

// Process handles every complete message in packet, in order. An unknown id
// or a handler reading past its body discards the rest of the packet and is
// returned. Other handler errors are logged and the next message is handled.
func (r *Reader) Process(packet []byte) (handled int, err error) {
	if r.stopped {
		return 0, nil
	}

	data := packet
	if len(r.carry) > 0 {
		data = append(r.carry, packet...)
		r.carry = nil
	}

	s := memstream.Wrap(data)
	for !s.ReadEOF() {
		if r.stopped {
			r.log.Debug("Reader stopped, dropping rest of packet", zap.Int("remaining", s.Length()))
			return handled, nil
		}
		start := s.ReadPos()

		desc, body, err := r.next(s)
		if err != nil {
			if errors.IsDecodeOverflow(err) && r.stream && len(data)-start < memstream.HardMaxSize {
				r.carry = append([]byte(nil), data[start:]...)
				return handled, nil
			}
			r.log.Error("Discarding rest of packet", zap.Int("offset", start), zap.Int("discarded", len(data)-start), zap.Error(err))
			return handled, err
		}

		if desc.Handler == nil {
			r.log.Warn("No handler bound for message, skipping", zap.String("name", desc.Name), zap.Uint16("id", desc.ID))
			continue
		}

		if err := desc.Handler(body); err != nil {
			if errors.IsDecodeOverflow(err) {
				r.log.Error("Message body underflowed, discarding rest of packet",
					zap.String("name", desc.Name), zap.Int("bodySize", body.WritePos()), zap.Error(err))
				return handled, err
			}
			r.log.Warn("Message handler failed", zap.String("name", desc.Name), zap.Error(err))
		}
		handled++
	}

	return handled, nil
}

// next reads one message header and returns a view over its body. On
// underflow the stream cursor position is unspecified.
func (r *Reader) next(s *memstream.MemoryStream) (*Descriptor, *memstream.MemoryStream, error) {
	id, err := s.ReadUint16()
	if err != nil {
		return nil, nil, err
	}

	desc, has := r.registry.ByID(id)
	if !has {
		return nil, nil, &errors.UnknownMessage{Id: id}
	}

	length := int(desc.Length)
	if desc.IsVariableLength() {
		short, err := s.ReadUint16()
		if err != nil {
			return nil, nil, err
		}
		length = int(short)
		if short == LongLengthSentinel {
			long, err := s.ReadUint32()
			if err != nil {
				return nil, nil, err
			}
			length = int(long)
		}
	}

	if s.Length() < length {
		return nil, nil, &errors.Underflow{
			MessageName: desc.Name,
			MsgSize:     s.Length(),
			MinimumSize: length,
		}
	}

	raw := s.RawBuffer()
	body := memstream.Wrap(raw[s.ReadPos() : s.ReadPos()+length : s.ReadPos()+length])
	s.ReadSkip(length)
	return desc, body, nil
}
