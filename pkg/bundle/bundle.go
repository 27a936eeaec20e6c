// Package bundle packs outgoing messages into transport sized packets.
//
// Each message is written as id:uint16, an optional length prefix and the
// encoded arguments. Variable length messages get a uint16 prefix for bodies
// up to 254 bytes, or 0xFFFF followed by a uint32 length for anything larger.
// A message is never split across packets.
package bundle

import (
	"fmt"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/message"
	"go.uber.org/zap"
)

// Sender transmits one packet. Transport handles satisfy it.
type Sender interface {
	Send(packet []byte) error
}

type Bundle struct {
	log           *zap.Logger
	maxPacketSize int

	sealed []*memstream.MemoryStream
	active *memstream.MemoryStream

	// Messages in the active stream, counting the open one.
	messageCount int

	// Open message state. current is nil between messages.
	current      *message.Descriptor
	messageStart int
	prefixPos    int
}

type BundleParams struct {
	// MaxPacketSize defaults to memstream.PacketMaxSizeTCP.
	MaxPacketSize int
	Logger        *zap.Logger
}

func CreateBundle(params BundleParams) *Bundle {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	maxPacketSize := params.MaxPacketSize
	if maxPacketSize <= 0 {
		maxPacketSize = memstream.PacketMaxSizeTCP
	}

	return &Bundle{
		log:           logger.With(zap.String("component", "Bundle")),
		maxPacketSize: maxPacketSize,
		active:        newPacketStream(maxPacketSize),
	}
}

func newPacketStream(maxPacketSize int) *memstream.MemoryStream {
	return memstream.NewGrowable(maxPacketSize, memstream.HardMaxSize)
}

// NewMessage finishes the open message, if any, and starts desc. Arguments
// are then written to Stream().
func (b *Bundle) NewMessage(desc *message.Descriptor) error {
	if err := b.FinishMessage(); err != nil {
		return err
	}

	start := b.active.WritePos()
	if err := b.active.WriteUint16(desc.ID); err != nil {
		return err
	}

	b.prefixPos = -1
	if desc.IsVariableLength() {
		b.prefixPos = b.active.WritePos()
		if err := b.active.WriteUint16(0); err != nil {
			b.active.Truncate(start)
			return err
		}
	}

	b.current = desc
	b.messageStart = start
	b.messageCount++
	return nil
}

// Stream is where the open message's body is written.
func (b *Bundle) Stream() *memstream.MemoryStream {
	return b.active
}

// WriteMessage writes a complete message. On failure the partial message is
// removed and the bundle keeps every message written before it.
func (b *Bundle) WriteMessage(desc *message.Descriptor, values ...any) error {
	if err := b.NewMessage(desc); err != nil {
		return err
	}
	if err := message.EncodeArgs(b.active, desc, values...); err != nil {
		b.DiscardMessage()
		return fmt.Errorf("encoding %s: %w", desc.Name, err)
	}
	return b.FinishMessage()
}

// DiscardMessage drops the open message.
func (b *Bundle) DiscardMessage() {
	if b.current == nil {
		return
	}
	b.active.Truncate(b.messageStart)
	b.current = nil
	b.messageCount--
}

// FinishMessage patches the open message's length prefix and seals the
// active packet if the message pushed it past the packet size.
func (b *Bundle) FinishMessage() error {
	if b.current == nil {
		return nil
	}
	desc := b.current

	if desc.IsVariableLength() {
		if err := b.patchLength(); err != nil {
			b.log.Error("Failed to patch message length, dropping message", zap.String("name", desc.Name), zap.Error(err))
			b.DiscardMessage()
			return err
		}
	} else {
		written := b.active.WritePos() - b.messageStart - message.IDLength
		if written != int(desc.Length) {
			b.DiscardMessage()
			return &errors.FixedLengthMismatch{
				MessageName: desc.Name,
				Declared:    int(desc.Length),
				Written:     written,
			}
		}
	}
	b.current = nil

	if b.active.WritePos() <= b.maxPacketSize {
		return nil
	}

	if b.messageCount == 1 {
		b.log.Debug("Single message exceeds packet size, sending oversized packet",
			zap.String("name", desc.Name), zap.Int("size", b.active.WritePos()), zap.Int("maxPacketSize", b.maxPacketSize))
		return nil
	}

	// Move the message that overflowed into a fresh packet.
	next := newPacketStream(b.maxPacketSize)
	size := b.active.WritePos() - b.messageStart
	if err := next.Append(b.active, b.messageStart, size); err != nil {
		return err
	}
	b.active.Truncate(b.messageStart)
	b.sealed = append(b.sealed, b.active)
	b.active = next
	b.messageCount = 1
	return nil
}

func (b *Bundle) patchLength() error {
	bodyStart := b.prefixPos + message.LengthLength
	bodyLen := b.active.WritePos() - bodyStart

	if bodyLen <= message.ShortLengthLimit {
		return b.active.PutUint16At(b.prefixPos, uint16(bodyLen))
	}

	if err := b.active.InsertAt(bodyStart, message.Length1Length); err != nil {
		return err
	}
	if err := b.active.PutUint16At(b.prefixPos, message.LongLengthSentinel); err != nil {
		return err
	}
	return b.active.PutUint32At(bodyStart, uint32(bodyLen))
}

// Packets finishes the open message and returns every packet in send order.
// The slices alias the bundle and are valid until Clear.
func (b *Bundle) Packets() ([][]byte, error) {
	if err := b.FinishMessage(); err != nil {
		return nil, err
	}

	packets := make([][]byte, 0, len(b.sealed)+1)
	for _, s := range b.sealed {
		packets = append(packets, s.Bytes())
	}
	if b.active.WritePos() > 0 {
		packets = append(packets, b.active.Bytes())
	}
	return packets, nil
}

// Send hands every packet to sender in order and then clears the bundle,
// whether or not sending succeeded. A failed send is returned and not retried.
func (b *Bundle) Send(sender Sender) error {
	defer b.Clear()

	packets, err := b.Packets()
	if err != nil {
		return err
	}

	for i, packet := range packets {
		if err := sender.Send(packet); err != nil {
			return fmt.Errorf("sending packet %d of %d: %w", i+1, len(packets), err)
		}
	}
	return nil
}

// Clear releases all packets.
func (b *Bundle) Clear() {
	b.sealed = nil
	b.active = newPacketStream(b.maxPacketSize)
	b.messageCount = 0
	b.current = nil
}

// PacketCount is the number of packets Packets would return.
func (b *Bundle) PacketCount() int {
	n := len(b.sealed)
	if b.active.WritePos() > 0 {
		n++
	}
	return n
}

func (b *Bundle) MaxPacketSize() int {
	return b.maxPacketSize
}
