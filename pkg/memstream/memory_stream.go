// Package memstream is the cursor based byte buffer every message body is
// read from and written to. All scalars are little-endian.
package memstream

import (
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
)

const (
	PacketMaxSize    = 1500
	PacketMaxSizeTCP = 1460
	PacketMaxSizeUDP = 1472

	// MaxBuffer is the initial capacity of an outgoing bundle stream.
	MaxBuffer = PacketMaxSizeTCP * 4

	// HardMaxSize caps growth of a single stream.
	HardMaxSize = 16 * 1024 * 1024
)

// MemoryStream owns one contiguous region with a read and a write cursor,
// rpos <= wpos <= len(buf).
type MemoryStream struct {
	buf  []byte
	rpos int
	wpos int

	// limit is the largest capacity the stream may grow to. A stream whose
	// limit equals its capacity never grows.
	limit int
}

// New creates a fixed capacity stream. Writes that do not fit fail with
// *errors.SpaceExhausted.
func New(capacity int) *MemoryStream {
	return &MemoryStream{
		buf:   make([]byte, capacity),
		limit: capacity,
	}
}

// NewGrowable creates a stream that doubles its capacity on write overflow,
// up to limit bytes.
func NewGrowable(capacity int, limit int) *MemoryStream {
	if limit < capacity {
		limit = capacity
	}
	return &MemoryStream{
		buf:   make([]byte, capacity),
		limit: limit,
	}
}

// Wrap creates a read view over a received packet. The packet is not copied.
func Wrap(packet []byte) *MemoryStream {
	return &MemoryStream{
		buf:   packet,
		wpos:  len(packet),
		limit: len(packet),
	}
}

func (s *MemoryStream) ReadPos() int {
	return s.rpos
}

func (s *MemoryStream) WritePos() int {
	return s.wpos
}

func (s *MemoryStream) Capacity() int {
	return len(s.buf)
}

// Space returns the writable bytes left before the stream must grow.
func (s *MemoryStream) Space() int {
	return len(s.buf) - s.wpos
}

// Length returns the unread bytes.
func (s *MemoryStream) Length() int {
	return s.wpos - s.rpos
}

func (s *MemoryStream) ReadEOF() bool {
	return s.rpos >= s.wpos
}

// Done marks every written byte as read.
func (s *MemoryStream) Done() {
	s.rpos = s.wpos
}

// Bytes returns the unread region. It aliases the stream.
func (s *MemoryStream) Bytes() []byte {
	return s.buf[s.rpos:s.wpos]
}

// RawBuffer returns the whole backing region including unused capacity.
func (s *MemoryStream) RawBuffer() []byte {
	return s.buf
}

// Clear zeroes both cursors and shrinks an oversized stream back to one
// packet worth of capacity.
func (s *MemoryStream) Clear() {
	s.rpos = 0
	s.wpos = 0
	if len(s.buf) > PacketMaxSize {
		s.buf = make([]byte, PacketMaxSize)
		if s.limit < PacketMaxSize {
			s.limit = PacketMaxSize
		}
	}
}

// Truncate moves the write cursor back to pos, discarding everything after it.
func (s *MemoryStream) Truncate(pos int) {
	if pos < s.rpos {
		pos = s.rpos
	}
	if pos < s.wpos {
		s.wpos = pos
	}
}

// Rewind moves the read cursor back to pos, e.g. to undo a partial decode.
func (s *MemoryStream) Rewind(pos int) {
	if pos >= 0 && pos <= s.rpos {
		s.rpos = pos
	}
}

func (s *MemoryStream) ReadSkip(count int) error {
	if err := s.checkRead("ReadSkip", count); err != nil {
		return err
	}
	s.rpos += count
	return nil
}

func (s *MemoryStream) checkRead(op string, width int) error {
	if width < 0 || s.rpos+width > s.wpos {
		return &errors.Underflow{
			MessageName: "MemoryStream::" + op,
			MsgSize:     s.wpos - s.rpos,
			MinimumSize: width,
		}
	}
	return nil
}

// reserve makes room for n more bytes at the write cursor, doubling the
// capacity as needed. Existing bytes are kept.
func (s *MemoryStream) reserve(op string, n int) error {
	needed := s.wpos + n
	if needed <= len(s.buf) {
		return nil
	}
	if needed > s.limit {
		return &errors.SpaceExhausted{
			Operation: "MemoryStream::" + op,
			Needed:    n,
			Available: s.limit - s.wpos,
		}
	}

	newCap := len(s.buf) * 2
	if newCap < needed {
		newCap = needed
	}
	if newCap > s.limit {
		newCap = s.limit
	}
	grown := make([]byte, newCap)
	copy(grown, s.buf[:s.wpos])
	s.buf = grown
	return nil
}

//
// Reads

func (s *MemoryStream) ReadInt8() (int8, error) {
	if err := s.checkRead("ReadInt8", flatbuffers.SizeInt8); err != nil {
		return 0, err
	}
	v := flatbuffers.GetInt8(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeInt8
	return v, nil
}

func (s *MemoryStream) ReadUint8() (uint8, error) {
	if err := s.checkRead("ReadUint8", flatbuffers.SizeUint8); err != nil {
		return 0, err
	}
	v := flatbuffers.GetUint8(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeUint8
	return v, nil
}

func (s *MemoryStream) ReadInt16() (int16, error) {
	if err := s.checkRead("ReadInt16", flatbuffers.SizeInt16); err != nil {
		return 0, err
	}
	v := flatbuffers.GetInt16(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeInt16
	return v, nil
}

func (s *MemoryStream) ReadUint16() (uint16, error) {
	if err := s.checkRead("ReadUint16", flatbuffers.SizeUint16); err != nil {
		return 0, err
	}
	v := flatbuffers.GetUint16(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeUint16
	return v, nil
}

func (s *MemoryStream) ReadInt32() (int32, error) {
	if err := s.checkRead("ReadInt32", flatbuffers.SizeInt32); err != nil {
		return 0, err
	}
	v := flatbuffers.GetInt32(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeInt32
	return v, nil
}

func (s *MemoryStream) ReadUint32() (uint32, error) {
	if err := s.checkRead("ReadUint32", flatbuffers.SizeUint32); err != nil {
		return 0, err
	}
	v := flatbuffers.GetUint32(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeUint32
	return v, nil
}

// ReadInt64Pair reads a signed 64-bit value as its two 32-bit halves.
func (s *MemoryStream) ReadInt64Pair() (Int64Pair, error) {
	if err := s.checkRead("ReadInt64", flatbuffers.SizeInt64); err != nil {
		return Int64Pair{}, err
	}
	low, _ := s.ReadUint32()
	high, _ := s.ReadUint32()
	return NewInt64Pair(low, high), nil
}

func (s *MemoryStream) ReadInt64() (int64, error) {
	pair, err := s.ReadInt64Pair()
	if err != nil {
		return 0, err
	}
	return pair.Int64(), nil
}

func (s *MemoryStream) ReadUint64Pair() (Uint64Pair, error) {
	if err := s.checkRead("ReadUint64", flatbuffers.SizeUint64); err != nil {
		return Uint64Pair{}, err
	}
	low, _ := s.ReadUint32()
	high, _ := s.ReadUint32()
	return Uint64Pair{Low: low, High: high}, nil
}

func (s *MemoryStream) ReadUint64() (uint64, error) {
	pair, err := s.ReadUint64Pair()
	if err != nil {
		return 0, err
	}
	return pair.Uint64(), nil
}

func (s *MemoryStream) ReadFloat() (float32, error) {
	if err := s.checkRead("ReadFloat", flatbuffers.SizeFloat32); err != nil {
		return 0, err
	}
	v := flatbuffers.GetFloat32(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeFloat32
	return v, nil
}

func (s *MemoryStream) ReadDouble() (float64, error) {
	if err := s.checkRead("ReadDouble", flatbuffers.SizeFloat64); err != nil {
		return 0, err
	}
	v := flatbuffers.GetFloat64(s.buf[s.rpos:])
	s.rpos += flatbuffers.SizeFloat64
	return v, nil
}

// ReadString reads bytes up to a zero terminator and consumes the terminator.
func (s *MemoryStream) ReadString() (string, error) {
	for i := s.rpos; i < s.wpos; i++ {
		if s.buf[i] == 0 {
			value := string(s.buf[s.rpos:i])
			s.rpos = i + 1
			return value, nil
		}
	}
	return "", &errors.Underflow{
		MessageName: "MemoryStream::ReadString",
		MsgSize:     s.wpos - s.rpos,
		MinimumSize: s.wpos - s.rpos + 1,
	}
}

// ReadBlob reads a uint32 length prefixed byte run. The result aliases the
// stream.
func (s *MemoryStream) ReadBlob() ([]byte, error) {
	start := s.rpos
	size, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := s.checkRead("ReadBlob", int(size)); err != nil {
		s.rpos = start
		return nil, err
	}
	blob := s.buf[s.rpos : s.rpos+int(size) : s.rpos+int(size)]
	s.rpos += int(size)
	return blob, nil
}

//
// Writes

func (s *MemoryStream) WriteInt8(v int8) error {
	if err := s.reserve("WriteInt8", flatbuffers.SizeInt8); err != nil {
		return err
	}
	flatbuffers.WriteInt8(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeInt8
	return nil
}

func (s *MemoryStream) WriteUint8(v uint8) error {
	if err := s.reserve("WriteUint8", flatbuffers.SizeUint8); err != nil {
		return err
	}
	flatbuffers.WriteUint8(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeUint8
	return nil
}

func (s *MemoryStream) WriteInt16(v int16) error {
	if err := s.reserve("WriteInt16", flatbuffers.SizeInt16); err != nil {
		return err
	}
	flatbuffers.WriteInt16(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeInt16
	return nil
}

func (s *MemoryStream) WriteUint16(v uint16) error {
	if err := s.reserve("WriteUint16", flatbuffers.SizeUint16); err != nil {
		return err
	}
	flatbuffers.WriteUint16(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeUint16
	return nil
}

func (s *MemoryStream) WriteInt32(v int32) error {
	if err := s.reserve("WriteInt32", flatbuffers.SizeInt32); err != nil {
		return err
	}
	flatbuffers.WriteInt32(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeInt32
	return nil
}

func (s *MemoryStream) WriteUint32(v uint32) error {
	if err := s.reserve("WriteUint32", flatbuffers.SizeUint32); err != nil {
		return err
	}
	flatbuffers.WriteUint32(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeUint32
	return nil
}

// WriteInt64 writes the low half then the high half of v's two's-complement
// representation.
func (s *MemoryStream) WriteInt64(v int64) error {
	if err := s.reserve("WriteInt64", flatbuffers.SizeInt64); err != nil {
		return err
	}
	low, high := SplitInt64(v)
	flatbuffers.WriteUint32(s.buf[s.wpos:], low)
	flatbuffers.WriteUint32(s.buf[s.wpos+flatbuffers.SizeUint32:], high)
	s.wpos += flatbuffers.SizeInt64
	return nil
}

func (s *MemoryStream) WriteUint64(v uint64) error {
	if err := s.reserve("WriteUint64", flatbuffers.SizeUint64); err != nil {
		return err
	}
	flatbuffers.WriteUint32(s.buf[s.wpos:], uint32(v))
	flatbuffers.WriteUint32(s.buf[s.wpos+flatbuffers.SizeUint32:], uint32(v>>32))
	s.wpos += flatbuffers.SizeUint64
	return nil
}

func (s *MemoryStream) WriteFloat(v float32) error {
	if err := s.reserve("WriteFloat", flatbuffers.SizeFloat32); err != nil {
		return err
	}
	flatbuffers.WriteFloat32(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeFloat32
	return nil
}

func (s *MemoryStream) WriteDouble(v float64) error {
	if err := s.reserve("WriteDouble", flatbuffers.SizeFloat64); err != nil {
		return err
	}
	flatbuffers.WriteFloat64(s.buf[s.wpos:], v)
	s.wpos += flatbuffers.SizeFloat64
	return nil
}

// WriteString writes the raw bytes of v followed by a zero terminator. Either
// the whole string lands or nothing does.
func (s *MemoryStream) WriteString(v string) error {
	if err := s.reserve("WriteString", len(v)+1); err != nil {
		return err
	}
	copy(s.buf[s.wpos:], v)
	s.buf[s.wpos+len(v)] = 0
	s.wpos += len(v) + 1
	return nil
}

// WriteBlob writes a uint32 length prefix followed by v.
func (s *MemoryStream) WriteBlob(v []byte) error {
	if err := s.reserve("WriteBlob", flatbuffers.SizeUint32+len(v)); err != nil {
		return err
	}
	flatbuffers.WriteUint32(s.buf[s.wpos:], uint32(len(v)))
	s.wpos += flatbuffers.SizeUint32
	copy(s.buf[s.wpos:], v)
	s.wpos += len(v)
	return nil
}

// WriteBytes appends raw bytes with no prefix.
func (s *MemoryStream) WriteBytes(v []byte) error {
	if err := s.reserve("WriteBytes", len(v)); err != nil {
		return err
	}
	copy(s.buf[s.wpos:], v)
	s.wpos += len(v)
	return nil
}

// Append copies size bytes starting at offset of other's backing region.
func (s *MemoryStream) Append(other *MemoryStream, offset int, size int) error {
	if offset < 0 || size < 0 || offset+size > len(other.buf) {
		return &errors.Underflow{
			MessageName: "MemoryStream::Append",
			MsgSize:     len(other.buf) - offset,
			MinimumSize: size,
		}
	}
	return s.WriteBytes(other.buf[offset : offset+size])
}

// PutUint16At overwrites two bytes at an absolute position below the write
// cursor. Used to patch reserved length prefixes.
func (s *MemoryStream) PutUint16At(pos int, v uint16) error {
	if pos < 0 || pos+flatbuffers.SizeUint16 > s.wpos {
		return &errors.Underflow{
			MessageName: "MemoryStream::PutUint16At",
			MsgSize:     s.wpos - pos,
			MinimumSize: flatbuffers.SizeUint16,
		}
	}
	flatbuffers.WriteUint16(s.buf[pos:], v)
	return nil
}

// InsertAt opens n zero bytes at pos, shifting everything after it.
func (s *MemoryStream) InsertAt(pos int, n int) error {
	if pos < 0 || pos > s.wpos {
		return &errors.Underflow{
			MessageName: "MemoryStream::InsertAt",
			MsgSize:     s.wpos,
			MinimumSize: pos,
		}
	}
	if err := s.reserve("InsertAt", n); err != nil {
		return err
	}
	copy(s.buf[pos+n:s.wpos+n], s.buf[pos:s.wpos])
	clear(s.buf[pos : pos+n])
	s.wpos += n
	return nil
}

// PutUint32At is PutUint16At for four bytes.
func (s *MemoryStream) PutUint32At(pos int, v uint32) error {
	if pos < 0 || pos+flatbuffers.SizeUint32 > s.wpos {
		return &errors.Underflow{
			MessageName: "MemoryStream::PutUint32At",
			MsgSize:     s.wpos - pos,
			MinimumSize: flatbuffers.SizeUint32,
		}
	}
	flatbuffers.WriteUint32(s.buf[pos:], v)
	return nil
}
