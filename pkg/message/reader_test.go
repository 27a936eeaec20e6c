package message

import (
	"bytes"
	"testing"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKickedID  = 510
	testStreamID  = 511
	testUnknownID = 999
)

type received struct {
	name string
	body []byte
}

func newReaderFixture(t *testing.T, stream bool) (*Reader, *[]received) {
	r := newTestRegistry()
	require.NoError(t, r.Register(Descriptor{ID: testKickedID, Name: ClientOnKicked, Length: 2, Args: []ArgType{ArgUint16}}))
	require.NoError(t, r.Register(Descriptor{ID: testStreamID, Name: ClientOnStreamDataRecv, Length: VariableLength}))

	got := &[]received{}
	record := func(name string) Handler {
		return func(body *memstream.MemoryStream) error {
			*got = append(*got, received{name: name, body: append([]byte(nil), body.Bytes()...)})
			body.Done()
			return nil
		}
	}
	r.BindHandler(ClientOnKicked, record(ClientOnKicked))
	r.BindHandler(ClientOnStreamDataRecv, record(ClientOnStreamDataRecv))

	return CreateReader(ReaderParams{Registry: r, Logger: zap.NewNop(), Stream: stream}), got
}

func writeFixed(t *testing.T, s *memstream.MemoryStream, id uint16, code uint16) {
	require.NoError(t, s.WriteUint16(id))
	require.NoError(t, s.WriteUint16(code))
}

func writeVariable(t *testing.T, s *memstream.MemoryStream, id uint16, body []byte) {
	require.NoError(t, s.WriteUint16(id))
	if len(body) > ShortLengthLimit {
		require.NoError(t, s.WriteUint16(LongLengthSentinel))
		require.NoError(t, s.WriteUint32(uint32(len(body))))
	} else {
		require.NoError(t, s.WriteUint16(uint16(len(body))))
	}
	require.NoError(t, s.WriteBytes(body))
}

func TestReaderHandlesMessagesInOrder(t *testing.T) {
	reader, got := newReaderFixture(t, false)

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	writeFixed(t, s, testKickedID, 7)
	writeVariable(t, s, testStreamID, []byte("abc"))
	writeVariable(t, s, testStreamID, bytes.Repeat([]byte{1}, 300))

	n, err := reader.Process(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, *got, 3)
	assert.Equal(t, ClientOnKicked, (*got)[0].name)
	assert.Equal(t, []byte{7, 0}, (*got)[0].body)
	assert.Equal(t, []byte("abc"), (*got)[1].body)
	assert.Len(t, (*got)[2].body, 300)
}

func TestReaderCarriesSplitMessageOnStreams(t *testing.T) {
	reader, got := newReaderFixture(t, true)

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	writeFixed(t, s, testKickedID, 1)
	writeVariable(t, s, testStreamID, []byte("hello world"))
	data := s.Bytes()

	n, err := reader.Process(data[:9])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, reader.Pending())

	n, err = reader.Process(data[9:])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, reader.Pending())
	require.Len(t, *got, 2)
	assert.Equal(t, []byte("hello world"), (*got)[1].body)
}

func TestReaderRejectsTruncatedDatagram(t *testing.T) {
	reader, got := newReaderFixture(t, false)

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	writeFixed(t, s, testKickedID, 1)
	writeVariable(t, s, testStreamID, []byte("hello world"))

	n, err := reader.Process(s.Bytes()[:9])
	require.Error(t, err)
	assert.True(t, errors.IsDecodeOverflow(err))
	assert.Equal(t, 1, n)
	assert.Len(t, *got, 1)
	assert.Equal(t, 0, reader.Pending())
}

func TestReaderUnknownIDDiscardsRest(t *testing.T) {
	reader, got := newReaderFixture(t, true)

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	writeFixed(t, s, testKickedID, 1)
	writeFixed(t, s, testUnknownID, 2)
	writeFixed(t, s, testKickedID, 3)

	n, err := reader.Process(s.Bytes())
	var unknown *errors.UnknownMessage
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, uint16(testUnknownID), unknown.Id)
	assert.Equal(t, 1, n)
	assert.Len(t, *got, 1)
	assert.Equal(t, 0, reader.Pending())
}

func TestReaderHandlerUnderflowDiscardsRest(t *testing.T) {
	reader, got := newReaderFixture(t, false)
	reader.registry.BindHandler(ClientOnStreamDataRecv, func(body *memstream.MemoryStream) error {
		_, err := body.ReadUint64()
		return err
	})

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	writeVariable(t, s, testStreamID, []byte{1, 2})
	writeFixed(t, s, testKickedID, 3)

	n, err := reader.Process(s.Bytes())
	require.Error(t, err)
	assert.True(t, errors.IsDecodeOverflow(err))
	assert.Equal(t, 0, n)
	assert.Empty(t, *got)
}

func TestReaderHandlerErrorContinues(t *testing.T) {
	reader, got := newReaderFixture(t, false)
	reader.registry.BindHandler(ClientOnStreamDataRecv, func(body *memstream.MemoryStream) error {
		return &errors.InvalidState{Operation: "test", State: "disconnected"}
	})

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	writeVariable(t, s, testStreamID, []byte{1})
	writeFixed(t, s, testKickedID, 3)

	n, err := reader.Process(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, *got, 1)
}

func TestReaderStopDropsRestOfPacket(t *testing.T) {
	reader, got := newReaderFixture(t, true)
	reader.registry.BindHandler(ClientOnKicked, func(body *memstream.MemoryStream) error {
		*got = append(*got, received{name: ClientOnKicked})
		body.Done()
		reader.Stop()
		return nil
	})

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	writeFixed(t, s, testKickedID, 1)
	writeVariable(t, s, testStreamID, []byte("after"))
	writeVariable(t, s, testStreamID, []byte("partial"))
	data := s.Bytes()

	n, err := reader.Process(data[:len(data)-3])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, *got, 1)
	assert.Equal(t, ClientOnKicked, (*got)[0].name)
	assert.True(t, reader.Stopped())
	assert.Equal(t, 0, reader.Pending())

	n, err = reader.Process(data[len(data)-3:])
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, *got, 1)
}
