package client

import (
	"context"
	goerrs "errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sessamekesh/kbengine-netcode-client/internal"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/events"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/message"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

//
// Fake transport

type fakeHandle struct {
	id      string
	address string
	cb      transport.Callbacks

	mut_sent sync.Mutex
	sent     [][]byte
	sendErr  error
	closed   atomic.Bool
}

func (h *fakeHandle) ID() string            { return h.id }
func (h *fakeHandle) RemoteAddress() string { return h.address }

func (h *fakeHandle) Send(packet []byte) error {
	if h.closed.Load() {
		return &transport.NotOpen{HandleId: h.id}
	}
	h.mut_sent.Lock()
	defer h.mut_sent.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, append([]byte(nil), packet...))
	return nil
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *fakeHandle) open()              { h.cb.OnOpen(h) }
func (h *fakeHandle) deliver(data []byte) { h.cb.OnMessage(h, data) }

func (h *fakeHandle) fail(err error) {
	h.cb.OnError(h, err)
	h.cb.OnClose(h)
}

func (h *fakeHandle) packets() [][]byte {
	h.mut_sent.Lock()
	defer h.mut_sent.Unlock()
	return append([][]byte(nil), h.sent...)
}

type fakeTransport struct {
	name    string
	openErr error
	handles []*fakeHandle
}

func (t *fakeTransport) Name() string       { return t.name }
func (t *fakeTransport) MaxPacketSize() int { return memstream.PacketMaxSizeTCP }
func (t *fakeTransport) IsStream() bool     { return true }

func (t *fakeTransport) Open(ctx context.Context, address string, cb transport.Callbacks) (transport.Handle, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	h := &fakeHandle{id: fmt.Sprintf("fake-%d", len(t.handles)), address: address, cb: cb}
	t.handles = append(t.handles, h)
	return h, nil
}

//
// Fake server

// serverTable is the message table the fake server exports.
var serverTable = []message.Descriptor{
	{ID: 1, Name: message.LoginappHello, Length: message.VariableLength},
	{ID: 2, Name: message.LoginappLogin, Length: message.VariableLength},
	{ID: 3, Name: message.LoginappImportServerErrorsDescr, Length: 0},
	{ID: 4, Name: message.LoginappOnClientActiveTick, Length: 0},
	{ID: 6, Name: message.LoginappReqCreateAccount, Length: message.VariableLength},
	{ID: 201, Name: message.BaseappHello, Length: message.VariableLength},
	{ID: 202, Name: message.BaseappLoginBaseapp, Length: message.VariableLength},
	{ID: 203, Name: message.BaseappOnClientActiveTick, Length: 0},
	{ID: 204, Name: message.BaseappLogoutBaseapp, Length: 12, Args: []message.ArgType{message.ArgUint64, message.ArgInt32}},
	{ID: 205, Name: message.BaseappReloginBaseapp, Length: message.VariableLength},
	{ID: 501, Name: message.ClientOnHelloCB, Length: message.VariableLength},
	{ID: 502, Name: message.ClientOnLoginSuccessfully, Length: message.VariableLength},
	{ID: 503, Name: message.ClientOnLoginFailed, Length: message.VariableLength},
	{ID: 504, Name: message.ClientOnCreatedProxies, Length: message.VariableLength},
	{ID: 505, Name: message.ClientOnImportServerErrorsDescr, Length: message.VariableLength},
	{ID: 506, Name: message.ClientOnVersionNotMatch, Length: message.VariableLength},
	{ID: 507, Name: message.ClientOnCreateAccountResult, Length: message.VariableLength},
	{ID: 508, Name: message.ClientOnScriptVersionNotMatch, Length: message.VariableLength},
	{ID: 510, Name: message.ClientOnKicked, Length: 2},
	{ID: 511, Name: message.ClientOnLoginBaseappFailed, Length: 2},
	{ID: 512, Name: message.ClientOnReloginBaseappSuccess, Length: 8},
	{ID: 513, Name: message.ClientOnReloginBaseappFailed, Length: 2},
}

// tableWithout is serverTable minus the named messages.
func tableWithout(names ...string) []message.Descriptor {
	out := []message.Descriptor{}
	for _, d := range serverTable {
		if !slices.Contains(names, d.Name) {
			out = append(out, d)
		}
	}
	return out
}

var serverIDs, serverLengths = func() (map[string]uint16, map[string]int16) {
	ids := map[string]uint16{message.ClientOnImportClientMessages: 518}
	lengths := map[string]int16{message.ClientOnImportClientMessages: message.VariableLength}
	for _, d := range serverTable {
		ids[d.Name] = d.ID
		lengths[d.Name] = d.Length
	}
	return ids, lengths
}()

// serverPacket frames one message the way the server does.
func serverPacket(t *testing.T, name string, write func(s *memstream.MemoryStream)) []byte {
	body := memstream.NewGrowable(64, memstream.HardMaxSize)
	if write != nil {
		write(body)
	}

	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	require.NoError(t, s.WriteUint16(serverIDs[name]))
	if serverLengths[name] == message.VariableLength {
		if body.Length() > message.ShortLengthLimit {
			require.NoError(t, s.WriteUint16(message.LongLengthSentinel))
			require.NoError(t, s.WriteUint32(uint32(body.Length())))
		} else {
			require.NoError(t, s.WriteUint16(uint16(body.Length())))
		}
	}
	require.NoError(t, s.WriteBytes(body.Bytes()))
	return append([]byte(nil), s.Bytes()...)
}

func importPacket(t *testing.T) []byte {
	return serverPacket(t, message.ClientOnImportClientMessages, func(s *memstream.MemoryStream) {
		require.NoError(t, message.WriteDescriptorTable(s, serverTable))
	})
}

func helloPacket(t *testing.T) []byte {
	return serverPacket(t, message.ClientOnHelloCB, func(s *memstream.MemoryStream) {
		require.NoError(t, s.WriteString("1.2.7"))
		require.NoError(t, s.WriteString("0.1.0"))
		require.NoError(t, s.WriteString("protocol-md5"))
		require.NoError(t, s.WriteString("entitydef-md5"))
		require.NoError(t, s.WriteInt32(5))
	})
}

type sentMessage struct {
	id   uint16
	body []byte
}

// decodeSent splits the client's packets using the server table.
func decodeSent(t *testing.T, h *fakeHandle) []sentMessage {
	lengths := map[uint16]int16{5: 0, 207: 0, 208: 0}
	for _, d := range serverTable {
		lengths[d.ID] = d.Length
	}

	var out []sentMessage
	for _, packet := range h.packets() {
		s := memstream.Wrap(packet)
		for !s.ReadEOF() {
			id, err := s.ReadUint16()
			require.NoError(t, err)
			length, has := lengths[id]
			require.True(t, has, "unexpected message id %d", id)

			size := int(length)
			if length == message.VariableLength {
				short, err := s.ReadUint16()
				require.NoError(t, err)
				size = int(short)
				if short == message.LongLengthSentinel {
					long, err := s.ReadUint32()
					require.NoError(t, err)
					size = int(long)
				}
			}
			body := append([]byte(nil), s.Bytes()[:size]...)
			require.NoError(t, s.ReadSkip(size))
			out = append(out, sentMessage{id: id, body: body})
		}
	}
	return out
}

func sentIDs(t *testing.T, h *fakeHandle) []uint16 {
	ids := []uint16{}
	for _, m := range decodeSent(t, h) {
		ids = append(ids, m.id)
	}
	return ids
}

//
// Fixture

type recorder struct {
	fired []events.Event
}

func record[E events.Event](d *events.Dispatcher, r *recorder) {
	events.Subscribe(d, func(ev E) {
		r.fired = append(r.fired, ev)
	})
}

func (r *recorder) kinds() []events.Kind {
	kinds := []events.Kind{}
	for _, ev := range r.fired {
		kinds = append(kinds, ev.Kind())
	}
	return kinds
}

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, ev := range r.fired {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func findEvent[E events.Event](t *testing.T, r *recorder) E {
	for _, ev := range r.fired {
		if typed, ok := ev.(E); ok {
			return typed
		}
	}
	var zero E
	t.Fatalf("no %s event fired", zero.Kind())
	return zero
}

func findLastEvent[E events.Event](t *testing.T, r *recorder) E {
	for i := len(r.fired) - 1; i >= 0; i-- {
		if typed, ok := r.fired[i].(E); ok {
			return typed
		}
	}
	var zero E
	t.Fatalf("no %s event fired", zero.Kind())
	return zero
}

type fixture struct {
	client    *Client
	transport *fakeTransport
	events    *recorder
	reg       *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore builds a client on store, which several fixtures may
// share. Nil gives the client a private store.
func newFixtureWithStore(t *testing.T, store *internal.NegotiationStore) *fixture {
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	d := events.CreateDispatcher(events.DispatcherParams{Logger: logger})

	r := &recorder{}
	record[events.ConnectionState](d, r)
	record[events.Disconnected](d, r)
	record[events.ImportRequested](d, r)
	record[events.VersionMismatch](d, r)
	record[events.ScriptVersionMismatch](d, r)
	record[events.CreateAccountResult](d, r)
	record[events.LoginSuccess](d, r)
	record[events.LoginFailed](d, r)
	record[events.LoginGameplay](d, r)
	record[events.LoginGameplayFailed](d, r)
	record[events.CreatedProxies](d, r)
	record[events.ReloginGameplay](d, r)
	record[events.ReloginGameplaySuccess](d, r)
	record[events.ReloginGameplayFailed](d, r)
	record[events.Kicked](d, r)
	record[events.EnterWorld](d, r)
	record[events.LeaveWorld](d, r)
	record[events.SetPosition](d, r)
	record[events.SetDirection](d, r)
	record[events.UpdatePosition](d, r)
	record[events.SetSpaceData](d, r)
	record[events.DelSpaceData](d, r)
	record[events.AddSpaceGeometryMapping](d, r)
	record[events.StreamDataStarted](d, r)
	record[events.StreamDataRecv](d, r)
	record[events.StreamDataCompleted](d, r)

	ft := &fakeTransport{name: "websocket"}
	c, err := CreateClient(ClientParams{
		Config:     DefaultClientConfig(),
		Transport:  ft,
		Dispatcher: d,
		Logger:     logger,
		Registerer: reg,
		Store:      store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return &fixture{client: c, transport: ft, events: r, reg: reg}
}

// loginToConnectedLogin runs the login tier handshake up to the login request.
func (f *fixture) loginToConnectedLogin(t *testing.T) *fakeHandle {
	require.NoError(t, f.client.Login(context.Background(), "alice", "secret", nil))
	require.Len(t, f.transport.handles, 1)
	h := f.transport.handles[0]

	h.open()
	f.client.Update()
	h.deliver(importPacket(t))
	f.client.Update()
	h.deliver(helloPacket(t))
	f.client.Update()
	require.Equal(t, StateConnectedLogin, f.client.State())
	return h
}

// loginToGameplayHello runs a login through the gameplay tier's hello. The
// last message sent on the gameplay handle is the login request.
func (f *fixture) loginToGameplayHello(t *testing.T) (*fakeHandle, *fakeHandle) {
	login := f.loginToConnectedLogin(t)
	login.deliver(serverPacket(t, message.ClientOnLoginSuccessfully, func(s *memstream.MemoryStream) {
		s.WriteString("alice")
		s.WriteString("10.0.0.2")
		s.WriteUint16(20015)
		s.WriteUint16(20005)
		s.WriteBlob(nil)
	}))
	f.client.Update()

	require.Len(t, f.transport.handles, 2)
	gameplay := f.transport.handles[1]
	gameplay.open()
	f.client.Update()
	gameplay.deliver(importPacket(t))
	f.client.Update()
	gameplay.deliver(helloPacket(t))
	f.client.Update()
	require.Equal(t, StateConnectedGameplay, f.client.State())
	return login, gameplay
}

//
// Tests

func TestCreateClientValidatesParams(t *testing.T) {
	d := events.CreateDispatcher(events.DispatcherParams{Logger: zaptest.NewLogger(t)})

	_, err := CreateClient(ClientParams{Config: DefaultClientConfig(), Dispatcher: d, Logger: zaptest.NewLogger(t)})
	var missing *errors.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Transport", missing.FieldName)

	config := DefaultClientConfig()
	config.Address = ""
	_, err = CreateClient(ClientParams{Config: config, Transport: &fakeTransport{}, Dispatcher: d, Logger: zaptest.NewLogger(t)})
	assert.Error(t, err)
}

func TestSecondClientOnDispatcherIsRejected(t *testing.T) {
	logger := zaptest.NewLogger(t)
	d := events.CreateDispatcher(events.DispatcherParams{Logger: logger})

	first, err := CreateClient(ClientParams{Config: DefaultClientConfig(), Transport: &fakeTransport{}, Dispatcher: d, Logger: logger})
	require.NoError(t, err)

	_, err = CreateClient(ClientParams{Config: DefaultClientConfig(), Transport: &fakeTransport{}, Dispatcher: d, Logger: logger})
	var owned *errors.AlreadyOwned
	require.ErrorAs(t, err, &owned)

	require.NoError(t, first.Close())
	second, err := CreateClient(ClientParams{Config: DefaultClientConfig(), Transport: &fakeTransport{}, Dispatcher: d, Logger: logger})
	require.NoError(t, err)
	second.Close()
}

func TestLoginOpensAndRequestsImport(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.Login(context.Background(), "alice", "secret", nil))
	assert.Equal(t, StateConnectingLogin, f.client.State())
	require.Len(t, f.transport.handles, 1)
	h := f.transport.handles[0]
	assert.Equal(t, "127.0.0.1:20013", h.RemoteAddress())
	assert.Empty(t, f.events.fired, "nothing fires before the transport opens")

	h.open()
	assert.Equal(t, 1, f.client.Update())

	assert.Equal(t, StateNegotiating, f.client.State())
	assert.Equal(t, []events.Kind{events.KindConnectionState, events.KindImportRequested}, f.events.kinds())
	state := findEvent[events.ConnectionState](t, f.events)
	assert.True(t, state.Success)
	assert.Equal(t, events.ServerLogin, state.Server)
	assert.Equal(t, events.ServerLogin, findEvent[events.ImportRequested](t, f.events).Server)

	assert.Equal(t, []uint16{5}, sentIDs(t, h))
}

func TestImportSendsErrorRequestAndHello(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Login(context.Background(), "alice", "secret", []byte{7}))
	h := f.transport.handles[0]
	h.open()
	f.client.Update()

	h.deliver(importPacket(t))
	f.client.Update()
	assert.Equal(t, StateNegotiating, f.client.State())

	sent := decodeSent(t, h)
	require.Len(t, sent, 3)
	assert.Equal(t, uint16(3), sent[1].id)
	assert.Equal(t, uint16(1), sent[2].id)

	hello := memstream.Wrap(sent[2].body)
	version, err := hello.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "1.2.7", version)
	script, err := hello.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", script)
	key, err := hello.ReadBlob()
	require.NoError(t, err)
	assert.Empty(t, key)

	h.deliver(helloPacket(t))
	f.client.Update()
	assert.Equal(t, StateConnectedLogin, f.client.State())

	sent = decodeSent(t, h)
	login := memstream.Wrap(sent[len(sent)-1].body)
	assert.Equal(t, uint16(2), sent[len(sent)-1].id)
	clientType, err := login.ReadInt8()
	require.NoError(t, err)
	assert.Equal(t, int8(5), clientType)
	datas, err := login.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, datas)
	username, _ := login.ReadString()
	password, _ := login.ReadString()
	assert.Equal(t, "alice", username)
	assert.Equal(t, "secret", password)
}

func TestSecondLoginSkipsImport(t *testing.T) {
	f := newFixture(t)
	f.loginToConnectedLogin(t)
	require.NoError(t, f.client.Logout())
	assert.Equal(t, StateDisconnected, f.client.State())

	f.events.fired = nil
	require.NoError(t, f.client.Login(context.Background(), "alice", "secret", nil))
	h := f.transport.handles[1]
	h.open()
	f.client.Update()

	assert.Equal(t, []events.Kind{events.KindConnectionState}, f.events.kinds())
	// No error table arrived the first time, so it is requested again.
	assert.Equal(t, []uint16{3, 1}, sentIDs(t, h))
}

func TestFullLoginHandsOffToGameplay(t *testing.T) {
	f := newFixture(t)
	login := f.loginToConnectedLogin(t)

	login.deliver(serverPacket(t, message.ClientOnLoginSuccessfully, func(s *memstream.MemoryStream) {
		s.WriteString("alice")
		s.WriteString("10.0.0.2")
		s.WriteUint16(20015)
		s.WriteUint16(20005)
		s.WriteBlob([]byte{9, 9})
	}))
	f.client.Update()

	assert.Equal(t, StateConnectingGameplay, f.client.State())
	success := findEvent[events.LoginSuccess](t, f.events)
	assert.Equal(t, "10.0.0.2", success.Host)
	assert.Equal(t, uint16(20015), success.TCPPort)
	assert.Equal(t, []byte{9, 9}, f.client.ServerDatas())
	assert.Equal(t, "10.0.0.2:20015", findEvent[events.LoginGameplay](t, f.events).Address)

	require.Len(t, f.transport.handles, 2)
	gameplay := f.transport.handles[1]
	assert.Equal(t, "10.0.0.2:20015", gameplay.RemoteAddress())
	assert.False(t, login.closed.Load(), "login stays open until gameplay connects")

	gameplay.open()
	f.client.Update()
	assert.Equal(t, StateConnectedGameplay, f.client.State())
	assert.Eventually(t, login.closed.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{207}, sentIDs(t, gameplay))

	gameplay.deliver(importPacket(t))
	f.client.Update()
	assert.Equal(t, []uint16{207, 201}, sentIDs(t, gameplay))

	gameplay.deliver(helloPacket(t))
	f.client.Update()
	assert.Equal(t, []uint16{207, 201, 202}, sentIDs(t, gameplay))

	gameplay.deliver(serverPacket(t, message.ClientOnCreatedProxies, func(s *memstream.MemoryStream) {
		s.WriteUint64(77)
		s.WriteInt32(42)
		s.WriteString("Account")
	}))
	f.client.Update()

	proxies := findEvent[events.CreatedProxies](t, f.events)
	assert.Equal(t, uint64(77), proxies.EntityUUID)
	assert.Equal(t, int32(42), proxies.EntityID)
	assert.Equal(t, int32(42), f.client.EntityID())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.client.metrics.loginAttempts.WithLabelValues("success")))
	assert.Equal(t, float64(StateConnectedGameplay), testutil.ToFloat64(f.client.metrics.connectionState))

	// A late close of the login handle is stale.
	login.fail(goerrs.New("reset by peer"))
	f.client.Update()
	assert.Equal(t, StateConnectedGameplay, f.client.State())
	assert.Zero(t, f.events.count(events.KindDisconnected))

	require.NoError(t, f.client.Logout())
	sent := decodeSent(t, gameplay)
	last := sent[len(sent)-1]
	assert.Equal(t, uint16(204), last.id)
	assert.Len(t, last.body, 12)
}

func TestLoginFailedCarriesServerErrorName(t *testing.T) {
	f := newFixture(t)
	h := f.loginToConnectedLogin(t)

	h.deliver(serverPacket(t, message.ClientOnImportServerErrorsDescr, func(s *memstream.MemoryStream) {
		s.WriteUint16(1)
		s.WriteUint16(3)
		s.WriteBlob([]byte("ACCOUNT_NOT_FOUND"))
		s.WriteBlob([]byte("no such account"))
	}))
	h.deliver(serverPacket(t, message.ClientOnLoginFailed, func(s *memstream.MemoryStream) {
		s.WriteUint16(3)
		s.WriteBlob(nil)
	}))
	f.client.Update()

	failed := findEvent[events.LoginFailed](t, f.events)
	assert.Equal(t, uint16(3), failed.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", failed.Name)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.client.metrics.loginAttempts.WithLabelValues("failed")))
}

func TestVersionMismatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Login(context.Background(), "alice", "secret", nil))
	h := f.transport.handles[0]
	h.open()
	h.deliver(importPacket(t))
	h.deliver(serverPacket(t, message.ClientOnVersionNotMatch, func(s *memstream.MemoryStream) {
		s.WriteString("2.0.0")
	}))
	f.client.Update()

	mismatch := findEvent[events.VersionMismatch](t, f.events)
	assert.Equal(t, "1.2.7", mismatch.ClientVersion)
	assert.Equal(t, "2.0.0", mismatch.ServerVersion)
	assert.Equal(t, StateNegotiating, f.client.State())
}

func TestKickedUsesFixedLengthMessage(t *testing.T) {
	f := newFixture(t)
	h := f.loginToConnectedLogin(t)

	h.deliver(serverPacket(t, message.ClientOnKicked, func(s *memstream.MemoryStream) {
		s.WriteUint16(12)
	}))
	f.client.Update()

	assert.Equal(t, uint16(12), findEvent[events.Kicked](t, f.events).Code)
}

func TestOpenFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.openErr = goerrs.New("no route to host")

	err := f.client.Login(context.Background(), "alice", "secret", nil)
	require.Error(t, err)

	assert.Equal(t, StateDisconnected, f.client.State())
	assert.Equal(t, []events.Kind{events.KindConnectionState}, f.events.kinds())
	state := findEvent[events.ConnectionState](t, f.events)
	assert.False(t, state.Success)
	assert.ErrorIs(t, state.Err, f.transport.openErr)
}

func TestConnectFailureBeforeOpen(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Login(context.Background(), "alice", "secret", nil))
	h := f.transport.handles[0]

	h.fail(goerrs.New("connection refused"))
	f.client.Update()

	assert.Equal(t, StateDisconnected, f.client.State())
	assert.Equal(t, []events.Kind{events.KindConnectionState}, f.events.kinds())
	assert.False(t, findEvent[events.ConnectionState](t, f.events).Success)
}

func TestConnectionLostAfterOpen(t *testing.T) {
	f := newFixture(t)
	h := f.loginToConnectedLogin(t)
	f.events.fired = nil

	h.fail(goerrs.New("reset by peer"))
	f.client.Update()

	assert.Equal(t, StateDisconnected, f.client.State())
	assert.Equal(t, 1, f.events.count(events.KindDisconnected))
	assert.Equal(t, 1, f.events.count(events.KindConnectionState))
	assert.False(t, findEvent[events.ConnectionState](t, f.events).Success)
}

func TestServerCloseWithoutError(t *testing.T) {
	f := newFixture(t)
	h := f.loginToConnectedLogin(t)
	f.events.fired = nil

	h.cb.OnClose(h)
	f.client.Update()

	lost := findEvent[events.Disconnected](t, f.events)
	var closed *errors.ConnectionClosed
	require.ErrorAs(t, lost.Err, &closed)
	assert.True(t, closed.Opened)
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	h := f.loginToConnectedLogin(t)
	before := len(sentIDs(t, h))

	f.client.tick(time.Now())
	assert.Len(t, sentIDs(t, h), before, "no heartbeat before the tick interval")

	f.client.tick(time.Now().Add(f.client.config.HeartbeatTick + time.Second))
	ids := sentIDs(t, h)
	require.Len(t, ids, before+1)
	assert.Equal(t, uint16(4), ids[len(ids)-1])

	assert.Greater(t, testutil.ToFloat64(f.client.metrics.packetsSent), float64(0))
}

func TestNotConnectedSendFails(t *testing.T) {
	f := newFixture(t)
	err := f.client.Send(message.LoginappHello, "1", "2", []byte{})
	var invalid *errors.InvalidState
	assert.ErrorAs(t, err, &invalid)
}

func TestReloginRequiresPreviousSession(t *testing.T) {
	f := newFixture(t)
	err := f.client.Relogin(context.Background())
	var invalid *errors.InvalidState
	assert.ErrorAs(t, err, &invalid)
}

func TestClosedClientRejectsLogin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Close())

	err := f.client.Login(context.Background(), "alice", "secret", nil)
	var invalid *errors.InvalidState
	assert.ErrorAs(t, err, &invalid)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.client.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

//
// World messages, fed straight to the handlers.

func body(write func(s *memstream.MemoryStream)) *memstream.MemoryStream {
	s := memstream.NewGrowable(64, memstream.HardMaxSize)
	write(s)
	return s
}

func TestEnterAndLeaveWorld(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.onEntityEnterWorld(body(func(s *memstream.MemoryStream) {
		s.WriteInt32(9)
		s.WriteUint8(3)
	})))
	enter := findEvent[events.EnterWorld](t, f.events)
	assert.Equal(t, int32(9), enter.EntityID)
	assert.Equal(t, uint16(3), enter.EntityType)
	assert.False(t, enter.IsOnGround)

	f.client.config.WideEntityTypeIDs = true
	f.events.fired = nil
	require.NoError(t, f.client.onEntityEnterWorld(body(func(s *memstream.MemoryStream) {
		s.WriteInt32(10)
		s.WriteUint16(300)
		s.WriteInt8(1)
	})))
	enter = findEvent[events.EnterWorld](t, f.events)
	assert.Equal(t, uint16(300), enter.EntityType)
	assert.True(t, enter.IsOnGround)

	require.NoError(t, f.client.onEntityLeaveWorld(body(func(s *memstream.MemoryStream) {
		s.WriteInt32(10)
	})))
	assert.Equal(t, int32(10), findEvent[events.LeaveWorld](t, f.events).EntityID)

	err := f.client.onEntityEnterWorld(body(func(s *memstream.MemoryStream) {
		s.WriteUint16(1)
	}))
	var underflow *errors.Underflow
	assert.ErrorAs(t, err, &underflow)
}

func TestSetEntityPosAndDir(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.onSetEntityPosAndDir(body(func(s *memstream.MemoryStream) {
		s.WriteInt32(4)
		for _, v := range []float32{1, 2, 3, 0.1, 0.2, 0.3} {
			s.WriteFloat(v)
		}
	})))

	assert.Equal(t, events.Vector3{X: 1, Y: 2, Z: 3}, findEvent[events.SetPosition](t, f.events).Position)
	assert.Equal(t, events.Vector3{X: 0.3, Y: 0.2, Z: 0.1}, findEvent[events.SetDirection](t, f.events).Direction)
}

func TestPackedUpdatesKeepHeight(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.onUpdateDataXYZ(body(func(s *memstream.MemoryStream) {
		s.WriteInt32(4)
		s.WritePackXZ(1.5, -2)
		s.WritePackY(3.5)
	})))
	require.NoError(t, f.client.onUpdateDataXZ(body(func(s *memstream.MemoryStream) {
		s.WriteInt32(4)
		s.WritePackXZ(2, 2)
	})))

	var updates []events.UpdatePosition
	for _, ev := range f.events.fired {
		if u, ok := ev.(events.UpdatePosition); ok {
			updates = append(updates, u)
		}
	}
	require.Len(t, updates, 2)
	assert.True(t, updates[0].HasY)
	assert.Equal(t, events.Vector3{X: 1.5, Y: 3.5, Z: -2}, updates[0].Position)
	assert.False(t, updates[1].HasY)
	assert.Equal(t, events.Vector3{X: 2, Y: 3.5, Z: 2}, updates[1].Position)
}

func TestPackedDirection(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.onUpdateDataYPR(body(func(s *memstream.MemoryStream) {
		s.WriteInt32(4)
		s.WriteInt8(64)
		s.WriteInt8(-64)
		s.WriteInt8(0)
	})))

	dir := findEvent[events.SetDirection](t, f.events).Direction
	assert.InDelta(t, 0, dir.X, 1e-6)
	assert.InDelta(t, -math.Pi/2, dir.Y, 1e-6)
	assert.InDelta(t, math.Pi/2, dir.Z, 1e-6)
}

func TestBasePosTargetsPlayer(t *testing.T) {
	f := newFixture(t)
	f.client.entityID = 42

	require.NoError(t, f.client.onUpdateBasePos(body(func(s *memstream.MemoryStream) {
		s.WriteFloat(1)
		s.WriteFloat(2)
		s.WriteFloat(3)
	})))
	update := findEvent[events.UpdatePosition](t, f.events)
	assert.Equal(t, int32(42), update.EntityID)
	assert.Equal(t, events.Vector3{X: 1, Y: 2, Z: 3}, update.Position)
}

func TestSpaceData(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.onInitSpaceData(body(func(s *memstream.MemoryStream) {
		s.WriteUint32(2)
		s.WriteString("_mapping")
		s.WriteString("spaces/xinshoucun")
		s.WriteString("weather")
		s.WriteString("rain")
	})))
	assert.Equal(t, 2, f.events.count(events.KindSetSpaceData))
	mapping := findEvent[events.AddSpaceGeometryMapping](t, f.events)
	assert.Equal(t, uint32(2), mapping.SpaceID)
	assert.Equal(t, "spaces/xinshoucun", mapping.ResPath)

	require.NoError(t, f.client.onDelSpaceData(body(func(s *memstream.MemoryStream) {
		s.WriteUint32(2)
		s.WriteString("weather")
	})))
	assert.Equal(t, "weather", findEvent[events.DelSpaceData](t, f.events).Key)
}

func TestStreamData(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.onStreamDataStarted(body(func(s *memstream.MemoryStream) {
		s.WriteInt16(1)
		s.WriteUint32(4)
		s.WriteString("texture")
	})))
	recv := body(func(s *memstream.MemoryStream) {
		s.WriteInt16(1)
		s.WriteBlob([]byte{1, 2, 3, 4})
	})
	require.NoError(t, f.client.onStreamDataRecv(recv))
	recv.RawBuffer()[6] = 0xff
	require.NoError(t, f.client.onStreamDataCompleted(body(func(s *memstream.MemoryStream) {
		s.WriteInt16(1)
	})))

	assert.Equal(t, "texture", findEvent[events.StreamDataStarted](t, f.events).Description)
	assert.Equal(t, []byte{1, 2, 3, 4}, findEvent[events.StreamDataRecv](t, f.events).Data, "chunk is copied out of the packet")
	assert.Equal(t, int16(1), findEvent[events.StreamDataCompleted](t, f.events).ID)
}
