// Package client drives the connection to a KBEngine cluster: it opens the
// login tier, negotiates the message table and versions, logs in, and hands
// the session over to the gameplay tier.
//
// A Client is single threaded. Transport callbacks are queued and handled by
// Run or Update, and every other method must be called from that same
// goroutine: before Run starts, from event subscribers, or between Update
// calls.
package client

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sessamekesh/kbengine-netcode-client/internal"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/bundle"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/events"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/handlers"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/message"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/sessamekesh/kbengine-netcode-client/pkg/client"

// connection is one transport handle and the reader for its packets.
type connection struct {
	handle    transport.Handle
	transport transport.Transport
	reader    *message.Reader
	server    events.Server
	opened    bool
}

type Client struct {
	id     string
	config ClientConfig
	log    *zap.Logger

	loginTransport    transport.Transport
	gameplayTransport transport.Transport

	dispatcher *events.Dispatcher
	store      *internal.NegotiationStore
	registry   *message.Registry
	metrics    *clientMetrics
	tracer     trace.Tracer

	inbox        chan handlers.TransportEvent
	done         chan struct{}
	closeOnce    sync.Once
	eventHandler *handlers.TransportEventHandler
	ctx          context.Context

	mut_state sync.RWMutex
	state     State

	active  *connection
	pending *connection

	// Login attempt.
	username    string
	password    string
	clientDatas []byte
	relogin     bool
	loginSpan   trace.Span

	// creatingAccount sends Loginapp_reqCreateAccount instead of
	// Loginapp_login once hello is acknowledged.
	creatingAccount bool

	// Learned from the servers.
	serverDatas  []byte
	gameplayHost string
	gameplayTCP  uint16
	gameplayUDP  uint16
	entityUUID   uint64
	entityID     int32

	// Last known position per entity, for updates that omit the height.
	positions map[int32]events.Vector3

	lastTick time.Time
}

type ClientParams struct {
	Config ClientConfig

	// Transport reaches the login tier. GameplayTransport reaches the
	// gameplay tier and defaults to Transport.
	Transport         transport.Transport
	GameplayTransport transport.Transport

	Dispatcher *events.Dispatcher

	// Store is shared by clients of one process. Defaults to a private store.
	Store *internal.NegotiationStore

	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Tracer     trace.Tracer

	// InboxSize bounds queued transport callbacks. Defaults to 256.
	InboxSize int
}

// CreateClient builds a client bound to params.Dispatcher. A dispatcher
// serves one client; binding a second fails with *errors.AlreadyOwned.
func CreateClient(params ClientParams) (*Client, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if params.Transport == nil {
		return nil, &errors.MissingFieldError{MessageName: "ClientParams", FieldName: "Transport"}
	}
	if params.Dispatcher == nil {
		return nil, &errors.MissingFieldError{MessageName: "ClientParams", FieldName: "Dispatcher"}
	}

	id := uuid.NewString()
	if err := params.Dispatcher.Claim(id); err != nil {
		return nil, err
	}

	gameplayTransport := params.GameplayTransport
	if gameplayTransport == nil {
		gameplayTransport = params.Transport
	}
	store := params.Store
	if store == nil {
		store = internal.CreateNegotiationStore()
	}
	registerer := params.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	inboxSize := params.InboxSize
	if inboxSize <= 0 {
		inboxSize = 256
	}

	log := logger.With(zap.String("component", "Client"), zap.String("clientId", id))

	c := &Client{
		id:                id,
		config:            params.Config,
		log:               log,
		loginTransport:    params.Transport,
		gameplayTransport: gameplayTransport,
		dispatcher:        params.Dispatcher,
		store:             store,
		registry:          message.CreateRegistry(message.RegistryParams{Logger: logger}),
		metrics:           newClientMetrics(registerer),
		tracer:            tracer,
		inbox:             make(chan handlers.TransportEvent, inboxSize),
		done:              make(chan struct{}),
		ctx:               context.Background(),
		state:             StateDisconnected,
		positions:         make(map[int32]events.Vector3),
	}
	c.eventHandler = &handlers.TransportEventHandler{
		Name:   "client-" + id,
		Events: c.inbox,
		Done:   c.done,
	}
	c.bindHandlers()

	return c, nil
}

func (c *Client) ID() string {
	return c.id
}

// State may be called from any goroutine.
func (c *Client) State() State {
	c.mut_state.RLock()
	defer c.mut_state.RUnlock()
	return c.state
}

func (c *Client) Dispatcher() *events.Dispatcher {
	return c.dispatcher
}

func (c *Client) Registry() *message.Registry {
	return c.registry
}

// EntityID is the id of the account's proxy entity once created.
func (c *Client) EntityID() int32 {
	return c.entityID
}

// ServerDatas is the opaque payload the login tier returned on success.
func (c *Client) ServerDatas() []byte {
	return c.serverDatas
}

func (c *Client) setState(next State) {
	c.mut_state.Lock()
	prev := c.state
	c.state = next
	c.mut_state.Unlock()

	if prev == next {
		return
	}
	c.metrics.connectionState.Set(float64(next))
	c.log.Debug("State transition", zap.Stringer("from", prev), zap.Stringer("to", next))
	if c.loginSpan != nil {
		c.loginSpan.AddEvent(next.String())
	}
}

// Login starts the login sequence. Any existing connection is dropped first.
func (c *Client) Login(ctx context.Context, username string, password string, datas []byte) error {
	return c.connectLogin(ctx, "Login", username, password, datas, false)
}

// CreateAccount registers a new account on the login tier. The connection
// and handshake are those of Login, and the outcome arrives as a
// CreateAccountResult event. The connection stays on the login tier.
func (c *Client) CreateAccount(ctx context.Context, username string, password string, datas []byte) error {
	return c.connectLogin(ctx, "CreateAccount", username, password, datas, true)
}

func (c *Client) connectLogin(ctx context.Context, operation string, username string, password string, datas []byte, createAccount bool) error {
	if c.isClosed() {
		return &errors.InvalidState{Operation: operation, State: "closed"}
	}

	c.reset()
	c.username = username
	c.password = password
	c.clientDatas = datas
	c.relogin = false
	c.creatingAccount = createAccount
	c.ctx = ctx
	if createAccount {
		c.startLoginSpan(ctx, "create_account")
	} else {
		c.startLoginSpan(ctx, "login")
	}

	c.setState(StateConnectingLogin)
	conn, err := c.open(ctx, c.loginTransport, c.config.LoginAddress(), events.ServerLogin)
	if err != nil {
		c.fail(events.ServerLogin, c.config.LoginAddress(), err)
		return err
	}
	c.active = conn
	return nil
}

// Relogin reconnects to the gameplay tier after the connection was lost,
// reusing the proxy entity created by the previous login.
func (c *Client) Relogin(ctx context.Context) error {
	if c.State() != StateDisconnected || c.gameplayHost == "" || c.entityUUID == 0 {
		return &errors.InvalidState{Operation: "Relogin", State: c.State().String()}
	}

	c.reset()
	c.relogin = true
	c.creatingAccount = false
	c.ctx = ctx
	c.startLoginSpan(ctx, "relogin")

	address := c.gameplayAddress()
	c.dispatcher.Fire(events.ReloginGameplay{Address: address})

	c.setState(StateConnectingGameplay)
	conn, err := c.open(ctx, c.gameplayTransport, address, events.ServerGameplay)
	if err != nil {
		c.fail(events.ServerGameplay, address, err)
		return err
	}
	c.pending = conn
	return nil
}

// Logout tells the gameplay tier the session ends and disconnects.
func (c *Client) Logout() error {
	if c.State() == StateConnectedGameplay {
		if err := c.send(message.BaseappLogoutBaseapp, c.entityUUID, c.entityID); err != nil {
			c.log.Warn("Failed to send logout", zap.Error(err))
		}
	}
	c.reset()
	c.endLoginSpan(nil)
	return nil
}

// Close drops every connection, stops Run and releases the dispatcher.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.reset()
		c.endLoginSpan(&errors.InvalidState{Operation: "Close", State: "closed"})
		close(c.done)
		c.dispatcher.Release(c.id)
	})
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// reset drops all handles without firing events.
func (c *Client) reset() {
	for _, conn := range []*connection{c.active, c.pending} {
		if conn != nil {
			c.release(conn)
		}
	}
	c.active = nil
	c.pending = nil
	clear(c.positions)
	c.setState(StateDisconnected)
}

// release closes a handle off the loop goroutine. Its callbacks arrive as
// stale events and are ignored.
func (c *Client) release(conn *connection) {
	// A handler may drop the connection while its packet is being read.
	conn.reader.Stop()

	handle := conn.handle
	gopool.Go(func() {
		if err := handle.Close(); err != nil {
			c.log.Debug("Error closing handle", zap.String("handleId", handle.ID()), zap.Error(err))
		}
	})
}

func (c *Client) open(ctx context.Context, t transport.Transport, address string, server events.Server) (*connection, error) {
	c.log.Info("Opening connection", zap.String("transport", t.Name()), zap.String("address", address), zap.String("server", string(server)))

	handle, err := t.Open(ctx, address, c.eventHandler.Callbacks())
	if err != nil {
		return nil, err
	}

	return &connection{
		handle:    handle,
		transport: t,
		server:    server,
		reader: message.CreateReader(message.ReaderParams{
			Registry: c.registry,
			Logger:   c.log,
			Stream:   t.IsStream(),
		}),
	}, nil
}

func (c *Client) gameplayAddress() string {
	port := c.gameplayTCP
	if c.gameplayTransport.Name() == "udp" {
		port = c.gameplayUDP
	}
	return net.JoinHostPort(c.gameplayHost, strconv.Itoa(int(port)))
}

//
// Event loop

// Run handles transport callbacks and heartbeats until ctx is done or the
// client is closed.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.done:
			return nil
		case ev := <-c.inbox:
			c.handleTransportEvent(ev)
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// Update handles every queued transport callback without blocking and sends
// a heartbeat if one is due. It returns the number of callbacks handled.
func (c *Client) Update() int {
	evs := handlers.Drain(context.Background(), c.inbox)
	for _, ev := range evs {
		c.handleTransportEvent(ev)
	}
	c.tick(time.Now())
	return len(evs)
}

func (c *Client) connectionFor(handleId string) *connection {
	if c.active != nil && c.active.handle.ID() == handleId {
		return c.active
	}
	if c.pending != nil && c.pending.handle.ID() == handleId {
		return c.pending
	}
	return nil
}

func (c *Client) handleTransportEvent(ev handlers.TransportEvent) {
	conn := c.connectionFor(ev.HandleId)
	if conn == nil {
		c.log.Debug("Ignoring event for stale handle", zap.String("handleId", ev.HandleId), zap.Stringer("kind", ev.Kind))
		return
	}

	switch ev.Kind {
	case handlers.TransportOpened:
		c.onOpen(conn)
	case handlers.TransportMessage:
		c.onPacket(conn, ev.Data)
	case handlers.TransportError:
		c.onTransportFailure(conn, ev.Err)
	case handlers.TransportClosed:
		c.onTransportFailure(conn, nil)
	}
}

func (c *Client) onOpen(conn *connection) {
	conn.opened = true
	c.lastTick = time.Now()

	switch {
	case conn == c.active && c.State() == StateConnectingLogin:
		c.log.Info("Connected to login tier", zap.String("address", conn.handle.RemoteAddress()))
		c.setState(StateNegotiating)
		c.dispatcher.Fire(events.ConnectionState{Server: events.ServerLogin, Address: conn.handle.RemoteAddress(), Success: true})
		c.beginNegotiation(conn)

	case conn == c.pending && c.State() == StateConnectingGameplay:
		c.log.Info("Connected to gameplay tier", zap.String("address", conn.handle.RemoteAddress()))
		if c.active != nil {
			// The gameplay connection is live, the login one can go.
			c.release(c.active)
		}
		c.active = conn
		c.pending = nil
		c.setState(StateConnectedGameplay)
		c.dispatcher.Fire(events.ConnectionState{Server: events.ServerGameplay, Address: conn.handle.RemoteAddress(), Success: true})
		c.beginNegotiation(conn)

	default:
		c.log.Warn("Unexpected open, closing handle", zap.String("handleId", conn.handle.ID()), zap.Stringer("state", c.State()))
		c.release(conn)
	}
}

func (c *Client) onPacket(conn *connection, data []byte) {
	handled, err := conn.reader.Process(data)
	c.metrics.messagesReceived.Add(float64(handled))
	if err != nil {
		c.metrics.decodeFailures.Inc()
		c.log.Warn("Packet decode failure", zap.String("server", string(conn.server)), zap.Int("size", len(data)), zap.Error(err))
	}
}

func (c *Client) onTransportFailure(conn *connection, err error) {
	if c.State() == StateDisconnected {
		return
	}

	// The login tier may hang up once it has handed us to the gameplay tier.
	if conn == c.active && conn.server == events.ServerLogin && c.State() == StateConnectingGameplay {
		c.log.Info("Login connection closed during gameplay handoff", zap.Error(err))
		c.active = nil
		return
	}

	if err == nil {
		err = &errors.ConnectionClosed{Address: conn.handle.RemoteAddress(), Opened: conn.opened}
	}

	c.log.Warn("Connection lost", zap.String("server", string(conn.server)), zap.Stringer("state", c.State()), zap.Error(err))
	wasOpen := conn.opened
	c.fail(conn.server, conn.handle.RemoteAddress(), err)
	if wasOpen {
		c.dispatcher.Fire(events.Disconnected{Server: conn.server, Err: err})
	}
}

// fail drops to disconnected and reports the failure.
func (c *Client) fail(server events.Server, address string, err error) {
	c.reset()
	c.dispatcher.Fire(events.ConnectionState{Server: server, Address: address, Success: false, Err: err})
	c.endLoginSpan(err)
}

func (c *Client) tick(now time.Time) {
	var name string
	switch c.State() {
	case StateConnectedLogin:
		name = message.LoginappOnClientActiveTick
	case StateConnectedGameplay:
		name = message.BaseappOnClientActiveTick
	default:
		return
	}

	if now.Sub(c.lastTick) < c.config.HeartbeatTick {
		return
	}
	if _, has := c.registry.ByName(name); !has {
		return
	}

	c.lastTick = now
	if err := c.send(name); err != nil {
		c.log.Warn("Failed to send heartbeat", zap.Error(err))
	}
}

//
// Sending

type countingSender struct {
	handle  transport.Handle
	metrics *clientMetrics
}

func (s *countingSender) Send(packet []byte) error {
	if err := s.handle.Send(packet); err != nil {
		return err
	}
	s.metrics.packetsSent.Inc()
	s.metrics.bytesSent.Add(float64(len(packet)))
	return nil
}

// send writes one message to the active connection. A transport failure
// disconnects the client.
func (c *Client) send(name string, values ...any) error {
	if c.active == nil || !c.active.opened {
		return &errors.InvalidState{Operation: "send " + name, State: c.State().String()}
	}

	desc, err := c.registry.MustByName(name)
	if err != nil {
		return err
	}

	b := bundle.CreateBundle(bundle.BundleParams{MaxPacketSize: c.active.transport.MaxPacketSize(), Logger: c.log})
	if err := b.WriteMessage(desc, values...); err != nil {
		return err
	}

	conn := c.active
	if err := b.Send(&countingSender{handle: conn.handle, metrics: c.metrics}); err != nil {
		c.onTransportFailure(conn, err)
		return err
	}
	return nil
}

// Send writes an application message to the current server by name.
func (c *Client) Send(name string, values ...any) error {
	return c.send(name, values...)
}
