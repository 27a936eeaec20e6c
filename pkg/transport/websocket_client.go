package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"go.uber.org/zap"
)

type WebsocketTransport struct {
	dialer *websocket.Dialer
	params WebsocketTransportParams

	log *zap.Logger
}

type WebsocketTransportParams struct {
	// Secure selects wss:// for addresses given without a scheme.
	Secure bool

	HandshakeTimeout   time.Duration
	MaxReadMessageSize int64
	Header             http.Header

	Logger *zap.Logger
}

func CreateWebsocketTransport(params WebsocketTransportParams) *WebsocketTransport {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.HandshakeTimeout == 0 {
		params.HandshakeTimeout = 10 * time.Second
	}

	return &WebsocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: params.HandshakeTimeout,
			ReadBufferSize:   memstream.MaxBuffer,
			WriteBufferSize:  memstream.MaxBuffer,
		},
		params: params,
		log:    logger.With(zap.String("handler", "WebSocket")),
	}
}

func (t *WebsocketTransport) Name() string {
	return "websocket"
}

func (t *WebsocketTransport) MaxPacketSize() int {
	return memstream.PacketMaxSizeTCP
}

func (t *WebsocketTransport) IsStream() bool {
	return true
}

// URL returns the dial URL for address, adding the scheme if missing.
func (t *WebsocketTransport) URL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	if t.params.Secure {
		return "wss://" + address
	}
	return "ws://" + address
}

type wsHandle struct {
	id  string
	url string
	log *zap.Logger

	life *lifecycle

	mut_conn sync.Mutex
	conn     *websocket.Conn
}

func (h *wsHandle) ID() string {
	return h.id
}

func (h *wsHandle) RemoteAddress() string {
	return h.url
}

func (h *wsHandle) Send(packet []byte) error {
	h.mut_conn.Lock()
	defer h.mut_conn.Unlock()

	if h.conn == nil || h.life.isClosed() {
		return &NotOpen{HandleId: h.id}
	}
	return h.conn.WriteMessage(websocket.BinaryMessage, packet)
}

func (h *wsHandle) Close() error {
	h.mut_conn.Lock()
	conn := h.conn
	h.mut_conn.Unlock()

	if conn == nil {
		// Still dialing, the dial goroutine sees the close.
		h.life.close(h, nil)
		return nil
	}

	// Mark closed first so the read pump treats its error as expected.
	h.life.close(h, nil)

	h.mut_conn.Lock()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	h.mut_conn.Unlock()

	return conn.Close()
}

func (t *WebsocketTransport) Open(ctx context.Context, address string, cb Callbacks) (Handle, error) {
	h := &wsHandle{
		id:   uuid.NewString(),
		url:  t.URL(address),
		life: &lifecycle{cb: cb},
	}
	h.log = t.log.With(zap.String("handleId", h.id), zap.String("url", h.url))

	gopool.Go(func() {
		h.log.Info("Dialing WebSocket")
		conn, _, err := t.dialer.DialContext(ctx, h.url, t.params.Header)
		if err != nil {
			h.log.Warn("WebSocket dial failed", zap.Error(err))
			h.life.close(h, err)
			return
		}
		if t.params.MaxReadMessageSize > 0 {
			conn.SetReadLimit(t.params.MaxReadMessageSize)
		}

		h.mut_conn.Lock()
		h.conn = conn
		h.mut_conn.Unlock()

		if !h.life.open(h) {
			h.log.Info("Handle closed while dialing, dropping connection")
			conn.Close()
			return
		}

		h.readPump(conn)
	})

	return h, nil
}

func (h *wsHandle) readPump(conn *websocket.Conn) {
	expectedCloseErrors := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if h.life.isClosed() {
				return
			}
			if websocket.IsCloseError(err, expectedCloseErrors...) {
				h.log.Info("Server closed WebSocket", zap.Error(err))
				h.life.close(h, nil)
				return
			}
			h.log.Warn("WebSocket read failed", zap.Error(err))
			h.life.close(h, err)
			conn.Close()
			return
		}

		if msgType != websocket.BinaryMessage {
			h.log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		h.life.message(h, payload)
	}
}
