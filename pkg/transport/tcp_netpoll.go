package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/cloudwego/netpoll"
	"github.com/google/uuid"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"go.uber.org/zap"
)

// TCPTransport talks to the server's raw TCP port. Received chunks follow
// the kernel's segmentation, so messages may span chunks.
type TCPTransport struct {
	dialer netpoll.Dialer
	params TCPTransportParams

	log *zap.Logger
}

type TCPTransportParams struct {
	DialTimeout time.Duration

	Logger *zap.Logger
}

func CreateTCPTransport(params TCPTransportParams) *TCPTransport {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.DialTimeout == 0 {
		params.DialTimeout = 10 * time.Second
	}

	return &TCPTransport{
		dialer: netpoll.NewDialer(),
		params: params,
		log:    logger.With(zap.String("handler", "TCP")),
	}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) MaxPacketSize() int {
	return memstream.PacketMaxSizeTCP
}

func (t *TCPTransport) IsStream() bool {
	return true
}

type tcpHandle struct {
	id      string
	address string
	log     *zap.Logger

	life *lifecycle

	mut_conn sync.Mutex
	conn     netpoll.Connection
}

func (h *tcpHandle) ID() string {
	return h.id
}

func (h *tcpHandle) RemoteAddress() string {
	return h.address
}

func (h *tcpHandle) Send(packet []byte) error {
	h.mut_conn.Lock()
	defer h.mut_conn.Unlock()

	if h.conn == nil || h.life.isClosed() || !h.conn.IsActive() {
		return &NotOpen{HandleId: h.id}
	}

	writer := h.conn.Writer()
	if _, err := writer.WriteBinary(packet); err != nil {
		return err
	}
	return writer.Flush()
}

func (h *tcpHandle) Close() error {
	h.life.close(h, nil)

	h.mut_conn.Lock()
	conn := h.conn
	h.mut_conn.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *TCPTransport) Open(ctx context.Context, address string, cb Callbacks) (Handle, error) {
	address = strings.TrimPrefix(address, "tcp://")
	h := &tcpHandle{
		id:      uuid.NewString(),
		address: address,
		life:    &lifecycle{cb: cb},
	}
	h.log = t.log.With(zap.String("handleId", h.id), zap.String("address", address))

	gopool.Go(func() {
		h.log.Info("Dialing TCP")
		conn, err := t.dialer.DialConnection("tcp", address, t.params.DialTimeout)
		if err != nil {
			h.log.Warn("TCP dial failed", zap.Error(err))
			h.life.close(h, err)
			return
		}
		if ctx.Err() != nil {
			conn.Close()
			h.life.close(h, ctx.Err())
			return
		}

		h.mut_conn.Lock()
		h.conn = conn
		h.mut_conn.Unlock()

		conn.AddCloseCallback(func(connection netpoll.Connection) error {
			if !h.life.isClosed() {
				h.log.Info("Server closed TCP connection")
			}
			h.life.close(h, nil)
			return nil
		})

		if !h.life.open(h) {
			h.log.Info("Handle closed while dialing, dropping connection")
			conn.Close()
			return
		}

		err = conn.SetOnRequest(func(_ context.Context, connection netpoll.Connection) error {
			reader := connection.Reader()
			defer reader.Release()

			data, err := reader.ReadBinary(reader.Len())
			if err != nil {
				h.log.Warn("TCP read failed", zap.Error(err))
				h.life.close(h, err)
				return err
			}
			h.life.message(h, data)
			return nil
		})
		if err != nil {
			h.log.Error("Failed to attach TCP reader", zap.Error(err))
			h.life.close(h, err)
			conn.Close()
		}
	})

	return h, nil
}
