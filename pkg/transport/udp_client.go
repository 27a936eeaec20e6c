package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"go.uber.org/zap"
)

// UDPTransport sends each packet as one datagram. "Opening" only binds a
// connected socket, there is no handshake.
type UDPTransport struct {
	params UDPTransportParams
	log    *zap.Logger
}

type UDPTransportParams struct {
	ReadBufferSize  int
	WriteBufferSize int

	Logger *zap.Logger
}

func CreateUDPTransport(params UDPTransportParams) *UDPTransport {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.ReadBufferSize == 0 {
		params.ReadBufferSize = memstream.MaxBuffer
	}
	if params.WriteBufferSize == 0 {
		params.WriteBufferSize = memstream.MaxBuffer
	}

	return &UDPTransport{
		params: params,
		log:    logger.With(zap.String("handler", "UDP")),
	}
}

func (t *UDPTransport) Name() string {
	return "udp"
}

func (t *UDPTransport) MaxPacketSize() int {
	return memstream.PacketMaxSizeUDP
}

func (t *UDPTransport) IsStream() bool {
	return false
}

type udpHandle struct {
	id      string
	address string
	log     *zap.Logger

	life *lifecycle

	mut_conn sync.Mutex
	conn     *net.UDPConn
}

func (h *udpHandle) ID() string {
	return h.id
}

func (h *udpHandle) RemoteAddress() string {
	return h.address
}

func (h *udpHandle) Send(packet []byte) error {
	h.mut_conn.Lock()
	defer h.mut_conn.Unlock()

	if h.conn == nil || h.life.isClosed() {
		return &NotOpen{HandleId: h.id}
	}
	_, err := h.conn.Write(packet)
	return err
}

func (h *udpHandle) Close() error {
	h.life.close(h, nil)

	h.mut_conn.Lock()
	conn := h.conn
	h.mut_conn.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *UDPTransport) Open(ctx context.Context, address string, cb Callbacks) (Handle, error) {
	address = strings.TrimPrefix(address, "udp://")
	remote, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	h := &udpHandle{
		id:      uuid.NewString(),
		address: address,
		life:    &lifecycle{cb: cb},
	}
	h.log = t.log.With(zap.String("handleId", h.id), zap.String("address", address))

	gopool.Go(func() {
		conn, err := net.DialUDP("udp", nil, remote)
		if err != nil {
			h.log.Warn("UDP dial failed", zap.Error(err))
			h.life.close(h, err)
			return
		}
		conn.SetReadBuffer(t.params.ReadBufferSize)
		conn.SetWriteBuffer(t.params.WriteBufferSize)

		h.mut_conn.Lock()
		h.conn = conn
		h.mut_conn.Unlock()

		if !h.life.open(h) {
			conn.Close()
			return
		}

		done := make(chan struct{})
		defer close(done)
		gopool.Go(func() {
			select {
			case <-ctx.Done():
				h.Close()
			case <-done:
			}
		})

		for {
			var buf [memstream.PacketMaxSize]byte
			n, err := conn.Read(buf[:])
			if err != nil {
				if errors.Is(err, net.ErrClosed) || h.life.isClosed() {
					h.log.Info("UDP socket closed, exiting read loop")
					h.life.close(h, nil)
					return
				}
				h.log.Error("Error reading UDP datagram, closing", zap.Error(err))
				h.life.close(h, err)
				conn.Close()
				return
			}

			h.life.message(h, append([]byte(nil), buf[:n]...))
		}
	})

	return h, nil
}
