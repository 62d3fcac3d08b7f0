package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftlabs/matchpoint/internal/v1/logging"
	"github.com/driftlabs/matchpoint/internal/v1/metrics"
	"github.com/driftlabs/matchpoint/internal/v1/protocol"
	"github.com/driftlabs/matchpoint/internal/v1/topology"
)

var (
	// ErrSendBufferFull is returned by TrySend when the outbound buffer
	// rejects the enqueue.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrClientClosed is returned by TrySend after the client endpoint
	// has been disconnected.
	ErrClientClosed = errors.New("client closed")
)

// sendBufferSize bounds the per-peer outbound queue. A peer that cannot
// drain this many frames is considered dead for delivery purposes.
const sendBufferSize = 64

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single peer's connection to the signaling server.
// It implements topology.Client; the send side is a buffered channel so
// TrySend never blocks on network I/O.
type Client struct {
	conn wsConnection
	id   protocol.PeerID
	topo *topology.Topology

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	send chan []byte
}

// NewClient wraps an upgraded connection. Pumps are started separately so
// the caller can enqueue the initial events first.
func NewClient(conn wsConnection, id protocol.PeerID, topo *topology.Topology) *Client {
	return &Client{
		conn: conn,
		id:   id,
		topo: topo,
		send: make(chan []byte, sendBufferSize),
	}
}

// PeerID satisfies topology.Client.
func (c *Client) PeerID() protocol.PeerID {
	return c.id
}

// TrySend enqueues a text frame without blocking. It satisfies
// types.FrameSender: a full buffer or a closed endpoint is an error for
// this recipient only.
func (c *Client) TrySend(frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClientClosed
	}
	c.mu.RUnlock()

	// The channel may be closed between the check above and the send.
	// Recover turns that race into a normal closed-client error.
	err := ErrClientClosed
	func() {
		defer func() { _ = recover() }()
		select {
		case c.send <- frame:
			err = nil
		default:
			err = ErrSendBufferFull
		}
	}()
	return err
}

// Disconnect closes the send endpoint. The writePump drains the buffer,
// sends a close frame, and closes the socket; the readPump then exits and
// runs the disconnect policy. Safe to call more than once.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump consumes inbound frames until the transport reports a close or
// an unrecoverable error, then runs the session's disconnect policy. The
// registry mutations and best-effort notifications happen even if the
// socket is already gone.
func (c *Client) readPump() {
	defer func() {
		c.topo.HandleClientDisconnect(context.Background(), c)
		c.Disconnect()
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warn(context.Background(), "Unrecoverable transport error",
					zap.String("peerId", string(c.id)), zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.topo.HandleFrame(context.Background(), c, data)
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message",
				zap.String("peerId", string(c.id)), zap.Error(err))
			return
		}
	}
}
