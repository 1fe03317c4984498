// Package gateway wires the codec, validator, registry, SSH connector, shell
// pump, keep-alive, SFTP subsystem, and crypto packages into the browser-
// facing upgrade endpoint (spec §2's C1→C2 dispatch onto C3–C9).
package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webssh/gateway/internal/codec"
)

// ErrChannelClosed is returned by Channel sends once the channel has closed.
var ErrChannelClosed = errors.New("gateway: channel closed")

const (
	kindData = iota
	kindPing
)

type outboundItem struct {
	kind   int
	wsType int
	data   []byte
}

// Channel wraps one browser WebSocket connection as a single-writer actor:
// spec §5 requires the client channel's write side serialize every frame
// (shell output, SFTP progress, pong, latency reports), since interleaving
// writes on the underlying connection corrupts the stream. It satisfies
// registry.ClientChannel and shellpump.OutputSink.
type Channel struct {
	conn *websocket.Conn

	out      chan outboundItem
	buffered atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel starts the write-serializing goroutine for conn.
func NewChannel(conn *websocket.Conn) *Channel {
	c := &Channel{
		conn:   conn,
		out:    make(chan outboundItem, 256),
		closed: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Channel) writeLoop() {
	for {
		select {
		case item := <-c.out:
			switch item.kind {
			case kindPing:
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			default:
				c.buffered.Add(-int64(len(item.data)))
				if err := c.conn.WriteMessage(item.wsType, item.data); err != nil {
					c.Close()
					return
				}
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Channel) enqueue(item outboundItem) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	if item.kind == kindData {
		c.buffered.Add(int64(len(item.data)))
	}
	select {
	case c.out <- item:
		return nil
	case <-c.closed:
		if item.kind == kindData {
			c.buffered.Add(-int64(len(item.data)))
		}
		return ErrChannelClosed
	}
}

// SendBinary encodes and enqueues a binary frame. Implements shellpump.OutputSink.
func (c *Channel) SendBinary(tag byte, sessionID string, payload []byte) error {
	frame, err := codec.EncodeBinary(tag, sessionID, payload)
	if err != nil {
		return err
	}
	return c.enqueue(outboundItem{kind: kindData, wsType: websocket.BinaryMessage, data: frame})
}

// SendText encodes and enqueues a text (JSON) frame.
func (c *Channel) SendText(f codec.TextFrame) error {
	data, err := codec.EncodeText(f)
	if err != nil {
		return err
	}
	return c.enqueue(outboundItem{kind: kindData, wsType: websocket.TextMessage, data: data})
}

// SendPing enqueues a WebSocket-protocol ping control frame, used by the
// transport-level heartbeat (C7). It never counts toward BufferedBytes.
func (c *Channel) SendPing() error {
	return c.enqueue(outboundItem{kind: kindPing})
}

// BufferedBytes reports the outbound queue depth in bytes, the basis for
// the shell pump's backpressure gate. Implements shellpump.OutputSink.
func (c *Channel) BufferedBytes() int64 {
	return c.buffered.Load()
}

// Close stops the write loop and closes the underlying connection.
// Implements registry.ClientChannel.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}
