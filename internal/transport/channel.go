// Package transport carries named protocol events over a websocket in both
// directions. It knows nothing about session state; it frames, sends, and
// decodes.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classboard/internal/config"
	"classboard/pkg/types"
)

// Channel is one duplex realtime connection. Writes are serialized through
// a single writer goroutine; inbound frames are decoded into typed events
// on a channel that closes when the transport drops.
type Channel struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	inbound   chan types.Inbound
	writeWait time.Duration
	log       *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial connects to the server's websocket endpoint.
func Dial(ctx context.Context, url string, cfg config.TransportConfig, log *slog.Logger) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newChannel(conn, cfg, log), nil
}

// Wrap adopts an already-upgraded connection (server side and tests).
func Wrap(conn *websocket.Conn, cfg config.TransportConfig, log *slog.Logger) *Channel {
	return newChannel(conn, cfg, log)
}

func newChannel(conn *websocket.Conn, cfg config.TransportConfig, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:      conn,
		writeCh:   make(chan []byte, cfg.WriteBuffer),
		inbound:   make(chan types.Inbound, cfg.WriteBuffer),
		writeWait: cfg.WriteTimeout,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// writeLoop is the single writer; websocket writes must not interleave.
func (c *Channel) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.teardown()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("transport write failed", "error", err)
				c.teardown()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop decodes inbound frames into typed events. Unknown events are
// logged and skipped; a read error closes the inbound channel, which is
// how consumers observe disconnect.
func (c *Channel) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("transport read failed", "error", err)
			}
			c.teardown()
			return
		}
		ev, err := types.DecodeInbound(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		select {
		case c.inbound <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues an outbound event. Fails fast when the channel is closed or
// the write buffer stays full past the write timeout.
func (c *Channel) Send(ev types.Outbound) error {
	select {
	case <-c.ctx.Done():
		return ErrChannelClosed
	default:
	}

	frame, err := types.EncodeOutbound(ev)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-time.After(c.writeWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrChannelClosed
	}
}

// Inbound returns the typed event stream. The channel closes on
// disconnect.
func (c *Channel) Inbound() <-chan types.Inbound {
	return c.inbound
}

// Done is closed when the transport has shut down.
func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears the transport down. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) teardown() {
	_ = c.Close()
}
