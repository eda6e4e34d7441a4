package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krobus00/price-stream-service/internal/broadcaster"
)

const (
	defaultWriteWait = 5 * time.Second
	closeGracePeriod = time.Second
	maxMessageSize   = 4096
)

// conn adapts a gorilla connection to broadcaster.Conn. Data frames are
// serialised by writeMu; control frames and Close may run concurrently.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		closed: make(chan struct{}),
	}
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return broadcaster.ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}

	// cancellation interrupts a write already blocked on the socket
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.NetConn().SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}
		return err
	}

	return nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		err = c.ws.Close()
	})
	return err
}

// readLoop discards client frames and returns once the peer goes away or
// stops answering pings within pongWait.
func (c *conn) readLoop(pongWait time.Duration) error {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return err
		}
	}
}

func (c *conn) pingLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait))
			if err != nil {
				return
			}
		}
	}
}
