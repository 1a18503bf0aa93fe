package frame

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn is a Conn over a websocket. Every message is a text frame.
type WebSocketConn struct {
	ws     *websocket.Conn
	limits Limits

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWebSocketConn(ws *websocket.Conn, limits Limits) *WebSocketConn {
	limits = limits.withDefaults()
	ws.SetReadLimit(int64(limits.MaxMessageBytes))
	return &WebSocketConn{ws: ws, limits: limits, done: make(chan struct{})}
}

func (c *WebSocketConn) ReadMessage() ([]byte, error) {
	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrMessageTooLarge
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (c *WebSocketConn) WriteMessage(msg []byte) error {
	if len(msg) > c.limits.MaxMessageBytes {
		return ErrMessageTooLarge
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.limits.WriteTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.limits.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// KeepAlive pings the peer every interval and drops the connection when no
// pong or message arrives within deadAfter. It returns when the conn closes.
func (c *WebSocketConn) KeepAlive(interval, deadAfter time.Duration) {
	if interval <= 0 || deadAfter <= 0 {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(deadAfter))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadAfter))
	})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.limits.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// Close sends a normal close frame when possible and closes the socket.
func (c *WebSocketConn) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.done)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
