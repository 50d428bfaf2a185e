package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-call/pkg/core"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// Conn is one established message-channel transport.
type Conn interface {
	WriteMessage(ctx context.Context, data []byte) error
	// ReadMessage blocks for the next text frame. Any error ends the connection.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the conversation server over a websocket.
type WebSocketDialer struct {
	URL          string
	Header       http.Header
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// Dial connects to d.URL. Without a ctx deadline the dial is bounded by a
// default connect timeout.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	if d == nil || d.URL == "" {
		return nil, core.NewInvalidRequestError("websocket url must not be empty")
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, core.NewTransportError("GET", d.URL, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return nil, core.NewTransportError("GET", d.URL, err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// isNormalClose reports whether err is a clean close initiated by either side.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
