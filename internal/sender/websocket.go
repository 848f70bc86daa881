package sender

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout     = 2 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
)

// WebSocketConfig configures DialWebSocket.
type WebSocketConfig struct {
	URL              string
	Header           http.Header
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// OnMessage receives inbound renderer messages on the read goroutine.
	OnMessage func([]byte)
	Log       *log.Logger
}

// WebSocketChannel sends parameter frames as text messages over a client
// websocket connection.
type WebSocketChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	onMessage    func([]byte)
	log          *log.Logger

	writeMu   sync.Mutex
	ready     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to cfg.URL and starts the read pump.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketChannel, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial renderer %s: %w", cfg.URL, err)
	}
	c := &WebSocketChannel{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		onMessage:    cfg.OnMessage,
		log:          cfg.Log,
		done:         make(chan struct{}),
	}
	c.ready.Store(true)
	go c.readPump()
	cfg.Log.Printf("renderer websocket connected to %s", cfg.URL)
	return c, nil
}

// Ready reports whether the connection is open.
func (c *WebSocketChannel) Ready() bool {
	return c.ready.Load()
}

// Send writes one text message. A write error marks the channel not ready.
func (c *WebSocketChannel) Send(data []byte) error {
	if !c.ready.Load() {
		return ErrNotReady
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.ready.Store(false)
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.ready.Store(false)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Done is closed when the read pump stops.
func (c *WebSocketChannel) Done() <-chan struct{} {
	return c.done
}

func (c *WebSocketChannel) readPump() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.ready.Store(false)
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Printf("renderer websocket read: %v", err)
			}
			return
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.ready.Store(false)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
