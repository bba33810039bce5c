// Package ws provides the reconnecting websocket connection shared by every
// venue adapter. One Conn owns one socket plus its read and write
// goroutines; callers get raw frames through a handler callback and never
// touch the socket directly.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/pkg/logger"
)

// MessageHandler is called with each received text frame.
type MessageHandler func(message []byte)

// ConnectHandler is called after every successful (re)connect, before any
// frame is delivered. Adapters resubscribe and resync here.
type ConnectHandler func()

const (
	defaultHandshakeTimeout = 10 * time.Second
	reconnectBaseDelay      = time.Second
	reconnectMaxDelay       = 30 * time.Second
	maxReconnectAttempts    = 5
	writeQueueSize          = 256
)

// Conn is a websocket connection that reconnects itself with exponential
// backoff, doubling from reconnectBaseDelay up to reconnectMaxDelay. It
// counts every disconnect since Run started and raises a single alarm log
// on the maxReconnectAttempts-th one, then keeps trying at the capped
// delay. Neither the count nor the delay is reset after a successful
// connect.
type Conn struct {
	url       string
	onMessage MessageHandler
	onConnect ConnectHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	writeChan chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a connection manager for url. Nothing is dialed until Run.
func New(url string, onMessage MessageHandler, onConnect ConnectHandler) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:       url,
		onMessage: onMessage,
		onConnect: onConnect,
		writeChan: make(chan []byte, writeQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Run dials and services the connection until Close is called. It returns
// only on shutdown; reconnects are handled internally.
func (c *Conn) Run() {
	defer close(c.done)

	delay := reconnectBaseDelay
	attempts := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		err := c.connectAndServe()
		if c.ctx.Err() != nil {
			return
		}
		attempts++
		if attempts == maxReconnectAttempts {
			logger.Log.Error().
				Str("url", c.url).
				Int("attempts", attempts).
				Err(err).
				Msg("websocket keeps failing, still retrying")
		}
		logger.Log.Warn().
			Str("url", c.url).
			Dur("delay", delay).
			Err(err).
			Msg("websocket disconnected, reconnecting")
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// Close tears the connection down and stops Run.
func (c *Conn) Close() {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

// Send queues a text frame for writing. Frames queued while disconnected
// are written after the next connect.
func (c *Conn) Send(payload []byte) error {
	select {
	case c.writeChan <- payload:
		return nil
	default:
		return errs.BadConnection(nil, "write queue full for %s", c.url)
	}
}

func (c *Conn) connectAndServe() error {
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return errs.BadConnection(err, "dial %s", c.url)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	logger.Log.Info().Str("url", c.url).Msg("websocket connected")

	if c.onConnect != nil {
		c.onConnect()
	}

	writeDone := make(chan struct{})
	go c.writeLoop(conn, writeDone)

	readErr := c.readLoop(conn)

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	conn.Close()
	<-writeDone
	return readErr
}

func (c *Conn) readLoop(conn *websocket.Conn) error {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return errs.BadConnection(err, "read %s", c.url)
		}
		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			c.onMessage(payload)
		}
	}
}

func (c *Conn) writeLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.writeChan:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Log.Warn().Err(err).Str("url", c.url).Msg("websocket write failed")
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
