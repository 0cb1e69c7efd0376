package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/models"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a frame to the relay.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong from the relay.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// WebSocket talks to the relay server using JSON frames
// {"event": ..., "data": ...}.
type WebSocket struct {
	listeners
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	conn *wsConn
}

type WebSocketOption func(*WebSocket)

// WithToken sends a bearer token on the upgrade request. An empty token is
// ignored.
func WithToken(token string) WebSocketOption {
	return func(w *WebSocket) {
		if token != "" {
			w.header.Set("Authorization", "Bearer "+token)
		}
	}
}

func WithWebSocketLogger(l zerolog.Logger) WebSocketOption {
	return func(w *WebSocket) { w.logger = l }
}

func NewWebSocket(url string, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		url:    url,
		header: http.Header{},
		dialer: websocket.DefaultDialer,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// wsConn is one physical connection; the pumps exit when done closes.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsConn) stop() {
	c.once.Do(func() { close(c.done) })
}

func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		return nil
	}

	ws, _, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}

	c := &wsConn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	w.conn = c

	go w.writePump(c)
	go w.readPump(c)
	w.logger.Debug().Str("url", w.url).Msg("websocket connected")
	return nil
}

func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	c := w.conn
	w.conn = nil
	w.mu.Unlock()

	if c != nil {
		c.stop()
	}
	return nil
}

func (w *WebSocket) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	frame, err := json.Marshal(models.Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	w.mu.Lock()
	c := w.conn
	w.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	select {
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// readPump pumps frames from the relay to the registered handlers.
func (w *WebSocket) readPump(c *wsConn) {
	defer func() {
		c.stop()
		w.mu.Lock()
		if w.conn == c {
			w.conn = nil
		}
		w.mu.Unlock()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					w.logger.Warn().Err(err).Msg("websocket read failed")
				}
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			w.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		w.dispatch(frame.Event, frame.Data)
	}
}

// writePump is the only writer on the connection.
func (w *WebSocket) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				w.logger.Warn().Err(err).Msg("websocket write failed")
				c.stop()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
