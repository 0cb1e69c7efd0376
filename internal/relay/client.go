package relay

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/metrics"
	"chatsync/internal/models"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a frame to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Maximum frame size allowed from peer.
)

var validate = validator.New()

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound frames.
	send chan []byte
	// email is the authenticated sender, or "" when auth is off.
	email  string
	logger zerolog.Logger
}

// readPump turns inbound "sendMessage" frames into hub publishes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			break
		}

		payload, ok := c.decode(raw)
		if !ok {
			continue
		}
		select {
		case c.hub.Publish <- payload:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) decode(raw []byte) (models.Payload, bool) {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event != models.EventSendMessage {
		metrics.RelayMessages.WithLabelValues("malformed").Inc()
		return models.Payload{}, false
	}

	var in models.InboundPayload
	if err := json.Unmarshal(frame.Data, &in); err != nil {
		metrics.RelayMessages.WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Msg("error handling message")
		return models.Payload{}, false
	}
	if err := validate.Struct(in); err != nil {
		metrics.RelayMessages.WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Msg("error handling message")
		return models.Payload{}, false
	}

	p := models.Payload{SenderID: *in.SenderID, ReceiverID: *in.ReceiverID, Message: *in.Message}
	if c.email != "" && p.SenderID != c.email {
		metrics.RelayMessages.WithLabelValues("rejected").Inc()
		c.logger.Warn().Str("claimed", p.SenderID).Msg("sender does not match token")
		return models.Payload{}, false
	}
	return p, true
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
