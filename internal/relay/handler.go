package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Clients are native apps; any origin is allowed.
	},
}

type Handler struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewHandler(hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// ServeWs upgrades the request and attaches the connection to the hub. When
// the auth middleware ran, the token's email pins the allowed sender.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	email, _ := r.Context().Value(middleware.EmailKey).(string)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		email:  email,
		logger: h.logger.With().Str("remote_addr", r.RemoteAddr).Logger(),
	}
	select {
	case client.hub.Register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
