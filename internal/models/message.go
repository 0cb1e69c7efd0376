package models

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------
// 🗄️ Store Models
// ---------------------------------------------

// Message is one chat line between two participants. It has no identity of
// its own; the store key it is written under is the only id.
type Message struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"` // ms since epoch
}

// NewMessage stamps the message with the current time.
func NewMessage(senderID, receiverID, text string) Message {
	return Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// Between reports whether the message was exchanged by a and b, in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

// ---------------------------------------------
// ⚡ Wire Models
// ---------------------------------------------

const (
	EventMessage     = "message"     // relay -> clients
	EventSendMessage = "sendMessage" // client -> relay
)

// Payload is the flat object carried by both "sendMessage" and "message" events.
type Payload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

// InboundPayload is used for decoding so that absent fields can be told
// apart from empty ones.
type InboundPayload struct {
	SenderID   *string `json:"senderId" validate:"required"`
	ReceiverID *string `json:"receiverId" validate:"required"`
	Message    *string `json:"message" validate:"required"`
}

// Frame is the envelope written on the websocket between client and relay.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
