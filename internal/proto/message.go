package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSendMessage = "send_message"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventReady          = "ready"
	EventReceiveMessage = "receive_message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventChatCreated    = "chat_created"
	EventChatDeleted    = "chat_deleted"
)

// SendMessageData is a chat message from the client.
// Either ChatID or Recipient must be set. Sender, when present, must match the authenticated user.
type SendMessageData struct {
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
	Content   string `json:"content"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ReadyData confirms the connection is authenticated and subscribed.
type ReadyData struct {
	User     string   `json:"user"`
	Chats    []string `json:"chats"`
	Protocol int      `json:"protocol"`
}

// MessageData describes a persisted message.
type MessageData struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	MediaType string    `json:"mediaType"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageDeletedData notifies that a message was removed from a chat.
type MessageDeletedData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ChatData describes a chat.
type ChatData struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ChatDeletedData notifies that a chat and its messages were removed.
type ChatDeletedData struct {
	ChatID string `json:"chatId"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
