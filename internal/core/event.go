package core

import (
	"time"

	"github.com/vovakirdan/chatline-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventReceiveMessage notifies chat subscribers about a new message.
	EventReceiveMessage EventKind = iota
	// EventMessageUpdated notifies chat subscribers about an edited message.
	EventMessageUpdated
	// EventMessageDeleted notifies chat subscribers that a message was removed.
	EventMessageDeleted
	// EventChatCreated notifies participants about a new chat.
	EventChatCreated
	// EventChatDeleted notifies participants that a chat and its messages were removed.
	EventChatDeleted
	// EventError notifies a single client about a failed request.
	EventError
)

var eventNames = map[EventKind]string{
	EventReceiveMessage: "receive_message",
	EventMessageUpdated: "message_updated",
	EventMessageDeleted: "message_deleted",
	EventChatCreated:    "chat_created",
	EventChatDeleted:    "chat_deleted",
	EventError:          "error",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind      `json:"kind"`
	ChatID    string         `json:"chatId"`
	Message   *store.Message `json:"message,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Chat      *store.Chat    `json:"chat,omitempty"`
	Error     *CoreError     `json:"-"`
}

// ErrorEvent builds an error event for a single client.
func ErrorEvent(err error) *Event {
	return &Event{Kind: EventError, Error: AsCoreError(err)}
}

// Notification types published to external consumers.
const (
	NotifyMessageCreated = "message.created"
	NotifyMessageUpdated = "message.updated"
	NotifyMessageDeleted = "message.deleted"
	NotifyChatCreated    = "chat.created"
	NotifyChatDeleted    = "chat.deleted"
)

// Notification is a lifecycle record handed to a Notifier after persistence.
type Notification struct {
	Type      string         `json:"type"`
	ChatID    string         `json:"chatId"`
	MessageID string         `json:"messageId,omitempty"`
	Message   *store.Message `json:"message,omitempty"`
	At        time.Time      `json:"at"`
}
