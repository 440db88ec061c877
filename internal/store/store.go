package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned when a chat, message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint (chat pair key) is violated.
	ErrConflict = errors.New("conflict")
)

// AttachmentKind classifies the media attached to a message.
type AttachmentKind string

const (
	AttachmentNone  AttachmentKind = "none"
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
)

// Valid reports whether k is one of the known kinds.
func (k AttachmentKind) Valid() bool {
	switch k {
	case AttachmentNone, AttachmentImage, AttachmentVideo:
		return true
	default:
		return false
	}
}

// User is a directory entry used to populate chat participants.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chat is a two-party conversation thread.
type Chat struct {
	ID              string    `json:"id"`
	Participants    []string  `json:"participants"`
	MessageIDs      []string  `json:"messageIds"`
	PairKey         string    `json:"pairKey"`
	PendingDeletion bool      `json:"pendingDeletion,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID takes part in the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a persisted chat message.
type Message struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chatId"`
	SenderID    string         `json:"senderId"`
	RecipientID string         `json:"recipientId"`
	Content     string         `json:"content"`
	MediaURL    string         `json:"mediaUrl,omitempty"`
	MediaType   AttachmentKind `json:"mediaType"`
	Seq         int64          `json:"seq"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// PairKey returns the order-independent key for a pair of participants.
// The first id is length-prefixed so ids containing the separator cannot collide.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strconv.Itoa(len(ids[0])) + ":" + ids[0] + ":" + ids[1]
}

// DeleteReport describes what a cascade chat delete removed.
type DeleteReport struct {
	MessagesDeleted int64 `json:"messagesDeleted"`
	ChatDeleted     bool  `json:"chatDeleted"`
}

// PartialDeleteError is returned when a non-transactional cascade delete stopped between phases.
// The chat stays flagged for deletion and the sweeper finishes the job.
type PartialDeleteError struct {
	ChatID string
	Report DeleteReport
	Phase  string
	Err    error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("partial delete of chat %s failed at %s: %v", e.ChatID, e.Phase, e.Err)
}

func (e *PartialDeleteError) Unwrap() error {
	return e.Err
}

// SweepReport summarizes one recovery sweep.
type SweepReport struct {
	FinishedDeletions int64 `json:"finishedDeletions"`
	OrphanedMessages  int64 `json:"orphanedMessages"`
	DanglingRefs      int64 `json:"danglingRefs"`
}

// Total returns the number of repaired records.
func (r SweepReport) Total() int64 {
	return r.FinishedDeletions + r.OrphanedMessages + r.DanglingRefs
}

// UserStore handles the user directory.
type UserStore interface {
	// UpsertUser creates or refreshes display fields for a user.
	UpsertUser(ctx context.Context, user *User) error

	// GetUsers returns the known users among ids. Unknown ids are skipped.
	GetUsers(ctx context.Context, ids []string) ([]*User, error)
}

// ChatStore handles chat persistence.
type ChatStore interface {
	// CreateChat persists a new chat. Returns ErrConflict if a chat with the same pair key exists.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by ID, including its message id list.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// GetChatByPairKey retrieves the chat between two users.
	GetChatByPairKey(ctx context.Context, pairKey string) (*Chat, error)

	// ListChats lists chats. An empty participantID lists all chats.
	ListChats(ctx context.Context, participantID string) ([]*Chat, error)

	// DeleteChat removes a chat and all its messages.
	// Returns *PartialDeleteError when the operation stopped between phases.
	DeleteChat(ctx context.Context, id string) (DeleteReport, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// InsertMessage persists msg and appends its id to the owning chat in one operation.
	// Seq is assigned by the store.
	InsertMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// UpdateMessage replaces content, media and updated_at of an existing message.
	UpdateMessage(ctx context.Context, msg *Message) error

	// DeleteMessage removes a message and retracts it from the owning chat in one operation.
	DeleteMessage(ctx context.Context, id string) error

	// ListMessages returns messages of a chat ordered by creation time ascending.
	ListMessages(ctx context.Context, chatID string) ([]*Message, error)
}

// Sweeper repairs state left behind by interrupted multi-document writes.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepReport, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore
	Sweeper

	// Close closes the underlying database connection.
	Close() error
}
