package core

import (
	"context"

	"github.com/vovakirdan/chatline-server/internal/store"
)

// Resolver derives the other party of a two-person chat.
type Resolver struct {
	chats store.ChatStore
}

// NewResolver creates a resolver backed by chats.
func NewResolver(chats store.ChatStore) *Resolver {
	return &Resolver{chats: chats}
}

// ResolveRecipient returns the participant of chatID that is not senderID.
func (r *Resolver) ResolveRecipient(ctx context.Context, chatID, senderID string) (string, error) {
	chat, err := r.chats.GetChat(ctx, chatID)
	if err != nil {
		return "", storeError(ctx, err, "chat not found")
	}
	return recipientOf(chat, senderID)
}

func recipientOf(chat *store.Chat, senderID string) (string, error) {
	if len(chat.Participants) != 2 {
		return "", coreError(ErrCodeInvalidState, "chat must have exactly two participants")
	}
	switch senderID {
	case chat.Participants[0]:
		return chat.Participants[1], nil
	case chat.Participants[1]:
		return chat.Participants[0], nil
	default:
		return "", coreError(ErrCodeNotFound, "sender is not a participant of the chat")
	}
}
