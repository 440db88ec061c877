package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/chatline-server/internal/store"
	"github.com/vovakirdan/chatline-server/internal/utils"
)

// ChatView is a chat with participants and messages populated.
type ChatView struct {
	ID           string           `json:"id"`
	Participants []store.User     `json:"participants"`
	Messages     []*store.Message `json:"messages"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// ChatService manages the chat lifecycle.
type ChatService struct {
	deps Deps
}

// NewChatService creates a chat service.
func NewChatService(deps Deps) *ChatService {
	return &ChatService{deps: deps.withDefaults()}
}

// CreateChat finds or creates the chat between the requester and one other user.
// participantIDs may hold the other user alone or both users; the requester must be one of them.
// The returned bool is true when a new chat was created.
func (s *ChatService) CreateChat(ctx context.Context, requesterID string, participantIDs []string) (*store.Chat, bool, error) {
	ids := make([]string, 0, len(participantIDs)+1)
	for _, id := range participantIDs {
		ids = append(ids, strings.TrimSpace(id))
	}
	if len(ids) == 1 {
		ids = append([]string{requesterID}, ids...)
	}
	if len(ids) != 2 {
		return nil, false, coreError(ErrCodeBadRequest, "a chat needs exactly two participants")
	}
	if ids[0] == "" || ids[1] == "" {
		return nil, false, coreError(ErrCodeBadRequest, "participant ids must not be empty")
	}
	if ids[0] == ids[1] {
		return nil, false, coreError(ErrCodeBadRequest, "participants must be distinct")
	}
	if ids[0] != requesterID && ids[1] != requesterID {
		return nil, false, coreError(ErrCodeForbidden, "requester must be a participant")
	}

	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	pairKey := store.PairKey(ids[0], ids[1])
	existing, err := s.deps.Store.GetChatByPairKey(pctx, pairKey)
	if err == nil {
		if !isPair(existing, ids[0], ids[1]) {
			return nil, false, s.deps.fail("create_chat", pairMismatch(existing))
		}
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, s.deps.fail("create_chat", storeError(pctx, err, "chat not found"))
	}

	chat := &store.Chat{
		ID:           utils.NewID(),
		Participants: ids,
		PairKey:      pairKey,
	}
	if err := s.deps.Store.CreateChat(pctx, chat); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with a concurrent create of the same pair.
			existing, getErr := s.deps.Store.GetChatByPairKey(pctx, pairKey)
			if getErr != nil {
				return nil, false, s.deps.fail("create_chat", storeError(pctx, getErr, "chat not found"))
			}
			if !isPair(existing, ids[0], ids[1]) {
				return nil, false, s.deps.fail("create_chat", pairMismatch(existing))
			}
			return existing, false, nil
		}
		return nil, false, s.deps.fail("create_chat", storeError(pctx, err, "chat not found"))
	}

	s.deps.Logger.Info().Str("chat_id", chat.ID).Strs("participants", chat.Participants).Msg("chat created")
	s.deps.Hub.SubscribeUsers(chat.ID, chat.Participants...)
	s.deps.Hub.Publish(&Event{Kind: EventChatCreated, ChatID: chat.ID, Chat: chat})
	s.deps.notify(ctx, NotifyChatCreated, chat.ID, nil, "")
	return chat, true, nil
}

// FindChatBetween returns the chat between a and b.
func (s *ChatService) FindChatBetween(ctx context.Context, a, b string) (*store.Chat, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return nil, coreError(ErrCodeBadRequest, "two distinct participants are required")
	}

	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	chat, err := s.deps.Store.GetChatByPairKey(pctx, store.PairKey(a, b))
	if err != nil {
		return nil, storeError(pctx, err, "no chat between these users")
	}
	if !isPair(chat, a, b) {
		return nil, coreError(ErrCodeNotFound, "no chat between these users")
	}
	return chat, nil
}

// GetChat returns a chat by id.
func (s *ChatService) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	chat, err := s.deps.Store.GetChat(pctx, chatID)
	if err != nil {
		return nil, storeError(pctx, err, "chat not found")
	}
	return chat, nil
}

// ListChats returns every chat, or only those of participantID when it is non-empty,
// with participant display fields and messages populated.
func (s *ChatService) ListChats(ctx context.Context, participantID string) ([]ChatView, error) {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	chats, err := s.deps.Store.ListChats(pctx, strings.TrimSpace(participantID))
	if err != nil {
		return nil, s.deps.fail("list_chats", storeError(pctx, err, "chat not found"))
	}

	seen := make(map[string]struct{})
	var userIDs []string
	for _, c := range chats {
		for _, id := range c.Participants {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				userIDs = append(userIDs, id)
			}
		}
	}
	users, err := s.deps.Store.GetUsers(pctx, userIDs)
	if err != nil {
		return nil, s.deps.fail("list_chats", storeError(pctx, err, "user not found"))
	}
	directory := make(map[string]store.User, len(users))
	for _, u := range users {
		directory[u.ID] = *u
	}

	views := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		msgs, err := s.deps.Store.ListMessages(pctx, c.ID)
		if err != nil {
			return nil, s.deps.fail("list_chats", storeError(pctx, err, "chat not found"))
		}
		view := ChatView{
			ID:           c.ID,
			Participants: make([]store.User, 0, len(c.Participants)),
			Messages:     msgs,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		}
		for _, id := range c.Participants {
			u, ok := directory[id]
			if !ok {
				u = store.User{ID: id}
			}
			view.Participants = append(view.Participants, u)
		}
		views = append(views, view)
	}
	return views, nil
}

// ChatIDsFor returns the ids of the chats userID takes part in.
func (s *ChatService) ChatIDsFor(ctx context.Context, userID string) ([]string, error) {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	chats, err := s.deps.Store.ListChats(pctx, userID)
	if err != nil {
		return nil, storeError(pctx, err, "chat not found")
	}
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// DeleteChat removes a chat and every message in it. Only participants may delete.
func (s *ChatService) DeleteChat(ctx context.Context, chatID, requesterID string) (store.DeleteReport, error) {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	chat, err := s.deps.Store.GetChat(pctx, chatID)
	if err != nil {
		return store.DeleteReport{}, storeError(pctx, err, "chat not found")
	}
	if !chat.HasParticipant(requesterID) {
		return store.DeleteReport{}, coreError(ErrCodeForbidden, "only participants can delete a chat")
	}

	report, err := s.deps.Store.DeleteChat(pctx, chatID)
	if err != nil {
		return report, s.deps.fail("delete_chat", storeError(pctx, err, "chat not found"))
	}

	s.deps.Logger.Info().Str("chat_id", chatID).Int64("messages_deleted", report.MessagesDeleted).Msg("chat deleted")
	s.deps.Hub.Publish(&Event{Kind: EventChatDeleted, ChatID: chatID})
	s.deps.Hub.CloseTopic(chatID)
	s.deps.notify(ctx, NotifyChatDeleted, chatID, nil, "")
	return report, nil
}

// RememberUser records display fields for a verified user.
func (s *ChatService) RememberUser(ctx context.Context, userID, username string) error {
	if userID == "" {
		return nil
	}
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	if err := s.deps.Store.UpsertUser(pctx, &store.User{ID: userID, Username: username}); err != nil {
		return storeError(pctx, err, "user not found")
	}
	return nil
}

// isPair reports whether chat is exactly the chat between a and b.
func isPair(chat *store.Chat, a, b string) bool {
	return len(chat.Participants) == 2 && chat.HasParticipant(a) && chat.HasParticipant(b)
}

func pairMismatch(chat *store.Chat) error {
	return &CoreError{
		Code:    ErrCodeInvalidState,
		Message: "stored chat does not match the requested pair",
		Err:     fmt.Errorf("chat %s has participants %v", chat.ID, chat.Participants),
	}
}
