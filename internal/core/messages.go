package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/vovakirdan/chatline-server/internal/metrics"
	"github.com/vovakirdan/chatline-server/internal/store"
	"github.com/vovakirdan/chatline-server/internal/utils"
)

// Attachment is a media reference carried by a message.
type Attachment struct {
	URL  string
	Kind store.AttachmentKind
}

// SendInput describes a new message.
type SendInput struct {
	ChatID     string
	SenderID   string
	Content    string
	Attachment *Attachment
}

// EditInput carries the fields to replace. Nil fields are left unchanged.
// An Attachment with an empty URL removes the current attachment.
type EditInput struct {
	Content    *string
	Attachment *Attachment
}

// MessageService manages the message lifecycle.
type MessageService struct {
	deps     Deps
	resolver *Resolver
}

// NewMessageService creates a message service.
func NewMessageService(deps Deps) *MessageService {
	deps = deps.withDefaults()
	return &MessageService{deps: deps, resolver: NewResolver(deps.Store)}
}

// Send validates, persists and broadcasts a new message.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*store.Message, error) {
	chatID := strings.TrimSpace(in.ChatID)
	if chatID == "" {
		return nil, coreError(ErrCodeBadRequest, "chatId is required")
	}
	if in.SenderID == "" {
		return nil, coreError(ErrCodeBadRequest, "sender is required")
	}
	content, url, kind, err := s.validate(in.Content, in.Attachment)
	if err != nil {
		return nil, err
	}

	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	recipient, err := s.resolver.ResolveRecipient(pctx, chatID, in.SenderID)
	if err != nil {
		return nil, s.deps.fail("send", err)
	}

	msg := &store.Message{
		ID:          utils.NewID(),
		ChatID:      chatID,
		SenderID:    in.SenderID,
		RecipientID: recipient,
		Content:     content,
		MediaURL:    url,
		MediaType:   kind,
	}
	if err := s.deps.Store.InsertMessage(pctx, msg); err != nil {
		return nil, s.deps.fail("send", storeError(pctx, err, "chat not found"))
	}

	metrics.MessagesPersisted.WithLabelValues("send").Inc()
	s.deps.Logger.Debug().Str("chat_id", chatID).Str("message_id", msg.ID).Int64("seq", msg.Seq).Msg("message persisted")
	s.deps.Hub.Publish(&Event{Kind: EventReceiveMessage, ChatID: chatID, Message: msg})
	s.deps.notify(ctx, NotifyMessageCreated, chatID, msg, msg.ID)
	return msg, nil
}

// Edit replaces the provided fields of a message. Only the sender may edit.
func (s *MessageService) Edit(ctx context.Context, messageID, requesterID string, in EditInput) (*store.Message, error) {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	msg, err := s.deps.Store.GetMessage(pctx, messageID)
	if err != nil {
		return nil, s.deps.fail("edit", storeError(pctx, err, "message not found"))
	}
	if msg.SenderID != requesterID {
		return nil, coreError(ErrCodeForbidden, "only the sender can edit a message")
	}

	content := msg.Content
	if in.Content != nil {
		content = *in.Content
	}
	att := &Attachment{URL: msg.MediaURL, Kind: msg.MediaType}
	if in.Attachment != nil {
		att = in.Attachment
	}

	content, url, kind, err := s.validate(content, att)
	if err != nil {
		return nil, err
	}

	updated := *msg
	updated.Content = content
	updated.MediaURL = url
	updated.MediaType = kind
	if err := s.deps.Store.UpdateMessage(pctx, &updated); err != nil {
		return nil, s.deps.fail("edit", storeError(pctx, err, "message not found"))
	}

	metrics.MessagesPersisted.WithLabelValues("edit").Inc()
	s.deps.Hub.Publish(&Event{Kind: EventMessageUpdated, ChatID: updated.ChatID, Message: &updated})
	s.deps.notify(ctx, NotifyMessageUpdated, updated.ChatID, &updated, updated.ID)
	return &updated, nil
}

// Delete removes a message and its reference from the chat. Only the sender may delete.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID string) error {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	msg, err := s.deps.Store.GetMessage(pctx, messageID)
	if err != nil {
		return s.deps.fail("delete", storeError(pctx, err, "message not found"))
	}
	if msg.SenderID != requesterID {
		return coreError(ErrCodeForbidden, "only the sender can delete a message")
	}

	if err := s.deps.Store.DeleteMessage(pctx, messageID); err != nil {
		return s.deps.fail("delete", storeError(pctx, err, "message not found"))
	}

	metrics.MessagesPersisted.WithLabelValues("delete").Inc()
	s.deps.Hub.Publish(&Event{Kind: EventMessageDeleted, ChatID: msg.ChatID, MessageID: messageID})
	s.deps.notify(ctx, NotifyMessageDeleted, msg.ChatID, nil, messageID)
	return nil
}

// List returns the messages of a chat in chronological order.
// A chat without messages yields an empty slice; a missing chat yields not_found.
func (s *MessageService) List(ctx context.Context, chatID string) ([]*store.Message, error) {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	if _, err := s.deps.Store.GetChat(pctx, chatID); err != nil {
		return nil, storeError(pctx, err, "chat not found")
	}
	msgs, err := s.deps.Store.ListMessages(pctx, chatID)
	if err != nil {
		return nil, s.deps.fail("list", storeError(pctx, err, "chat not found"))
	}
	return msgs, nil
}

// Get returns a single message.
func (s *MessageService) Get(ctx context.Context, messageID string) (*store.Message, error) {
	pctx, cancel := s.deps.persistCtx(ctx)
	defer cancel()

	msg, err := s.deps.Store.GetMessage(pctx, messageID)
	if err != nil {
		return nil, storeError(pctx, err, "message not found")
	}
	return msg, nil
}

// validate trims content and checks it against the attachment.
// A message needs text or an attachment; an attachment needs an image or video kind.
func (s *MessageService) validate(content string, att *Attachment) (string, string, store.AttachmentKind, error) {
	content = strings.TrimSpace(content)
	if limit := s.deps.MaxContentBytes; limit > 0 && len(content) > limit {
		return "", "", "", coreError(ErrCodeBadRequest, fmt.Sprintf("content exceeds %d bytes", limit))
	}

	url := ""
	kind := store.AttachmentNone
	if att != nil {
		url = strings.TrimSpace(att.URL)
		if att.Kind != "" {
			kind = att.Kind
		}
	}

	if !kind.Valid() {
		return "", "", "", coreError(ErrCodeBadRequest, "mediaType must be image, video or none")
	}
	switch {
	case url == "":
		kind = store.AttachmentNone
	case kind == store.AttachmentNone:
		return "", "", "", coreError(ErrCodeBadRequest, "mediaType is required with mediaUrl")
	}

	if content == "" && url == "" {
		return "", "", "", coreError(ErrCodeBadRequest, "content is required")
	}
	return content, url, kind, nil
}
