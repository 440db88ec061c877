package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/proto"
	"github.com/vovakirdan/chatline-server/internal/store"
)

// MessageHandlers provides HTTP handlers for message endpoints.
type MessageHandlers struct {
	messages *core.MessageService
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(messages *core.MessageService, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{messages: messages, log: logger}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}

// EditMessageRequest carries the fields to replace. Omitted fields stay as they are.
type EditMessageRequest struct {
	Content   *string `json:"content"`
	MediaURL  *string `json:"mediaUrl"`
	MediaType *string `json:"mediaType"`
}

// SendMessage persists a message from the caller and broadcasts it.
// POST /api/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		badRequest(c, "invalid request body")
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), core.SendInput{
		ChatID:     req.ChatID,
		SenderID:   currentUser(c),
		Content:    req.Content,
		Attachment: attachmentFrom(req.MediaURL, req.MediaType),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, messageData(msg))
}

// ListMessages returns a chat's messages in send order.
// GET /api/messages/:chatId
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	msgs, err := h.messages.List(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	out := make([]proto.MessageData, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageData(m))
	}
	c.JSON(http.StatusOK, out)
}

// EditMessage replaces content and/or attachment of the caller's message.
// PUT /api/messages/:messageId
func (h *MessageHandlers) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid edit message request")
		badRequest(c, "invalid request body")
		return
	}

	in := core.EditInput{Content: req.Content}
	if req.MediaURL != nil || req.MediaType != nil {
		att := &core.Attachment{}
		if req.MediaURL != nil {
			att.URL = *req.MediaURL
		}
		if req.MediaType != nil {
			att.Kind = store.AttachmentKind(*req.MediaType)
		}
		in.Attachment = att
	}

	msg, err := h.messages.Edit(c.Request.Context(), c.Param("messageId"), currentUser(c), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, messageData(msg))
}

// DeleteMessage removes the caller's message.
// DELETE /api/messages/:messageId
func (h *MessageHandlers) DeleteMessage(c *gin.Context) {
	id := c.Param("messageId")
	if err := h.messages.Delete(c.Request.Context(), id, currentUser(c)); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
