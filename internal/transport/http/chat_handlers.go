package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/store"
)

// ChatHandlers provides HTTP handlers for chat endpoints.
type ChatHandlers struct {
	chats *core.ChatService
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(chats *core.ChatService, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{chats: chats, log: logger}
}

// CreateChatRequest represents the create chat request body.
type CreateChatRequest struct {
	ParticipantIDs []string `json:"participantIds" binding:"required"`
}

// ChatResponse represents a chat in API responses.
type ChatResponse struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	MessageIDs   []string `json:"messageIds"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

// DeleteChatResponse reports what a chat deletion removed.
type DeleteChatResponse struct {
	ChatID string             `json:"chatId"`
	Report store.DeleteReport `json:"report"`
}

// CreateChat finds or creates the chat between the caller and another user.
// POST /api/chats
func (h *ChatHandlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create chat request")
		badRequest(c, "invalid request body")
		return
	}

	if err := h.chats.RememberUser(c.Request.Context(), currentUser(c), c.GetString(ContextKeyUsername)); err != nil {
		h.log.Warn().Err(err).Str("user_id", currentUser(c)).Msg("failed to record user")
	}

	chat, created, err := h.chats.CreateChat(c.Request.Context(), currentUser(c), req.ParticipantIDs)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, chatResponse(chat))
}

// ListChats returns chats with participants and messages populated.
// GET /api/chats?participant=<id>
func (h *ChatHandlers) ListChats(c *gin.Context) {
	views, err := h.chats.ListChats(c.Request.Context(), c.Query("participant"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// DeleteChat removes a chat and its messages.
// DELETE /api/chats/:chatId
func (h *ChatHandlers) DeleteChat(c *gin.Context) {
	chatID := c.Param("chatId")
	report, err := h.chats.DeleteChat(c.Request.Context(), chatID, currentUser(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, DeleteChatResponse{ChatID: chatID, Report: report})
}

func chatResponse(chat *store.Chat) ChatResponse {
	ids := chat.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	return ChatResponse{
		ID:           chat.ID,
		Participants: chat.Participants,
		MessageIDs:   ids,
		CreatedAt:    chat.CreatedAt.Format(timeLayout),
		UpdatedAt:    chat.UpdatedAt.Format(timeLayout),
	}
}
