package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/auth"
	"github.com/vovakirdan/chatline-server/internal/config"
	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/metrics"
	"github.com/vovakirdan/chatline-server/internal/proto"
	"github.com/vovakirdan/chatline-server/internal/utils"
)

// WSHandler authenticates, upgrades and bridges connections to the hub.
type WSHandler struct {
	hub      *core.Hub
	auth     *auth.Service
	chats    *core.ChatService
	messages *core.MessageService
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(svc Services, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:      svc.Hub,
		auth:     svc.Auth,
		chats:    svc.Chats,
		messages: svc.Messages,
		cfg:      cfg,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		writeUnauthorized(w, "missing token")
		return
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws token rejected")
		writeUnauthorized(w, "invalid token")
		return
	}
	userID := claims.UserID()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewClient(utils.NewID(), userID, claims.Username, h.cfg.WS.ClientBuffer)
	logger := h.log.With().Str("client_id", client.ID).Str("user_id", userID).Logger()

	if err := h.chats.RememberUser(ctx, userID, claims.Username); err != nil {
		logger.Warn().Err(err).Msg("failed to record user")
	}

	// Register before loading chats so a chat created in between is still subscribed.
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	chatIDs, err := h.chats.ChatIDsFor(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load chats")
		conn.Close(websocket.StatusInternalError, "failed to load chats")
		return
	}
	h.hub.SubscribeClient(client, chatIDs...)

	// Nothing else writes to conn until the write loop starts.
	ready := proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventReady,
		Data:  proto.ReadyData{User: userID, Chats: chatIDs, Protocol: proto.ProtocolVersion},
	}
	if err := wsjson.Write(ctx, conn, ready); err != nil {
		logger.Warn().Err(err).Msg("write ready")
		return
	}
	logger.Info().Int("chats", len(chatIDs)).Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
	logger.Info().Msg("ws disconnected")
}

// readLoop handles inbound frames one at a time, so a connection's sends reach
// the message service in the order they were written.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.cfg.WS.MessagesPerMinute)
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow() {
			metrics.RateLimited.Inc()
			h.hub.SendTo(client, core.ErrorEvent(core.NewError(core.ErrCodeRateLimited, "too many messages")))
			continue
		}

		if err := h.handleInbound(ctx, client, payload); err != nil {
			logger.Debug().Err(err).Str("code", core.CodeOf(err)).Msg("inbound rejected")
			h.hub.SendTo(client, core.ErrorEvent(err))
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) handleInbound(ctx context.Context, client *core.Client, payload []byte) error {
	var inbound proto.Inbound
	if err := json.Unmarshal(payload, &inbound); err != nil {
		return core.NewError(core.ErrCodeBadRequest, "malformed frame")
	}

	switch inbound.Type {
	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return core.NewError(core.ErrCodeBadRequest, "malformed send_message payload")
		}
		return h.sendMessage(ctx, client, data)
	default:
		return core.NewError(core.ErrCodeBadRequest, "unknown message type")
	}
}

func (h *WSHandler) sendMessage(ctx context.Context, client *core.Client, data proto.SendMessageData) error {
	if data.Sender != "" && data.Sender != client.UserID {
		return core.NewError(core.ErrCodeForbidden, "sender does not match the authenticated user")
	}

	chatID := strings.TrimSpace(data.ChatID)
	if chatID == "" {
		recipient := strings.TrimSpace(data.Recipient)
		if recipient == "" {
			return core.NewError(core.ErrCodeBadRequest, "chatId or recipient is required")
		}
		chat, err := h.chats.FindChatBetween(ctx, client.UserID, recipient)
		if err != nil {
			return err
		}
		chatID = chat.ID
	}

	_, err := h.messages.Send(ctx, core.SendInput{
		ChatID:     chatID,
		SenderID:   client.UserID,
		Content:    data.Content,
		Attachment: attachmentFrom(data.MediaURL, data.MediaType),
	})
	return err
}

func writeUnauthorized(w stdhttp.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(stdhttp.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: core.ErrCodeUnauthorized})
}
