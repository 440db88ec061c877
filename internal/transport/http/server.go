package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/auth"
	"github.com/vovakirdan/chatline-server/internal/config"
	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/media"
	"github.com/vovakirdan/chatline-server/internal/metrics"
)

// Services bundles what the HTTP layer talks to.
type Services struct {
	Hub      *core.Hub
	Auth     *auth.Service
	Chats    *core.ChatService
	Messages *core.MessageService
	// Media is optional; uploads answer 503 without it.
	Media *media.Service
}

// NewServer builds an HTTP server with REST, websocket and operational routes.
func NewServer(svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(svc, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler serves /ws directly and everything else through the gin router.
// The websocket handler hijacks the connection, so it stays outside gin.
func NewHandler(svc Services, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(svc, cfg, logger))
	mux.Handle("/", NewRouter(svc, cfg, logger))
	return mux
}

// NewRouter wires the REST and operational routes onto a gin engine.
func NewRouter(svc Services, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	chats := NewChatHandlers(svc.Chats, logger)
	messages := NewMessageHandlers(svc.Messages, logger)
	uploads := NewMediaHandlers(svc.Media, logger)

	api := router.Group("/api")
	api.Use(AuthMiddleware(svc.Auth, logger))
	{
		api.POST("/chats", chats.CreateChat)
		api.GET("/chats", chats.ListChats)
		api.DELETE("/chats/:chatId", chats.DeleteChat)

		api.POST("/messages", messages.SendMessage)
		api.GET("/messages/:chatId", messages.ListMessages)
		api.PUT("/messages/:messageId", messages.EditMessage)
		api.DELETE("/messages/:messageId", messages.DeleteMessage)

		api.POST("/media", uploads.Upload)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
