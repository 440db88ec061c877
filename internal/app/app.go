package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/auth"
	"github.com/vovakirdan/chatline-server/internal/config"
	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/media"
	"github.com/vovakirdan/chatline-server/internal/metrics"
	"github.com/vovakirdan/chatline-server/internal/notify"
	"github.com/vovakirdan/chatline-server/internal/relay"
	"github.com/vovakirdan/chatline-server/internal/store"
	"github.com/vovakirdan/chatline-server/internal/store/mongodb"
	"github.com/vovakirdan/chatline-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatline-server/internal/transport/http"
	"github.com/vovakirdan/chatline-server/internal/utils"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	relay           *relay.Redis
	notifier        *notify.Kafka
	sweeper         *core.Sweeper
	log             *zerolog.Logger
}

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		return mongodb.New(ctx, mongodb.Options{
			URI:          cfg.Store.MongoURI,
			Database:     cfg.Store.MongoDatabase,
			Transactions: cfg.Store.MongoTransactions,
		})
	case config.DriverSQLite, "":
		return sqlite.New(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// JWTConfig converts the configured JWT settings.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	}
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	metrics.Init()

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store initialized")

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}

	instanceID := utils.NewShortID()
	hubCfg := core.HubConfig{InstanceID: instanceID, Logger: logger}
	if cfg.Redis.Addr != "" {
		r, err := relay.NewRedis(ctx, relay.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Channel:    cfg.Redis.Channel,
			InstanceID: instanceID,
			Logger:     logger,
		})
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init relay: %w", err)
		}
		a.relay = r
		hubCfg.Relay = r
		logger.Info().Str("redis", cfg.Redis.Addr).Str("instance", instanceID).Msg("cross-instance relay enabled")
	}
	a.hub = core.NewHub(hubCfg)

	deps := core.Deps{
		Store:           st,
		Hub:             a.hub,
		Logger:          logger,
		PersistTimeout:  cfg.PersistTimeout,
		MaxContentBytes: cfg.MaxContentBytes,
	}
	if len(cfg.Kafka.Brokers) > 0 {
		a.notifier = notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		deps.Notifier = a.notifier
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka notifications enabled")
	}

	var mediaService *media.Service
	if cfg.Media.Bucket != "" {
		uploader, err := media.NewS3Uploader(ctx, media.S3Options{
			Bucket:        cfg.Media.Bucket,
			Region:        cfg.Media.Region,
			Endpoint:      cfg.Media.Endpoint,
			PublicBaseURL: cfg.Media.PublicBaseURL,
		})
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init media: %w", err)
		}
		mediaService = media.NewService(uploader, cfg.Media.MaxBytes)
		logger.Info().Str("bucket", cfg.Media.Bucket).Msg("media uploads enabled")
	}

	a.sweeper = core.NewSweeper(st, cfg.Sweep.Interval, logger)
	a.server = transporthttp.NewServer(transporthttp.Services{
		Hub:      a.hub,
		Auth:     auth.NewService(st, JWTConfig(cfg)),
		Chats:    core.NewChatService(deps),
		Messages: core.NewMessageService(deps),
		Media:    mediaService,
	}, cfg, logger)

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)
	go a.sweeper.Run(ctx)
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx, a.hub); err != nil {
				a.log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the store and the optional integrations.
func (a *App) cleanup() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close kafka writer")
		}
	}
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close relay")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
