package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/metrics"
)

const defaultQueueSize = 1024

// Deliverer applies envelopes received from other instances.
type Deliverer interface {
	Deliver(env *core.RelayEnvelope)
}

// Options configures the Redis relay.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	// InstanceID marks envelopes published by this process.
	InstanceID string
	QueueSize  int
	Logger     *zerolog.Logger
}

// Redis fans hub traffic out to other instances over a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	id      string
	queue   chan *core.RelayEnvelope
	logger  *zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return newRedis(client, opts), nil
}

func newRedis(client *redis.Client, opts Options) *Redis {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Redis{
		client:  client,
		channel: opts.Channel,
		id:      opts.InstanceID,
		queue:   make(chan *core.RelayEnvelope, size),
		logger:  logger,
	}
}

// Forward queues env for publishing. Envelopes are dropped when the queue is full.
func (r *Redis) Forward(env *core.RelayEnvelope) {
	select {
	case r.queue <- env:
	default:
		metrics.RelayEnvelopes.WithLabelValues("dropped").Inc()
		r.logger.Warn().Str("chat_id", env.ChatID).Str("kind", string(env.Kind)).Msg("relay queue full, envelope dropped")
	}
}

// Run publishes queued envelopes and delivers remote ones until ctx is done.
func (r *Redis) Run(ctx context.Context, d Deliverer) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so nothing published after Run starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Str("instance", r.id).Msg("relay subscribed")

	go r.publishLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := decode([]byte(msg.Payload), r.id)
			if err != nil {
				r.logger.Warn().Err(err).Msg("relay: bad envelope")
				continue
			}
			if env == nil {
				continue
			}
			metrics.RelayEnvelopes.WithLabelValues("in").Inc()
			d.Deliver(env)
		}
	}
}

func (r *Redis) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.queue:
			payload, err := json.Marshal(env)
			if err != nil {
				r.logger.Error().Err(err).Msg("relay: encode envelope")
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.logger.Error().Err(err).Str("chat_id", env.ChatID).Msg("relay: publish failed")
				continue
			}
			metrics.RelayEnvelopes.WithLabelValues("out").Inc()
		}
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// decode parses a payload and returns nil for envelopes that originated here.
func decode(payload []byte, self string) (*core.RelayEnvelope, error) {
	var env core.RelayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Origin == "" {
		return nil, fmt.Errorf("envelope without origin")
	}
	if env.Origin == self {
		return nil, nil
	}
	return &env, nil
}
