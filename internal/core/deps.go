package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/metrics"
	"github.com/vovakirdan/chatline-server/internal/store"
)

// Notifier publishes lifecycle notifications. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

// Deps are the collaborators shared by the chat and message services.
type Deps struct {
	Store    store.Store
	Hub      Broadcaster
	Notifier Notifier
	Logger   *zerolog.Logger
	// PersistTimeout bounds every store call. Zero means no bound.
	PersistTimeout time.Duration
	// MaxContentBytes limits trimmed message content. Zero means no limit.
	MaxContentBytes int
}

func (d Deps) withDefaults() Deps {
	if d.Hub == nil {
		d.Hub = nopBroadcaster{}
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	return d
}

func (d Deps) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.PersistTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.PersistTimeout)
}

func (d Deps) notify(ctx context.Context, typ, chatID string, msg *store.Message, messageID string) {
	d.Notifier.Notify(context.WithoutCancel(ctx), Notification{
		Type:      typ,
		ChatID:    chatID,
		MessageID: messageID,
		Message:   msg,
		At:        time.Now().UTC(),
	})
}

func (d Deps) fail(op string, err error) error {
	if ce := AsCoreError(err); ce != nil {
		switch ce.Code {
		case ErrCodePersistenceFailure, ErrCodeDeliveryTimeout, ErrCodePartialFailure:
			metrics.PersistFailures.WithLabelValues(ce.Code).Inc()
			d.Logger.Error().Err(err).Str("op", op).Str("code", ce.Code).Msg("persistence failed")
		}
	}
	return err
}
