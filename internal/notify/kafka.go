package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/vovakirdan/chatline-server/internal/core"
)

const (
	defaultQueueSize = 512
	writeTimeout     = 5 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes chat lifecycle notifications to a topic, keyed by chat id.
// Notify never blocks the caller: records are queued and written by a single goroutine.
type Kafka struct {
	writer MessageWriter
	queue  chan core.Notification
	logger *zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewKafka creates a notifier that writes to topic on brokers.
func NewKafka(brokers []string, topic string, logger *zerolog.Logger) *Kafka {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return NewWithWriter(w, 0, logger)
}

// NewWithWriter starts a notifier on top of an existing writer.
func NewWithWriter(w MessageWriter, queueSize int, logger *zerolog.Logger) *Kafka {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	k := &Kafka{
		writer:  w,
		queue:   make(chan core.Notification, queueSize),
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go k.loop()
	return k
}

// Notify queues n. It is dropped with a warning if the queue is full.
func (k *Kafka) Notify(_ context.Context, n core.Notification) {
	select {
	case <-k.done:
		return
	default:
	}
	select {
	case k.queue <- n:
	default:
		k.logger.Warn().Str("type", n.Type).Str("chat_id", n.ChatID).Msg("notification queue full, dropped")
	}
}

func (k *Kafka) loop() {
	defer close(k.stopped)
	for {
		select {
		case n := <-k.queue:
			k.write(n)
		case <-k.done:
			// Flush what is already queued.
			for {
				select {
				case n := <-k.queue:
					k.write(n)
				default:
					return
				}
			}
		}
	}
}

func (k *Kafka) write(n core.Notification) {
	value, err := json.Marshal(n)
	if err != nil {
		k.logger.Error().Err(err).Msg("encode notification")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.ChatID),
		Value: value,
		Time:  n.At,
	})
	if err != nil {
		k.logger.Error().Err(err).Str("type", n.Type).Str("chat_id", n.ChatID).Msg("kafka write failed")
	}
}

// Close stops accepting notifications, flushes the queue and closes the writer.
func (k *Kafka) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.done)
		<-k.stopped
		err = k.writer.Close()
	})
	return err
}
