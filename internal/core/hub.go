package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/metrics"
)

// Broadcaster is the part of the hub the services depend on.
type Broadcaster interface {
	// Publish fans ev out to every subscriber of ev.ChatID.
	Publish(ev *Event)
	// SubscribeUsers subscribes every connected client of userIDs to chatID.
	SubscribeUsers(chatID string, userIDs ...string)
	// CloseTopic unsubscribes everyone from chatID.
	CloseTopic(chatID string)
}

// RelayKind tells a remote hub what to do with an envelope.
type RelayKind string

const (
	RelayEvent     RelayKind = "event"
	RelaySubscribe RelayKind = "subscribe"
	RelayClose     RelayKind = "close"
)

// RelayEnvelope carries hub traffic between instances.
type RelayEnvelope struct {
	Origin  string    `json:"origin"`
	Kind    RelayKind `json:"kind"`
	ChatID  string    `json:"chatId"`
	UserIDs []string  `json:"userIds,omitempty"`
	Event   *Event    `json:"event,omitempty"`
}

// Relay forwards local hub traffic to other instances. Forward must not block.
type Relay interface {
	Forward(env *RelayEnvelope)
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opSubscribeClient
	opSubscribeUsers
	opCloseTopic
	opPublish
	opDirect
)

type op struct {
	kind    opKind
	client  *Client
	chatID  string
	chatIDs []string
	userIDs []string
	event   *Event
	remote  bool
}

// HubConfig configures a Hub.
type HubConfig struct {
	// InstanceID identifies this process on the relay.
	InstanceID string
	Relay      Relay
	Logger     *zerolog.Logger
	// QueueSize bounds pending hub operations.
	QueueSize int
}

// Hub owns live clients and chat topics. All state is touched only by the Run goroutine.
type Hub struct {
	id     string
	ops    chan op
	done   chan struct{}
	relay  Relay
	logger *zerolog.Logger

	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{}
	topics  map[string]*Topic
}

// NewHub creates a new hub. Call Run to start it.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	return &Hub{
		id:      cfg.InstanceID,
		ops:     make(chan op, size),
		done:    make(chan struct{}),
		relay:   cfg.Relay,
		logger:  logger,
		clients: make(map[*Client]struct{}),
		users:   make(map[string]map[*Client]struct{}),
		topics:  make(map[string]*Topic),
	}
}

// InstanceID returns the relay identity of this hub.
func (h *Hub) InstanceID() string {
	return h.id
}

// Run processes hub operations until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.removeClient(c)
			}
			return
		case o := <-h.ops:
			h.apply(o)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) enqueue(o op) {
	select {
	case h.ops <- o:
	case <-h.done:
	}
}

// RegisterClient adds a client. Its Events channel is closed on unregister or shutdown.
func (h *Hub) RegisterClient(c *Client) {
	h.enqueue(op{kind: opRegister, client: c})
}

// UnregisterClient removes a client from all topics.
func (h *Hub) UnregisterClient(c *Client) {
	h.enqueue(op{kind: opUnregister, client: c})
}

// SubscribeClient subscribes a registered client to chatIDs.
func (h *Hub) SubscribeClient(c *Client, chatIDs ...string) {
	h.enqueue(op{kind: opSubscribeClient, client: c, chatIDs: chatIDs})
}

// SubscribeUsers subscribes every connected client of userIDs to chatID, here and on other instances.
func (h *Hub) SubscribeUsers(chatID string, userIDs ...string) {
	h.enqueue(op{kind: opSubscribeUsers, chatID: chatID, userIDs: userIDs})
}

// CloseTopic drops every subscription to chatID, here and on other instances.
func (h *Hub) CloseTopic(chatID string) {
	h.enqueue(op{kind: opCloseTopic, chatID: chatID})
}

// Publish fans ev out to the subscribers of ev.ChatID, here and on other instances.
func (h *Hub) Publish(ev *Event) {
	h.enqueue(op{kind: opPublish, chatID: ev.ChatID, event: ev})
}

// SendTo delivers ev to a single client only.
func (h *Hub) SendTo(c *Client, ev *Event) {
	h.enqueue(op{kind: opDirect, client: c, event: ev})
}

// Deliver applies an envelope received from another instance. It is never forwarded again.
func (h *Hub) Deliver(env *RelayEnvelope) {
	if env == nil || env.Origin == h.id {
		return
	}
	switch env.Kind {
	case RelayEvent:
		if env.Event == nil {
			return
		}
		h.enqueue(op{kind: opPublish, chatID: env.ChatID, event: env.Event, remote: true})
	case RelaySubscribe:
		h.enqueue(op{kind: opSubscribeUsers, chatID: env.ChatID, userIDs: env.UserIDs, remote: true})
	case RelayClose:
		h.enqueue(op{kind: opCloseTopic, chatID: env.ChatID, remote: true})
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opRegister:
		h.addClient(o.client)
	case opUnregister:
		h.removeClient(o.client)
	case opSubscribeClient:
		if _, ok := h.clients[o.client]; !ok {
			return
		}
		for _, chatID := range o.chatIDs {
			h.subscribe(o.client, chatID)
		}
	case opSubscribeUsers:
		for _, userID := range o.userIDs {
			for c := range h.users[userID] {
				h.subscribe(c, o.chatID)
			}
		}
		if !o.remote {
			h.forward(&RelayEnvelope{Kind: RelaySubscribe, ChatID: o.chatID, UserIDs: o.userIDs})
		}
	case opCloseTopic:
		h.closeTopic(o.chatID)
		if !o.remote {
			h.forward(&RelayEnvelope{Kind: RelayClose, ChatID: o.chatID})
		}
	case opPublish:
		if topic, ok := h.topics[o.chatID]; ok {
			if dropped := topic.Broadcast(o.event); dropped > 0 {
				metrics.DroppedEvents.Add(float64(dropped))
				h.logger.Warn().Str("chat_id", o.chatID).Int("dropped", dropped).Msg("slow consumers, events dropped")
			}
		}
		if !o.remote {
			h.forward(&RelayEnvelope{Kind: RelayEvent, ChatID: o.chatID, Event: o.event})
		}
	case opDirect:
		if _, ok := h.clients[o.client]; !ok {
			return
		}
		select {
		case o.client.Events <- o.event:
		default:
			metrics.DroppedEvents.Inc()
		}
	}
}

func (h *Hub) addClient(c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = struct{}{}
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]struct{})
	}
	h.users[c.UserID][c] = struct{}{}
	h.logger.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client registered")
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for chatID := range c.topics {
		if topic, ok := h.topics[chatID]; ok {
			topic.RemoveClient(c)
			if topic.Empty() {
				delete(h.topics, chatID)
			}
		}
	}
	c.topics = make(map[string]struct{})

	if conns := h.users[c.UserID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.UserID)
		}
	}
	delete(h.clients, c)
	close(c.Events)
	metrics.ActiveTopics.Set(float64(len(h.topics)))
	h.logger.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client unregistered")
}

func (h *Hub) subscribe(c *Client, chatID string) {
	topic, ok := h.topics[chatID]
	if !ok {
		topic = NewTopic(chatID)
		h.topics[chatID] = topic
		metrics.ActiveTopics.Set(float64(len(h.topics)))
	}
	if topic.AddClient(c) {
		c.topics[chatID] = struct{}{}
	}
}

func (h *Hub) closeTopic(chatID string) {
	topic, ok := h.topics[chatID]
	if !ok {
		return
	}
	for c := range topic.clients {
		delete(c.topics, chatID)
	}
	delete(h.topics, chatID)
	metrics.ActiveTopics.Set(float64(len(h.topics)))
}

func (h *Hub) forward(env *RelayEnvelope) {
	if h.relay == nil {
		return
	}
	env.Origin = h.id
	h.relay.Forward(env)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(*Event)                   {}
func (nopBroadcaster) SubscribeUsers(string, ...string) {}
func (nopBroadcaster) CloseTopic(string)                {}
