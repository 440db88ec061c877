package core

// Topic groups the clients subscribed to one chat.
type Topic struct {
	ChatID  string
	clients map[*Client]struct{}
}

// NewTopic constructs a topic with no clients.
func NewTopic(chatID string) *Topic {
	return &Topic{
		ChatID:  chatID,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the topic. Returns true if newly added.
func (t *Topic) AddClient(c *Client) bool {
	if _, exists := t.clients[c]; exists {
		return false
	}
	t.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the topic. Returns true if removed.
func (t *Topic) RemoveClient(c *Client) bool {
	if _, exists := t.clients[c]; !exists {
		return false
	}
	delete(t.clients, c)
	return true
}

// Broadcast sends an event to all clients in the topic and returns how many were dropped.
func (t *Topic) Broadcast(event *Event) int {
	dropped := 0
	for client := range t.clients {
		select {
		case client.Events <- event:
		default:
			// Drop if slow consumer.
			dropped++
		}
	}
	return dropped
}

// Len returns the number of subscribed clients.
func (t *Topic) Len() int {
	return len(t.clients)
}

// Empty returns true if no clients are subscribed.
func (t *Topic) Empty() bool {
	return len(t.clients) == 0
}
