package core

const defaultClientBuffer = 32

// Client is a live gateway connection as seen by the core layer.
type Client struct {
	ID     string
	UserID string
	Name   string
	Events chan *Event

	// topics is owned by the hub goroutine.
	topics map[string]struct{}
}

// NewClient constructs a client with an event buffer of the given size.
func NewClient(id, userID, name string, buffer int) *Client {
	if name == "" {
		name = userID
	}
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Name:   name,
		Events: make(chan *Event, buffer),
		topics: make(map[string]struct{}),
	}
}
