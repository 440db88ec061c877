package relay

import (
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/store"
)

func TestDecodeSkipsOwnEnvelopes(t *testing.T) {
	env := core.RelayEnvelope{
		Origin: "node-a",
		Kind:   core.RelayEvent,
		ChatID: "chat-1",
		Event: &core.Event{
			Kind:    core.EventReceiveMessage,
			ChatID:  "chat-1",
			Message: &store.Message{ID: "m1", ChatID: "chat-1", SenderID: "alice", Content: "hi"},
		},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	own, err := decode(payload, "node-a")
	if err != nil || own != nil {
		t.Fatalf("expected own envelope to be skipped, got %+v, %v", own, err)
	}

	remote, err := decode(payload, "node-b")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if remote.Event == nil || remote.Event.Kind != core.EventReceiveMessage || remote.Event.Message.Content != "hi" {
		t.Fatalf("event did not survive the round trip: %+v", remote)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode([]byte("not json"), "node-a"); err == nil {
		t.Fatal("expected error for invalid payload")
	}
	if _, err := decode([]byte(`{"kind":"event"}`), "node-a"); err == nil {
		t.Fatal("expected error for envelope without origin")
	}
}

func TestForwardDropsWhenQueueFull(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	r := newRedis(client, Options{Channel: "test", InstanceID: "node-a", QueueSize: 1})
	r.Forward(&core.RelayEnvelope{Origin: "node-a", Kind: core.RelayClose, ChatID: "c1"})
	// Must return immediately even though nothing drains the queue.
	r.Forward(&core.RelayEnvelope{Origin: "node-a", Kind: core.RelayClose, ChatID: "c2"})

	if got := len(r.queue); got != 1 {
		t.Fatalf("expected 1 queued envelope, got %d", got)
	}
	if env := <-r.queue; env.ChatID != "c1" {
		t.Fatalf("expected first envelope to be kept, got %s", env.ChatID)
	}
}
