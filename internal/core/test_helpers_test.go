package core

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/chatline-server/internal/store"
	"github.com/vovakirdan/chatline-server/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func noEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		if ev != nil {
			t.Fatalf("unexpected event %v for chat %s", ev.Kind, ev.ChatID)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func newMemoryStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()
	s, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		return sqlite.Migrate(db)
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recordingHub captures what the services ask the hub to do.
type recordingHub struct {
	mu         sync.Mutex
	events     []*Event
	subscribes map[string][]string
	closed     []string
}

func newRecordingHub() *recordingHub {
	return &recordingHub{subscribes: make(map[string][]string)}
}

func (h *recordingHub) Publish(ev *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHub) SubscribeUsers(chatID string, userIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribes[chatID] = append(h.subscribes[chatID], userIDs...)
}

func (h *recordingHub) CloseTopic(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, chatID)
}

func (h *recordingHub) kinds() []EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventKind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Type)
	}
	return out
}

type fixture struct {
	store    store.Store
	hub      *recordingHub
	notifier *recordingNotifier
	chats    *ChatService
	messages *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, newMemoryStore(t), 0)
}

func newFixtureWithStore(t *testing.T, st store.Store, timeout time.Duration) *fixture {
	t.Helper()
	hub := newRecordingHub()
	notifier := &recordingNotifier{}
	deps := Deps{Store: st, Hub: hub, Notifier: notifier, PersistTimeout: timeout, MaxContentBytes: 4096}
	return &fixture{
		store:    st,
		hub:      hub,
		notifier: notifier,
		chats:    NewChatService(deps),
		messages: NewMessageService(deps),
	}
}

func (f *fixture) chat(t *testing.T, a, b string) *store.Chat {
	t.Helper()
	chat, _, err := f.chats.CreateChat(context.Background(), a, []string{b})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}
