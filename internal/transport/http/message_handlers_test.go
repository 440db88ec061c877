package http

import (
	"net/http"
	"testing"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/proto"
)

func TestSendAndListMessages(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice")
	bob := env.token(t, "bob")
	chat := env.createChat(t, alice, "bob")

	for _, tc := range []struct {
		token, content string
	}{{alice, "first"}, {bob, "second"}, {alice, "third"}} {
		status, body := env.do(t, http.MethodPost, "/api/messages", tc.token, SendMessageRequest{ChatID: chat.ID, Content: "  " + tc.content + "  "})
		if status != http.StatusCreated {
			t.Fatalf("send %s: %d %s", tc.content, status, body)
		}
	}

	status, body := env.do(t, http.MethodGet, "/api/messages/"+chat.ID, bob, nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, body)
	}
	msgs := decode[[]proto.MessageData](t, body)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []struct{ content, sender, recipient string }{
		{"first", "alice", "bob"},
		{"second", "bob", "alice"},
		{"third", "alice", "bob"},
	}
	for i, w := range want {
		m := msgs[i]
		if m.Content != w.content || m.Sender != w.sender || m.Recipient != w.recipient || m.MediaType != "none" {
			t.Fatalf("message %d: unexpected %+v", i, m)
		}
	}
}

func TestSendMessageRejections(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice")
	carol := env.token(t, "carol")
	chat := env.createChat(t, alice, "bob")

	tests := []struct {
		name   string
		token  string
		req    SendMessageRequest
		status int
		code   string
	}{
		{name: "empty content", token: alice, req: SendMessageRequest{ChatID: chat.ID, Content: "   "}, status: http.StatusBadRequest, code: core.ErrCodeBadRequest},
		{name: "missing chat id", token: alice, req: SendMessageRequest{Content: "hi"}, status: http.StatusBadRequest, code: core.ErrCodeBadRequest},
		{name: "url without kind", token: alice, req: SendMessageRequest{ChatID: chat.ID, MediaURL: "https://x/y.png"}, status: http.StatusBadRequest, code: core.ErrCodeBadRequest},
		{name: "unknown chat", token: alice, req: SendMessageRequest{ChatID: "nope", Content: "hi"}, status: http.StatusNotFound, code: core.ErrCodeNotFound},
		{name: "non participant", token: carol, req: SendMessageRequest{ChatID: chat.ID, Content: "hi"}, status: http.StatusNotFound, code: core.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/messages", tt.token, tt.req)
			if status != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, status, body)
			}
			if resp := decode[ErrorResponse](t, body); resp.Code != tt.code {
				t.Fatalf("expected code %s, got %+v", tt.code, resp)
			}
		})
	}

	_, body := env.do(t, http.MethodGet, "/api/messages/"+chat.ID, alice, nil)
	if msgs := decode[[]proto.MessageData](t, body); len(msgs) != 0 {
		t.Fatalf("rejected sends must not persist, got %+v", msgs)
	}
}

func TestSendAttachmentOnly(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice")
	chat := env.createChat(t, alice, "bob")

	status, body := env.do(t, http.MethodPost, "/api/messages", alice, SendMessageRequest{
		ChatID:    chat.ID,
		MediaURL:  "https://cdn.test/a.png",
		MediaType: "image",
	})
	if status != http.StatusCreated {
		t.Fatalf("send: %d %s", status, body)
	}
	msg := decode[proto.MessageData](t, body)
	if msg.Content != "" || msg.MediaType != "image" || msg.MediaURL != "https://cdn.test/a.png" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestListMessagesMissingVersusEmpty(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice")
	chat := env.createChat(t, alice, "bob")

	status, body := env.do(t, http.MethodGet, "/api/messages/"+chat.ID, alice, nil)
	if status != http.StatusOK || string(body) != "[]" {
		t.Fatalf("expected empty list, got %d %s", status, body)
	}

	status, _ = env.do(t, http.MethodGet, "/api/messages/missing", alice, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestEditAndDeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice")
	bob := env.token(t, "bob")
	chat := env.createChat(t, alice, "bob")

	_, body := env.do(t, http.MethodPost, "/api/messages", alice, SendMessageRequest{ChatID: chat.ID, Content: "original"})
	msg := decode[proto.MessageData](t, body)
	path := "/api/messages/" + msg.ID

	edited := "changed"
	if status, _ := env.do(t, http.MethodPut, path, bob, EditMessageRequest{Content: &edited}); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-sender edit, got %d", status)
	}

	empty := " "
	if status, _ := env.do(t, http.MethodPut, path, alice, EditMessageRequest{Content: &empty}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for edit that leaves nothing, got %d", status)
	}

	status, body := env.do(t, http.MethodPut, path, alice, EditMessageRequest{Content: &edited})
	if status != http.StatusOK {
		t.Fatalf("edit: %d %s", status, body)
	}
	if got := decode[proto.MessageData](t, body); got.Content != "changed" || got.ID != msg.ID {
		t.Fatalf("unexpected edited message: %+v", got)
	}

	if status, _ := env.do(t, http.MethodDelete, path, bob, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-sender delete, got %d", status)
	}
	if status, _ := env.do(t, http.MethodDelete, path, alice, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d", status)
	}
	if status, _ := env.do(t, http.MethodDelete, path, alice, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}

	_, body = env.do(t, http.MethodGet, "/api/chats?participant=alice", alice, nil)
	views := decode[[]core.ChatView](t, body)
	if len(views) != 1 || len(views[0].Messages) != 0 {
		t.Fatalf("deleted message still listed: %+v", views)
	}
}
