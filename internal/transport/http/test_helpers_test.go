package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/auth"
	"github.com/vovakirdan/chatline-server/internal/config"
	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/media"
	"github.com/vovakirdan/chatline-server/internal/proto"
	"github.com/vovakirdan/chatline-server/internal/store/sqlite"
)

type testEnv struct {
	ts   *httptest.Server
	auth *auth.Service
	cfg  *config.Config
}

type envOption func(*config.Config, *Services)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"
	cfg.PersistTimeout = 2 * time.Second
	logger := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := core.NewHub(core.HubConfig{InstanceID: "test", Logger: &logger})
	go hub.Run(ctx)

	deps := core.Deps{
		Store:           st,
		Hub:             hub,
		Logger:          &logger,
		PersistTimeout:  cfg.PersistTimeout,
		MaxContentBytes: cfg.MaxContentBytes,
	}
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      time.Hour,
	})
	svc := Services{
		Hub:      hub,
		Auth:     authService,
		Chats:    core.NewChatService(deps),
		Messages: core.NewMessageService(deps),
	}
	for _, opt := range opts {
		opt(&cfg, &svc)
	}

	// Same handler composition as production, so /ws is reached outside gin.
	ts := httptest.NewServer(NewServer(svc, &cfg, &logger).Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, auth: authService, cfg: &cfg}
}

func withMedia(svc *media.Service) envOption {
	return func(_ *config.Config, s *Services) { s.Media = svc }
}

func withRateLimit(perMinute int) envOption {
	return func(cfg *config.Config, _ *Services) { cfg.WS.MessagesPerMinute = perMinute }
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.auth.Issue(context.Background(), userID, strings.ToUpper(userID[:1])+userID[1:])
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// do sends a JSON request and returns the status with the raw body.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return v
}

func (e *testEnv) createChat(t *testing.T, token string, ids ...string) ChatResponse {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/chats", token, CreateChatRequest{ParticipantIDs: ids})
	if status != http.StatusCreated && status != http.StatusOK {
		t.Fatalf("create chat: status %d: %s", status, body)
	}
	return decode[ChatResponse](t, body)
}

type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// dial connects a websocket for token and consumes the ready event.
func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, proto.ReadyData) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	out := readOutbound(t, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != proto.EventReady {
		t.Fatalf("expected ready event, got %+v", out)
	}
	return conn, decode[proto.ReadyData](t, out.Data)
}

func readOutbound(t *testing.T, conn *websocket.Conn) wireOutbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out wireOutbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

// expectEvent reads until an event with the given name arrives, skipping others.
func expectEvent(t *testing.T, conn *websocket.Conn, name string) wireOutbound {
	t.Helper()
	for i := 0; i < 10; i++ {
		out := readOutbound(t, conn)
		if out.Type == proto.OutboundTypeEvent && out.Event == name {
			return out
		}
		if out.Type == proto.OutboundTypeError {
			t.Fatalf("expected %s, got error %+v", name, out.Error)
		}
	}
	t.Fatalf("event %s not received", name)
	return wireOutbound{}
}

func expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		out := readOutbound(t, conn)
		if out.Type != proto.OutboundTypeError {
			continue
		}
		if out.Error == nil || out.Error.Code != code {
			t.Fatalf("expected error %s, got %+v", code, out.Error)
		}
		return
	}
	t.Fatalf("error %s not received", code)
}

// expectSilence fails if anything arrives on conn within a short window.
// The read deadline closes conn, so it must be the last read on it.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	var out wireOutbound
	if err := wsjson.Read(ctx, conn, &out); err == nil {
		t.Fatalf("unexpected outbound: %+v", out)
	}
}

func writeInbound(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal inbound: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}); err != nil {
		t.Fatalf("write inbound: %v", err)
	}
}
