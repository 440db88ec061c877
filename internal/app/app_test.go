package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/config"
)

func TestOpenStoreSelectsDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "chat.db")

	st, err := OpenStore(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfg.Store.Driver = "postgres"
	if _, err := OpenStore(context.Background(), &cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "chat.db")
	cfg.Sweep.Interval = 0
	cfg.ShutdownTimeout = time.Second
	logger := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}
