package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	logger := zerolog.New(nil)

	cfg, resolved, err := Load(&logger, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config was not written: %v", err)
	}

	def := Default()
	if cfg.Addr != def.Addr || cfg.Store.Driver != DriverSQLite || cfg.JWT.TTL != def.JWT.TTL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Media.MaxBytes != 10<<20 {
		t.Fatalf("expected 10MiB media limit, got %d", cfg.Media.MaxBytes)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
addr: ":9090"
persist_timeout: 2s
store:
  driver: mongo
  mongo_database: fromfile
ws:
  messages_per_minute: 10
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHATLINE_STORE_MONGO_DATABASE", "fromenv")
	t.Setenv("CHATLINE_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("file value not applied: %s", cfg.Addr)
	}
	if cfg.PersistTimeout != 2*time.Second {
		t.Fatalf("duration not parsed: %v", cfg.PersistTimeout)
	}
	if cfg.Store.Driver != DriverMongo || cfg.Store.MongoDatabase != "fromenv" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.WS.MessagesPerMinute != 10 || cfg.WS.ClientBuffer != Default().WS.ClientBuffer {
		t.Fatalf("unexpected ws config: %+v", cfg.WS)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	bad := Default()
	bad.Store.Driver = "postgres"
	bad.JWT.Secret = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", Store: StoreConfig{Driver: DriverMongo}})

	if cfg.Addr != ":1234" || cfg.Store.Driver != DriverMongo {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ShutdownTimeout != Default().ShutdownTimeout {
		t.Fatal("zero override must not clear existing value")
	}
}
