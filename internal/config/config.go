package config

import (
	"errors"
	"fmt"
	"time"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	// PersistTimeout bounds every persistence call made on behalf of a request.
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	// MaxMessageBytes limits a single inbound websocket frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	// MaxContentBytes limits trimmed message text.
	MaxContentBytes int `mapstructure:"max_content_bytes" yaml:"max_content_bytes"`

	Store StoreConfig `mapstructure:"store" yaml:"store"`
	JWT   JWTConfig   `mapstructure:"jwt" yaml:"jwt"`
	WS    WSConfig    `mapstructure:"ws" yaml:"ws"`
	Sweep SweepConfig `mapstructure:"sweep" yaml:"sweep"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	Media MediaConfig `mapstructure:"media" yaml:"media"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver            string `mapstructure:"driver" yaml:"driver"`
	SQLitePath        string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	MongoURI          string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase     string `mapstructure:"mongo_database" yaml:"mongo_database"`
	MongoTransactions bool   `mapstructure:"mongo_transactions" yaml:"mongo_transactions"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// WSConfig configures the websocket gateway.
type WSConfig struct {
	MessagesPerMinute int `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	ClientBuffer      int `mapstructure:"client_buffer" yaml:"client_buffer"`
}

// SweepConfig configures the recovery sweeper. Zero interval disables it.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// RedisConfig configures the cross-instance relay. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// KafkaConfig configures lifecycle notifications. No brokers disables them.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// MediaConfig configures attachment uploads. Empty Bucket disables them.
type MediaConfig struct {
	Bucket        string `mapstructure:"bucket" yaml:"bucket"`
	Region        string `mapstructure:"region" yaml:"region"`
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
	MaxBytes      int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		PersistTimeout:    5 * time.Second,
		MaxMessageBytes:   1 << 20,
		MaxContentBytes:   4000,
		Store: StoreConfig{
			Driver:        DriverSQLite,
			SQLitePath:    "chatline.db",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "chatline",
		},
		JWT: JWTConfig{
			Secret:   "change-me",
			Issuer:   "chatline",
			Audience: "chatline",
			TTL:      24 * time.Hour,
		},
		WS: WSConfig{
			MessagesPerMinute: 120,
			ClientBuffer:      64,
		},
		Sweep: SweepConfig{Interval: 5 * time.Minute},
		Redis: RedisConfig{Channel: "chatline:hub"},
		Kafka: KafkaConfig{Topic: "chatline.events"},
		Media: MediaConfig{
			Region:   "us-east-1",
			MaxBytes: 10 << 20,
		},
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			errs = append(errs, errors.New("store.mongo_uri and store.mongo_database are required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("jwt.ttl must be positive"))
	}
	if c.Kafka.Topic == "" && len(c.Kafka.Brokers) > 0 {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Redis.Channel == "" && c.Redis.Addr != "" {
		errs = append(errs, errors.New("redis.channel is required when redis.addr is set"))
	}
	return errors.Join(errs...)
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the keys exposed as command-line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Store.SQLitePath != "" {
		c.Store.SQLitePath = other.Store.SQLitePath
	}
	if other.Store.MongoURI != "" {
		c.Store.MongoURI = other.Store.MongoURI
	}
}
