package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	DBDSN             string        `env:"DB_DSN,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	JWTSecret string        `env:"JWT_SECRET,notEmpty"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	Cache CacheConfig

	NotificationDedupWindow time.Duration `env:"NOTIFICATION_DEDUP_WINDOW" envDefault:"24h"`
	MessageRatePerMinute    int64         `env:"MESSAGE_RATE_PER_MINUTE" envDefault:"60"`

	Realtime RealtimeConfig
}

// CacheConfig holds the TTL of every cached view.
type CacheConfig struct {
	ProfileTTL      time.Duration `env:"CACHE_PROFILE_TTL" envDefault:"5m"`
	PostTTL         time.Duration `env:"CACHE_POST_TTL" envDefault:"5m"`
	FeedTTL         time.Duration `env:"CACHE_FEED_TTL" envDefault:"1m"`
	ConversationTTL time.Duration `env:"CACHE_CONVERSATION_TTL" envDefault:"2m"`
	NotificationTTL time.Duration `env:"CACHE_NOTIFICATION_TTL" envDefault:"2m"`
	CounterTTL      time.Duration `env:"CACHE_COUNTER_TTL" envDefault:"1m"`
}

// RealtimeConfig tunes the websocket pumps.
type RealtimeConfig struct {
	WriteWait      time.Duration `env:"WS_WRITE_WAIT" envDefault:"10s"`
	PongWait       time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"8192"`
	SendBuffer     int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	EventRate      float64       `env:"WS_EVENT_RATE" envDefault:"10"`
	EventBurst     int           `env:"WS_EVENT_BURST" envDefault:"20"`
}

// Load reads a .env file when one exists, then parses the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.NotificationDedupWindow <= 0 {
		return errors.New("NOTIFICATION_DEDUP_WINDOW must be positive")
	}
	if c.Realtime.PongWait <= 0 || c.Realtime.WriteWait <= 0 {
		return errors.New("WS_PONG_WAIT and WS_WRITE_WAIT must be positive")
	}
	if c.Realtime.SendBuffer < 1 {
		return errors.New("WS_SEND_BUFFER must be >= 1")
	}
	if c.Realtime.EventBurst < 1 {
		return errors.New("WS_EVENT_BURST must be >= 1")
	}
	if c.MessageRatePerMinute < 0 {
		return errors.New("MESSAGE_RATE_PER_MINUTE must be >= 0")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.New("LOG_FORMAT must be console or json")
	}
	return nil
}

// PingPeriod must stay below PongWait so a healthy peer never times out.
func (r RealtimeConfig) PingPeriod() time.Duration {
	return (r.PongWait * 9) / 10
}
