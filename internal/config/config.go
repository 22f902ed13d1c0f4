package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Server  Server
	Backend Backend
	Poller  Poller
	Cache   Cache
	Upload  Upload
	Log     Log

	DBPath    string `env:"DB_PATH" env-default:"data/mailcheck.db"`
	OutputDir string `env:"OUTPUT_DIR" env-default:"out"`
}

type Server struct {
	Host        string        `env:"HTTP_HOST" env-default:"localhost"`
	Port        string        `env:"HTTP_PORT" env-default:"8080"`
	Timeout     time.Duration `env:"HTTP_TIMEOUT" env-default:"30s"`
	IdleTimeout time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

type Backend struct {
	BaseURL           string        `env:"BACKEND_BASE_URL" env-default:"https://api.mailcheck.local/v1"`
	Token             string        `env:"BACKEND_TOKEN"`
	OAuthClientID     string        `env:"BACKEND_OAUTH_CLIENT_ID"`
	OAuthClientSecret string        `env:"BACKEND_OAUTH_CLIENT_SECRET"`
	OAuthTokenURL     string        `env:"BACKEND_OAUTH_TOKEN_URL"`
	Timeout           time.Duration `env:"BACKEND_TIMEOUT" env-default:"30s"`
	RateLimitRPS      int           `env:"BACKEND_RATE_LIMIT_RPS" env-default:"10"`
	MaxAttempts       int           `env:"BACKEND_MAX_ATTEMPTS" env-default:"3"`
}

type Poller struct {
	Interval    time.Duration `env:"POLLER_INTERVAL" env-default:"15s"`
	Batch       int           `env:"POLLER_BATCH" env-default:"50"`
	Concurrency int           `env:"FETCH_CONCURRENCY" env-default:"4"`
	AutoExport  bool          `env:"POLLER_AUTO_EXPORT" env-default:"false"`
}

type Cache struct {
	Size int           `env:"CACHE_SIZE" env-default:"1024"`
	TTL  time.Duration `env:"CACHE_TTL" env-default:"5m"`
}

type Upload struct {
	MaxFiles int   `env:"UPLOAD_MAX_FILES" env-default:"10"`
	MaxBytes int64 `env:"UPLOAD_MAX_BYTES" env-default:"52428800"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"pretty"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env config: %w", err)
	}
	if cfg.Poller.Concurrency <= 0 {
		cfg.Poller.Concurrency = 1
	}
	if cfg.Backend.MaxAttempts <= 0 {
		cfg.Backend.MaxAttempts = 1
	}
	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// OAuthEnabled reports whether the backend client should mint tokens with
// the client-credentials flow instead of a static token.
func (b Backend) OAuthEnabled() bool {
	return strings.TrimSpace(b.OAuthClientID) != "" && strings.TrimSpace(b.OAuthTokenURL) != ""
}

// RequireBackendAuth checks that unattended callers such as the poller have
// service credentials; request-scoped user tokens do not count.
func (c Config) RequireBackendAuth() error {
	if c.Backend.OAuthEnabled() {
		return c.Require("BACKEND_OAUTH_CLIENT_SECRET", c.Backend.OAuthClientSecret)
	}
	return c.Require("BACKEND_TOKEN", c.Backend.Token)
}
