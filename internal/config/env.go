// Package config loads process settings from the environment and the
// character catalog from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Shard is the configuration of one shard process.
type Shard struct {
	ShardID             string        `env:"SHARD_ID,required"`
	ListenAddr          string        `env:"LISTEN_ADDR" envDefault:":8080"`
	AdvertiseURL        string        `env:"ADVERTISE_URL"`
	StoreBackend        string        `env:"STORE_BACKEND" envDefault:"dynamodb"`
	StateTable          string        `env:"STATE_TABLE"`
	ParamPrefix         string        `env:"PARAM_PREFIX" envDefault:"/media-companion"`
	CharactersPath      string        `env:"CHARACTERS_PATH" envDefault:"characters.yaml"`
	CycleInterval       time.Duration `env:"CYCLE_INTERVAL" envDefault:"45s"`
	BatchSize           int           `env:"BATCH_SIZE" envDefault:"5"`
	PageSize            int           `env:"PAGE_SIZE" envDefault:"50"`
	MaxPages            int           `env:"MAX_PAGES" envDefault:"10"`
	MaxDeliveryFailures int           `env:"MAX_DELIVERY_FAILURES" envDefault:"5"`
	PeerTimeout         time.Duration `env:"PEER_TIMEOUT" envDefault:"5s"`
	DefaultMinutes      int           `env:"DEFAULT_MINUTES" envDefault:"30"`
	ChatBaseURL         string        `env:"CHAT_BASE_URL" envDefault:"https://discord.com/api/v10"`
	TagSearchBaseURL    string        `env:"TAGSEARCH_BASE_URL" envDefault:"https://danbooru.donmai.us"`
	LinkAggBaseURL      string        `env:"LINKAGG_BASE_URL" envDefault:"https://www.reddit.com"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint        string        `env:"OTEL_ENDPOINT"`
}

// Control is the configuration of the control-plane function.
type Control struct {
	StateTable     string        `env:"STATE_TABLE,required"`
	PeerTimeout    time.Duration `env:"PEER_TIMEOUT" envDefault:"5s"`
	DefaultMinutes int           `env:"DEFAULT_MINUTES" envDefault:"30"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadShard parses and validates the shard configuration.
func LoadShard() (Shard, error) {
	var cfg Shard
	if err := ParseEnv(&cfg); err != nil {
		return Shard{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Shard{}, err
	}
	return cfg, nil
}

func (c *Shard) Validate() error {
	c.ShardID = strings.TrimSpace(c.ShardID)
	if c.ShardID == "" {
		return errors.New("config: SHARD_ID must not be empty")
	}
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case StoreDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.CycleInterval <= 0 {
		return errors.New("config: CYCLE_INTERVAL must be positive")
	}
	if c.BatchSize <= 0 || c.PageSize <= 0 || c.MaxPages <= 0 {
		return errors.New("config: BATCH_SIZE, PAGE_SIZE and MAX_PAGES must be positive")
	}
	if c.MaxDeliveryFailures < 0 {
		return errors.New("config: MAX_DELIVERY_FAILURES must not be negative")
	}
	if c.AdvertiseURL == "" {
		c.AdvertiseURL = "http://localhost" + c.ListenAddr
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Shard) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
