// /internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken          string   `env:"DISCORD_TOKEN,required,notEmpty"`
	DiscordGuildBlacklist []string `env:"DISCORD_GUILD_BLACKLIST" envSeparator:","`
	InitSlashCommands     bool     `env:"INIT_SLASH_COMMANDS" envDefault:"true"`

	StoragePath string `env:"STORAGE_PATH" envDefault:"datastore.json"`
	MediaDir    string `env:"MEDIA_DIR" envDefault:"media"`

	CommandCacheDir string `env:"COMMAND_CACHE_DIR" envDefault:"data/commands"`

	StatusAddr string `env:"STATUS_ADDR" envDefault:":8788"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	YouTubeProxy string `env:"YOUTUBE_PROXY"`

	RedisAddr   string `env:"REDIS_ADDR"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"melodeck:status"`

	DefaultVolume        int           `env:"DEFAULT_VOLUME" envDefault:"80"`
	FadeFloor            int           `env:"FADE_FLOOR" envDefault:"5"`
	SelectionTimeout     time.Duration `env:"SELECTION_TIMEOUT" envDefault:"60s"`
	SubscriberBacklog    int           `env:"SUBSCRIBER_BACKLOG" envDefault:"256"`
	ProgressEditInterval time.Duration `env:"PROGRESS_EDIT_INTERVAL" envDefault:"1s"`
}

// Load reads an optional .env file and then the process environment.
// A missing .env file is reported through loaded=false, not as an error.
func Load() (cfg *Config, loaded bool, err error) {
	loaded = godotenv.Load() == nil

	cfg = &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, loaded, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		errs = append(errs, fmt.Errorf("DEFAULT_VOLUME must be 0-100, got %d", c.DefaultVolume))
	}
	if c.FadeFloor < 1 || c.FadeFloor > 100 {
		errs = append(errs, fmt.Errorf("FADE_FLOOR must be 1-100, got %d", c.FadeFloor))
	}
	if c.SelectionTimeout <= 0 {
		errs = append(errs, errors.New("SELECTION_TIMEOUT must be positive"))
	}
	if c.SubscriberBacklog < 1 {
		errs = append(errs, errors.New("SUBSCRIBER_BACKLOG must be at least 1"))
	}
	if c.ProgressEditInterval < 0 {
		errs = append(errs, errors.New("PROGRESS_EDIT_INTERVAL must not be negative"))
	}
	return errors.Join(errs...)
}
