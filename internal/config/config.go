package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the messaging client and its dev backend.
type Config struct {
	// APIBaseURL is the root of the content API (the *.php endpoints).
	APIBaseURL string `env:"FELLOWSHIP_API_URL" envDefault:"http://localhost:8080/api/" validate:"required,url"`
	// RealtimeURL is the websocket endpoint of the broker. Empty selects the
	// in-process loopback transport.
	RealtimeURL string `env:"FELLOWSHIP_REALTIME_URL" validate:"omitempty,url"`
	RealtimeKey string `env:"FELLOWSHIP_REALTIME_KEY" envDefault:"fellowship-dev"`
	// RealtimeSecret is only used by the dev backend to sign channel auth.
	RealtimeSecret string `env:"FELLOWSHIP_REALTIME_SECRET" envDefault:"fellowship-dev-secret"`
	AuthPath       string `env:"FELLOWSHIP_AUTH_PATH" envDefault:"pusher_auth.php"`

	MemberID   string `env:"FELLOWSHIP_MEMBER_ID"`
	MemberName string `env:"FELLOWSHIP_MEMBER_NAME"`

	UnreadInterval time.Duration `env:"FELLOWSHIP_UNREAD_INTERVAL" envDefault:"5s" validate:"gt=0"`
	StatusInterval time.Duration `env:"FELLOWSHIP_STATUS_INTERVAL" envDefault:"30s" validate:"gt=0"`
	UnreadLimit    int           `env:"FELLOWSHIP_UNREAD_LIMIT" envDefault:"10" validate:"min=1,max=100"`
	TypingTimeout  time.Duration `env:"FELLOWSHIP_TYPING_TIMEOUT" envDefault:"3s" validate:"gt=0"`
	RequestTimeout time.Duration `env:"FELLOWSHIP_REQUEST_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	PrefsPath    string `env:"FELLOWSHIP_PREFS_PATH" envDefault:".fellowship/preferences.json"`
	SoundCommand string `env:"FELLOWSHIP_SOUND_COMMAND"`
	SoundAsset   string `env:"FELLOWSHIP_SOUND_ASSET"`

	LogFormat   string `env:"FELLOWSHIP_LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel    string `env:"FELLOWSHIP_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	MetricsAddr string `env:"FELLOWSHIP_METRICS_ADDR"`

	DevAddr string `env:"FELLOWSHIP_DEV_ADDR" envDefault:":8080"`
	DevSeed string `env:"FELLOWSHIP_DEV_SEED"`
}

// Load reads the optional .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv parses and validates the current environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// UsesLoopback reports whether the realtime transport runs in-process.
func (c *Config) UsesLoopback() bool {
	return c.RealtimeURL == ""
}
