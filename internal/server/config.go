package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port                 string        `env:"PORT" envDefault:"8080"`
	MaxUploadSize        int64         `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`
	MaxPlayersPerSession int           `env:"MAX_PLAYERS_PER_SESSION" envDefault:"12"`
	AllowedOrigins       []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	FrontendDir          string        `env:"FRONTEND_DIR" envDefault:"dist"`
	UploadDir            string        `env:"UPLOAD_DIR" envDefault:"uploads"`
	DBPath               string        `env:"DB_PATH" envDefault:"data/tabletop.db"`
	TokenSecret          string        `env:"TOKEN_SECRET"`
	TokenTTL             time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	DefaultCellSize      float64       `env:"DEFAULT_CELL_SIZE" envDefault:"50"`
	OTelEndpoint         string        `env:"OTEL_ENDPOINT"`
	OTelEnabled          bool          `env:"OTEL_ENABLED" envDefault:"true"`
}

const defaultAllowedOrigin = "*"

// LoadConfig builds a Config from the environment, applying defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)
	if cfg.MaxUploadSize <= 0 {
		return Config{}, errors.New("MAX_UPLOAD_SIZE must be positive")
	}
	if cfg.MaxPlayersPerSession <= 0 {
		return Config{}, errors.New("MAX_PLAYERS_PER_SESSION must be positive")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, errors.New("TOKEN_TTL must be positive")
	}
	return cfg, nil
}

func normalizeOrigins(raw []string) []string {
	var origins []string
	for _, origin := range raw {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigin}
	}
	return origins
}
