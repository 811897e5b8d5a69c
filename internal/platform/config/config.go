package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ServerConfig configures the collector server.
type ServerConfig struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"json"`
	ReportWindow       int           `env:"REPORT_WINDOW_SIZE" envDefault:"50"`
	MediaRootPath      string        `env:"MEDIA_ROOT_PATH" envDefault:"/media"`
	MaxSessions        int           `env:"MAX_SESSIONS" envDefault:"10000"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
}

// SimulateConfig configures the playback simulator.
type SimulateConfig struct {
	CollectorURL string `env:"COLLECTOR_URL" envDefault:"http://localhost:8080/media"`
	Segments     int    `env:"SIMULATE_SEGMENTS" envDefault:"10"`
	StallAt      int    `env:"SIMULATE_STALL_AT" envDefault:"4"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// ParseEnv fills target from environment variables using its env struct
// tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
