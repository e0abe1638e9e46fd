// Package daemon loads configuration and wires the ledger, the agent
// session and the HTTP server into one running process.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full contents of config.toml.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Agent   AgentConfig   `toml:"agent"`
	Metrics MetricsConfig `toml:"metrics"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig controls where the ledger database lives. An empty Dir
// means the agenda home directory.
type StorageConfig struct {
	Dir string `toml:"dir"`
}

// AgentConfig controls the external agent.
type AgentConfig struct {
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
	APIKeyEnv   string  `toml:"api_key_env"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Agent: AgentConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.7,
			Timeout:     "60s",
			APIKeyEnv:   "GEMINI_API_KEY",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Home returns the agenda home directory: $AGENDA_HOME or ~/.agenda.
func Home() string {
	if env := os.Getenv("AGENDA_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agenda")
}

// ConfigPath returns the path of config.toml inside home.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.toml")
}

// LoadConfig reads .env (if present), then home/config.toml over the
// defaults, then applies environment overrides. A missing file is not an
// error.
func LoadConfig(home string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	path := ConfigPath(home)
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = home
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("AGENDA_API_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("AGENDA_API_PORT: invalid port %q", v)
		}
		cfg.API.Port = port
	}
	return nil
}

// Addr returns host:port for the listener.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIKey reads the agent API key from the configured environment variable.
func (c AgentConfig) APIKey() string {
	name := c.APIKeyEnv
	if name == "" {
		name = DefaultConfig().Agent.APIKeyEnv
	}
	return strings.TrimSpace(os.Getenv(name))
}

// TimeoutDuration parses Timeout, falling back to 60s.
func (c AgentConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 60*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Encode renders cfg as TOML.
func Encode(cfg Config) (string, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return "", err
	}
	return b.String(), nil
}
