package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/antibody/internal/decision"
	"github.com/davidahmann/antibody/internal/logging"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	AgentID    string              `yaml:"agent_id"`
	ListenAddr string              `yaml:"listen_addr"`
	Mode       decision.Mode       `yaml:"mode"`
	Thresholds decision.Thresholds `yaml:"thresholds"`
	Similarity SimilarityConfig    `yaml:"similarity"`
	RulesPath  string              `yaml:"rules_path"`
	WatchRules bool                `yaml:"watch_rules"`
	Storage    StorageConfig       `yaml:"storage"`
	Ledger     LedgerConfig        `yaml:"ledger"`
	Alerts     AlertsConfig        `yaml:"alerts"`
	Log        logging.Config      `yaml:"log"`
}

type SimilarityConfig struct {
	MemoryThreshold   float64 `yaml:"memory_threshold"`
	RegistryThreshold float64 `yaml:"registry_threshold"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	MemoryPath  string `yaml:"memory_path"`
	ThreatsPath string `yaml:"threats_path"`
}

type LedgerConfig struct {
	Network        string `yaml:"network"`
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

type AlertsConfig struct {
	Enabled bool `yaml:"enabled"`
	// PollInterval is how often the gateway drains the outbox.
	PollInterval time.Duration  `yaml:"poll_interval"`
	Telegram     TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

// Default is a complete, valid configuration: strict mode, in-process
// storage, no alerts.
func Default() Config {
	return Config{
		AgentID:    "antibody",
		ListenAddr: ":8080",
		Mode:       decision.ModeStrict,
		Thresholds: decision.DefaultThresholds(),
		Similarity: SimilarityConfig{MemoryThreshold: 0.7, RegistryThreshold: 0.6},
		Storage:    StorageConfig{Driver: DriverMemory},
		Ledger:     LedgerConfig{Network: "testnet", KeyID: "antibody-dev"},
		Alerts:     AlertsConfig{PollInterval: 5 * time.Second},
		Log:        logging.Config{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the
// defaults alone. Environment overrides are applied before validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 -- path is operator-provided config path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		expanded := os.ExpandEnv(string(raw))
		expanded = strings.ReplaceAll(expanded, "\r\n", "\n")
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// ApplyEnv overrides file values with non-empty ANTIBODY_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.AgentID, "ANTIBODY_AGENT_ID")
	set(&c.ListenAddr, "ANTIBODY_LISTEN_ADDR")
	set(&c.RulesPath, "ANTIBODY_RULES_PATH")
	set(&c.Storage.Driver, "ANTIBODY_STORAGE_DRIVER")
	set(&c.Storage.DSN, "ANTIBODY_STORAGE_DSN")
	set(&c.Storage.MemoryPath, "ANTIBODY_MEMORY_PATH")
	set(&c.Storage.ThreatsPath, "ANTIBODY_THREATS_PATH")
	set(&c.Ledger.Network, "ANTIBODY_LEDGER_NETWORK")
	set(&c.Ledger.KeyID, "ANTIBODY_LEDGER_KEY_ID")
	set(&c.Ledger.PrivateKeyPath, "ANTIBODY_LEDGER_KEY_PATH")
	set(&c.Alerts.Telegram.Token, "ANTIBODY_TELEGRAM_TOKEN")
	set(&c.Alerts.Telegram.ChatID, "ANTIBODY_TELEGRAM_CHAT_ID")
	set(&c.Log.Level, "ANTIBODY_LOG_LEVEL")

	var mode string
	set(&mode, "ANTIBODY_MODE")
	if mode != "" {
		c.Mode = decision.Mode(strings.ToLower(mode))
	}
}

func (c Config) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	switch c.Mode {
	case decision.ModeStrict, decision.ModeDemo:
	default:
		return fmt.Errorf("mode must be strict or demo, got %q", c.Mode)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := validFraction("similarity.memory_threshold", c.Similarity.MemoryThreshold); err != nil {
		return err
	}
	if err := validFraction("similarity.registry_threshold", c.Similarity.RegistryThreshold); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Storage.MemoryPath == "" || c.Storage.ThreatsPath == "" {
			return fmt.Errorf("storage.memory_path and storage.threats_path are required when storage.driver=file")
		}
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver=%s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Alerts.Enabled {
		if c.Alerts.Telegram.Token == "" || c.Alerts.Telegram.ChatID == "" {
			return fmt.Errorf("alerts.telegram.token and alerts.telegram.chat_id are required when alerts.enabled=true")
		}
		if c.Alerts.PollInterval < time.Second {
			return fmt.Errorf("alerts.poll_interval must be at least 1s")
		}
		if c.Storage.Driver == DriverFile {
			return errors.New("alerts need an outbox; storage.driver=file has none")
		}
	}
	return nil
}

func validFraction(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0,1], got %v", name, v)
	}
	return nil
}
