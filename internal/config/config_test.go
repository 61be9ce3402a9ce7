package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidahmann/antibody/internal/decision"
)

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "antibody.yaml")

	t.Setenv("TEST_TELEGRAM_TOKEN", "secret")

	data := "agent_id: \"EmpusaAI\"\r\n" + `
mode: demo
thresholds:
  auto_approve: 25
  confirmation: 60
  block: 85
storage:
  driver: sqlite
  dsn: "file:antibody.db"
alerts:
  enabled: true
  poll_interval: 30s
  telegram:
    token: "${TEST_TELEGRAM_TOKEN}"
    chat_id: "-100"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AgentID != "EmpusaAI" || cfg.Mode != decision.ModeDemo {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.Alerts.Telegram.Token != "secret" {
		t.Fatalf("expected expanded telegram token")
	}
	if cfg.Alerts.PollInterval != 30*time.Second {
		t.Fatalf("poll interval = %s", cfg.Alerts.PollInterval)
	}
	if cfg.Thresholds.Block != 85 || cfg.Similarity.MemoryThreshold != 0.7 {
		t.Fatalf("expected file thresholds over default similarity: %+v", cfg)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("ANTIBODY_MODE", "DEMO")
	t.Setenv("ANTIBODY_STORAGE_DRIVER", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != decision.ModeDemo || cfg.Storage.Driver != DriverMemory {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := Default()
	cfg.AgentID = "from-file"
	env := map[string]string{
		"ANTIBODY_AGENT_ID":       "from-env",
		"ANTIBODY_STORAGE_DRIVER": "postgres",
		"ANTIBODY_STORAGE_DSN":    "postgres://localhost/antibody",
		"ANTIBODY_LISTEN_ADDR":    "  ",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.AgentID != "from-env" || cfg.Storage.Driver != DriverPostgres {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("blank env value should not override")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"missing agent":      func(c *Config) { c.AgentID = "" },
		"bad mode":           func(c *Config) { c.Mode = "lenient" },
		"threshold order":    func(c *Config) { c.Thresholds = decision.Thresholds{AutoApprove: 70, Confirmation: 30, Block: 90} },
		"similarity range":   func(c *Config) { c.Similarity.RegistryThreshold = 1.5 },
		"sqlite needs dsn":   func(c *Config) { c.Storage.Driver = DriverSQLite },
		"file needs paths":   func(c *Config) { c.Storage.Driver = DriverFile },
		"unknown driver":     func(c *Config) { c.Storage.Driver = "mongo" },
		"alerts need token":  func(c *Config) { c.Alerts.Enabled = true },
		"alerts need outbox": func(c *Config) {
			c.Storage = StorageConfig{Driver: DriverFile, MemoryPath: "m.json", ThreatsPath: "t.json"}
			c.Alerts = AlertsConfig{Enabled: true, PollInterval: time.Minute, Telegram: TelegramConfig{Token: "t", ChatID: "1"}}
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}
