// Package config loads outreach settings from config.yaml and the environment.
// Environment variables override YAML values. Secrets (API keys, the
// PostgreSQL DSN) are only read from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const FileName = "config.yaml"

// Config holds all configuration for the outreach CLI.
type Config struct {
	// Account namespaces the data directory and the PostgreSQL rows.
	Account string `yaml:"account" env:"OUTREACH_ACCOUNT" env-default:"default"`
	// DataDir has no env binding; OUTREACH_DATA_DIR is resolved by the CLI
	// so the --data-dir flag can sit between it and this value.
	DataDir string `yaml:"data_dir"`

	Store  StoreConfig  `yaml:"store"`
	Limits LimitsConfig `yaml:"limits"`
	LLM    LLMConfig    `yaml:"llm"`
	Hook   HookConfig   `yaml:"hook"`
	Log    LogConfig    `yaml:"log"`

	Path string `yaml:"-"` // file the config was read from, empty when none
}

type StoreConfig struct {
	Backend     string        `yaml:"backend" env:"OUTREACH_STORE" env-default:"csv"`
	PostgresDSN string        `yaml:"-" env:"OUTREACH_PG_DSN"` // Secret - not in YAML
	LockTTL     time.Duration `yaml:"lock_ttl" env:"OUTREACH_LOCK_TTL" env-default:"10m"`
}

type LimitsConfig struct {
	DailySendCap int `yaml:"daily_send_cap" env:"OUTREACH_DAILY_SEND_CAP" env-default:"30"`
}

// LLMConfig configures the score and message stages.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"OUTREACH_LLM_PROVIDER" env-default:"claude-cli"`
	Model       string        `yaml:"model" env:"OUTREACH_LLM_MODEL"`
	APIKey      string        `yaml:"-" env:"OUTREACH_LLM_API_KEY"` // Secret - not in YAML
	Endpoint    string        `yaml:"endpoint" env:"OUTREACH_LLM_ENDPOINT"`
	MaxTokens   int           `yaml:"max_tokens" env-default:"1024"`
	Temperature float64       `yaml:"temperature" env-default:"0.2"`
	Binary      string        `yaml:"binary" env:"OUTREACH_CLAUDE_BIN" env-default:"claude"`
	Timeout     time.Duration `yaml:"timeout" env-default:"3m"`

	// Threshold decides send/skip when the model omits a decision.
	Threshold       float64 `yaml:"threshold" env-default:"60"`
	MaxMessageChars int     `yaml:"max_message_chars" env-default:"300"`
	Rubric          string  `yaml:"rubric"`
	Instructions    string  `yaml:"instructions"`
	SenderName      string  `yaml:"sender_name" env:"OUTREACH_SENDER_NAME"`
}

// HookConfig names the executable that fetches profiles and sends messages.
type HookConfig struct {
	Command string        `yaml:"command" env:"OUTREACH_HOOK"`
	Timeout time.Duration `yaml:"timeout" env-default:"2m"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"OUTREACH_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"OUTREACH_LOG_FORMAT" env-default:"console"`
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	return &Config{
		Account: "default",
		Store:   StoreConfig{Backend: "csv", LockTTL: 10 * time.Minute},
		Limits:  LimitsConfig{DailySendCap: 30},
		LLM: LLMConfig{
			Provider:        "claude-cli",
			MaxTokens:       1024,
			Temperature:     0.2,
			Binary:          "claude",
			Timeout:         3 * time.Minute,
			Threshold:       60,
			MaxMessageChars: 300,
		},
		Hook: HookConfig{Timeout: 2 * time.Minute},
		Log:  LogConfig{Level: "info", Format: "console"},
	}
}

// DefaultPath is the per-user config location.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "outreach", FileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(home, ".config", "outreach", FileName)
}

// Load reads path, or the first of ./config.yaml and DefaultPath() that
// exists when path is empty. A missing file is not an error when path was
// not given explicitly; env and defaults still apply. An optional .env in
// the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, candidate := range []string{FileName, DefaultPath()} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	cfg := &Config{}
	switch {
	case path != "":
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		cfg.Path = path
	default:
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.applyKeyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyKeyFallbacks reads the provider's conventional key variable when
// OUTREACH_LLM_API_KEY is unset.
func (c *Config) applyKeyFallbacks() {
	if c.LLM.APIKey != "" {
		return
	}
	switch c.LLM.Provider {
	case "openai":
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Account) == "" {
		errs = append(errs, errors.New("account must not be empty"))
	} else if strings.ContainsAny(c.Account, `/\`) || c.Account == "." || c.Account == ".." {
		errs = append(errs, fmt.Errorf("account %q must be a plain directory name", c.Account))
	}
	switch c.Store.Backend {
	case "csv", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.backend postgres requires OUTREACH_PG_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q (want csv, sqlite or postgres)", c.Store.Backend))
	}
	if c.Limits.DailySendCap <= 0 {
		errs = append(errs, errors.New("limits.daily_send_cap must be > 0"))
	}
	if c.LLM.Threshold < 0 || c.LLM.Threshold > 100 {
		errs = append(errs, errors.New("llm.threshold must be within 0-100"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q (want console or json)", c.Log.Format))
	}
	return errors.Join(errs...)
}

// WriteDefault writes Default() as YAML to path. An existing file is left
// alone unless force is set.
func WriteDefault(path string, force bool) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return err
	}
	header := "# outreach configuration. Secrets come from the environment:\n" +
		"#   OUTREACH_LLM_API_KEY (or OPENAI_API_KEY / ANTHROPIC_API_KEY), OUTREACH_PG_DSN\n"
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
