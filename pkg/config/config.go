package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all eventwire configuration.
type Config struct {
	Listen    string          `yaml:"listen" toml:"listen"`
	DBPath    string          `yaml:"db_path" toml:"db_path"`
	LockPath  string          `yaml:"lock_path" toml:"lock_path"`
	Timezone  string          `yaml:"timezone" toml:"timezone"`
	AI        AIConfig        `yaml:"ai" toml:"ai"`
	Summary   SummaryConfig   `yaml:"summary" toml:"summary"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	VK        VKConfig        `yaml:"vk" toml:"vk"`
	Telegram  TelegramConfig  `yaml:"telegram" toml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// AIConfig lists the language-model backends. Fallback is used only when
// no entry in Providers is usable.
type AIConfig struct {
	Providers []ProviderConfig `yaml:"providers" toml:"providers"`
	Fallback  *ProviderConfig  `yaml:"fallback" toml:"fallback"`
}

// ProviderConfig defines one upstream LLM credential.
// Name selects the backend variant ("deepseek", "openai", "gemini", ...).
// Model and URL are optional; the variant supplies defaults.
type ProviderConfig struct {
	Name   string `yaml:"name" toml:"name"`
	APIKey string `yaml:"api_key" toml:"api_key"`
	Model  string `yaml:"model" toml:"model"`
	URL    string `yaml:"url" toml:"url"`
}

// SummaryConfig controls digest summaries.
type SummaryConfig struct {
	PrimaryLanguage    string `yaml:"primary_language" toml:"primary_language"`
	PrimaryMaxLength   int    `yaml:"primary_max_length" toml:"primary_max_length"`
	SecondaryMaxLength int    `yaml:"secondary_max_length" toml:"secondary_max_length"`
	KeywordLanguage    string `yaml:"keyword_language" toml:"keyword_language"`
}

// CacheConfig controls the classification cache retention windows.
type CacheConfig struct {
	PositiveTTLSeconds int `yaml:"positive_ttl_seconds" toml:"positive_ttl_seconds"`
	NegativeTTLSeconds int `yaml:"negative_ttl_seconds" toml:"negative_ttl_seconds"`
}

// PositiveTTL is how long an "is an event" outcome stays cached.
func (c CacheConfig) PositiveTTL() time.Duration {
	return time.Duration(c.PositiveTTLSeconds) * time.Second
}

// NegativeTTL is how long a "not an event" outcome stays cached.
func (c CacheConfig) NegativeTTL() time.Duration {
	return time.Duration(c.NegativeTTLSeconds) * time.Second
}

// VKConfig configures the newsfeed source.
type VKConfig struct {
	AccessToken string `yaml:"access_token" toml:"access_token"`
	APIVersion  string `yaml:"api_version" toml:"api_version"`
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	Keyword     string `yaml:"keyword" toml:"keyword"`
	FetchCount  int    `yaml:"fetch_count" toml:"fetch_count"`
}

// TelegramConfig configures the bot transport.
// Mode is "polling" (default) or "webhook".
type TelegramConfig struct {
	BotToken     string `yaml:"bot_token" toml:"bot_token"`
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	Mode         string `yaml:"mode" toml:"mode"`
	WebhookURL   string `yaml:"webhook_url" toml:"webhook_url"`
	RefreshLabel string `yaml:"refresh_label" toml:"refresh_label"`
	WelcomeText  string `yaml:"welcome_text" toml:"welcome_text"`
}

// SchedulerConfig sets the periodic pipeline interval.
type SchedulerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" toml:"interval_seconds"`
}

// Interval returns the pipeline tick interval.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8443",
		DBPath:   "eventwire.db",
		LockPath: "eventwire.lock",
		Summary: SummaryConfig{
			PrimaryLanguage:    "zh",
			PrimaryMaxLength:   30,
			SecondaryMaxLength: 60,
			KeywordLanguage:    "ru",
		},
		Cache: CacheConfig{
			PositiveTTLSeconds: 5 * 60 * 60,
			NegativeTTLSeconds: 10 * 60,
		},
		VK: VKConfig{
			APIVersion: "5.131",
			BaseURL:    "https://api.vk.com/method",
			Keyword:    "новости",
			FetchCount: 20,
		},
		Telegram: TelegramConfig{
			BaseURL:      "https://api.telegram.org",
			Mode:         "polling",
			RefreshLabel: "刷一下",
			WelcomeText:  "欢迎使用VK信息摘要翻译机器人！点击下方按钮刷新最新消息。",
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a YAML or TOML config file and expands environment variables.
// The format is chosen by file extension; anything but .toml is YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	return cfg, nil
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ValidateAI checks the AI and summary sections against the known backend
// variant names.
func (c *Config) ValidateAI(known []string) error {
	var errs []error
	check := func(where string, p ProviderConfig) {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name != "" && !slices.Contains(known, name) {
			errs = append(errs, fmt.Errorf("%s: unsupported provider %q", where, p.Name))
		}
	}
	for i, p := range c.AI.Providers {
		check(fmt.Sprintf("ai.providers[%d]", i), p)
	}
	if c.AI.Fallback != nil {
		check("ai.fallback", *c.AI.Fallback)
	}
	if c.Summary.PrimaryMaxLength <= 0 {
		errs = append(errs, errors.New("summary.primary_max_length must be positive"))
	}
	if c.Summary.SecondaryMaxLength <= 0 {
		errs = append(errs, errors.New("summary.secondary_max_length must be positive"))
	}
	if c.Cache.PositiveTTLSeconds <= 0 || c.Cache.NegativeTTLSeconds <= 0 {
		errs = append(errs, errors.New("cache ttl values must be positive"))
	}
	return errors.Join(errs...)
}

// Validate checks everything the daemon needs to run.
func (c *Config) Validate(known []string) error {
	errs := []error{c.ValidateAI(known)}
	if strings.TrimSpace(c.VK.AccessToken) == "" {
		errs = append(errs, errors.New("vk.access_token is required"))
	}
	if c.VK.FetchCount <= 0 {
		errs = append(errs, errors.New("vk.fetch_count must be positive"))
	}
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		errs = append(errs, errors.New("telegram.bot_token is required"))
	}
	switch c.Telegram.Mode {
	case "polling":
	case "webhook":
		if c.Telegram.WebhookURL == "" {
			errs = append(errs, errors.New("telegram.webhook_url is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("telegram.mode: unsupported value %q", c.Telegram.Mode))
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("scheduler.interval_seconds must be positive"))
	}
	return errors.Join(errs...)
}
