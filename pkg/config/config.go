// Package config loads the runtime configuration. Every field has a
// workable default so the tool runs with no config file at all; a YAML
// file overrides only what it mentions.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// BaseURL overrides the portal root, mainly for test deployments.
	// Empty means the production portal.
	BaseURL     string          `yaml:"base_url"`
	Workbook    WorkbookConfig  `yaml:"workbook"`
	Timing      TimingConfig    `yaml:"timing"`
	ProgressDir string          `yaml:"progress_dir"`
	JournalPath string          `yaml:"journal_path"`
	Chrome      ChromeConfig    `yaml:"chrome"`
	Log         LogConfig       `yaml:"log"`
	Services    []ServiceConfig `yaml:"services"`
	Notify      NotifyConfig    `yaml:"notify"`
}

// WorkbookConfig locates the work catalog inside the Excel file.
type WorkbookConfig struct {
	Path           string   `yaml:"path"`
	Sheets         []string `yaml:"sheets"`
	SubscriberCell string   `yaml:"subscriber_cell"`
	IDColumn       string   `yaml:"id_column"`
	FirstDataRow   int      `yaml:"first_data_row"`
}

// TimingConfig carries the pacing knobs, in seconds to keep the YAML
// readable.
type TimingConfig struct {
	ActionDelaySeconds    float64 `yaml:"action_delay_seconds"`
	PageTimeoutSeconds    float64 `yaml:"page_timeout_seconds"`
	ConfirmTimeoutSeconds float64 `yaml:"confirm_timeout_seconds"`
	NavAttempts           int     `yaml:"nav_attempts"`
}

func (t TimingConfig) ActionDelay() time.Duration    { return secs(t.ActionDelaySeconds) }
func (t TimingConfig) PageTimeout() time.Duration    { return secs(t.PageTimeoutSeconds) }
func (t TimingConfig) ConfirmTimeout() time.Duration { return secs(t.ConfirmTimeoutSeconds) }

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

type ChromeConfig struct {
	Headless bool `yaml:"headless"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ServiceConfig overrides the built-in service catalog when present.
type ServiceConfig struct {
	Label    string `yaml:"label"`
	CheckAll bool   `yaml:"check_all"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

func Default() Config {
	return Config{
		Workbook: WorkbookConfig{
			Path:           "TVA A TRANSFERER.xlsx",
			Sheets:         []string{"TVA 3", "TVA 4", "TVA 5", "TVA 6", "TVA 7", "TVA 8"},
			SubscriberCell: "A1",
			IDColumn:       "D",
			FirstDataRow:   4,
		},
		Timing: TimingConfig{
			ActionDelaySeconds:    1,
			PageTimeoutSeconds:    30,
			ConfirmTimeoutSeconds: 10,
			NavAttempts:           3,
		},
		ProgressDir: ".",
		JournalPath: "delegatva.db",
		Log:         LogConfig{Level: "info", File: "delegatva.log"},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error; the defaults describe a complete setup.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Workbook.Path == "" {
		return errors.New("workbook.path is required")
	}
	if len(c.Workbook.Sheets) == 0 {
		return errors.New("workbook.sheets must list at least one sheet")
	}
	if c.Workbook.FirstDataRow < 1 {
		return errors.New("workbook.first_data_row must be at least 1")
	}
	if c.Timing.NavAttempts < 1 {
		return errors.New("timing.nav_attempts must be at least 1")
	}
	return nil
}
