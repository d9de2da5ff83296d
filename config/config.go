// Package config loads settings from an optional YAML file and STACKSNAP_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"stacksnap/filter"
	"stacksnap/process"
	"stacksnap/render"
)

type Config struct {
	HideFrames      string `yaml:"hide_frames" env:"STACKSNAP_HIDE_FRAMES" env-default:"" env-description:"frame classes to hide: system,user,inline"`
	HighlightFrames string `yaml:"highlight_frames" env:"STACKSNAP_HIGHLIGHT_FRAMES" env-default:"system,inline" env-description:"frame classes to highlight"`
	Search          string `yaml:"search" env:"STACKSNAP_SEARCH" env-default:"" env-description:"only show call paths matching this text"`
	CaseSensitive   bool   `yaml:"case_sensitive" env:"STACKSNAP_CASE_SENSITIVE" env-default:"false"`
	Regex           bool   `yaml:"regex" env:"STACKSNAP_REGEX" env-default:"false" env-description:"treat the search text as a regular expression"`

	MaxFrames     int    `yaml:"max_frames" env:"STACKSNAP_MAX_FRAMES" env-description:"frames collected per thread, 0 for no limit (default 256)"`
	ScanWindow    int    `yaml:"scan_window" env:"STACKSNAP_SCAN_WINDOW" env-default:"2048" env-description:"stack words read per thread"`
	UserModeLimit string `yaml:"user_mode_limit" env:"STACKSNAP_USER_MODE_LIMIT" env-default:"0x7fffffffffff"`

	PollInterval time.Duration `yaml:"poll_interval" env:"STACKSNAP_POLL_INTERVAL" env-default:"250ms" env-description:"progress message poll interval"`
	Output       render.Output `yaml:"output" env:"STACKSNAP_OUTPUT" env-default:"tree" env-description:"tree, table or text"`
	Columns      string        `yaml:"columns" env:"STACKSNAP_COLUMNS" env-default:"symbol,pid,tid,frame,arch"`
	Color        bool          `yaml:"color" env:"STACKSNAP_COLOR" env-description:"color output on terminals (default true)"`
	SavePath     string        `yaml:"save_path" env:"STACKSNAP_SAVE_PATH" env-default:"" env-description:"write the snapshot to this .json or .yaml file"`
	MetricsAddr  string        `yaml:"metrics_addr" env:"STACKSNAP_METRICS_ADDR" env-default:"" env-description:"serve prometheus metrics on this address"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		HighlightFrames: "system,inline",
		MaxFrames:       256,
		ScanWindow:      2048,
		UserModeLimit:   "0x7fffffffffff",
		PollInterval:    250 * time.Millisecond,
		Output:          render.OutputTree,
		Columns:         "symbol,pid,tid,frame,arch",
		Color:           true,
	}
}

// Load reads path, when given, then the environment, on top of Default.
// Fields where zero is meaningful carry no env-default so an explicit zero
// or false survives.
func Load(path string) (Config, error) {
	cfg := Default()

	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Usage describes the environment variables
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}

// Validate checks every derived value
func (c Config) Validate() error {
	var errs []error

	if _, err := c.HideRules(); err != nil {
		errs = append(errs, fmt.Errorf("hide_frames: %w", err))
	}
	if _, err := c.HighlightRules(); err != nil {
		errs = append(errs, fmt.Errorf("highlight_frames: %w", err))
	}
	if _, err := c.Limit(); err != nil {
		errs = append(errs, fmt.Errorf("user_mode_limit: %w", err))
	}
	if _, err := c.ColumnList(); err != nil {
		errs = append(errs, fmt.Errorf("columns: %w", err))
	}
	if c.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("max_frames: %d is negative", c.MaxFrames))
	}
	if c.ScanWindow <= 0 {
		errs = append(errs, fmt.Errorf("scan_window: %d must be positive", c.ScanWindow))
	}
	switch c.Output {
	case render.OutputTree, render.OutputTable, render.OutputText:
	default:
		errs = append(errs, fmt.Errorf("output: unknown %q", c.Output))
	}

	return errors.Join(errs...)
}

func (c Config) HideRules() (filter.Rule, error) {
	return filter.ParseRule(c.HideFrames)
}

func (c Config) HighlightRules() (filter.Rule, error) {
	return filter.ParseRule(c.HighlightFrames)
}

// Limit parses the user mode limit, hex with a 0x prefix or decimal
func (c Config) Limit() (process.Address, error) {
	s := strings.TrimSpace(c.UserModeLimit)
	if s == "" {
		return process.DefaultUserModeLimit, nil
	}

	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, err
	}
	return process.Address(v), nil
}

func (c Config) ColumnList() ([]render.Column, error) {
	return render.ParseColumns(c.Columns)
}
