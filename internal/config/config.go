package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (CLASH_SERVER_ADDR, ...).
const EnvPrefix = "CLASH"

// Config is the complete clash configuration.
type Config struct {
	Browser      BrowserConfig      `mapstructure:"browser"`
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Locator      PollConfig         `mapstructure:"locator"`
	Ready        PollConfig         `mapstructure:"ready"`
	Timing       TimingConfig       `mapstructure:"timing"`
	Log          LogConfig          `mapstructure:"log"`
}

// BrowserConfig controls how the Chromium instance hosting the agents is obtained.
type BrowserConfig struct {
	// Bin is the browser executable; empty means auto-detect
	Bin string `mapstructure:"bin"`
	// Headless runs without a window. Most chat products refuse headless sessions.
	Headless bool `mapstructure:"headless"`
	// UserDataDir is the persistent profile holding agent logins
	UserDataDir string `mapstructure:"user_data_dir"`
	// ControlURL connects to an already running browser instead of launching one
	ControlURL string `mapstructure:"control_url"`
}

// ServerConfig controls the HTTP/SSE transport.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Heartbeat is the SSE keep-alive comment interval
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// OrchestratorConfig holds session-level limits.
type OrchestratorConfig struct {
	// SafetyCap bounds sessions started without a round limit
	SafetyCap int `mapstructure:"safety_cap"`
	// KeepAlive is a cron spec run while a session is active
	KeepAlive string `mapstructure:"keepalive"`
	// PreloadReadyRetries is the readiness budget used while preloading
	PreloadReadyRetries int `mapstructure:"preload_ready_retries"`
	// ModelSettle is the pause after a model switch
	ModelSettle time.Duration `mapstructure:"model_settle"`
	// AdapterProcesses drives each agent through its own `clash adapter`
	// child attached to the shared browser, instead of container frames
	AdapterProcesses bool `mapstructure:"adapter_processes"`
}

// PollConfig is a bounded polling budget.
type PollConfig struct {
	Retries  int           `mapstructure:"retries"`
	Interval time.Duration `mapstructure:"interval"`
}

// TimingConfig bounds the adapter's response wait.
type TimingConfig struct {
	Poll          time.Duration `mapstructure:"poll"`
	StartTimeout  time.Duration `mapstructure:"start_timeout"`
	FinishTimeout time.Duration `mapstructure:"finish_timeout"`
	StableWindow  time.Duration `mapstructure:"stable_window"`
	StableTimeout time.Duration `mapstructure:"stable_timeout"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	p := GetPaths()
	return &Config{
		Browser: BrowserConfig{
			UserDataDir: p.Profile,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:7878",
			Heartbeat: 15 * time.Second,
		},
		Storage: StorageConfig{
			Path: filepath.Join(p.Data, "clash.db"),
		},
		Orchestrator: OrchestratorConfig{
			SafetyCap:           50,
			KeepAlive:           "@every 24s",
			PreloadReadyRetries: 20,
			ModelSettle:         500 * time.Millisecond,
		},
		Locator: PollConfig{Retries: 15, Interval: 2 * time.Second},
		Ready:   PollConfig{Retries: 30, Interval: 2 * time.Second},
		Timing: TimingConfig{
			Poll:          200 * time.Millisecond,
			StartTimeout:  15 * time.Second,
			FinishTimeout: 120 * time.Second,
			StableWindow:  2 * time.Second,
			StableTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// SetDefaults registers every default on v so that env overrides resolve.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.user_data_dir", d.Browser.UserDataDir)
	v.SetDefault("browser.control_url", d.Browser.ControlURL)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.heartbeat", d.Server.Heartbeat)

	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("orchestrator.safety_cap", d.Orchestrator.SafetyCap)
	v.SetDefault("orchestrator.keepalive", d.Orchestrator.KeepAlive)
	v.SetDefault("orchestrator.preload_ready_retries", d.Orchestrator.PreloadReadyRetries)
	v.SetDefault("orchestrator.model_settle", d.Orchestrator.ModelSettle)
	v.SetDefault("orchestrator.adapter_processes", d.Orchestrator.AdapterProcesses)

	v.SetDefault("locator.retries", d.Locator.Retries)
	v.SetDefault("locator.interval", d.Locator.Interval)
	v.SetDefault("ready.retries", d.Ready.Retries)
	v.SetDefault("ready.interval", d.Ready.Interval)

	v.SetDefault("timing.poll", d.Timing.Poll)
	v.SetDefault("timing.start_timeout", d.Timing.StartTimeout)
	v.SetDefault("timing.finish_timeout", d.Timing.FinishTimeout)
	v.SetDefault("timing.stable_window", d.Timing.StableWindow)
	v.SetDefault("timing.stable_timeout", d.Timing.StableTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
}

// NewViper returns a viper instance wired with defaults, CLASH_* env overrides
// and the given config file (which may not exist).
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	return v
}

// Load reads the config file if present and returns the validated configuration.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}
