// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Wait() WaitConfig
	Retry() RetryConfig
	Site() SiteConfig
	Artifacts() ArtifactsConfig
	Scenario() ScenarioConfig
	Run() RunConfig

	// Browser Setters
	SetBrowserName(string)
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)

	// Run Setters
	SetRunBrowsers([]string)
	SetRunParallel(bool)
}

// Config holds the entire application configuration. It is built once at
// startup and handed to every component; nothing reads it ad hoc.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	WaitCfg      WaitConfig      `mapstructure:"wait" yaml:"wait"`
	RetryCfg     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	SiteCfg      SiteConfig      `mapstructure:"site" yaml:"site"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	ScenarioCfg  ScenarioConfig  `mapstructure:"scenario" yaml:"scenario"`
	RunCfg       RunConfig       `mapstructure:"run" yaml:"run"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Wait() WaitConfig           { return c.WaitCfg }
func (c *Config) Retry() RetryConfig         { return c.RetryCfg }
func (c *Config) Site() SiteConfig           { return c.SiteCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }
func (c *Config) Scenario() ScenarioConfig   { return c.ScenarioCfg }
func (c *Config) Run() RunConfig             { return c.RunCfg }

// --- Interface Method Implementations (Setters) ---

// Browser Setters
func (c *Config) SetBrowserName(name string)     { c.BrowserCfg.Name = name }
func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(url string) { c.BrowserCfg.RemoteURL = url }

// Run Setters
func (c *Config) SetRunBrowsers(names []string) { c.RunCfg.Browsers = names }
func (c *Config) SetRunParallel(b bool)         { c.RunCfg.Parallel = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and shapes the automation client.
type BrowserConfig struct {
	// Name is the browser to drive: chrome, chromium, firefox or webkit.
	Name string `mapstructure:"name" yaml:"name"`
	// Engine forces the automation backend: auto, chromedp or playwright.
	Engine   string `mapstructure:"engine" yaml:"engine"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	// RemoteURL attaches to an existing browser (a DevTools websocket for
	// chromedp, a Playwright browser server for playwright) instead of
	// launching one.
	RemoteURL    string `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath     string `mapstructure:"exec_path" yaml:"exec_path"`
	WindowWidth  int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int    `mapstructure:"window_height" yaml:"window_height"`
	UserAgent    string `mapstructure:"user_agent" yaml:"user_agent"`
	// Args are extra browser command-line switches, "name" or "name=value".
	Args []string `mapstructure:"args" yaml:"args"`
	// ActionTimeout bounds the engine's own actionability checks on click
	// and hover (Playwright only), so a covered element is reported as
	// intercepted instead of being waited out.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// LaunchRate caps browser launches per second across parallel runs.
	LaunchRate  float64 `mapstructure:"launch_rate" yaml:"launch_rate"`
	LaunchBurst int     `mapstructure:"launch_burst" yaml:"launch_burst"`
}

// WaitConfig holds the wait budgets injected into every interaction session.
type WaitConfig struct {
	// Explicit is the default timeout of readiness waits.
	Explicit time.Duration `mapstructure:"explicit" yaml:"explicit"`
	// Implicit bounds every single client command.
	Implicit     time.Duration `mapstructure:"implicit" yaml:"implicit"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RetryConfig is the default retry budget of the interaction session.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Delay      time.Duration `mapstructure:"delay" yaml:"delay"`
}

// SiteConfig describes the site under test.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// ArtifactsConfig controls what is kept after a run.
type ArtifactsConfig struct {
	ScreenshotsDir      string `mapstructure:"screenshots_dir" yaml:"screenshots_dir"`
	ScreenshotOnFailure bool   `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
}

// ScenarioConfig holds the job search criteria of the careers workflow.
type ScenarioConfig struct {
	Location   string `mapstructure:"location" yaml:"location"`
	Department string `mapstructure:"department" yaml:"department"`
}

// RunConfig gets its marching orders from CLI flags, with these defaults.
type RunConfig struct {
	Browsers []string      `mapstructure:"browsers" yaml:"browsers"`
	Parallel bool          `mapstructure:"parallel" yaml:"parallel"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig returns a configuration populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always unmarshal.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "steady")
	v.SetDefault("logger.log_file", "logs/steady.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.name", "chrome")
	v.SetDefault("browser.engine", "auto")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.launch_rate", 1.0)
	v.SetDefault("browser.launch_burst", 1)
	v.SetDefault("browser.action_timeout", "2s")

	// -- Wait --
	v.SetDefault("wait.explicit", "20s")
	v.SetDefault("wait.implicit", "10s")
	v.SetDefault("wait.poll_interval", "500ms")

	// -- Retry --
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.delay", "2s")

	// -- Site --
	v.SetDefault("site.base_url", "https://useinsider.com/")

	// -- Artifacts --
	v.SetDefault("artifacts.screenshots_dir", "screenshots")
	v.SetDefault("artifacts.screenshot_on_failure", true)

	// -- Scenario --
	v.SetDefault("scenario.location", "Istanbul, Turkey")
	v.SetDefault("scenario.department", "Quality Assurance")

	// -- Run --
	v.SetDefault("run.browsers", []string{"chrome"})
	v.SetDefault("run.parallel", false)
	v.SetDefault("run.timeout", "10m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := bindEnvAliases(v); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envAliases are the extra environment names accepted for
// deployment-specific endpoints, on top of the STEADY_ prefixed keys.
var envAliases = []struct {
	key  string
	envs []string
}{
	{"browser.remote_url", []string{"STEADY_REMOTE_URL", "SELENIUM_REMOTE_URL"}},
	{"site.base_url", []string{"STEADY_BASE_URL", "BASE_URL"}},
}

func bindEnvAliases(v *viper.Viper) error {
	for _, a := range envAliases {
		if err := v.BindEnv(append([]string{a.key}, a.envs...)...); err != nil {
			return fmt.Errorf("error binding environment for %s: %w", a.key, err)
		}
	}
	return nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.LoggerCfg.LogFile, err = homedir.Expand(c.LoggerCfg.LogFile); err != nil {
		return err
	}
	if c.ArtifactsCfg.ScreenshotsDir, err = homedir.Expand(c.ArtifactsCfg.ScreenshotsDir); err != nil {
		return err
	}
	c.BrowserCfg.ExecPath, err = homedir.Expand(c.BrowserCfg.ExecPath)
	return err
}

// Validate checks the configuration for required fields and sane values.
// Browser names are checked by the driver factory, which owns the list of
// supported targets.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BrowserCfg.Name) == "" {
		return fmt.Errorf("browser.name is a required configuration field")
	}
	switch c.BrowserCfg.Engine {
	case "", "auto", "chromedp", "playwright":
	default:
		return fmt.Errorf("browser.engine must be one of auto, chromedp, playwright (got %q)", c.BrowserCfg.Engine)
	}
	if c.BrowserCfg.LaunchRate < 0 {
		return fmt.Errorf("browser.launch_rate must not be negative")
	}
	if c.BrowserCfg.ActionTimeout < 0 {
		return fmt.Errorf("browser.action_timeout must not be negative")
	}
	if err := c.WaitCfg.Validate(); err != nil {
		return fmt.Errorf("wait configuration invalid: %w", err)
	}
	if err := c.RetryCfg.Validate(); err != nil {
		return fmt.Errorf("retry configuration invalid: %w", err)
	}
	if c.SiteCfg.BaseURL == "" {
		return fmt.Errorf("site.base_url is a required configuration field")
	}
	if c.RunCfg.Timeout < 0 {
		return fmt.Errorf("run.timeout must not be negative")
	}
	return nil
}

// Validate checks the wait budgets.
func (w *WaitConfig) Validate() error {
	if w.Explicit <= 0 {
		return fmt.Errorf("explicit must be a positive duration")
	}
	if w.Implicit <= 0 {
		return fmt.Errorf("implicit must be a positive duration")
	}
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	return nil
}

// Validate checks the retry budget.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if r.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	return nil
}
