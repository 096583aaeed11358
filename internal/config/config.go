// internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Challenge ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	Captcha   CaptchaConfig   `mapstructure:"captcha" yaml:"captcha"`
	Recovery  RecoveryConfig  `mapstructure:"recovery" yaml:"recovery"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Workflow  WorkflowConfig  `mapstructure:"workflow" yaml:"workflow"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// BrowserConfig controls the chromedp allocator and session defaults.
type BrowserConfig struct {
	Headless        bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath        string `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth     int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int    `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// NetworkConfig carries the per-operation timeouts. These are the sole
// cancellation mechanism in the engine; there is no cooperative signal.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout" yaml:"selector_timeout"`
	EvaluateTimeout   time.Duration `mapstructure:"evaluate_timeout" yaml:"evaluate_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ChallengeConfig tunes the proof-of-interaction resolver.
type ChallengeConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	ClickPause      time.Duration `mapstructure:"click_pause" yaml:"click_pause"`
	FrameWait       time.Duration `mapstructure:"frame_wait" yaml:"frame_wait"`
	MinTokenLength  int           `mapstructure:"min_token_length" yaml:"min_token_length"`
	ProviderPattern string        `mapstructure:"provider_pattern" yaml:"provider_pattern"`
}

// CaptchaConfig tunes the legacy image CAPTCHA loop and its OCR collaborator.
type CaptchaConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	MaxTries       int           `mapstructure:"max_tries" yaml:"max_tries"`
	MinCodeLength  int           `mapstructure:"min_code_length" yaml:"min_code_length"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RatePerMinute  int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// RecoveryConfig tunes the last-resort cascade.
type RecoveryConfig struct {
	SettleWait time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
}

// ArtifactsConfig locates debug output.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// StoreConfig configures the optional run journal. An empty DSN disables it.
type StoreConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// WorkflowConfig carries the business-flow knobs that sit outside the core.
type WorkflowConfig struct {
	StepURL         string        `mapstructure:"step_url" yaml:"step_url"`
	ExpiryStatePath string        `mapstructure:"expiry_state_path" yaml:"expiry_state_path"`
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`
}

// setDefaults registers every default value with viper so a bare config file
// still yields a runnable configuration.
func setDefaults(v *viper.Viper, artifactsDir string) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "renew-cli")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// Empty-string defaults register the keys so env-only overrides survive
	// Unmarshal.
	v.SetDefault("logger.log_file", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("captcha.endpoint", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("workflow.step_url", "")
	v.SetDefault("workflow.expiry_state_path", "")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)

	v.SetDefault("network.navigation_timeout", 45*time.Second)
	v.SetDefault("network.selector_timeout", 10*time.Second)
	v.SetDefault("network.evaluate_timeout", 15*time.Second)
	v.SetDefault("network.post_load_wait", 2*time.Second)

	v.SetDefault("challenge.max_attempts", 5)
	v.SetDefault("challenge.click_pause", 2*time.Second)
	v.SetDefault("challenge.frame_wait", 5*time.Second)
	v.SetDefault("challenge.min_token_length", 20)
	v.SetDefault("challenge.provider_pattern", "challenges.cloudflare.com")

	v.SetDefault("captcha.max_tries", 4)
	v.SetDefault("captcha.min_code_length", 4)
	v.SetDefault("captcha.request_timeout", 30*time.Second)
	v.SetDefault("captcha.rate_per_minute", 20)

	v.SetDefault("recovery.settle_wait", 3*time.Second)

	v.SetDefault("artifacts.dir", artifactsDir)
	v.SetDefault("workflow.finalize_timeout", 60*time.Second)
}

// Load reads configuration from the given file (or the default search path
// when empty), layers RENEW_* environment variables on top, and validates the
// result.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}
	setDefaults(v, filepath.Join(home, ".renew-cli", "artifacts"))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".renew-cli"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("RENEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Challenge.MaxAttempts < 1 {
		return fmt.Errorf("challenge.max_attempts must be at least 1, got %d", c.Challenge.MaxAttempts)
	}
	if c.Captcha.MaxTries < 1 {
		return fmt.Errorf("captcha.max_tries must be at least 1, got %d", c.Captcha.MaxTries)
	}
	if c.Captcha.MinCodeLength < 1 {
		return fmt.Errorf("captcha.min_code_length must be at least 1, got %d", c.Captcha.MinCodeLength)
	}
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be positive")
	}
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}
	return nil
}
