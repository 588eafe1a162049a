// Package config loads oidc-login settings from an optional YAML file, a .env
// file and OIDC_LOGIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
	"github.com/naotama2002/oidc-login-go/internal/logging"
)

// EnvPrefix is prepended to every environment variable, e.g. OIDC_LOGIN_CLIENT_ID.
const EnvPrefix = "OIDC_LOGIN"

// Config is the CLI configuration.
type Config struct {
	Issuer      string            `mapstructure:"issuer" validate:"required,url"`
	ClientID    string            `mapstructure:"client_id" validate:"required"`
	Scopes      []string          `mapstructure:"scopes"`
	ExtraParams map[string]string `mapstructure:"extra_params"`
	Callback    CallbackConfig    `mapstructure:"callback"`
	// Timeout bounds the whole login, including the wait for the browser.
	Timeout     time.Duration  `mapstructure:"timeout" validate:"gt=0"`
	HTTPTimeout time.Duration  `mapstructure:"http_timeout" validate:"gt=0"`
	NoBrowser   bool           `mapstructure:"no_browser"`
	Log         logging.Config `mapstructure:"log"`
}

// CallbackConfig describes the loopback redirect receiver. It always binds 127.0.0.1.
type CallbackConfig struct {
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Path string `mapstructure:"path" validate:"required,startswith=/"`
}

// LoaderConfig holds optional file overrides.
type LoaderConfig struct {
	ConfigFile string
	EnvFile    string
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets an explicit YAML config file.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file. Without it ./.env is used when present.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("issuer", "")
	v.SetDefault("client_id", "")
	v.SetDefault("scopes", []string{"openid", "profile"})
	v.SetDefault("extra_params", map[string]string{})
	v.SetDefault("callback.port", 0)
	v.SetDefault("callback.path", "/callback")
	v.SetDefault("timeout", 300*time.Second)
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("no_browser", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatConsole)
	v.SetDefault("log.no_color", false)
	v.SetDefault("log.timestamp", true)
}

// Load reads the configuration. Environment variables override the file.
// The result is not validated so CLI flags can still fill in values.
func Load(opts ...LoaderOption) (*Config, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	// .env never overrides variables already set in the process environment.
	envFile := lc.EnvFile
	if envFile == "" && fileExists(".env") {
		envFile = ".env"
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ConfigError, "failed to load env file").WithDetails(envFile)
		}
	}

	v := viper.New()
	setDefaults(v)

	if lc.ConfigFile != "" {
		v.SetConfigFile(lc.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ConfigError, "failed to read config file").WithDetails(lc.ConfigFile)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigError, "failed to decode configuration")
	}
	cfg.Scopes = splitScopes(cfg.Scopes)
	cfg.Log.ApplyDefaults()

	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return apperrors.Wrap(err, apperrors.ConfigError, "invalid configuration").WithDetails(strings.Join(fields, ", "))
		}
		return apperrors.Wrap(err, apperrors.ConfigError, "invalid configuration")
	}
	if err := c.Log.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ConfigError, "invalid configuration")
	}
	return nil
}

// splitScopes accepts both "openid profile" and "openid,profile" forms.
func splitScopes(in []string) []string {
	var out []string
	for _, s := range in {
		out = append(out, strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ' '
		})...)
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
