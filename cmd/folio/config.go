package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/soboure69/My-Portefolio-data-science/internal/apiclient"
	"github.com/soboure69/My-Portefolio-data-science/internal/auth"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/validate"
)

const (
	defaultLoggingLevel = logger.LevelWarn
	defaultEnvironment  = logger.EnvDevelopment
	defaultSessionFile  = "session.json"
	appName             = "folio"
)

type Config struct {
	// YAML file loaded before .env, env and flags
	ConfigFile string `json:"-" yaml:"-"`

	LogLevel    string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	Environment string `json:"environment" yaml:"environment" validate:"oneof=dev development prod production"`

	// Token store DSN. Empty means file in user config dir
	Storage string `json:"storage" yaml:"storage"`

	// Print client and session events to stderr
	Events bool `json:"events" yaml:"events"`

	Client apiclient.Config `json:"client" yaml:"client"`
	Auth   auth.Config      `json:"auth" yaml:"auth"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,
		Client:      apiclient.DefaultConfig(),
		Auth:        auth.DefaultConfig(),
	}
}

// FindConfigFile returns --config/-c value from args or FOLIO_CONFIG env.
// Flags are scanned before the full parse because the file has the lowest priority
func FindConfigFile(getenv func(string) string, args []string) (string, error) {
	path := getenv("FOLIO_CONFIG")

	fs := NewConfig().flagSet(&path)
	// Help and bad flags are reported by the full parse
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.BoolP("help", "h", false, "")

	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return path, nil
}

// LoadFile overlays config with YAML file. Missing keys keep current values
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	c.ConfigFile = path
	return nil
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"FOLIO_API_URL":           setString(&c.Client.BaseURL),
		"FOLIO_STORAGE":           setString(&c.Storage),
		"FOLIO_LOG_LEVEL":         setString(&c.LogLevel),
		"FOLIO_ENVIRONMENT":       setString(&c.Environment),
		"FOLIO_TIMEOUT":           setDuration(&c.Client.Timeout),
		"FOLIO_REFRESH_THRESHOLD": setDuration(&c.Auth.RefreshThreshold),
		"FOLIO_AUTO_REFRESH":      setBool(&c.Auth.AutoRefresh),
		"FOLIO_EVENTS":            setBool(&c.Events),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// ParseFlags parses global flags and returns the command with its arguments
func (c *Config) ParseFlags(args []string) ([]string, error) {
	configFile := c.ConfigFile
	fs := c.flagSet(&configFile)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func (c *Config) flagSet(configFile *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	// Global flags go before the command, the rest belongs to the command
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)

	fs.StringVarP(configFile, "config", "c", *configFile, "YAML config file")
	fs.StringVarP(&c.Client.BaseURL, "api-url", "u", c.Client.BaseURL, "API base URL")
	fs.StringVarP(&c.Storage, "storage", "s", c.Storage, "Session storage DSN (memory://, file://, sqlite://, redis://, postgres://)")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.Client.Timeout, "timeout", c.Client.Timeout, "Request timeout")
	fs.DurationVar(&c.Auth.RefreshThreshold, "refresh-threshold", c.Auth.RefreshThreshold, "Refresh token this long before it expires")
	fs.BoolVar(&c.Auth.AutoRefresh, "auto-refresh", c.Auth.AutoRefresh, "Refresh token before requests when it is about to expire")
	fs.BoolVar(&c.Events, "events", c.Events, "Print request and session events to stderr")

	return fs
}

func (c *Config) Validate() error {
	var errs []error
	if c.Client.BaseURL == "" {
		errs = append(errs, errors.New("api url must be set (--api-url or FOLIO_API_URL)"))
	}
	if err := validate.Struct(c); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StorageDSN returns configured DSN or file store in user config dir
func (c *Config) StorageDSN(userConfigDir func() (string, error)) (string, error) {
	if c.Storage != "" {
		return c.Storage, nil
	}

	dir, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return "file://" + filepath.ToSlash(filepath.Join(dir, appName, defaultSessionFile)), nil
}
