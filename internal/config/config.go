// Package config loads hrsync settings from a YAML file, an optional .env
// file and HRSYNC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HRSYNC_"

// Config is the complete runtime configuration.
type Config struct {
	Database string `yaml:"database" validate:"required"`
	Remote   Remote `yaml:"remote"`
	Sync     Sync   `yaml:"sync"`
}

// Remote configures the REST client.
type Remote struct {
	BaseURL       string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey        string        `yaml:"api_key"`
	APIKeyHeader  string        `yaml:"api_key_header" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries    int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
}

// Sync configures the coordinator and connectivity monitor.
type Sync struct {
	ProbeInterval  time.Duration `yaml:"probe_interval" validate:"gt=0"`
	ResyncInterval time.Duration `yaml:"resync_interval" validate:"gte=0"`
	CallTimeout    time.Duration `yaml:"call_timeout" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Database: "hrsync.db",
		Remote: Remote{
			APIKeyHeader: "Authorization",
			Timeout:      10 * time.Second,
			MaxRetries:   3,
		},
		Sync: Sync{
			ProbeInterval: 15 * time.Second,
			CallTimeout:   30 * time.Second,
		},
	}
}

// HasRemote reports whether a remote endpoint is configured.
func (c Config) HasRemote() bool {
	return c.Remote.BaseURL != ""
}

// Load builds a Config from Default, the YAML file at path, the dotenv
// file at envFile and the process environment. Empty paths are skipped. A
// missing envFile is not an error; a missing config file is.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	env := map[string]string{}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			env = fileEnv
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}

	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays HRSYNC_* values.
func (c *Config) applyEnv(env map[string]string) error {
	str := func(key string, dst *string) {
		if v, ok := env[EnvPrefix+key]; ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := env[EnvPrefix+key]
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("DATABASE", &c.Database)
	str("REMOTE_URL", &c.Remote.BaseURL)
	str("API_KEY", &c.Remote.APIKey)
	str("API_KEY_HEADER", &c.Remote.APIKeyHeader)

	if v, ok := env[EnvPrefix+"MAX_RETRIES"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sMAX_RETRIES: %w", EnvPrefix, err)
		}
		c.Remote.MaxRetries = n
	}
	if v, ok := env[EnvPrefix+"RATE_PER_SECOND"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sRATE_PER_SECOND: %w", EnvPrefix, err)
		}
		c.Remote.RatePerSecond = f
	}

	return errors.Join(
		dur("REMOTE_TIMEOUT", &c.Remote.Timeout),
		dur("PROBE_INTERVAL", &c.Sync.ProbeInterval),
		dur("RESYNC_INTERVAL", &c.Sync.ResyncInterval),
		dur("CALL_TIMEOUT", &c.Sync.CallTimeout),
	)
}

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
	}
	sort.Strings(msgs)
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath turns "Config.remote.base_url" into "remote.base_url".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}
