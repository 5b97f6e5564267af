// Package config loads the gateway configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/actiongate/internal/core/domain"
)

// EnvPrefix prefixes environment overrides; "__" separates key levels
// (ACTIONGATE_SERVER__PORT=9000).
const EnvPrefix = "ACTIONGATE_"

// DefaultPath is read when no path is given. It may be missing.
const DefaultPath = "config.yaml"

type Config struct {
	Server       ServerConfig        `koanf:"server"`
	Logging      LoggingConfig       `koanf:"logging"`
	Storage      StorageConfig       `koanf:"storage"`
	Telemetry    TelemetryConfig     `koanf:"telemetry"`
	Reports      ReportsConfig       `koanf:"reports"`
	Interceptors []InterceptorConfig `koanf:"interceptors" validate:"dive"`
	Actions      []ActionConfig      `koanf:"actions" validate:"dive"`
}

type ServerConfig struct {
	Port int `koanf:"port" validate:"min=1,max=65535"`
	// ContextPath mounts every action under a prefix ("/app").
	ContextPath string          `koanf:"context_path" validate:"omitempty,startswith=/"`
	Timeout     time.Duration   `koanf:"timeout" validate:"min=0"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig limits requests per client address. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"min=0"`
	Burst             int     `koanf:"burst" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json text"`
}

type StorageConfig struct {
	Type   string       `koanf:"type" validate:"oneof=sqlite memory"`
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// ReportsConfig configures what happens to received CSP violation reports.
type ReportsConfig struct {
	Forward ForwardConfig `koanf:"forward"`
}

// ForwardConfig sends received reports on to an external collector.
type ForwardConfig struct {
	URL          string            `koanf:"url" validate:"omitempty,url"`
	Timeout      time.Duration     `koanf:"timeout" validate:"min=0"`
	Retries      int               `koanf:"retries" validate:"min=0,max=10"`
	Headers      map[string]string `koanf:"headers"`
	AllowPrivate bool              `koanf:"allow_private"`
}

// ParamConfig is one name/value pair. Params are lists so their order is
// kept.
type ParamConfig struct {
	Name  string `koanf:"name" validate:"required"`
	Value string `koanf:"value"`
}

// InterceptorConfig declares a named, configured interceptor that actions
// reference by name.
type InterceptorConfig struct {
	Name   string        `koanf:"name" validate:"required"`
	Type   string        `koanf:"type" validate:"required"`
	Params []ParamConfig `koanf:"params" validate:"dive"`
}

type ActionConfig struct {
	Name         string         `koanf:"name" validate:"required"`
	Path         string         `koanf:"path" validate:"required,startswith=/"`
	Method       string         `koanf:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Type         string         `koanf:"type" validate:"required"`
	Params       []ParamConfig  `koanf:"params" validate:"dive"`
	Interceptors []string       `koanf:"interceptors"`
	Results      []ResultConfig `koanf:"results" validate:"dive"`
}

type ResultConfig struct {
	Code   string        `koanf:"code" validate:"required"`
	Type   string        `koanf:"type"`
	Params []ParamConfig `koanf:"params" validate:"dive"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var validate = validator.New()

// Load reads path (DefaultPath when empty), applies environment overrides
// and defaults, and validates the result. A missing DefaultPath is not an
// error; a missing explicit path is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				boolToStringHook,
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, err
	}

	// Substitute environment variables in collector settings
	cfg.Reports.Forward.URL = substituteEnvVars(cfg.Reports.Forward.URL)
	for name, v := range cfg.Reports.Forward.Headers {
		cfg.Reports.Forward.Headers[name] = substituteEnvVars(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":             8080,
		"server.timeout":          "30s",
		"logging.level":           "info",
		"logging.format":          "json",
		"storage.type":            "memory",
		"storage.sqlite.path":     "actiongate.db",
		"telemetry.service_name":  "actiongate",
		"reports.forward.timeout": "5s",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// Validate checks field constraints and cross references between
// interceptors and actions.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var errs []error
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		errs = append(errs, errors.New("storage.sqlite.path is required for sqlite storage"))
	}

	interceptors := make(map[string]bool, len(c.Interceptors))
	for _, ic := range c.Interceptors {
		if interceptors[ic.Name] {
			errs = append(errs, fmt.Errorf("interceptor %q declared twice", ic.Name))
		}
		interceptors[ic.Name] = true
	}

	actions := make(map[string]bool, len(c.Actions))
	routes := make(map[string]string, len(c.Actions))
	for _, a := range c.Actions {
		if actions[a.Name] {
			errs = append(errs, fmt.Errorf("action %q declared twice", a.Name))
		}
		actions[a.Name] = true

		route := a.method() + " " + a.Path
		if other, dup := routes[route]; dup {
			errs = append(errs, fmt.Errorf("actions %q and %q both serve %s", other, a.Name, route))
		}
		routes[route] = a.Name

		for _, name := range a.Interceptors {
			if !interceptors[name] {
				errs = append(errs, fmt.Errorf("action %q references unknown interceptor %q", a.Name, name))
			}
		}

		codes := make(map[string]bool, len(a.Results))
		for _, r := range a.Results {
			if codes[r.Code] {
				errs = append(errs, fmt.Errorf("action %q maps result %q twice", a.Name, r.Code))
			}
			codes[r.Code] = true
		}
	}
	return errors.Join(errs...)
}

func (a ActionConfig) method() string {
	if a.Method == "" {
		return "GET"
	}
	return a.Method
}

// Params converts a param list to ordered domain params.
func Params(list []ParamConfig) domain.Params {
	var p domain.Params
	for _, kv := range list {
		p.Set(kv.Name, kv.Value)
	}
	return p
}

// Domain converts the action declared at index to its pipeline form.
func (a ActionConfig) Domain(index int) domain.ActionConfig {
	results := make(map[string]domain.ResultConfig, len(a.Results))
	for _, r := range a.Results {
		results[r.Code] = domain.ResultConfig{
			Name:     r.Code,
			Type:     r.Type,
			Params:   Params(r.Params),
			Location: fmt.Sprintf("actions[%d] (%s) results[%s]", index, a.Name, r.Code),
		}
	}

	interceptors := make([]string, len(a.Interceptors))
	copy(interceptors, a.Interceptors)

	return domain.ActionConfig{
		Name:         a.Name,
		Path:         a.Path,
		Method:       a.method(),
		Type:         a.Type,
		Params:       Params(a.Params),
		Interceptors: interceptors,
		Results:      results,
	}
}

// boolToStringHook keeps YAML booleans readable when they land in string
// params ("true" instead of the weakly typed "1").
func boolToStringHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.Bool || t.Kind() != reflect.String {
		return data, nil
	}
	return strconv.FormatBool(data.(bool)), nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
