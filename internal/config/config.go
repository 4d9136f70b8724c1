package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/refiner"
	"github.com/prepcli/prep/utils"
)

const (
	EnvPrefix     = "PREP"
	EnvConfigPath = "PREP_CONFIG"
	configType    = "toml"
)

type Config struct {
	Default   DefaultConfig   `mapstructure:"default"`
	Providers ProvidersConfig `mapstructure:"providers"`
	UI        UIConfig        `mapstructure:"ui"`
	History   HistoryConfig   `mapstructure:"history"`
	Refine    RefineConfig    `mapstructure:"refine"`
	Serve     ServeConfig     `mapstructure:"serve"`
}

type DefaultConfig struct {
	Provider        string `mapstructure:"provider"`
	Model           string `mapstructure:"model"`
	OutputFormat    string `mapstructure:"output_format"`
	CopyToClipboard bool   `mapstructure:"copy_to_clipboard"`
}

type EndpointConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

type ProvidersConfig struct {
	OllamaLocal EndpointConfig `mapstructure:"ollama-local"`
	OllamaCloud EndpointConfig `mapstructure:"ollama-cloud"`
	OpenAI      EndpointConfig `mapstructure:"openai"`
	Anthropic   EndpointConfig `mapstructure:"anthropic"`
}

type UIConfig struct {
	Color   bool `mapstructure:"color"`
	Spinner bool `mapstructure:"spinner"`
}

type HistoryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	MaxEntries int    `mapstructure:"max_entries"`
	Path       string `mapstructure:"path"`
}

type RefineConfig struct {
	MaxRounds       int           `mapstructure:"max_rounds"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ContextMaxBytes int           `mapstructure:"context_max_bytes"`
}

type ServeConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

// defaults holds every known key. Keys outside this map are rejected by Get and Set.
var defaults = map[string]any{
	"default.provider":                "ollama",
	"default.model":                   "llama3.2",
	"default.output_format":           "text",
	"default.copy_to_clipboard":       false,
	"providers.ollama-local.endpoint": models.ProviderOllamaLocal.DefaultEndpoint(),
	"providers.ollama-local.model":    "",
	"providers.ollama-cloud.endpoint": models.ProviderOllamaCloud.DefaultEndpoint(),
	"providers.ollama-cloud.model":    "",
	"providers.openai.endpoint":       models.ProviderOpenAI.DefaultEndpoint(),
	"providers.openai.model":          models.ProviderOpenAI.DefaultModel(),
	"providers.anthropic.endpoint":    models.ProviderAnthropic.DefaultEndpoint(),
	"providers.anthropic.model":       models.ProviderAnthropic.DefaultModel(),
	"ui.color":                        true,
	"ui.spinner":                      true,
	"history.enabled":                 true,
	"history.max_entries":             1000,
	"history.path":                    "",
	"refine.max_rounds":               refiner.DefaultMaxRounds,
	"refine.timeout":                  "300s",
	"refine.context_max_bytes":        models.MaxContextBytes,
	"serve.host":                      "127.0.0.1",
	"serve.port":                      8088,
	"serve.rate_per_second":           2.0,
	"serve.burst":                     4,
	"serve.cache_ttl":                 "30m",
	"serve.allowed_origins":           []string{},
	"serve.trusted_proxies":           []string{},
}

// Keys lists every configurable key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultPath is $PREP_CONFIG, or config.toml in the user config directory.
func DefaultPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine the config directory")
	}
	return filepath.Join(dir, "prep", "config.toml"), nil
}

// Manager reads and writes one config file.
type Manager struct {
	fs   afero.Fs
	path string
}

func NewManager(fs afero.Fs, path string) *Manager {
	return &Manager{fs: fs, path: path}
}

func (m *Manager) Path() string { return m.path }

// Dir is the directory holding the config file and its sibling files.
func (m *Manager) Dir() string { return filepath.Dir(m.path) }

func (m *Manager) TemplatesPath() string {
	return filepath.Join(m.Dir(), "templates.yaml")
}

func (m *Manager) Exists() bool {
	ok, err := afero.Exists(m.fs, m.path)
	return err == nil && ok
}

func (m *Manager) newViper(withEnv bool) *viper.Viper {
	v := viper.New()
	v.SetFs(m.fs)
	v.SetConfigFile(m.path)
	v.SetConfigType(configType)
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if withEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}
	return v
}

// LoadConfig reads defaults, then the file if present, then PREP_* environment overrides.
func (m *Manager) LoadConfig() (*Config, error) {
	v := m.newViper(true)
	if m.Exists() {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config in '%s'", m.path)
	}
	return &config, nil
}

// Init writes a config file holding the defaults. An existing file is kept unless force is set.
func (m *Manager) Init(force bool) error {
	if m.Exists() && !force {
		return errors.Errorf("config file already exists at '%s' (use --force to overwrite)", m.path)
	}
	return m.write(m.newViper(false))
}

// Get returns the effective value of key as a string.
func (m *Manager) Get(key string) (string, error) {
	key = normalizeKey(key)
	if err := checkKey(key); err != nil {
		return "", err
	}

	v := m.newViper(true)
	if m.Exists() {
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("error reading config file: %w", err)
		}
	}
	return formatValue(v.Get(key)), nil
}

// Set stores key=value in the config file. Only the file is touched, environment overrides
// are never written back.
func (m *Manager) Set(key, value string) error {
	key = normalizeKey(key)
	if err := checkKey(key); err != nil {
		return err
	}
	typed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	v := m.newViper(false)
	if m.Exists() {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	v.Set(key, typed)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	return m.write(v)
}

// Show renders the file as stored, or the defaults when there is no file yet.
func (m *Manager) Show() (string, error) {
	if m.Exists() {
		data, err := afero.ReadFile(m.fs, m.path)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read config file '%s'", m.path)
		}
		return string(data), nil
	}

	var b strings.Builder
	for _, k := range Keys() {
		fmt.Fprintf(&b, "%s = %s\n", k, formatValue(defaults[k]))
	}
	return b.String(), nil
}

func (m *Manager) write(v *viper.Viper) error {
	if err := m.fs.MkdirAll(m.Dir(), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create config directory '%s'", m.Dir())
	}
	for _, k := range Keys() {
		v.Set(k, v.Get(k))
	}
	if err := v.WriteConfigAs(m.path); err != nil {
		return errors.Wrapf(err, "failed to write config file '%s'", m.path)
	}
	return nil
}

// Validate rejects values the rest of the program cannot use.
func (c *Config) Validate() error {
	if _, err := models.ParseProviderID(c.Default.Provider); err != nil {
		return errors.Wrap(err, "default.provider")
	}
	if _, err := models.ParseOutputFormat(c.Default.OutputFormat); err != nil {
		return errors.Wrap(err, "default.output_format")
	}
	if c.Refine.MaxRounds < 1 {
		return errors.New("refine.max_rounds must be at least 1")
	}
	if c.Refine.Timeout <= 0 {
		return errors.New("refine.timeout must be positive")
	}
	if c.Refine.ContextMaxBytes <= 0 || c.Refine.ContextMaxBytes > models.MaxContextBytes {
		return errors.Errorf("refine.context_max_bytes must be between 1 and %d", models.MaxContextBytes)
	}
	if c.History.MaxEntries < 0 {
		return errors.New("history.max_entries cannot be negative")
	}
	if strings.TrimSpace(c.Serve.Host) == "" {
		return errors.New("serve.host cannot be empty")
	}
	if c.Serve.Port <= 0 || c.Serve.Port > 65535 {
		return errors.New("serve.port must be a valid TCP port")
	}
	if c.Serve.RatePerSecond <= 0 {
		return errors.New("serve.rate_per_second must be positive")
	}
	return nil
}

// Provider returns the file settings for one backend.
func (c *Config) Provider(id models.ProviderID) EndpointConfig {
	switch id {
	case models.ProviderOllamaLocal:
		return c.Providers.OllamaLocal
	case models.ProviderOllamaCloud:
		return c.Providers.OllamaCloud
	case models.ProviderOpenAI:
		return c.Providers.OpenAI
	case models.ProviderAnthropic:
		return c.Providers.Anthropic
	}
	return EndpointConfig{}
}

// Environment is the immutable view of this config the orchestrator runs against.
func (c *Config) Environment(lookup utils.LookupEnv) refiner.Environment {
	provider, err := models.ParseProviderID(c.Default.Provider)
	if err != nil {
		provider = models.ProviderOllamaLocal
	}

	providers := make(map[models.ProviderID]refiner.ProviderSettings, len(models.Providers))
	for _, id := range models.Providers {
		p := c.Provider(id)
		providers[id] = refiner.ProviderSettings{Endpoint: p.Endpoint, Model: p.Model}
	}

	return refiner.Environment{
		DefaultProvider: provider,
		DefaultModel:    c.Default.Model,
		Providers:       providers,
		MaxRounds:       c.Refine.MaxRounds,
		Timeout:         c.Refine.Timeout,
		LookupEnv:       lookup,
	}
}

// HistoryPath is history.path, or history.db next to the config file.
func (c *Config) HistoryPath(m *Manager) string {
	if p := strings.TrimSpace(c.History.Path); p != "" {
		return p
	}
	return filepath.Join(m.Dir(), "history.db")
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func checkKey(key string) error {
	if strings.Contains(key, "api_key") || strings.HasSuffix(key, ".key") {
		return errors.Errorf("API keys are not stored in the config file. Set the provider's environment variable or pass --api-key")
	}
	if _, ok := defaults[key]; !ok {
		return errors.Errorf("unknown config key '%s'. Known keys: %s", key, strings.Join(Keys(), ", "))
	}
	return nil
}

func parseValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch defaults[key].(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, errors.Errorf("%s expects true or false, got '%s'", key, value)
		}
		return b, nil
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Errorf("%s expects an integer, got '%s'", key, value)
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Errorf("%s expects a number, got '%s'", key, value)
		}
		return f, nil
	case []string:
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}

	switch key {
	case "refine.timeout", "serve.cache_ttl":
		if _, err := time.ParseDuration(value); err != nil {
			return nil, errors.Errorf("%s expects a duration such as 90s or 5m, got '%s'", key, value)
		}
	case "default.provider":
		id, err := models.ParseProviderID(value)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case "default.output_format":
		f, err := models.ParseOutputFormat(value)
		if err != nil {
			return nil, err
		}
		return string(f), nil
	}
	return value, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}
