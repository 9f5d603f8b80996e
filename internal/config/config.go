package config

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/vango-dev/hmr/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file written by Save.
	ConfigFileName = "hmr.json"

	// configName is the base name viper searches for (hmr.json, hmr.yaml, ...).
	configName = "hmr"

	// EnvPrefix prefixes environment overrides, e.g. HMR_DEV_PORT.
	EnvPrefix = "HMR"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultPath is the default hot reload endpoint.
	DefaultPath = "/_hmr"

	// DefaultSendBuffer is the default per-client message queue size.
	DefaultSendBuffer = 16

	// DefaultWriteTimeout is the default WebSocket write deadline.
	DefaultWriteTimeout = "10s"

	// DefaultDebounce is the default watcher debounce window.
	DefaultDebounce = "100ms"

	// DefaultMetricsPath is where Prometheus metrics are exposed.
	DefaultMetricsPath = "/metrics"
)

// DefaultExtensions are the file extensions treated as ES modules.
var DefaultExtensions = []string{".js", ".mjs"}

// Config represents the complete hmr configuration.
type Config struct {
	// Root is the directory that is served and scanned for modules.
	Root string `json:"root" mapstructure:"root"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev" mapstructure:"dev"`

	// HMR contains hot reload endpoint configuration.
	HMR HMRConfig `json:"hmr" mapstructure:"hmr"`

	// Log contains logger configuration.
	Log LogConfig `json:"log" mapstructure:"log"`

	// Metrics contains Prometheus exposition settings.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port to run the dev server on.
	Port int `json:"port" mapstructure:"port"`

	// Host is the host to bind to.
	Host string `json:"host" mapstructure:"host"`

	// HTTPS marks the server as running behind TLS when building URLs.
	HTTPS bool `json:"https,omitempty" mapstructure:"https"`

	// Watch contains paths to watch for changes, relative to Root.
	Watch []string `json:"watch,omitempty" mapstructure:"watch"`

	// Ignore contains doublestar patterns to ignore during watch.
	Ignore []string `json:"ignore,omitempty" mapstructure:"ignore"`

	// Debounce is how long the watcher waits for a burst of events to settle.
	Debounce string `json:"debounce,omitempty" mapstructure:"debounce"`

	// HotReload enables script injection and module updates.
	HotReload bool `json:"hotReload" mapstructure:"hotReload"`
}

// HMRConfig contains hot reload endpoint settings.
type HMRConfig struct {
	// Path is the WebSocket endpoint; the client runtime is served below it.
	Path string `json:"path" mapstructure:"path"`

	// SendBuffer is the per-client outbound queue size.
	SendBuffer int `json:"sendBuffer" mapstructure:"sendBuffer"`

	// WriteTimeout bounds a single WebSocket write (e.g., "10s").
	WriteTimeout string `json:"writeTimeout" mapstructure:"writeTimeout"`

	// Extensions lists the file extensions treated as ES modules.
	Extensions []string `json:"extensions,omitempty" mapstructure:"extensions"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" mapstructure:"level"`

	// Format is "console" or "json".
	Format string `json:"format" mapstructure:"format"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Root: ".",
		Dev: DevConfig{
			Port:      DefaultPort,
			Host:      DefaultHost,
			Watch:     []string{"."},
			Ignore:    nil,
			Debounce:  DefaultDebounce,
			HotReload: true,
		},
		HMR: HMRConfig{
			Path:         DefaultPath,
			SendBuffer:   DefaultSendBuffer,
			WriteTimeout: DefaultWriteTimeout,
			Extensions:   append([]string(nil), DefaultExtensions...),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}

// SetDefaults registers every default on v so that environment variables
// and bound flags resolve for all keys.
func SetDefaults(v *viper.Viper) {
	d := New()
	v.SetDefault("root", d.Root)
	v.SetDefault("dev.port", d.Dev.Port)
	v.SetDefault("dev.host", d.Dev.Host)
	v.SetDefault("dev.https", d.Dev.HTTPS)
	v.SetDefault("dev.watch", d.Dev.Watch)
	v.SetDefault("dev.ignore", []string{})
	v.SetDefault("dev.debounce", d.Dev.Debounce)
	v.SetDefault("dev.hotReload", d.Dev.HotReload)
	v.SetDefault("hmr.path", d.HMR.Path)
	v.SetDefault("hmr.sendBuffer", d.HMR.SendBuffer)
	v.SetDefault("hmr.writeTimeout", d.HMR.WriteTimeout)
	v.SetDefault("hmr.extensions", d.HMR.Extensions)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// NewViper returns a viper instance with defaults and HMR_* environment
// overrides configured, searching dir for an hmr.{json,yaml,toml} file.
func NewViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from the specified directory.
// It fails with E121 when no config file is present.
func Load(dir string) (*Config, error) {
	v := NewViper(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) {
			return nil, errors.New("E121").
				WithDetail("No hmr.json or hmr.yaml found in " + dir).
				WithSuggestion("Run 'hmr init' to create one")
		}
		return nil, errors.New("E120").Wrap(err)
	}
	return decode(v, v.ConfigFileUsed())
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E121").
				WithDetail("No config file at " + path)
		}
		return nil, errors.New("E120").Wrap(err)
	}

	v := NewViper(filepath.Dir(path))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New("E120").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			WithSuggestion("Check that the file is valid JSON or YAML")
	}
	return decode(v, path)
}

// FromViper builds a Config from an already prepared viper instance.
// A missing config file is not an error; defaults, environment and bound
// flags still apply.
func FromViper(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.New("E120").Wrap(err)
		}
	}
	return decode(v, v.ConfigFileUsed())
}

func decode(v *viper.Viper, path string) (*Config, error) {
	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New("E120").
			WithDetail("Failed to decode configuration: " + err.Error())
	}
	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration as JSON to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E120").Wrap(err)
	}

	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if len(c.Dev.Watch) == 0 {
		c.Dev.Watch = []string{"."}
	}
	if c.Dev.Debounce == "" {
		c.Dev.Debounce = DefaultDebounce
	}
	if c.HMR.Path == "" {
		c.HMR.Path = DefaultPath
	}
	c.HMR.Path = strings.TrimSuffix(c.HMR.Path, "/")
	if c.HMR.SendBuffer <= 0 {
		c.HMR.SendBuffer = DefaultSendBuffer
	}
	if c.HMR.WriteTimeout == "" {
		c.HMR.WriteTimeout = DefaultWriteTimeout
	}
	if len(c.HMR.Extensions) == 0 {
		c.HMR.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("E122").
			WithDetail("Port must be between 0 and 65535, got " + strconv.Itoa(c.Dev.Port))
	}
	if !strings.HasPrefix(c.HMR.Path, "/") {
		return errors.New("E124").
			WithDetail("Got " + strconv.Quote(c.HMR.Path))
	}
	for _, p := range c.Dev.Ignore {
		if !doublestar.ValidatePattern(p) {
			return errors.New("E123").
				WithDetail("Pattern " + strconv.Quote(p) + " is not a valid glob")
		}
	}
	if _, err := time.ParseDuration(c.Dev.Debounce); err != nil {
		return errors.New("E120").
			WithDetail("dev.debounce: " + err.Error())
	}
	if _, err := time.ParseDuration(c.HMR.WriteTimeout); err != nil {
		return errors.New("E120").
			WithDetail("hmr.writeTimeout: " + err.Error())
	}
	return nil
}

// DebounceDuration returns Dev.Debounce parsed, or the default on error.
func (c *Config) DebounceDuration() time.Duration {
	return parseDuration(c.Dev.Debounce, DefaultDebounce)
}

// WriteTimeoutDuration returns HMR.WriteTimeout parsed, or the default on error.
func (c *Config) WriteTimeoutDuration() time.Duration {
	return parseDuration(c.HMR.WriteTimeout, DefaultWriteTimeout)
}

func parseDuration(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	scheme := "http"
	if c.Dev.HTTPS {
		scheme = "https"
	}
	return scheme + "://" + c.DevAddress()
}

// RootPath returns the absolute path to the served directory.
func (c *Config) RootPath() string {
	return c.resolve(c.Root)
}

// WatchPaths returns the absolute watch paths.
func (c *Config) WatchPaths() []string {
	paths := make([]string, 0, len(c.Dev.Watch))
	root := c.RootPath()
	for _, p := range c.Dev.Watch {
		if filepath.IsAbs(p) {
			paths = append(paths, p)
			continue
		}
		paths = append(paths, filepath.Join(root, p))
	}
	return paths
}

// IsModule reports whether path has one of the configured module extensions.
func (c *Config) IsModule(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.HMR.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	dir := c.Dir()
	if dir == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return path
		}
		return abs
	}
	return filepath.Join(dir, path)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, ext := range viper.SupportedExts {
		if _, err := os.Stat(filepath.Join(dir, configName+"."+ext)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing an hmr config file, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E121").
				WithDetail("No hmr config found in " + startDir + " or any parent directory").
				WithSuggestion("Run 'hmr init' to create one")
		}
		dir = parent
	}
}
