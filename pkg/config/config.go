package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// FileName is the optional config file read from the working directory
const FileName = "category-sync.toml"

const envPrefix = "CATEGORY_SYNC_"

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config holds all configuration for the application
type Config struct {
	Workspace  string         `koanf:"workspace"`
	Port       int            `koanf:"port"`
	Verbosity  string         `koanf:"verbosity"`
	VerboseCnt int            `koanf:"verbose"`
	JSON       bool           `koanf:"json"` // JSON log output
	Format     string         `koanf:"format"`
	Analysis   AnalysisConfig `koanf:"analysis"`
	Cache      CacheConfig    `koanf:"cache"`
	Notify     NotifyConfig   `koanf:"notify"`
	Debounce   DebounceConfig `koanf:"debounce"`
}

// AnalysisConfig configures classification and the analyzer
type AnalysisConfig struct {
	Marker      string `koanf:"marker"` // "<import path>.<TypeName>"
	Tag         string `koanf:"tag"`
	Concurrency int    `koanf:"concurrency"`
	ReuseEmpty  bool   `koanf:"reuseempty"`
}

// CacheConfig locates the record database
type CacheConfig struct {
	Path string `koanf:"path"` // relative paths resolve against the workspace
}

// NotifyConfig configures the observer endpoint
type NotifyConfig struct {
	URL     string        `koanf:"url"`
	Rate    float64       `koanf:"rate"`
	Burst   int           `koanf:"burst"`
	Timeout time.Duration `koanf:"timeout"`
}

// DebounceConfig configures how watch mode batches file events
type DebounceConfig struct {
	Quiet   time.Duration `koanf:"quiet"`
	MaxWait time.Duration `koanf:"maxwait"`
}

// flagKeys maps flag names onto dotted config keys. Flags not listed use
// their own name.
var flagKeys = map[string]string{
	"marker":           "analysis.marker",
	"tag":              "analysis.tag",
	"concurrency":      "analysis.concurrency",
	"reuse-empty":      "analysis.reuseempty",
	"cache":            "cache.path",
	"notify-url":       "notify.url",
	"notify-rate":      "notify.rate",
	"notify-burst":     "notify.burst",
	"notify-timeout":   "notify.timeout",
	"debounce":         "debounce.quiet",
	"debounce-maxwait": "debounce.maxwait",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"workspace":            ".",
		"port":                 8080,
		"verbosity":            "",
		"verbose":              0,
		"json":                 false,
		"format":               FormatText,
		"analysis.marker":      "",
		"analysis.tag":         "category",
		"analysis.concurrency": 0,
		"analysis.reuseempty":  false,
		"cache.path":           ".category-sync/records.db",
		"notify.url":           "",
		"notify.rate":          0.0,
		"notify.burst":         1,
		"notify.timeout":       10 * time.Second,
		"debounce.quiet":       500 * time.Millisecond,
		"debounce.maxwait":     5 * time.Second,
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFile(FileName, f)
}

// LoadFile is Load with an explicit config file path
func LoadFile(path string, f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional)
	// We ignore errors here as the file might not exist
	_ = k.Load(file.Provider(path), toml.Parser())

	// 3. Environment Variables
	// Prefix: CATEGORY_SYNC_ (e.g., CATEGORY_SYNC_NOTIFY_URL=http://...)
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		provider := posflag.ProviderWithFlag(f, ".", k, func(flag *pflag.Flag) (string, interface{}) {
			key := flag.Name
			if mapped, ok := flagKeys[key]; ok {
				key = mapped
			}
			return key, posflag.FlagVal(f, flag)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects settings no command can run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Analysis.Marker) == "" {
		return fmt.Errorf("analysis.marker is required (e.g. example.com/ui/designer.Category)")
	}
	if !strings.Contains(c.Analysis.Marker, ".") {
		return fmt.Errorf("analysis.marker %q must be <import path>.<TypeName>", c.Analysis.Marker)
	}
	if c.Analysis.Tag == "" {
		return fmt.Errorf("analysis.tag must not be empty")
	}
	if c.Analysis.Concurrency < 0 {
		return fmt.Errorf("analysis.concurrency must not be negative, got %d", c.Analysis.Concurrency)
	}
	switch c.Format {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", c.Format)
	}
	if c.Notify.Rate < 0 {
		return fmt.Errorf("notify.rate must not be negative")
	}
	if c.Debounce.Quiet <= 0 || c.Debounce.MaxWait < c.Debounce.Quiet {
		return fmt.Errorf("debounce.maxwait (%s) must be at least debounce.quiet (%s) and both positive",
			c.Debounce.MaxWait, c.Debounce.Quiet)
	}
	return nil
}

// Helper to use a flat map with dotted keys as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return maps.Unflatten(p.m, "."), nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
