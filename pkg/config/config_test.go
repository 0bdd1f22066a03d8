package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.String("workspace", ".", "")
	f.String("marker", "", "")
	f.Int("concurrency", 0, "")
	f.Bool("reuse-empty", false, "")
	f.String("notify-url", "", "")
	f.Duration("debounce", 500*time.Millisecond, "")
	return f
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Workspace)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "category", cfg.Analysis.Tag)
	assert.Equal(t, ".category-sync/records.db", cfg.Cache.Path)
	assert.Equal(t, 1, cfg.Notify.Burst)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce.Quiet)
	assert.Equal(t, 5*time.Second, cfg.Debounce.MaxWait)
}

func TestLoadLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
format = "yaml"

[analysis]
marker = "example.com/ui/designer.Category"
concurrency = 2

[notify]
url = "http://file.example"
timeout = "3s"
`), 0o644))

	t.Setenv("CATEGORY_SYNC_ANALYSIS_CONCURRENCY", "4")
	t.Setenv("CATEGORY_SYNC_NOTIFY_URL", "http://env.example")

	f := testFlags()
	require.NoError(t, f.Parse([]string{"--notify-url", "http://flag.example", "--reuse-empty"}))

	cfg, err := LoadFile(path, f)
	require.NoError(t, err)

	assert.Equal(t, FormatYAML, cfg.Format, "file overrides defaults")
	assert.Equal(t, "example.com/ui/designer.Category", cfg.Analysis.Marker)
	assert.Equal(t, 4, cfg.Analysis.Concurrency, "env overrides file")
	assert.Equal(t, "http://flag.example", cfg.Notify.URL, "flags override env")
	assert.True(t, cfg.Analysis.ReuseEmpty)
	assert.Equal(t, 3*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce.Quiet, "unset flags keep lower layers")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), nil)
		require.NoError(t, err)
		cfg.Analysis.Marker = "example.com/ui/designer.Category"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty marker", func(c *Config) { c.Analysis.Marker = "" }},
		{"marker without type", func(c *Config) { c.Analysis.Marker = "Category" }},
		{"empty tag", func(c *Config) { c.Analysis.Tag = "" }},
		{"negative concurrency", func(c *Config) { c.Analysis.Concurrency = -1 }},
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"negative rate", func(c *Config) { c.Notify.Rate = -1 }},
		{"max wait below quiet", func(c *Config) { c.Debounce.MaxWait = time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
