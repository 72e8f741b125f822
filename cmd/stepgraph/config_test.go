package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepgraph/internal/poller"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STEPGRAPH_HOME", dir)

	cfg := loadConfig()
	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, filepath.Join(dir, "stepgraph.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Keep)
	assert.Empty(t, cfg.Watches)
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STEPGRAPH_HOME", dir)

	settings := `{
		"listen_addr": ":9000",
		"log_level": "debug",
		"keep": 5,
		"watches": [{"run_id": "run-1", "url": "http://ci/runs/1", "schedule": "@every 30s", "query": ".steps"}]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o644))

	t.Setenv("STEPGRAPH_LOG_LEVEL", "warn")
	t.Setenv("STEPGRAPH_KEEP", "not-a-number")

	cfg := loadConfig()
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel, "env wins over settings.json")
	assert.Equal(t, 5, cfg.Keep, "unparsable env is ignored")
	require.Len(t, cfg.Watches, 1)
	assert.Equal(t, poller.Watch{RunID: "run-1", URL: "http://ci/runs/1", Schedule: "@every 30s", Query: ".steps"}, cfg.Watches[0])
}

func TestLoadConfig_BrokenSettingsKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STEPGRAPH_HOME", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{nope"), 0o644))

	assert.Equal(t, ":4200", loadConfig().ListenAddr)
}

func TestDiffConfigs(t *testing.T) {
	base := defaultConfig()
	watch := poller.Watch{RunID: "r", URL: "http://x", Schedule: "@hourly"}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   configDiff
	}{
		{"identical", func(c *Config) {}, configDiff{}},
		{"log level", func(c *Config) { c.LogLevel = "debug" }, configDiff{LogLevelChanged: true}},
		{"watches", func(c *Config) { c.Watches = []poller.Watch{watch} }, configDiff{WatchesChanged: true}},
		{"keep", func(c *Config) { c.Keep = 1 }, configDiff{PipelineChanged: true}},
		{"schema", func(c *Config) { c.SchemaPath = "/tmp/s.json" }, configDiff{PipelineChanged: true}},
		{"restart", func(c *Config) {
			c.ListenAddr = ":1"
			c.DBPath = "/tmp/other.db"
		}, configDiff{RestartNeeded: []string{"listen_addr", "db_path"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base
			tt.mutate(&next)
			d := diffConfigs(base, next)
			assert.Equal(t, tt.want, d)
			assert.Equal(t, tt.name == "identical", d.empty())
		})
	}
}
