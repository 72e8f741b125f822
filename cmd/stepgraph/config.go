package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/rendis/stepgraph/internal/poller"
)

// Config holds all stepgraph configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	// Keep bounds archived snapshots per run; 0 keeps everything.
	Keep int `json:"keep"`
	// SchemaPath names an extra JSON Schema every snapshot must also satisfy.
	SchemaPath string         `json:"schema_path,omitempty"`
	Watches    []poller.Watch `json:"watches,omitempty"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     filepath.Join(stepgraphDir(), "stepgraph.db"),
		LogLevel:   "info",
		Keep:       50,
	}
}

func stepgraphDir() string {
	if v := os.Getenv("STEPGRAPH_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepgraph"
	}
	return filepath.Join(home, ".stepgraph")
}

func settingsPath() string {
	return filepath.Join(stepgraphDir(), "settings.json")
}

func binDir() string {
	return filepath.Join(stepgraphDir(), "bin")
}

func pidPath() string {
	return filepath.Join(stepgraphDir(), "stepgraph.pid")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STEPGRAPH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STEPGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STEPGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STEPGRAPH_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Keep = n
		}
	}
	if v := os.Getenv("STEPGRAPH_SCHEMA"); v != "" {
		cfg.SchemaPath = v
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	WatchesChanged  bool
	// PipelineChanged means the validator or ingester must be rebuilt and
	// the HTTP handler swapped.
	PipelineChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func (d configDiff) empty() bool {
	return !d.LogLevelChanged && !d.WatchesChanged && !d.PipelineChanged && len(d.RestartNeeded) == 0
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if !reflect.DeepEqual(old.Watches, new.Watches) {
		d.WatchesChanged = true
	}
	if old.Keep != new.Keep || old.SchemaPath != new.SchemaPath {
		d.PipelineChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	return d
}
