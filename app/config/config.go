package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the fixed deployment configuration for the analytics backend.
// Values come from compiled-in defaults overlaid with an optional YAML file;
// no environment variables participate.
type Config struct {
	// ShareRoot is the read-only network share laid out as YYYY/MM/DD (Taiwan date).
	ShareRoot string `yaml:"share_root"`
	// CacheDir holds the SQLite cache, the scan-state sidecar, the uploaded
	// workbook and the retention archive.
	CacheDir string `yaml:"cache_dir"`

	ListenAddr string `yaml:"listen_addr"`

	AutoScanEverySeconds int `yaml:"auto_scan_every_seconds"`
	RefreshWindowMinutes int `yaml:"refresh_window_minutes"`
	RetentionDays        int `yaml:"retention_days"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		ShareRoot:            `\\10.16.137.111\Oberon\L10`,
		CacheDir:             "analytics_cache",
		ListenAddr:           ":5555",
		AutoScanEverySeconds: 60,
		RefreshWindowMinutes: 180,
		RetentionDays:        90,
	}
}

// Load reads the YAML config at path and overlays it on the defaults.
// A missing file is not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	// Unmarshal into a generic map to detect key presence, so a zero value in
	// the file is distinguishable from an absent key.
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if v, ok := m["share_root"]; ok {
		if vs, oks := v.(string); oks && vs != "" {
			cfg.ShareRoot = vs
		}
	}
	if v, ok := m["cache_dir"]; ok {
		if vs, oks := v.(string); oks && vs != "" {
			cfg.CacheDir = vs
		}
	}
	if v, ok := m["listen_addr"]; ok {
		if vs, oks := v.(string); oks && vs != "" {
			cfg.ListenAddr = vs
		}
	}
	if v, ok := m["auto_scan_every_seconds"]; ok {
		if vi, oki := v.(int); oki && vi >= 5 {
			cfg.AutoScanEverySeconds = vi
		}
	}
	if v, ok := m["refresh_window_minutes"]; ok {
		if vi, oki := v.(int); oki && vi >= 1 {
			cfg.RefreshWindowMinutes = vi
		}
	}
	if v, ok := m["retention_days"]; ok {
		if vi, oki := v.(int); oki && vi >= 1 {
			cfg.RetentionDays = vi
		}
	}
	return cfg, nil
}

// DBPath returns the SQLite cache file path.
func (c Config) DBPath() string { return filepath.Join(c.CacheDir, "analytics.db") }

// StatePath returns the scan-state sidecar path.
func (c Config) StatePath() string { return filepath.Join(c.CacheDir, "raw_state.json") }

// WorkbookPath returns the single well-known uploaded workbook path.
func (c Config) WorkbookPath() string { return filepath.Join(c.CacheDir, "bonepile_upload.xlsx") }

// ArchiveDir returns the directory holding retention purge archives.
func (c Config) ArchiveDir() string { return filepath.Join(c.CacheDir, "archive") }

// AutoScanInterval returns the scheduler tick interval.
func (c Config) AutoScanInterval() time.Duration {
	return time.Duration(c.AutoScanEverySeconds) * time.Second
}

// RefreshWindow returns the trailing interval wiped and re-scanned on each tick.
func (c Config) RefreshWindow() time.Duration {
	return time.Duration(c.RefreshWindowMinutes) * time.Minute
}

// EnsureDirs creates the cache directory tree.
func (c Config) EnsureDirs() error {
	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(c.ArchiveDir(), 0o755)
}
