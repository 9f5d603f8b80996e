package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Dev.Port != DefaultPort {
		t.Errorf("Dev.Port = %d, want %d", cfg.Dev.Port, DefaultPort)
	}
	if cfg.Dev.Host != DefaultHost {
		t.Errorf("Dev.Host = %q, want %q", cfg.Dev.Host, DefaultHost)
	}
	if cfg.HMR.Path != DefaultPath {
		t.Errorf("HMR.Path = %q, want %q", cfg.HMR.Path, DefaultPath)
	}
	if !cfg.Dev.HotReload {
		t.Error("Dev.HotReload should default to true")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should default to true")
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Load(tmpDir)
	if err == nil {
		t.Fatal("Expected error for missing config")
	}
	if !strings.Contains(err.Error(), "E121") {
		t.Errorf("Expected E121 error, got: %v", err)
	}

	configPath := filepath.Join(tmpDir, ConfigFileName)
	configJSON := `{
  "root": "web",
  "dev": {
    "port": 8080,
    "host": "0.0.0.0",
    "ignore": ["**/vendor/**"],
    "hotReload": false
  },
  "hmr": {
    "path": "/__hot/",
    "sendBuffer": 4
  }
}
`
	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Dev.Port != 8080 {
		t.Errorf("Dev.Port = %d, want %d", cfg.Dev.Port, 8080)
	}
	if cfg.Dev.Host != "0.0.0.0" {
		t.Errorf("Dev.Host = %q, want %q", cfg.Dev.Host, "0.0.0.0")
	}
	if cfg.Dev.HotReload {
		t.Error("Dev.HotReload should be false")
	}
	if len(cfg.Dev.Ignore) != 1 || cfg.Dev.Ignore[0] != "**/vendor/**" {
		t.Errorf("Dev.Ignore = %v", cfg.Dev.Ignore)
	}
	if cfg.HMR.Path != "/__hot" {
		t.Errorf("HMR.Path = %q, want %q", cfg.HMR.Path, "/__hot")
	}
	if cfg.HMR.SendBuffer != 4 {
		t.Errorf("HMR.SendBuffer = %d, want 4", cfg.HMR.SendBuffer)
	}
	// Unset keys keep their defaults.
	if cfg.HMR.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("HMR.WriteTimeout = %q, want %q", cfg.HMR.WriteTimeout, DefaultWriteTimeout)
	}
	if cfg.RootPath() != filepath.Join(tmpDir, "web") {
		t.Errorf("RootPath = %q", cfg.RootPath())
	}
}

func TestLoad_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	yaml := "dev:\n  port: 4000\nlog:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "hmr.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Dev.Port != 4000 {
		t.Errorf("Dev.Port = %d, want 4000", cfg.Dev.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(`{"dev":{"port":8080}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HMR_DEV_PORT", "9090")
	t.Setenv("HMR_HMR_PATH", "/ws")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Dev.Port != 9090 {
		t.Errorf("Dev.Port = %d, want 9090", cfg.Dev.Port)
	}
	if cfg.HMR.Path != "/ws" {
		t.Errorf("HMR.Path = %q, want /ws", cfg.HMR.Path)
	}
}

func TestFromViper_NoFile(t *testing.T) {
	v := NewViper(t.TempDir())
	v.Set("dev.port", 5555)

	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper error: %v", err)
	}
	if cfg.Dev.Port != 5555 {
		t.Errorf("Dev.Port = %d, want 5555", cfg.Dev.Port)
	}
	if cfg.Path() != "" {
		t.Errorf("Path = %q, want empty", cfg.Path())
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	if err := os.WriteFile(configPath, []byte("not valid json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFile(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "E120") {
		t.Errorf("Expected E120 error, got: %v", err)
	}

	_, err = LoadFile(filepath.Join(tmpDir, "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "E121") {
		t.Errorf("Expected E121 error, got: %v", err)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	cfg := New()
	cfg.Dev.Port = 9000
	cfg.Dev.HotReload = false

	if err := cfg.Save(); err == nil {
		t.Error("Expected error when saving without path")
	}

	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}

	loaded, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.Dev.Port != 9000 {
		t.Errorf("Dev.Port = %d, want %d", loaded.Dev.Port, 9000)
	}
	if loaded.Dev.HotReload {
		t.Error("Dev.HotReload = true after round trip, want false")
	}

	loaded.Dev.Port = 9001
	if err := loaded.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	reloaded, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if reloaded.Dev.Port != 9001 {
		t.Errorf("Dev.Port = %d, want %d", reloaded.Dev.Port, 9001)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode string
	}{
		{"valid", func(*Config) {}, ""},
		{"negative port", func(c *Config) { c.Dev.Port = -1 }, "E122"},
		{"port too large", func(c *Config) { c.Dev.Port = 70000 }, "E122"},
		{"relative path", func(c *Config) { c.HMR.Path = "hmr" }, "E124"},
		{"bad glob", func(c *Config) { c.Dev.Ignore = []string{"[unclosed"} }, "E123"},
		{"bad debounce", func(c *Config) { c.Dev.Debounce = "soon" }, "E120"},
		{"bad write timeout", func(c *Config) { c.HMR.WriteTimeout = "1 minute" }, "E120"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantCode) {
				t.Errorf("Validate() = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := New()
	if got := cfg.DebounceDuration(); got != 100*time.Millisecond {
		t.Errorf("DebounceDuration = %v", got)
	}
	cfg.HMR.WriteTimeout = "garbage"
	if got := cfg.WriteTimeoutDuration(); got != 10*time.Second {
		t.Errorf("WriteTimeoutDuration fallback = %v", got)
	}
}

func TestDevAddress(t *testing.T) {
	cfg := New()
	cfg.Dev.Port = 8080
	cfg.Dev.Host = "0.0.0.0"

	if addr := cfg.DevAddress(); addr != "0.0.0.0:8080" {
		t.Errorf("DevAddress = %q, want %q", addr, "0.0.0.0:8080")
	}
}

func TestDevURL(t *testing.T) {
	cfg := New()

	if url := cfg.DevURL(); url != "http://localhost:3000" {
		t.Errorf("DevURL = %q, want %q", url, "http://localhost:3000")
	}

	cfg.Dev.HTTPS = true
	if url := cfg.DevURL(); url != "https://localhost:3000" {
		t.Errorf("DevURL with HTTPS = %q, want %q", url, "https://localhost:3000")
	}
}

func TestWatchPaths(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := New()
	if err := cfg.SaveTo(filepath.Join(tmpDir, ConfigFileName)); err != nil {
		t.Fatal(err)
	}
	cfg.Root = "web"
	cfg.Dev.Watch = []string{"src", "/abs/lib"}

	got := cfg.WatchPaths()
	want := []string{filepath.Join(tmpDir, "web", "src"), "/abs/lib"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("WatchPaths = %v, want %v", got, want)
	}
}

func TestIsModule(t *testing.T) {
	cfg := New()
	for path, want := range map[string]bool{
		"a.js":       true,
		"a.MJS":      true,
		"a.ts":       false,
		"style.css":  false,
		"index.html": false,
	} {
		if got := cfg.IsModule(path); got != want {
			t.Errorf("IsModule(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestFindProjectRoot(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := FindProjectRoot(nested); err == nil {
		t.Error("Expected error without config")
	}

	if err := New().SaveTo(filepath.Join(tmpDir, ConfigFileName)); err != nil {
		t.Fatal(err)
	}
	root, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot error: %v", err)
	}
	if root != tmpDir {
		t.Errorf("FindProjectRoot = %q, want %q", root, tmpDir)
	}
}
