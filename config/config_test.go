package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/timzifer/pulsed/pulse"
)

const hardwareYAML = `name: awg
sample_rate: {min: 1.0e8, max: 1.25e9, step: 1.0e6}
activation_config:
  all: [a_ch1, d_ch1]
waveform_format: wfm
formats:
  wfm: {analog: 4, digital: 0.125}
waveform_length: {min: 1, max: 8000000000, step: 1}
sequence_steps: {min: 1, max: 4000, step: 1}
repetitions: {min: 0, max: 65535, step: 1}
trigger_lines: 2
flag_lines: 4
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Store.Driver != StoreMemory {
		t.Fatalf("expected memory store, got %q", cfg.Store.Driver)
	}
	if cfg.Sampling.InfiniteCap != 1000 {
		t.Fatalf("expected infinite cap 1000, got %d", cfg.Sampling.InfiniteCap)
	}
	if cfg.StorePath() != "pulsed.db" {
		t.Fatalf("unexpected default store path %q", cfg.StorePath())
	}
	if cfg.RecipeInterval() != 2*time.Second {
		t.Fatalf("unexpected recipe interval %s", cfg.RecipeInterval())
	}
}

func TestLoadModulesAndHardwareFile(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "pulsed.yaml")
	writeFile(t, filepath.Join(dir, "awg.yaml"), hardwareYAML)
	writeFile(t, filepath.Join(dir, "sampling.yaml"), `sampling:
  gating_channel: d_ch1
  analog_vpp: {a_ch1: 0.5}
recipes:
  dirs: [recipes]
  interval: 500ms
`)
	writeFile(t, mainPath, `name: lab
logging:
  level: debug
hardware_file: awg.yaml
store:
  driver: sqlite
  path: data/pulsed.db
modules:
  - sampling.yaml
hot_reload: true
`)

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "lab" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected base fields: %+v", cfg)
	}
	if cfg.Hardware == nil || cfg.Hardware.Name != "awg" {
		t.Fatalf("hardware descriptor not loaded: %+v", cfg.Hardware)
	}
	if cfg.StorePath() != filepath.Join(dir, "data", "pulsed.db") {
		t.Fatalf("store path not resolved: %s", cfg.StorePath())
	}
	gate, ok := cfg.GatingChannel()
	if !ok || gate != pulse.DigitalChannel(1) {
		t.Fatalf("unexpected gating channel %v %v", gate, ok)
	}
	scale, err := cfg.AnalogScale()
	if err != nil {
		t.Fatalf("analog scale: %v", err)
	}
	if scale[pulse.AnalogChannel(1)] != 0.5 {
		t.Fatalf("unexpected scale %v", scale)
	}
	if len(cfg.Recipes.Dirs) != 1 || cfg.Recipes.Dirs[0] != filepath.Join(dir, "recipes") {
		t.Fatalf("recipe dirs not resolved: %v", cfg.Recipes.Dirs)
	}
	if cfg.RecipeInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected interval %s", cfg.RecipeInterval())
	}
	if !cfg.HotReload {
		t.Fatalf("expected hot reload to be enabled")
	}

	sources := SourceFiles(cfg)
	if len(sources) != 3 {
		t.Fatalf("expected 3 source files, got %v", sources)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "logging:\n  level: warn\n")
	writeFile(t, filepath.Join(dir, "b.yml"), "sampling:\n  chunk_bytes: 4096\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected warn level, got %q", cfg.Logging.Level)
	}
	if cfg.Sampling.ChunkBytes != 4096 {
		t.Fatalf("expected chunk bytes 4096, got %d", cfg.Sampling.ChunkBytes)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "modules: [b.yaml]\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "modules: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"driver":  "store:\n  driver: postgres\n",
		"gating":  "sampling:\n  gating_channel: x_ch1\n",
		"digital": "sampling:\n  analog_vpp: {d_ch1: 1}\n",
		"vpp":     "sampling:\n  analog_vpp: {a_ch1: 0}\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			writeFile(t, path, content)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestDurationYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	writeFile(t, path, "recipes:\n  interval: nope\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}
