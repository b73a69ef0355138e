package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/pulsed/hardware"
	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/sequencer"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
	// Fields are attached to every entry, e.g. the setup or instrument name.
	Fields map[string]string `yaml:"fields,omitempty"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// SamplingConfig holds the defaults applied to every sampling run.
type SamplingConfig struct {
	GatingChannel string             `yaml:"gating_channel,omitempty"`
	ChunkBytes    uint64             `yaml:"chunk_bytes,omitempty"`
	AnalogVpp     map[string]float64 `yaml:"analog_vpp,omitempty"`
	InfiniteCap   int                `yaml:"infinite_cap,omitempty"`
	OutputDir     string             `yaml:"output_dir,omitempty"`
	Workers       int                `yaml:"workers,omitempty"`
}

// RecipeConfig lists recipe directories and the poll interval used for hot reload.
type RecipeConfig struct {
	Dirs     []string `yaml:"dirs,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
}

// ModuleReference captures the configuration file that defined an entry.
type ModuleReference struct {
	File string `json:"file,omitempty"`
}

// Config is the root configuration structure for the service.
type Config struct {
	Name         string               `yaml:"name,omitempty"`
	Description  string               `yaml:"description,omitempty"`
	Logging      LoggingConfig        `yaml:"logging"`
	Telemetry    TelemetryConfig      `yaml:"telemetry"`
	Modules      []string             `yaml:"modules,omitempty"`
	Hardware     *hardware.Descriptor `yaml:"hardware,omitempty"`
	HardwareFile string               `yaml:"hardware_file,omitempty"`
	Store        StoreConfig          `yaml:"store"`
	Sampling     SamplingConfig       `yaml:"sampling"`
	Recipes      RecipeConfig         `yaml:"recipes"`
	HotReload    bool                 `yaml:"hot_reload,omitempty"`
	Source       ModuleReference      `yaml:"-"`

	sources []string
}

const (
	// StoreMemory keeps entities in process memory only.
	StoreMemory = "memory"
	// StoreSQLite persists entities into a SQLite database file.
	StoreSQLite = "sqlite"
)

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info"},
		Store:    StoreConfig{Driver: StoreMemory},
		Sampling: SamplingConfig{InfiniteCap: sequencer.DefaultInfiniteCap},
		Recipes:  RecipeConfig{Interval: Duration{Duration: 2 * time.Second}},
	}
}

// Load reads a configuration file or a directory of YAML files. Module
// includes are resolved relative to the including file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	cfg := Default()
	cfg.Source = ModuleReference{File: abs}
	visited := make(map[string]struct{})
	if info.IsDir() {
		err = loadDir(cfg, abs, visited)
	} else {
		err = loadFile(cfg, abs, visited)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(dst *Config, path string, visited map[string]struct{}) error {
	if _, ok := visited[path]; ok {
		return fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	cfg.resolvePaths(baseDir)
	if cfg.HardwareFile != "" {
		desc, err := LoadHardware(cfg.HardwareFile)
		if err != nil {
			return err
		}
		cfg.Hardware = desc
		dst.sources = append(dst.sources, cfg.HardwareFile)
	}
	dst.sources = append(dst.sources, path)
	mergeConfig(dst, &cfg)

	for _, module := range cfg.Modules {
		modulePath := module
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, modulePath)
		}
		info, err := os.Stat(modulePath)
		if err != nil {
			return fmt.Errorf("%s: module %s: %w", path, module, err)
		}
		if info.IsDir() {
			err = loadDir(dst, modulePath, visited)
		} else {
			err = loadFile(dst, modulePath, visited)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func loadDir(dst *Config, path string, visited map[string]struct{}) error {
	if _, ok := visited[path]; ok {
		return fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read config dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := loadFile(dst, filepath.Join(path, entry.Name()), visited); err != nil {
			return err
		}
	}
	return nil
}

// LoadHardware reads a hardware descriptor from its own YAML file.
func LoadHardware(path string) (*hardware.Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hardware descriptor: %w", err)
	}
	var desc hardware.Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal hardware descriptor %s: %w", path, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("hardware descriptor %s: %w", path, err)
	}
	return &desc, nil
}

func (c *Config) resolvePaths(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.HardwareFile = abs(c.HardwareFile)
	c.Store.Path = abs(c.Store.Path)
	c.Sampling.OutputDir = abs(c.Sampling.OutputDir)
	for i, dir := range c.Recipes.Dirs {
		c.Recipes.Dirs[i] = abs(dir)
	}
}

func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" {
		dst.Telemetry = src.Telemetry
	}
	if src.Hardware != nil {
		dst.Hardware = src.Hardware
	}
	if src.Store.Driver != "" {
		dst.Store.Driver = src.Store.Driver
	}
	if src.Store.Path != "" {
		dst.Store.Path = src.Store.Path
	}
	if src.Sampling.GatingChannel != "" {
		dst.Sampling.GatingChannel = src.Sampling.GatingChannel
	}
	if src.Sampling.ChunkBytes != 0 {
		dst.Sampling.ChunkBytes = src.Sampling.ChunkBytes
	}
	if src.Sampling.InfiniteCap != 0 {
		dst.Sampling.InfiniteCap = src.Sampling.InfiniteCap
	}
	if src.Sampling.Workers != 0 {
		dst.Sampling.Workers = src.Sampling.Workers
	}
	if src.Sampling.OutputDir != "" {
		dst.Sampling.OutputDir = src.Sampling.OutputDir
	}
	for ch, vpp := range src.Sampling.AnalogVpp {
		if dst.Sampling.AnalogVpp == nil {
			dst.Sampling.AnalogVpp = make(map[string]float64, len(src.Sampling.AnalogVpp))
		}
		dst.Sampling.AnalogVpp[ch] = vpp
	}
	if src.Recipes.Interval.Duration != 0 {
		dst.Recipes.Interval = src.Recipes.Interval
	}
	dst.Recipes.Dirs = append(dst.Recipes.Dirs, src.Recipes.Dirs...)
	if src.HotReload {
		dst.HotReload = true
	}
}

// Validate checks the merged configuration for inconsistent values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	if c.Sampling.GatingChannel != "" {
		if _, err := pulse.ParseChannelID(c.Sampling.GatingChannel); err != nil {
			return fmt.Errorf("sampling.gating_channel: %w", err)
		}
	}
	if _, err := c.AnalogScale(); err != nil {
		return err
	}
	if c.Sampling.InfiniteCap < 0 {
		return fmt.Errorf("sampling.infinite_cap must not be negative")
	}
	if c.Sampling.Workers < 0 {
		return fmt.Errorf("sampling.workers must not be negative")
	}
	if c.Hardware != nil {
		if err := c.Hardware.Validate(); err != nil {
			return fmt.Errorf("hardware: %w", err)
		}
	}
	return nil
}

// AnalogScale converts the configured peak-to-peak voltages into channel keys.
func (c *Config) AnalogScale() (map[pulse.ChannelID]float64, error) {
	if c == nil || len(c.Sampling.AnalogVpp) == 0 {
		return nil, nil
	}
	out := make(map[pulse.ChannelID]float64, len(c.Sampling.AnalogVpp))
	for raw, vpp := range c.Sampling.AnalogVpp {
		id, err := pulse.ParseChannelID(raw)
		if err != nil {
			return nil, fmt.Errorf("sampling.analog_vpp: %w", err)
		}
		if id.Kind != pulse.Analog {
			return nil, fmt.Errorf("sampling.analog_vpp: %s is not an analog channel", raw)
		}
		if vpp <= 0 {
			return nil, fmt.Errorf("sampling.analog_vpp: %s must be positive", raw)
		}
		out[id] = vpp
	}
	return out, nil
}

// GatingChannel returns the configured gating channel, if any.
func (c *Config) GatingChannel() (pulse.ChannelID, bool) {
	if c == nil || c.Sampling.GatingChannel == "" {
		return pulse.ChannelID{}, false
	}
	id, err := pulse.ParseChannelID(c.Sampling.GatingChannel)
	if err != nil {
		return pulse.ChannelID{}, false
	}
	return id, true
}

// StorePath returns the SQLite database path with its default applied.
func (c *Config) StorePath() string {
	if c == nil || c.Store.Path == "" {
		return "pulsed.db"
	}
	return c.Store.Path
}

// RecipeInterval returns the poll interval for recipe hot reload.
func (c *Config) RecipeInterval() time.Duration {
	if c == nil || c.Recipes.Interval.Duration <= 0 {
		return 2 * time.Second
	}
	return c.Recipes.Interval.Duration
}
