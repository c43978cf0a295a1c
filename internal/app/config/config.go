package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/doukyrie/AquaRegulator-server/internal/adapters/modbus"
	"github.com/doukyrie/AquaRegulator-server/internal/adapters/repository"
	"github.com/doukyrie/AquaRegulator-server/internal/adapters/tcpserver"
	"github.com/doukyrie/AquaRegulator-server/internal/app/pipeline"
)

type VideoConfig struct {
	Port int `json:"port"`
}

func (c *VideoConfig) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 6000
	}
}

type HealthConfig struct {
	StatusFile      string `json:"statusFile"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

func (c *HealthConfig) ApplyDefaults() {
	if c.StatusFile == "" {
		c.StatusFile = "artifacts/health_status.json"
	}
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 10
	}
}

type MetricsConfig struct {
	Addr string `json:"addr"`
}

func (c *MetricsConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":9100"
	}
}

// Config aggregates every section of the JSON configuration file. Unknown
// keys are ignored; missing keys keep their defaults.
type Config struct {
	Database  repository.Config `json:"database"`
	Sensor    modbus.Config     `json:"sensor"`
	Publisher tcpserver.Config  `json:"publisher"`
	Video     VideoConfig       `json:"video"`
	Health    HealthConfig      `json:"health"`
	Pipeline  pipeline.Config   `json:"pipeline"`
	Metrics   MetricsConfig     `json:"metrics"`
}

func (c *Config) applyDefaults() {
	c.Database.ApplyDefaults()
	c.Sensor.ApplyDefaults()
	c.Publisher.ApplyDefaults()
	c.Video.ApplyDefaults()
	c.Health.ApplyDefaults()
	c.Pipeline.ApplyDefaults()
	c.Metrics.ApplyDefaults()
}

// Default returns the configuration with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load parses the file at path. Invalid JSON is an error; missing fields
// fall back to defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Manager owns the configuration file: it writes a default template when the
// file is missing, keeps the parsed configuration, and re-parses when the
// file's modification time changes.
type Manager struct {
	mu      sync.Mutex
	path    string
	cfg     *Config
	lastMod time.Time
}

func NewManager(path string) *Manager {
	m := &Manager{path: path, cfg: Default()}
	m.loadFromDisk()
	return m
}

// Get returns the currently loaded configuration.
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// ReloadIfChanged re-parses the file when its mtime differs from the last
// load. Returns true when a reload happened.
func (m *Manager) ReloadIfChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}
	if info.ModTime().Equal(m.lastMod) {
		return false
	}
	m.loadFromDiskLocked()
	return true
}

func (m *Manager) loadFromDisk() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFromDiskLocked()
}

func (m *Manager) loadFromDiskLocked() {
	cfg, err := Load(m.path)
	switch {
	case err == nil:
		m.cfg = cfg
	case os.IsNotExist(err):
		log.Printf("config: file missing, writing default template to %s", m.path)
		m.cfg = Default()
		m.writeDefaultTemplate()
	default:
		// ConfigError: keep running on defaults.
		log.Printf("config: failed to parse %s, using defaults: %v", m.path, err)
		m.cfg = Default()
	}

	if info, err := os.Stat(m.path); err == nil {
		m.lastMod = info.ModTime()
	}
}

func (m *Manager) writeDefaultTemplate() {
	data, err := json.MarshalIndent(Default(), "", "    ")
	if err != nil {
		log.Printf("config: render default template failed: %v", err)
		return
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("config: create config dir failed: %v", err)
			return
		}
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		log.Printf("config: write default template failed: %v", err)
	}
}
