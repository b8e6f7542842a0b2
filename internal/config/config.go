package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIPOLE_ENGINE_"

// Config captures the settings required to boot the engine and the batch tool.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Subject string        `yaml:"subject"`
	Data    DataConfig    `yaml:"data"`
	Grid    GridConfig    `yaml:"grid"`
	Remote  RemoteConfig  `yaml:"remote"`
	Solver  SolverConfig  `yaml:"solver"`
	Cache   CacheConfig   `yaml:"cache"`
	Batch   BatchConfig   `yaml:"batch"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DataConfig locates subject files on local disk.
type DataConfig struct {
	SensorLayout string `yaml:"sensorLayout"`
	Transforms   string `yaml:"transforms"`
	CacheDir     string `yaml:"cacheDir"`
	IndexPath    string `yaml:"indexPath"`
	BEMDir       string `yaml:"bemDir"`
}

// GridConfig sizes the interactive solution grid.
type GridConfig struct {
	Steps int `yaml:"steps"`
}

// RemoteConfig points at the repository of precomputed solutions.
type RemoteConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// SolverConfig describes the external exact solver.
type SolverConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig toggles the in-process tier in front of the disk cache and
// bounds how many solutions it keeps.
type CacheConfig struct {
	Memory        bool `yaml:"memory"`
	MemoryEntries int  `yaml:"memoryEntries"`
}

// BatchConfig controls offline generation.
type BatchConfig struct {
	Workers int    `yaml:"workers"`
	Steps   int    `yaml:"steps"`
	Output  string `yaml:"output"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.New("config: subject is required")
	}
	if c.Grid.Steps < 2 {
		return fmt.Errorf("config: grid.steps must be at least 2, got %d", c.Grid.Steps)
	}
	if c.Batch.Steps < 2 {
		return fmt.Errorf("config: batch.steps must be at least 2, got %d", c.Batch.Steps)
	}
	if c.Cache.Memory && c.Cache.MemoryEntries < 1 {
		return fmt.Errorf("config: cache.memoryEntries must be positive, got %d", c.Cache.MemoryEntries)
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("config: batch.workers must be positive, got %d", c.Batch.Workers)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Subject: "sample",
		Data: DataConfig{
			SensorLayout: "data/sample-layout.yaml",
			Transforms:   "data/sample-transforms.yaml",
			CacheDir:     "data/fwd",
			IndexPath:    "data/fwd/fwd_index.csv",
			BEMDir:       "data",
		},
		Grid:   GridConfig{Steps: 50},
		Remote: RemoteConfig{Timeout: 30 * time.Second},
		Solver: SolverConfig{Timeout: 5 * time.Minute},
		Cache:  CacheConfig{Memory: true, MemoryEntries: 256},
		Batch:  BatchConfig{Workers: 8, Steps: 25, Output: "data/fwd/fwd_index.csv"},
	}
}

func applyEnvOverrides(cfg *Config) {
	envString("SERVER_ADDRESS", &cfg.Server.Address)
	envString("METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	envDuration("GRACEFUL_TIMEOUT", &cfg.Server.GracefulTimeout)
	envString("LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	envString("SUBJECT", &cfg.Subject)
	envString("SENSOR_LAYOUT", &cfg.Data.SensorLayout)
	envString("TRANSFORMS", &cfg.Data.Transforms)
	envString("CACHE_DIR", &cfg.Data.CacheDir)
	envString("INDEX_PATH", &cfg.Data.IndexPath)
	envString("BEM_DIR", &cfg.Data.BEMDir)
	envInt("GRID_STEPS", &cfg.Grid.Steps)
	envString("REMOTE_BASE_URL", &cfg.Remote.BaseURL)
	envDuration("REMOTE_TIMEOUT", &cfg.Remote.Timeout)
	envString("SOLVER_COMMAND", &cfg.Solver.Command)
	if v := os.Getenv(EnvPrefix + "SOLVER_ARGS"); v != "" {
		cfg.Solver.Args = strings.Fields(v)
	}
	envDuration("SOLVER_TIMEOUT", &cfg.Solver.Timeout)
	if v := os.Getenv(EnvPrefix + "CACHE_MEMORY"); v != "" {
		cfg.Cache.Memory = strings.EqualFold(v, "true") || v == "1"
	}
	envInt("CACHE_MEMORY_ENTRIES", &cfg.Cache.MemoryEntries)
	envInt("BATCH_WORKERS", &cfg.Batch.Workers)
	envInt("BATCH_STEPS", &cfg.Batch.Steps)
	envString("BATCH_OUTPUT", &cfg.Batch.Output)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
