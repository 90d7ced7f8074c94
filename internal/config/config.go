// Package config holds all hdlbench configuration. Configuration is loaded
// once at startup and passed to components at construction; nothing in this
// package watches or reloads files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hdlbench configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Dataset configuration
	Dataset DatasetConfig `yaml:"dataset"`

	// Pipeline (layered generation) configuration
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Verifier configuration
	Verify VerifyConfig `yaml:"verify"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation service client.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // gemini, openai, ollama
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// DatasetConfig configures benchmark input discovery.
type DatasetConfig struct {
	Type      string `yaml:"type"` // rtllm, verilogeval
	Path      string `yaml:"path"`
	OutputDir string `yaml:"output_dir"`
}

// PipelineConfig configures the layered generation pipeline.
type PipelineConfig struct {
	Layers              int      `yaml:"layers"`
	Paths               []string `yaml:"paths"` // direct, cpp, python
	NSelect             int      `yaml:"n_select"`
	Trials              int      `yaml:"trials"`
	EarlyStop           bool     `yaml:"early_stop"`
	SelfRepair          bool     `yaml:"self_repair"`
	MaxRepairIterations int      `yaml:"max_repair_iterations"`
	QualityCaching      bool     `yaml:"quality_caching"`
}

// VerifyConfig configures the external HDL verifier toolchain.
type VerifyConfig struct {
	IVerilogPath   string `yaml:"iverilog_path"`
	VVPPath        string `yaml:"vvp_path"`
	CompileTimeout string `yaml:"compile_timeout"`
	SimTimeout     string `yaml:"sim_timeout"`
	WorkDir        string `yaml:"work_dir"`
}

// StoreConfig configures durable result persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	SnapshotDir  string `yaml:"snapshot_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "hdlbench",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider:   "gemini",
			Model:      "gemini-2.0-flash",
			Timeout:    "120s",
			MaxRetries: 3,
		},

		Dataset: DatasetConfig{
			Type:      "rtllm",
			Path:      "data/rtllm",
			OutputDir: "results",
		},

		Pipeline: PipelineConfig{
			Layers:              3,
			Paths:               []string{"direct", "cpp", "python"},
			NSelect:             3,
			Trials:              5,
			EarlyStop:           true,
			SelfRepair:          true,
			MaxRepairIterations: 3,
			QualityCaching:      true,
		},

		Verify: VerifyConfig{
			IVerilogPath:   "iverilog",
			VVPPath:        "vvp",
			CompileTimeout: "30s",
			SimTimeout:     "30s",
			WorkDir:        "",
		},

		Store: StoreConfig{
			DatabasePath: "data/hdlbench.db",
			SnapshotDir:  "results/cache",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API key from environment (check in priority order)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("HDLBENCH_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if url := os.Getenv("HDLBENCH_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("HDLBENCH_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("HDLBENCH_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if path := os.Getenv("HDLBENCH_DATASET"); path != "" {
		c.Dataset.Path = path
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing failures deep inside a run.
func (c *Config) Validate() error {
	switch c.Dataset.Type {
	case "rtllm", "verilogeval":
	default:
		return fmt.Errorf("unknown dataset type: %q", c.Dataset.Type)
	}

	if c.Pipeline.Layers < 1 {
		return fmt.Errorf("pipeline.layers must be >= 1, got %d", c.Pipeline.Layers)
	}
	if c.Pipeline.NSelect < 1 {
		return fmt.Errorf("pipeline.n_select must be >= 1, got %d", c.Pipeline.NSelect)
	}
	if c.Pipeline.Trials < 1 {
		return fmt.Errorf("pipeline.trials must be >= 1, got %d", c.Pipeline.Trials)
	}
	if c.Pipeline.MaxRepairIterations < 0 {
		return fmt.Errorf("pipeline.max_repair_iterations must be >= 0, got %d", c.Pipeline.MaxRepairIterations)
	}
	if len(c.Pipeline.Paths) == 0 {
		return fmt.Errorf("pipeline.paths must name at least one generation path")
	}
	for _, p := range c.Pipeline.Paths {
		switch p {
		case "direct", "cpp", "python":
		default:
			return fmt.Errorf("unknown generation path: %q", p)
		}
	}

	if _, err := c.LLM.RequestTimeout(); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	if _, err := c.Verify.CompileTimeoutDuration(); err != nil {
		return fmt.Errorf("verify.compile_timeout: %w", err)
	}
	if _, err := c.Verify.SimTimeoutDuration(); err != nil {
		return fmt.Errorf("verify.sim_timeout: %w", err)
	}

	return nil
}

// RequestTimeout parses the LLM request timeout.
func (c LLMConfig) RequestTimeout() (time.Duration, error) {
	return parseDuration(c.Timeout, 120*time.Second)
}

// CompileTimeoutDuration parses the verifier compile timeout.
func (c VerifyConfig) CompileTimeoutDuration() (time.Duration, error) {
	return parseDuration(c.CompileTimeout, 30*time.Second)
}

// SimTimeoutDuration parses the verifier simulation timeout.
func (c VerifyConfig) SimTimeoutDuration() (time.Duration, error) {
	return parseDuration(c.SimTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
