package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir     string `yaml:"-"`
	DBPath      string `yaml:"-"`
	DatasetPath string `yaml:"dataset"`
	Debug       bool   `yaml:"debug"`

	Oracle   OracleConfig   `yaml:"oracle"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
}

type OracleConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

type WorkflowConfig struct {
	// MaxGenerationAttempts bounds generate/validate cycles per branch.
	MaxGenerationAttempts int `yaml:"max_generation_attempts"`
	// MaxExecRegenerations bounds how many times a branch regenerates after
	// an execution-time failure of already-validated code.
	MaxExecRegenerations int `yaml:"max_exec_regenerations"`
}

type SandboxConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// RegistryMaxSize caps the Lua registry, which bounds memory used by
	// generated code.
	RegistryMaxSize int `yaml:"registry_max_size"`
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("STRIDE_DATA_DIR", filepath.Join(homeDir, ".stride"))

	c := &Config{
		DataDir:     dataDir,
		DBPath:      filepath.Join(dataDir, "stride.db"),
		DatasetPath: filepath.Join(dataDir, "activities.csv"),
		Oracle: OracleConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4.1",
			Timeout: 60 * time.Second,
		},
		Workflow: WorkflowConfig{
			MaxGenerationAttempts: 3,
			MaxExecRegenerations:  1,
		},
		Sandbox: SandboxConfig{
			Timeout:         10 * time.Second,
			RegistryMaxSize: 1024 * 256,
		},
	}

	if err := c.loadFile(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}
	c.applyEnv()

	return c, nil
}

// loadFile overlays settings from the optional config file.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatasetPath = getEnv("STRIDE_DATASET", c.DatasetPath)
	c.Oracle.BaseURL = getEnv("STRIDE_ORACLE_BASE_URL", c.Oracle.BaseURL)
	c.Oracle.Model = getEnv("STRIDE_ORACLE_MODEL", c.Oracle.Model)
	c.Oracle.APIKey = getEnv("OPENAI_API_KEY", c.Oracle.APIKey)
	c.Oracle.APIKey = getEnv("STRIDE_ORACLE_API_KEY", c.Oracle.APIKey)

	if v, exists := os.LookupEnv("STRIDE_DEBUG"); exists {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Debug = debug
		}
	}
	if v, exists := os.LookupEnv("STRIDE_MAX_ATTEMPTS"); exists {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workflow.MaxGenerationAttempts = n
		}
	}
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ScratchDir(), 0755)
}

func (c *Config) ScratchDir() string {
	return filepath.Join(c.DataDir, "scratch")
}

// LatestChartPath is the fixed slot for the most recent chart.
func (c *Config) LatestChartPath() string {
	return filepath.Join(c.DataDir, "latest-chart.png")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
