package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lherron/dsmerge/internal/errs"
	"github.com/lherron/dsmerge/internal/materialize"
	"github.com/lherron/dsmerge/internal/render"
)

// Config represents the application configuration
type Config struct {
	RawRoot     string `yaml:"raw_root"`
	LedgerPath  string `yaml:"ledger_path"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	DefaultMode string `yaml:"default_mode"`
	Output      string `yaml:"output"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/dsmerge/config.yaml (YAML), or the file named by DSMERGE_CONFIG
//
// The ledger stays disabled unless ledger_path is configured.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:    "info",
		LogFormat:   "auto",
		DefaultMode: string(materialize.ModeLink),
		Output:      "table",
	}

	// godotenv.Load never overrides variables already set in the process.
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	if err := loadYAMLConfig(cfg); err != nil {
		return nil, err
	}

	if rawRoot := os.Getenv("DSMERGE_RAW_ROOT"); rawRoot != "" {
		cfg.RawRoot = rawRoot
	} else if rawRoot := os.Getenv("nnUNet_raw"); rawRoot != "" && cfg.RawRoot == "" {
		cfg.RawRoot = rawRoot
	}
	if ledger := getEnvOrFile("DSMERGE_LEDGER", "DSMERGE_LEDGER_FILE"); ledger != "" {
		cfg.LedgerPath = ledger
	}
	if logLevel := os.Getenv("DSMERGE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("DSMERGE_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if mode := os.Getenv("DSMERGE_MODE"); mode != "" {
		cfg.DefaultMode = mode
	}
	if output := os.Getenv("DSMERGE_OUTPUT"); output != "" {
		cfg.Output = output
	}

	cfg.LedgerPath = expandHome(cfg.LedgerPath)
	cfg.RawRoot = expandHome(cfg.RawRoot)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if _, err := materialize.ParseMode(c.DefaultMode); err != nil {
		return err
	}
	if _, err := render.ParseFormat(c.Output); err != nil {
		return err
	}
	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		return errs.NewValidationError("log_format", c.LogFormat, fmt.Sprintf("log format must be auto, console or json, got %q", c.LogFormat))
	}
	return nil
}

// Path returns the YAML config file location.
func Path() (string, error) {
	if p := os.Getenv("DSMERGE_CONFIG"); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "dsmerge", "config.yaml"), nil
}

// loadYAMLConfig merges the YAML config file into cfg. A missing file is
// not an error; a malformed one is.
func loadYAMLConfig(cfg *Config) error {
	configPath, err := Path()
	if err != nil {
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errs.WrapIO("read", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errs.NewValidationError("config", configPath, fmt.Sprintf("cannot parse %s: %v", configPath, err))
	}
	return nil
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(homeDir, strings.TrimPrefix(p, "~"))
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
