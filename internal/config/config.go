package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stackalign/internal/session"
)

const (
	defaultConfigPath  = "~/.config/stackalign/config.json"
	defaultSampleLimit = 100
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Reduction Reduction `json:"reduction"`
	Export    Export    `json:"export"`
	Logging   Logging   `json:"logging"`
	Paths     Paths     `json:"paths"`
}

// Reduction captures mean-frame computation preferences.
type Reduction struct {
	// SampleLimit is how many leading frames of a session feed its mean.
	SampleLimit int `json:"sample_limit"`
}

// Export captures stack export preferences.
type Export struct {
	// OutputName is the product file name written into the session folder.
	OutputName string `json:"output_name"`
}

// Logging controls logging verbosity and encoding.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Paths configures storage locations.
type Paths struct {
	DatabasePath string `json:"database_path"`
}

// Path returns the config file location Load would read: the
// STACKALIGN_CONFIG override, or the default under the user's home.
func Path() (string, error) {
	p := os.Getenv("STACKALIGN_CONFIG")
	if p == "" {
		p = defaultConfigPath
	}
	return expandUser(p)
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	expanded, err := Path()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first problem that would break a run.
func (c *Config) Validate() error {
	if c.Reduction.SampleLimit <= 0 {
		return fmt.Errorf("reduction.sample_limit must be positive, got %d", c.Reduction.SampleLimit)
	}
	if c.Export.OutputName == "" {
		return errors.New("export.output_name must not be empty")
	}
	if strings.ContainsRune(c.Export.OutputName, os.PathSeparator) {
		return fmt.Errorf("export.output_name %q must be a bare file name", c.Export.OutputName)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Reduction: Reduction{
			SampleLimit: defaultSampleLimit,
		},
		Export: Export{
			OutputName: session.ExportedStackName,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "stackalign.db"),
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
