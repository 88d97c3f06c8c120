// Package config loads the coderoom server configuration from an optional
// yaml file, overlaid by flags and environment variables at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Validated once at startup and never
// re-read at runtime.
type Config struct {
	Listen         string   `yaml:"listen"`
	LogJSON        bool     `yaml:"logJSON"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// UseSandbox routes executions to the remote sandbox instead of
	// spawning processes on this host.
	UseSandbox bool   `yaml:"useSandbox"`
	SandboxURL string `yaml:"sandboxURL"`

	WorkspaceRoot string `yaml:"workspaceRoot"`
	PythonCmd     string `yaml:"pythonCmd"`
	PTYRuns       bool   `yaml:"ptyRuns"`

	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig enables the optional event tap when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:        ":5000",
		SandboxURL:    "http://localhost:2358",
		WorkspaceRoot: filepath.Join(os.TempDir(), "coderoom", "runs"),
		PythonCmd:     "python3",
		NATS:          NATSConfig{SubjectPrefix: "coderoom"},
	}
}

// Load decodes the config file over the defaults. A missing file returns the
// defaults unchanged; an empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(trimmed)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the process relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("workspace root is required")
	}
	if strings.TrimSpace(c.PythonCmd) == "" {
		return fmt.Errorf("python command is required")
	}
	if c.UseSandbox && strings.TrimSpace(c.SandboxURL) == "" {
		return fmt.Errorf("sandbox url is required when useSandbox is set")
	}
	return nil
}

// ExpandOrigins normalises the allowed-origin list: entries are trimmed and
// every https origin also admits its http twin, which tolerates scheme
// mismatches between a fronting proxy and the browser.
func ExpandOrigins(origins []string) []string {
	out := make([]string, 0, len(origins)*2)
	seen := make(map[string]struct{})
	add := func(o string) {
		if o == "" {
			return
		}
		if _, ok := seen[o]; ok {
			return
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	for _, origin := range origins {
		o := strings.TrimRight(strings.TrimSpace(origin), "/")
		add(o)
		if strings.HasPrefix(o, "https://") {
			add("http://" + strings.TrimPrefix(o, "https://"))
		}
	}
	return out
}
