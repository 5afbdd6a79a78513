package mcpserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the MCP server configuration. It is read from an optional YAML
// file and then from the environment.
type Config struct {
	APIURL     string                    `yaml:"api_url"`
	ListenAddr string                    `yaml:"listen_addr"`
	Defaults   map[string]MethodDefaults `yaml:"defaults"`
	Overrides  map[string]ToolOverride   `yaml:"overrides"`
}

// MethodDefaults defines default MCP annotations for an HTTP method.
type MethodDefaults struct {
	ReadOnly    *bool `yaml:"readonly"`
	Destructive *bool `yaml:"destructive"`
	Idempotent  *bool `yaml:"idempotent"`
}

// ToolOverride allows per-tool customization.
type ToolOverride struct {
	Description string `yaml:"description"`
	ReadOnly    *bool  `yaml:"readonly"`
	Destructive *bool  `yaml:"destructive"`
	Idempotent  *bool  `yaml:"idempotent"`
}

// LoadConfig reads path when it is non-empty and applies MCP_API_URL and
// MCP_LISTEN_ADDR on top.
func LoadConfig(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("MCP_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("MCP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	return cfg, nil
}

// ParseConfig parses MCP server configuration from raw YAML bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}

	if cfg.APIURL == "" {
		cfg.APIURL = "http://127.0.0.1:8090"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8091"
	}
	if cfg.Defaults == nil {
		cfg.Defaults = defaultAnnotations()
	}

	return &cfg, nil
}

func defaultAnnotations() map[string]MethodDefaults {
	yes, no := true, false
	return map[string]MethodDefaults{
		"GET":  {ReadOnly: &yes, Destructive: &no, Idempotent: &yes},
		"POST": {ReadOnly: &no},
	}
}
