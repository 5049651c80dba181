// Package config loads and describes the gateway's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level keywarden configuration file.
type YAMLConfig struct {
	Server    ServerConfig   `yaml:"server"`
	Auth      AuthConfig     `yaml:"auth"`
	Policy    PolicyConfig   `yaml:"policy"`
	Counter   CounterConfig  `yaml:"counter"`
	Store     StoreConfig    `yaml:"store"`
	Resources []ResourceYAML `yaml:"resources"`
	MCP       MCPConfig      `yaml:"mcp"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	GatewayURL      string     `yaml:"gateway_url"`
	MaxBodySize     string     `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
	TLS             TLSConfig  `yaml:"tls"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig controls authentication settings: the admin JWT, the HMAC key
// for connection handles, the master key sealing resource secrets, and the
// PoP clock-skew tolerance.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	JWTExpiry     string `yaml:"jwt_expiry"`
	HandleSecret  string `yaml:"handle_secret"`
	MasterKey     string `yaml:"master_key"`
	ClockSkewSecs int    `yaml:"clock_skew_secs"`
}

// PolicyConfig controls policy evaluation.
type PolicyConfig struct {
	// Timezone evaluates time windows and calendar quota boundaries
	// ("UTC", "Europe/Berlin", ...). Defaults to UTC.
	Timezone string `yaml:"timezone"`
	// StreamOverrun selects what happens when a streaming response pushes
	// token spend past its budget mid-stream: "finish" lets the stream
	// complete and blocks subsequent requests, "cut" aborts the stream.
	StreamOverrun string `yaml:"stream_overrun"`
	// UpstreamTimeout bounds buffered upstream calls ("30s").
	UpstreamTimeout string `yaml:"upstream_timeout"`
}

// CounterConfig selects the atomic counter backend: "memory" for a single
// instance, "redis" for multi-instance deployments.
type CounterConfig struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
}

// StoreConfig selects the persistence backend. DataDir applies to the
// default sqlite driver; DSN overrides it for pgx/mysql.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
}

// ResourceYAML declares a shared credential in the configuration file.
// Secrets given in plaintext are sealed on first load.
type ResourceYAML struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Provider string            `yaml:"provider"`
	Secret   string            `yaml:"secret"`
	Config   map[string]string `yaml:"config,omitempty"`
}

// MCPConfig controls the MCP (Model Context Protocol) server exposing
// owner-side management tools.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	var cfg YAMLConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			GatewayURL:      "http://localhost:8080",
			MaxBodySize:     "10MB",
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry:     "1h",
			ClockSkewSecs: 300,
		},
		Policy: PolicyConfig{
			Timezone:        "UTC",
			StreamOverrun:   "finish",
			UpstreamTimeout: "60s",
		},
		Counter: CounterConfig{
			Backend: "memory",
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: "./data",
		},
		MCP: MCPConfig{
			Enabled:   false,
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
