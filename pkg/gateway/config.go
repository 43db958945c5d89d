// Copyright 2025-2026 Aiku AI

package gateway

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aiku/chatgate/pkg/credstore"
)

// Config is the full gateway configuration, loaded from an optional YAML
// file with CHATGATE_* environment overrides on top.
type Config struct {
	// ClientID identifies which persisted session this gateway instance
	// owns. Immutable for the process lifetime.
	ClientID string `yaml:"client_id"`
	// ListenAddr is the HTTP API listen address. Defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`
	// SessionPath is the directory for the network client's session data.
	SessionPath string `yaml:"session_path"`
	// Production selects the dual-backend credential policy and JSON log
	// output, and hides internal error detail in API responses.
	Production bool `yaml:"production"`
	// AddressSuffix is appended to recipients that lack a network address
	// suffix. Empty disables normalization.
	AddressSuffix string `yaml:"address_suffix"`
	// ReadinessProbe enables the bounded readiness confirmation probe.
	ReadinessProbe bool `yaml:"readiness_probe"`
	// TeardownTimeoutSeconds caps best-effort client teardown before exit.
	TeardownTimeoutSeconds int `yaml:"teardown_timeout_seconds"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Network     NetworkConfig     `yaml:"network"`
}

// CredentialsConfig selects and parameterizes the credential store.
type CredentialsConfig struct {
	// Backend is "file" or "postgres". The postgres backend is only used
	// when Production is set; otherwise the file backend applies.
	Backend string `yaml:"backend"`
	// Path is the directory for the file backend and the fallback copies.
	Path string `yaml:"path"`
	// RemoteURL is the postgres connection URL for the remote backend.
	RemoteURL string `yaml:"remote_url"`
	// RemoteKey is the access key merged into the remote connection URL.
	RemoteKey string `yaml:"remote_key"`
}

// LivenessConfig controls the periodic connection verification.
type LivenessConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	FailThreshold       int `yaml:"fail_threshold"`
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds"`
}

// NetworkConfig parameterizes the network client adapter.
type NetworkConfig struct {
	// ServerURL is the chat network server base URL.
	ServerURL string `yaml:"server_url"`
	// BootstrapToken authenticates the very first boot when no credential
	// has been persisted yet. Ignored once a credential exists.
	BootstrapToken string `yaml:"bootstrap_token"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// LoadConfig reads the optional YAML file at path, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays CHATGATE_* environment variables on the config.
func (c *Config) ApplyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setStr(&c.ClientID, "CHATGATE_CLIENT_ID")
	setStr(&c.ListenAddr, "CHATGATE_LISTEN_ADDR")
	setStr(&c.SessionPath, "CHATGATE_SESSION_PATH")
	setBool(&c.Production, "CHATGATE_PRODUCTION")
	setStr(&c.AddressSuffix, "CHATGATE_ADDRESS_SUFFIX")
	setBool(&c.ReadinessProbe, "CHATGATE_READINESS_PROBE")
	setStr(&c.Credentials.Backend, "CHATGATE_CREDENTIAL_BACKEND")
	setStr(&c.Credentials.Path, "CHATGATE_CREDENTIAL_PATH")
	setStr(&c.Credentials.RemoteURL, "CHATGATE_REMOTE_URL")
	setStr(&c.Credentials.RemoteKey, "CHATGATE_REMOTE_KEY")
	setStr(&c.Network.ServerURL, "CHATGATE_SERVER_URL")
	setStr(&c.Network.BootstrapToken, "CHATGATE_BOOTSTRAP_TOKEN")
}

// PostProcess fills defaults and validates. Validation failures abort
// startup entirely; the gateway never comes up partially configured.
func (c *Config) PostProcess() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Credentials.Backend == "" {
		c.Credentials.Backend = "file"
	}
	if c.Credentials.Path == "" {
		c.Credentials.Path = "./credentials"
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.SessionPath == "" {
		return fmt.Errorf("session_path is required")
	}
	if c.Network.ServerURL == "" {
		return fmt.Errorf("network.server_url is required")
	}
	switch c.Credentials.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown credential backend %q", c.Credentials.Backend)
	}
	if c.Production && c.Credentials.Backend == "postgres" && c.Credentials.RemoteURL == "" {
		return fmt.Errorf("credentials.remote_url is required for the postgres backend in production")
	}
	return nil
}

// SupervisorConfig derives the supervisor's runtime knobs.
func (c *Config) SupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ClientID:              c.ClientID,
		SessionPath:           c.SessionPath,
		LivenessInterval:      time.Duration(c.Liveness.IntervalSeconds) * time.Second,
		LivenessFailThreshold: c.Liveness.FailThreshold,
		ProbeTimeout:          time.Duration(c.Liveness.ProbeTimeoutSeconds) * time.Second,
		ReadinessProbe:        c.ReadinessProbe,
		TeardownTimeout:       time.Duration(c.TeardownTimeoutSeconds) * time.Second,
	}
}

// CredstoreConfig derives the credential store configuration.
func (c *Config) CredstoreConfig() credstore.Config {
	return credstore.Config{
		Backend:    c.Credentials.Backend,
		Path:       c.Credentials.Path,
		RemoteURL:  c.Credentials.RemoteURL,
		RemoteKey:  c.Credentials.RemoteKey,
		Production: c.Production,
	}
}
