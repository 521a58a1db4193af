// Package config holds the pktpeer configuration and its YAML file store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/pktpeer/internal/transport"
)

// Role is the signaling role for the WebRTC transport.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Transport kinds.
const (
	TransportUDP    = "udp"
	TransportWebRTC = "webrtc"
)

// Signaling configures the WebSocket exchange used by the WebRTC transport.
type Signaling struct {
	Role   Role   `yaml:"role"`
	Listen string `yaml:"listen"` // host: WebSocket listen address
	URL    string `yaml:"url"`    // client: WebSocket URL to dial
	PIN    string `yaml:"pin"`    // host: fixed PIN, generated when empty
}

// Config stores every setting the CLI needs. Flags override file values.
type Config struct {
	Transport      string        `yaml:"transport"`
	Family         string        `yaml:"family"`
	Port           int           `yaml:"port"`
	RecvBufferSize int           `yaml:"recv_buffer_size"`
	MaxPacketSize  int           `yaml:"max_packet_size"`
	Debug          bool          `yaml:"debug"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	Signaling      Signaling     `yaml:"signaling"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Transport:      TransportUDP,
		Family:         transport.FamilyAny.String(),
		Port:           0,
		RecvBufferSize: 64 * 1024,
		MaxPacketSize:  1232,
		StatsInterval:  10 * time.Second,
		Signaling: Signaling{
			Role:   RoleHost,
			Listen: ":0",
		},
	}
}

// DefaultPath returns the default config file path: ~/.pktpeer/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".pktpeer", "config.yaml")
	}
	return filepath.Join(home, ".pktpeer", "config.yaml")
}

// Load reads the configuration from the given YAML file path on top of the
// defaults. If the file does not exist, it returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path with owner-only permissions, creating
// the parent directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportUDP, TransportWebRTC:
	default:
		errs = append(errs, fmt.Errorf("transport: must be %q or %q, got %q", TransportUDP, TransportWebRTC, c.Transport))
	}

	if _, err := transport.ParseFamily(c.Family); err != nil {
		errs = append(errs, fmt.Errorf("family: %w", err))
	}

	maxPort := 65535
	if c.Transport == TransportWebRTC {
		maxPort = 65534 // DataChannel ids
	}
	if c.Port < 0 || c.Port > maxPort {
		errs = append(errs, fmt.Errorf("port: must be 0 ~ %d, got %d", maxPort, c.Port))
	}

	if c.RecvBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("recv_buffer_size: must be positive, got %d", c.RecvBufferSize))
	}
	if c.MaxPacketSize < 1 || c.MaxPacketSize > transport.MaxDatagramSize {
		errs = append(errs, fmt.Errorf("max_packet_size: must be 1 ~ %d, got %d", transport.MaxDatagramSize, c.MaxPacketSize))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("stats_interval: must not be negative, got %s", c.StatsInterval))
	}

	if c.Transport == TransportWebRTC {
		switch c.Signaling.Role {
		case RoleHost:
		case RoleClient:
			if strings.TrimSpace(c.Signaling.URL) == "" {
				errs = append(errs, errors.New("signaling.url: required for the client role"))
			}
		default:
			errs = append(errs, fmt.Errorf("signaling.role: must be %q or %q, got %q", RoleHost, RoleClient, c.Signaling.Role))
		}
	}

	return errors.Join(errs...)
}

// AddressFamily returns the parsed Family. Call Validate first.
func (c *Config) AddressFamily() transport.Family {
	f, _ := transport.ParseFamily(c.Family)
	return f
}
