package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/VanDung-dev/HieraMesh/hieramesh/network"
	"github.com/VanDung-dev/HieraMesh/hieramesh/registry"
)

// Fallbacks applied by Normalize.
const (
	DefaultName = "Anonymous"
	DefaultPort = 8080
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config defines configuration for a mesh node.
type Config struct {
	PeerID        string `json:"peer_id"`
	Name          string `json:"name"`
	ListenHost    string `json:"listen_host"`
	Port          int    `json:"port"`
	AdvertiseHost string `json:"advertise_host"`
	Transport     string `json:"transport"`

	DiscoveryAddr string `json:"discovery_addr"`
	DiscoveryPort int    `json:"discovery_port"`

	DiscoveryInterval time.Duration `json:"discovery_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	StaleTimeout      time.Duration `json:"stale_timeout"`
	SweepInterval     time.Duration `json:"sweep_interval"`
	FreshnessWindow   time.Duration `json:"freshness_window"`
	SendTimeout       time.Duration `json:"send_timeout"`
	BroadcastWorkers  int           `json:"broadcast_workers"`

	MetricsAddr  string `json:"metrics_addr"`
	InspectAddr  string `json:"inspect_addr"`
	InspectToken string `json:"inspect_token"`
	LogLevel     string `json:"log_level"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:              DefaultName,
		ListenHost:        "0.0.0.0",
		Port:              DefaultPort,
		Transport:         "tcp",
		DiscoveryAddr:     "255.255.255.255",
		DiscoveryPort:     network.DefaultDiscoveryPort,
		DiscoveryInterval: 5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleTimeout:      30 * time.Second,
		SweepInterval:     5 * time.Second,
		FreshnessWindow:   time.Hour,
		SendTimeout:       3 * time.Second,
		BroadcastWorkers:  8,
		LogLevel:          "info",
	}
}

// Normalize replaces unusable identity values with fallbacks: a blank or
// over-long name becomes Anonymous and port 0 becomes 8080.
func (c *Config) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" || utf8.RuneCountInString(c.Name) > registry.MaxNameLength {
		c.Name = DefaultName
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Transport == "" {
		c.Transport = "tcp"
	}
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DiscoveryPort < 1 || c.DiscoveryPort > 65535 {
		errs = append(errs, fmt.Errorf("discovery port %d out of range", c.DiscoveryPort))
	}
	if c.Transport != "tcp" && c.Transport != "zmq" {
		errs = append(errs, fmt.Errorf("transport %q must be tcp or zmq", c.Transport))
	}
	for name, d := range map[string]time.Duration{
		"discovery interval": c.DiscoveryInterval,
		"heartbeat interval": c.HeartbeatInterval,
		"stale timeout":      c.StaleTimeout,
		"sweep interval":     c.SweepInterval,
		"freshness window":   c.FreshnessWindow,
		"send timeout":       c.SendTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.HeartbeatInterval > 0 && c.StaleTimeout < 2*c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("stale timeout %s must be at least twice the heartbeat interval %s",
			c.StaleTimeout, c.HeartbeatInterval))
	}
	if c.BroadcastWorkers < 1 {
		errs = append(errs, errors.New("broadcast workers must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ListenAddr is the transport bind address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// AdvertiseAddr is the address peers should connect to.
func (c Config) AdvertiseAddr() string {
	host := c.AdvertiseHost
	if host == "" {
		host = network.LocalIP()
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// ApplyEnv overrides fields from MESH_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("MESH_PEER_ID", &c.PeerID)
	str("MESH_NAME", &c.Name)
	str("MESH_HOST", &c.ListenHost)
	num("MESH_PORT", &c.Port)
	str("MESH_ADVERTISE_HOST", &c.AdvertiseHost)
	str("MESH_TRANSPORT", &c.Transport)
	str("MESH_DISCOVERY_ADDR", &c.DiscoveryAddr)
	num("MESH_DISCOVERY_PORT", &c.DiscoveryPort)
	dur("MESH_DISCOVERY_INTERVAL", &c.DiscoveryInterval)
	dur("MESH_HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	dur("MESH_STALE_TIMEOUT", &c.StaleTimeout)
	dur("MESH_SWEEP_INTERVAL", &c.SweepInterval)
	dur("MESH_FRESHNESS_WINDOW", &c.FreshnessWindow)
	dur("MESH_SEND_TIMEOUT", &c.SendTimeout)
	num("MESH_BROADCAST_WORKERS", &c.BroadcastWorkers)
	str("MESH_METRICS_ADDR", &c.MetricsAddr)
	str("MESH_INSPECT_ADDR", &c.InspectAddr)
	str("MESH_INSPECT_TOKEN", &c.InspectToken)
	str("MESH_LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}
