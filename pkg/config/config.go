// Package config loads and validates the operator's JSON configuration
// file, applying sensible defaults when the file or individual fields
// are absent.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	corev1 "k8s.io/api/core/v1"

	"github.com/kubermatic/kube-workspace-operator/pkg/errors"
	"github.com/kubermatic/kube-workspace-operator/pkg/humantime"
	"github.com/kubermatic/kube-workspace-operator/pkg/quantity"
)

// EnvVar is the environment variable naming the config file path.
const EnvVar = "KUBE_WORKSPACE_OPERATOR_CONFIG"

const (
	defaultServerAddress          = "0.0.0.0:8080"
	defaultExporterServerAddress  = "0.0.0.0:9999"
	defaultNamespace              = "kube-workspaces"
	defaultMaxHomeVolumeSize      = "10Gi"
	defaultAutoCreateNamespace    = true
	defaultExporterEnabled        = true
	defaultAutoRegisterServiceMon = true
)

// User is a whitelisted user allowed to start/stop their own workspace.
type User struct {
	Username     string `json:"username"`
	SSHPublicKey string `json:"ssh_public_key"`
}

// PrometheusExporter configures the metrics exporter collaborator.
type PrometheusExporter struct {
	Enabled                            bool   `json:"enabled"`
	ServerAddress                      string `json:"server_address"`
	AutoRegisterOperatorServiceMonitor bool   `json:"auto_register_operator_service_monitor"`
}

// CPUUsageConfig is the CPU idle dimension of auto-shutdown.
type CPUUsageConfig struct {
	MinimumIdleTimeRaw string `json:"minimum_idle_time"`
	CPUThreshold       int64  `json:"cpu_threshold"`

	MinimumIdleTime time.Duration `json:"-"`
}

// TCPIdleConfig is the TCP-connection idle dimension of auto-shutdown.
type TCPIdleConfig struct {
	MinimumIdleTimeRaw string   `json:"minimum_idle_time"`
	IgnoredPorts       []uint16 `json:"ignored_ports"`

	MinimumIdleTime time.Duration `json:"-"`
}

// AutoShutdown is the master switch plus the two idle dimensions.
type AutoShutdown struct {
	Enable   bool            `json:"enable"`
	CPUUsage *CPUUsageConfig `json:"cpu_usage"`
	TCPIdle  *TCPIdleConfig  `json:"tcp_idle"`
}

// Enabled reports whether auto-shutdown runs at all: the master switch
// plus at least one configured idle dimension.
func (a AutoShutdown) Enabled() bool {
	return a.Enable && (a.CPUUsage != nil || a.TCPIdle != nil)
}

// Config is the fully parsed and validated operator configuration.
type Config struct {
	ServerAddress        string             `json:"server_address"`
	PrometheusExporter   PrometheusExporter `json:"prometheus_exporter"`
	Namespace            string             `json:"namespace"`
	AutoCreateNamespace  bool               `json:"auto_create_namespace"`
	Users                []User             `json:"users"`
	MaxHomeVolumeSizeRaw string             `json:"max_home_volume_size"`
	PodTemplate          corev1.PodSpec     `json:"pod_template"`
	StorageClass         *string            `json:"storage_class"`
	AutoShutdown         AutoShutdown       `json:"auto_shutdown"`

	MaxHomeVolumeSizeBytes int64 `json:"-"`
}

// Load reads the config file named by the KUBE_WORKSPACE_OPERATOR_CONFIG
// environment variable, or applies all defaults if the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		cfg := defaults()
		if err := cfg.validateAndDerive(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", errors.ErrConfigInvalid, path, err)
	}

	cfg := defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errors.ErrConfigInvalid, path, err)
	}

	if err := cfg.validateAndDerive(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerAddress: defaultServerAddress,
		PrometheusExporter: PrometheusExporter{
			Enabled:                            defaultExporterEnabled,
			ServerAddress:                      defaultExporterServerAddress,
			AutoRegisterOperatorServiceMonitor: defaultAutoRegisterServiceMon,
		},
		Namespace:            defaultNamespace,
		AutoCreateNamespace:  defaultAutoCreateNamespace,
		Users:                nil,
		MaxHomeVolumeSizeRaw: defaultMaxHomeVolumeSize,
	}
}

// validateAndDerive checks the fields that would make the config
// unusable and computes the derived numeric/duration fields.
func (c *Config) validateAndDerive() error {
	if c.Namespace == "" || c.Namespace != strings.TrimSpace(c.Namespace) {
		return fmt.Errorf("%w: namespace must be non-empty with no surrounding whitespace", errors.ErrConfigInvalid)
	}

	if err := validateHostPort(c.ServerAddress); err != nil {
		return fmt.Errorf("%w: server_address: %v", errors.ErrConfigInvalid, err)
	}
	if err := validateHostPort(c.PrometheusExporter.ServerAddress); err != nil {
		return fmt.Errorf("%w: prometheus_exporter.server_address: %v", errors.ErrConfigInvalid, err)
	}

	size, err := quantity.Parse(c.MaxHomeVolumeSizeRaw)
	if err != nil {
		return fmt.Errorf("%w: max_home_volume_size: %v", errors.ErrConfigInvalid, err)
	}
	c.MaxHomeVolumeSizeBytes = size

	if cpu := c.AutoShutdown.CPUUsage; cpu != nil {
		d, err := humantime.ParseDuration(cpu.MinimumIdleTimeRaw)
		if err != nil {
			return fmt.Errorf("%w: auto_shutdown.cpu_usage.minimum_idle_time: %v", errors.ErrConfigInvalid, err)
		}
		cpu.MinimumIdleTime = d
	}
	if tcp := c.AutoShutdown.TCPIdle; tcp != nil {
		d, err := humantime.ParseDuration(tcp.MinimumIdleTimeRaw)
		if err != nil {
			return fmt.Errorf("%w: auto_shutdown.tcp_idle.minimum_idle_time: %v", errors.ErrConfigInvalid, err)
		}
		tcp.MinimumIdleTime = d
	}

	seen := make(map[string]struct{}, len(c.Users))
	for _, u := range c.Users {
		if _, dup := seen[u.Username]; dup {
			return fmt.Errorf("%w: duplicate username %q", errors.ErrConfigInvalid, u.Username)
		}
		seen[u.Username] = struct{}{}

		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(u.SSHPublicKey))); err != nil {
			return fmt.Errorf("%w: users[%q].ssh_public_key is not a valid authorized-key line: %v", errors.ErrConfigInvalid, u.Username, err)
		}
	}

	return nil
}

func validateHostPort(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
