// Package config loads the adapter's boot configuration and provides the
// generic YAML persistence helper the NV-backed CIP objects (QoS, TCP/IP
// Interface) use to survive a restart.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ConnectionPoolSizes bounds the fixed-size connection slot pools the
// connection manager allocates at startup, one count per transport class.
type ConnectionPoolSizes struct {
	ExclusiveOwner int `yaml:"exclusive_owner"`
	InputOnly      int `yaml:"input_only"`
	ListenOnly     int `yaml:"listen_only"`
	Explicit       int `yaml:"explicit"`
}

// Boot is the adapter's startup configuration, loaded once from YAML.
type Boot struct {
	TCPListenAddress   string              `yaml:"tcp_listen_address"`
	UDPListenAddress   string              `yaml:"udp_listen_address"`
	Class1UDPAddress   string              `yaml:"class1_udp_address"`
	SessionTimeoutSec  int                 `yaml:"session_timeout_sec"`
	TickIntervalMs     int                 `yaml:"tick_interval_ms"`
	BufferSize         int                 `yaml:"buffer_size"`
	ConnectionPools    ConnectionPoolSizes `yaml:"connection_pools"`
	NVDataDir          string              `yaml:"nv_data_dir"`
	MetricsListenAddr  string              `yaml:"metrics_listen_address"`

	// DeviceIP is this device's own IPv4 address, used to derive the
	// target-chosen multicast group for T->O multicast production
	// (spec §6, CIP Vol. 1 §3-5.3).
	DeviceIP string `yaml:"device_ip"`

	// ProducedRunIdleHeader/ConsumedRunIdleHeader mirror the
	// OpenerProducedDataHasRunIdleHeader/OpenerConsumedDataHasRunIdleHeader
	// compile-time options (spec §6).
	ProducedRunIdleHeader bool `yaml:"produced_run_idle_header"`
	ConsumedRunIdleHeader bool `yaml:"consumed_run_idle_header"`
}

// Default returns the configuration the teacher's demo wiring falls back
// to when no file is supplied.
func Default() Boot {
	return Boot{
		TCPListenAddress: ":44818",
		UDPListenAddress: ":44818",
		Class1UDPAddress: ":2222",
		SessionTimeoutSec: 120,
		TickIntervalMs:    10,
		BufferSize:        4000,
		ConnectionPools: ConnectionPoolSizes{
			ExclusiveOwner: 32,
			InputOnly:      32,
			ListenOnly:     8,
			Explicit:       16,
		},
		NVDataDir:         "./nvdata",
		MetricsListenAddr: ":9100",
		DeviceIP:          "127.0.0.1",
	}
}

// Load reads a Boot config from a YAML file, overlaying Default() for any
// field the file omits.
func Load(path string) (Boot, error) {
	b := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Boot{}, err
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Boot{}, err
	}
	return b, nil
}

// LoadYAML unmarshals path into v, used by the QoS and TCP/IP objects to
// restore NV-persisted attribute values at boot.
func LoadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// SaveYAML marshals v to path, used whenever a settable NV attribute
// changes (spec §6 "Persisted state").
func SaveYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
