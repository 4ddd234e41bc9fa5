// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sensor

import (
	"fmt"
	"os"
	"time"

	"machinery/internal/network"

	"gopkg.in/yaml.v3"
)

// Config represents the sensor daemon configuration
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	TLS        TLSConfig        `yaml:"tls"`
	Timing     TimingConfig     `yaml:"timing"`
	Sensors    []SensorConfig   `yaml:"sensors"`
}

// ControllerConfig contains controller endpoints and its pinned identity
type ControllerConfig struct {
	CommandAddress   string `yaml:"command_address"`
	TelemetryAddress string `yaml:"telemetry_address"`
	CommonName       string `yaml:"common_name"`
}

// TLSConfig holds the trust anchor shared by every sensor
type TLSConfig struct {
	CAFile string `yaml:"ca_file"`
}

type TimingConfig struct {
	ReconnectInterval string `yaml:"reconnect_interval"`
	DialTimeout       string `yaml:"dial_timeout"`
	AckTimeout        string `yaml:"ack_timeout"`
	SampleInterval    string `yaml:"sample_interval"`
}

// SensorConfig binds one device identity to its credentials
type SensorConfig struct {
	ID           string `yaml:"id"`
	SerialNumber string `yaml:"serial_number"`
	Kind         string `yaml:"kind"`
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates an example configuration with a single sensor
func NewDefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			CommandAddress:   "localhost:8443",
			TelemetryAddress: "localhost:8444",
			CommonName:       "controller.machinery.com",
		},
		TLS: TLSConfig{CAFile: "certs/ca.crt"},
		Timing: TimingConfig{
			ReconnectInterval: "10s",
			DialTimeout:       "10s",
			AckTimeout:        "5s",
			SampleInterval:    "60s",
		},
		Sensors: []SensorConfig{
			{
				ID:           "sensor-1",
				SerialNumber: "TMP-0001",
				Kind:         network.KindTemperature,
				CertFile:     "certs/sensor-1.crt",
				KeyFile:      "certs/sensor-1.key",
			},
		},
	}
}

func (c *Config) setDefaults() {
	if c.Controller.CommonName == "" {
		c.Controller.CommonName = "controller.machinery.com"
	}
	if c.Timing.ReconnectInterval == "" {
		c.Timing.ReconnectInterval = "10s"
	}
	if c.Timing.DialTimeout == "" {
		c.Timing.DialTimeout = "10s"
	}
	if c.Timing.AckTimeout == "" {
		c.Timing.AckTimeout = "5s"
	}
	if c.Timing.SampleInterval == "" {
		c.Timing.SampleInterval = "60s"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Controller.CommandAddress == "" {
		return fmt.Errorf("controller.command_address is required")
	}
	if c.Controller.TelemetryAddress == "" {
		return fmt.Errorf("controller.telemetry_address is required")
	}
	if c.Controller.CommonName == "" {
		return fmt.Errorf("controller.common_name is required")
	}
	if c.TLS.CAFile == "" {
		return fmt.Errorf("tls.ca_file is required")
	}

	durations := []struct{ name, value string }{
		{"timing.reconnect_interval", c.Timing.ReconnectInterval},
		{"timing.dial_timeout", c.Timing.DialTimeout},
		{"timing.ack_timeout", c.Timing.AckTimeout},
		{"timing.sample_interval", c.Timing.SampleInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if len(c.Sensors) == 0 {
		return fmt.Errorf("at least one sensor must be configured")
	}

	sensorIDs := make(map[string]bool)
	for i, sensor := range c.Sensors {
		if sensor.ID == "" {
			return fmt.Errorf("sensors[%d].id is required", i)
		}
		if sensorIDs[sensor.ID] {
			return fmt.Errorf("duplicate sensor ID: %s", sensor.ID)
		}
		sensorIDs[sensor.ID] = true

		if sensor.SerialNumber == "" {
			return fmt.Errorf("sensors[%d].serial_number is required", i)
		}
		if !network.ValidKind(sensor.Kind) {
			return fmt.Errorf("sensors[%d].kind %q is not a known sensor kind", i, sensor.Kind)
		}
		if sensor.CertFile == "" || sensor.KeyFile == "" {
			return fmt.Errorf("sensors[%d] needs cert_file and key_file", i)
		}
	}

	return nil
}

func (c *Config) ReconnectInterval() time.Duration {
	d, _ := time.ParseDuration(c.Timing.ReconnectInterval)
	return d
}

func (c *Config) DialTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timing.DialTimeout)
	return d
}

func (c *Config) AckTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timing.AckTimeout)
	return d
}

func (c *Config) SampleInterval() time.Duration {
	d, _ := time.ParseDuration(c.Timing.SampleInterval)
	return d
}

// TLSFiles returns the credential set of one sensor
func (c *Config) TLSFiles(sensor SensorConfig) network.TLSFiles {
	return network.TLSFiles{
		CAFile:   c.TLS.CAFile,
		CertFile: sensor.CertFile,
		KeyFile:  sensor.KeyFile,
	}
}
