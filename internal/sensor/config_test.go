package sensor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
controller:
  command_address: controller:8443
  telemetry_address: controller:8444
tls:
  ca_file: ca.crt
timing:
  reconnect_interval: 2s
sensors:
  - id: sensor-42
    serial_number: TMP-0042
    kind: temperature
    cert_file: sensor-42.crt
    key_file: sensor-42.key
`), 0600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "controller.machinery.com", config.Controller.CommonName)
	assert.Equal(t, 2*time.Second, config.ReconnectInterval())
	assert.Equal(t, 5*time.Second, config.AckTimeout())
	assert.Equal(t, time.Minute, config.SampleInterval())

	files := config.TLSFiles(config.Sensors[0])
	assert.Equal(t, "ca.crt", files.CAFile)
	assert.Equal(t, "sensor-42.crt", files.CertFile)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no sensors", func(c *Config) { c.Sensors = nil }, "at least one sensor"},
		{"duplicate id", func(c *Config) { c.Sensors = append(c.Sensors, c.Sensors[0]) }, "duplicate sensor ID"},
		{"bad kind", func(c *Config) { c.Sensors[0].Kind = "humidity" }, "not a known sensor kind"},
		{"missing key", func(c *Config) { c.Sensors[0].KeyFile = "" }, "cert_file and key_file"},
		{"zero interval", func(c *Config) { c.Timing.ReconnectInterval = "0s" }, "must be positive"},
		{"missing address", func(c *Config) { c.Controller.TelemetryAddress = "" }, "telemetry_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, NewDefaultConfig().Validate())
}
