package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"machinery/internal/controller"
	"machinery/internal/network"
	"machinery/internal/testutil/tlstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonAgainstController(t *testing.T) {
	ca := tlstest.NewAuthority(t, "machinery-ca")
	srv := ca.IssueServer(t, "controller.machinery.com")

	ccfg := controller.NewDefaultConfig()
	ccfg.Server.Relay.Address = "127.0.0.1:0"
	ccfg.Server.Telemetry.Address = "127.0.0.1:0"
	ccfg.Server.API.Address = "127.0.0.1:0"
	ccfg.TLS = network.TLSFiles{CAFile: ca.CAFile(), CertFile: srv.CertFile, KeyFile: srv.KeyFile}
	ccfg.Relay.CommandTimeout = "2s"
	ccfg.Database.Path = filepath.Join(t.TempDir(), "machinery.db")
	ccfg.API.RateLimit.Enabled = false

	ctrl, err := controller.NewDaemon(ccfg)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	_, err = ctrl.Store().CreateSensor(context.Background(), "sensor-42", "TMP-0042", network.KindTemperature, "")
	require.NoError(t, err)
	require.NoError(t, ctrl.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Serve(ctx) }()

	pair := ca.IssueClient(t, "sensor-42.example")
	scfg := NewDefaultConfig()
	scfg.Controller.CommandAddress = ctrl.RelayAddr().String()
	scfg.Controller.TelemetryAddress = ctrl.TelemetryAddr().String()
	scfg.TLS.CAFile = ca.CAFile()
	scfg.Timing.ReconnectInterval = "100ms"
	scfg.Timing.SampleInterval = "100ms"
	scfg.Sensors = []SensorConfig{{
		ID:           "sensor-42",
		SerialNumber: "TMP-0042",
		Kind:         network.KindTemperature,
		CertFile:     pair.CertFile,
		KeyFile:      pair.KeyFile,
	}}

	dev, err := NewDaemon(scfg)
	require.NoError(t, err)
	devDone := make(chan error, 1)
	go func() { devDone <- dev.Serve(ctx) }()

	require.Eventually(t, func() bool { return ctrl.Relay().Connected("sensor-42") }, 5*time.Second, 20*time.Millisecond)

	body, _ := json.Marshal(controller.CommandRequest{Command: "status"})
	resp, err := http.Post("http://"+ctrl.APIAddr().String()+"/api/v1/sensors/sensor-42/command", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var result controller.CommandResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", result.Response)

	require.Eventually(t, func() bool {
		readings, err := ctrl.Store().RecentReadings(context.Background(), "sensor-42", 1)
		return err == nil && len(readings) == 1
	}, 5*time.Second, 20*time.Millisecond)

	device := dev.Devices()[0]
	assert.Equal(t, 1, device.Command.Stats().Connections)
	assert.GreaterOrEqual(t, device.Telemetry.Stats().Connections, 1)

	cancel()
	for _, done := range []chan error{ctrlDone, devDone} {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
	assert.False(t, ctrl.Relay().Connected("sensor-42"))
}
