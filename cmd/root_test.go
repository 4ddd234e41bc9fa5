package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"machinery/internal/controller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", apiBaseURL(":8080"))
	assert.Equal(t, "http://10.0.0.5:8080", apiBaseURL("10.0.0.5:8080"))
	assert.Equal(t, "https://controller.local", apiBaseURL("https://controller.local/"))
}

func TestSensorsCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sensors.db")

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)
		err := rootCmd.Execute()
		return out.String(), err
	}

	out, err := run("sensors", "add", "sensor-7", "--db", db, "--serial", "PRS-0007", "--kind", "pressure")
	require.NoError(t, err)
	assert.Contains(t, out, "Sensor provisioned: sensor-7")

	out, err = run("sensors", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "PRS-0007")

	_, err = run("sensors", "add", "sensor-8", "--db", db, "--serial", "X-1", "--kind", "humidity")
	assert.Error(t, err)

	out, err = run("sensors", "remove", "sensor-7", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Sensor removed")

	store, err := controller.OpenStore(db)
	require.NoError(t, err)
	defer store.Close()
	sensors, err := store.ListSensors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sensors)
}
