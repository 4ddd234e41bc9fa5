package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"machinery/cmd/monitor"
)

var (
	apiAddr         string
	apiToken        string
	monitorInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch sensor connections and readings live",
	Long: `Open a terminal dashboard that polls the controller API and shows every
provisioned sensor with its command and telemetry connection state and its
latest reading. Status and reading commands can be sent to the selected sensor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := monitor.NewClient(apiBaseURL(apiAddr), tokenFromEnv(), 30*time.Second)
		return monitor.Run(client, monitorInterval)
	},
}

// tokenFromEnv prefers the --token flag and falls back to MACHINERY_TOKEN
func tokenFromEnv() string {
	if apiToken != "" {
		return apiToken
	}
	return os.Getenv("MACHINERY_TOKEN")
}

func addAPIFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&apiAddr, "api", ":8080", "controller API address")
	cmd.Flags().StringVar(&apiToken, "token", "", "bearer token (default $MACHINERY_TOKEN)")
}

func init() {
	addAPIFlags(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")
}
