package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"machinery/cmd/monitor"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <sensor-id> <command>",
	Short: "Relay one command to a connected sensor",
	Long: `Send a command to a sensor through the controller API and print its reply.
The controller answers "timeout" when the sensor does not reply within the
configured command timeout; the sensor stays connected.`,
	Example: `  machinery send sensor-1 status
  machinery send sensor-1 reading --api controller.local:8080`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sensorID := args[0]
		command := strings.Join(args[1:], " ")

		client := monitor.NewClient(apiBaseURL(apiAddr), tokenFromEnv(), sendTimeout)
		result, err := client.SendCommand(cmd.Context(), sensorID, command)
		if err != nil {
			cmd.Printf("✗ %s: %v\n", sensorID, err)
			return err
		}

		if result.TimedOut {
			cmd.Printf("✗ %s did not answer %q within the command timeout (%dms)\n", sensorID, command, result.LatencyMS)
			return fmt.Errorf("command %s timed out", result.CommandID)
		}
		cmd.Printf("%s\n", result.Response)
		return nil
	},
}

func init() {
	addAPIFlags(sendCmd)
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", time.Minute, "HTTP request timeout")
}
