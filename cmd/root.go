package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"machinery/internal/logger"
)

var (
	verbose   bool
	debug     bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "machinery",
	Short: "Machinery - relay commands to remote sensors over mutual TLS",
	Long: `Machinery connects a fleet of remote sensors to a central controller.
The controller authenticates every sensor by its client certificate, relays
operator commands to it and collects its telemetry. The sensor daemon keeps
both channels connected and reconnects whenever the controller goes away.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose || debug {
			logger.SetSilentMode(false)
			logger.SetFormat(logFormat)
		}
		if debug {
			logger.SetLevel(logger.LOG_DEBUG)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logger.FORMAT_TEXT, "log format (text, json)")

	// Add subcommands
	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(sensorCmd)
	rootCmd.AddCommand(sensorsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(monitorCmd)
}

// setupLogging turns on log output for a daemon using its configured level
// and format. Command line flags win over the file.
func setupLogging(level, format string) {
	logger.SetSilentMode(false)
	if logFormat != logger.FORMAT_TEXT {
		format = logFormat
	}
	logger.SetFormat(format)
	if debug {
		level = logger.LOG_DEBUG
	}
	logger.SetLevel(level)
}

// apiBaseURL turns a listen address such as ":8080" into a URL usable from
// the local host.
func apiBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
