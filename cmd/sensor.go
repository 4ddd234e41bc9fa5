package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"machinery/internal/logger"
	"machinery/internal/sensor"
)

var (
	sensorConfigPath    string
	sensorCommandAddr   string
	sensorTelemetryAddr string
)

var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Start the sensor daemon",
	Long: `The sensor daemon runs every sensor listed in its configuration. Each
sensor samples its simulated value, serves commands relayed by the controller
and pushes telemetry, reconnecting at a fixed interval whenever a connection
drops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := sensor.LoadConfig(sensorConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if sensorCommandAddr != "" {
			config.Controller.CommandAddress = sensorCommandAddr
		}
		if sensorTelemetryAddr != "" {
			config.Controller.TelemetryAddress = sensorTelemetryAddr
		}

		setupLogging(logger.LOG_INFO, logger.FORMAT_TEXT)
		log := logger.New()

		log.Info().
			Str("config_file", sensorConfigPath).
			Str("command_address", config.Controller.CommandAddress).
			Str("telemetry_address", config.Controller.TelemetryAddress).
			Int("sensors", len(config.Sensors)).
			Msg("Starting sensor daemon")

		daemon, err := sensor.NewDaemon(config)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize sensor daemon")
			return err
		}
		return daemon.Run(cmd.Context())
	},
}

var sensorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage sensor daemon configuration",
}

var sensorConfigGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Write an example sensor daemon configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := sensorConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		if _, err := os.Stat(configPath); err == nil {
			cmd.Printf("Configuration already exists at: %s\n", configPath)
			cmd.Print("Do you want to overwrite it? [y/N]: ")

			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				cmd.Println("Configuration generation cancelled")
				return nil
			}
		}

		if err := sensor.SaveConfig(sensor.NewDefaultConfig(), configPath); err != nil {
			return fmt.Errorf("failed to save config file: %w", err)
		}

		cmd.Printf("✓ Configuration file created: %s\n", configPath)
		cmd.Printf("Provision each sensor on the controller with: machinery sensors add <id> --serial <serial> --kind <kind>\n")
		cmd.Printf("Start the sensors with: machinery sensor -c %s\n", configPath)
		return nil
	},
}

var sensorConfigValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a sensor daemon configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := sensorConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		config, err := sensor.LoadConfig(configPath)
		if err != nil {
			cmd.Printf("✗ %s: %v\n", configPath, err)
			return err
		}

		cmd.Printf("✓ Configuration is valid: %s\n", configPath)
		cmd.Printf("Controller: %s (commands), %s (telemetry)\n",
			config.Controller.CommandAddress, config.Controller.TelemetryAddress)
		cmd.Printf("Expected controller identity: %s\n", config.Controller.CommonName)
		for _, sc := range config.Sensors {
			cmd.Printf("  %s  %-12s %s\n", sc.ID, sc.Kind, sc.SerialNumber)
		}
		return nil
	},
}

func init() {
	sensorCmd.PersistentFlags().StringVarP(&sensorConfigPath, "config", "c", "sensor.yml", "sensor daemon configuration file")
	sensorCmd.Flags().StringVar(&sensorCommandAddr, "command-addr", "", "controller command address (overrides config)")
	sensorCmd.Flags().StringVar(&sensorTelemetryAddr, "telemetry-addr", "", "controller telemetry address (overrides config)")

	sensorConfigCmd.AddCommand(sensorConfigGenerateCmd)
	sensorConfigCmd.AddCommand(sensorConfigValidateCmd)
	sensorCmd.AddCommand(sensorConfigCmd)
}
