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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"machinery/internal/controller"
	"machinery/internal/logger"
)

var (
	controllerConfigPath    string
	controllerDBPath        string
	controllerRelayAddr     string
	controllerTelemetryAddr string
	controllerAPIAddr       string
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Start the Machinery controller daemon",
	Long: `The controller accepts mutually authenticated sensor connections on two
listeners: one relays operator commands to sensors, the other collects their
telemetry. Operators reach it through the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadControllerConfiguration()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		setupLogging(config.Logging.Level, config.Logging.Format)
		log := logger.New()

		log.Info().
			Str("config_file", controllerConfigPath).
			Str("db_path", config.Database.Path).
			Str("relay_address", config.Server.Relay.Address).
			Str("telemetry_address", config.Server.Telemetry.Address).
			Str("api_address", config.Server.API.Address).
			Str("log_level", config.Logging.Level).
			Msg("Starting Machinery controller")

		daemon, err := controller.NewDaemon(config)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize controller")
			return err
		}
		defer daemon.Close()

		return daemon.Run(cmd.Context())
	},
}

var controllerConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage controller configuration",
}

var controllerConfigGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Write a default controller configuration",
	Long: `Write a default controller configuration file. Review relay.command_timeout
before starting the controller: the generated value is only an example.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := controllerConfigPath
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

		config := controller.NewDefaultConfig()
		if err := controller.SaveConfig(config, configPath); err != nil {
			return fmt.Errorf("failed to save config file: %w", err)
		}

		cmd.Printf("✓ Configuration file created: %s\n", configPath)
		cmd.Printf("✓ Command timeout: %s (review before use)\n", config.Relay.CommandTimeout)
		cmd.Printf("Start the controller with: machinery controller -c %s\n", configPath)
		return nil
	},
}

var controllerConfigValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a controller configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := controllerConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		config, err := controller.LoadConfig(configPath)
		if err != nil {
			cmd.Printf("✗ %s: %v\n", configPath, err)
			return err
		}

		cmd.Printf("✓ Configuration is valid: %s\n", configPath)
		cmd.Printf("Relay Address: %s\n", config.Server.Relay.Address)
		cmd.Printf("Telemetry Address: %s\n", config.Server.Telemetry.Address)
		cmd.Printf("API Address: %s\n", config.Server.API.Address)
		cmd.Printf("Command Timeout: %s\n", config.CommandTimeout())
		return nil
	},
}

// loadControllerConfiguration loads the config file and applies CLI flag
// overrides. Unlike the sensor daemon there is no fallback to defaults: the
// command timeout must come from the operator.
func loadControllerConfiguration() (*controller.Config, error) {
	config, err := controller.LoadConfig(controllerConfigPath)
	if err != nil {
		return nil, err
	}

	if controllerDBPath != "" {
		config.Database.Path = controllerDBPath
	}
	if controllerRelayAddr != "" {
		config.Server.Relay.Address = controllerRelayAddr
	}
	if controllerTelemetryAddr != "" {
		config.Server.Telemetry.Address = controllerTelemetryAddr
	}
	if controllerAPIAddr != "" {
		config.Server.API.Address = controllerAPIAddr
	}
	if debug {
		config.Logging.Level = logger.LOG_DEBUG
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func init() {
	controllerCmd.PersistentFlags().StringVarP(&controllerConfigPath, "config", "c", "controller.yml", "controller configuration file")
	controllerCmd.Flags().StringVar(&controllerDBPath, "db", "", "sensor database path (overrides config)")
	controllerCmd.Flags().StringVar(&controllerRelayAddr, "relay-addr", "", "command relay listen address (overrides config)")
	controllerCmd.Flags().StringVar(&controllerTelemetryAddr, "telemetry-addr", "", "telemetry listen address (overrides config)")
	controllerCmd.Flags().StringVar(&controllerAPIAddr, "api-addr", "", "HTTP API listen address (overrides config)")

	controllerConfigCmd.AddCommand(controllerConfigGenerateCmd)
	controllerConfigCmd.AddCommand(controllerConfigValidateCmd)
	controllerCmd.AddCommand(controllerConfigCmd)
}
