package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"machinery/cmd/monitor"
	"machinery/internal/controller"
)

var (
	sensorsDBPath      string
	sensorSerial       string
	sensorKind         string
	sensorDescription  string
	sensorReadingLimit int
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Provision sensors in the controller database",
	Long: `Manage the sensors the controller accepts. A sensor connects with a client
certificate whose common name starts with its id; only ids present here are
admitted.`,
}

var sensorsAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Provision a sensor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSensorStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sensor, err := store.CreateSensor(cmd.Context(), args[0], sensorSerial, sensorKind, sensorDescription)
		if err != nil {
			return fmt.Errorf("failed to add sensor: %w", err)
		}

		cmd.Printf("✓ Sensor provisioned: %s (%s, serial %s)\n", sensor.ID, sensor.Kind, sensor.SerialNo)
		cmd.Printf("Issue its client certificate with common name: %s.<domain>\n", sensor.ID)
		return nil
	},
}

var sensorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned sensors",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSensorStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sensors, err := store.ListSensors(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sensors: %w", err)
		}
		if len(sensors) == 0 {
			cmd.Println("No sensors provisioned")
			return nil
		}

		rows := make([][]string, 0, len(sensors))
		for _, s := range sensors {
			rows = append(rows, []string{
				s.ID,
				s.Kind,
				s.SerialNo,
				s.AssignedAt.Local().Format("2006-01-02 15:04"),
				s.Description,
			})
		}
		cmd.Println(monitor.RenderTable([]string{"ID", "KIND", "SERIAL", "ASSIGNED", "DESCRIPTION"}, rows))
		return nil
	},
}

var sensorsDescribeCmd = &cobra.Command{
	Use:   "describe <id> <description>",
	Short: "Change a sensor's description",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSensorStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.UpdateDescription(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to update sensor: %w", err)
		}
		cmd.Printf("✓ Sensor updated: %s\n", args[0])
		return nil
	},
}

var sensorsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Deprovision a sensor and drop its readings",
	Long: `Remove a sensor from the database. A sensor that is connected right now
keeps its session until it disconnects; it is refused on the next connect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSensorStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteSensor(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to remove sensor: %w", err)
		}
		cmd.Printf("✓ Sensor removed: %s\n", args[0])
		return nil
	},
}

var sensorsReadingsCmd = &cobra.Command{
	Use:   "readings <id>",
	Short: "Show the most recent readings of a sensor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSensorStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sensor, err := store.GetSensor(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		readings, err := store.RecentReadings(cmd.Context(), sensor.ID, sensorReadingLimit)
		if err != nil {
			return fmt.Errorf("failed to load readings: %w", err)
		}
		if len(readings) == 0 {
			cmd.Printf("No readings for %s\n", sensor.ID)
			return nil
		}

		rows := make([][]string, 0, len(readings))
		for _, r := range readings {
			rows = append(rows, []string{
				r.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
				strconv.FormatFloat(r.Value, 'f', 2, 64),
				r.SerialNo,
			})
		}
		cmd.Println(monitor.TitleStyle.Render(sensor.ID + " · " + sensor.Kind))
		cmd.Println(monitor.RenderTable([]string{"RECEIVED", "VALUE", "SERIAL"}, rows))
		return nil
	},
}

// openSensorStore opens the database named by --db, or the one in the
// controller configuration when the flag is absent.
func openSensorStore() (*controller.Store, error) {
	path := sensorsDBPath
	if path == "" {
		config, err := controller.LoadConfig(controllerConfigPath)
		if err != nil {
			return nil, fmt.Errorf("no --db given and failed to load configuration: %w", err)
		}
		path = config.Database.Path
	}

	store, err := controller.OpenStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func init() {
	sensorsCmd.PersistentFlags().StringVar(&sensorsDBPath, "db", "", "sensor database path")
	sensorsCmd.PersistentFlags().StringVarP(&controllerConfigPath, "config", "c", "controller.yml", "controller configuration file (used when --db is absent)")

	sensorsAddCmd.Flags().StringVar(&sensorSerial, "serial", "", "serial number reported in telemetry")
	sensorsAddCmd.Flags().StringVar(&sensorKind, "kind", "", "sensor kind (temperature, vibration, pressure)")
	sensorsAddCmd.Flags().StringVar(&sensorDescription, "description", "", "free-form description")
	sensorsAddCmd.MarkFlagRequired("serial")
	sensorsAddCmd.MarkFlagRequired("kind")

	sensorsReadingsCmd.Flags().IntVarP(&sensorReadingLimit, "limit", "n", 20, "number of readings to show")

	sensorsCmd.AddCommand(sensorsAddCmd)
	sensorsCmd.AddCommand(sensorsListCmd)
	sensorsCmd.AddCommand(sensorsDescribeCmd)
	sensorsCmd.AddCommand(sensorsRemoveCmd)
	sensorsCmd.AddCommand(sensorsReadingsCmd)
}
