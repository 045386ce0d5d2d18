package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/propview/internal/app"
	"github.com/bryanchriswhite/propview/internal/device"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List device drivers and the configured camera's settings",
	Long: `List the registered device drivers, then open the configured camera and
print its identity and capture settings.`,
	Example: `  # Show drivers and settings in table format (default)
  propview devices

  # Show them as JSON
  propview devices --format json

  # Inspect another driver
  propview devices --driver sim`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

type devicesReport struct {
	Drivers  []string         `json:"drivers"`
	Device   device.Info      `json:"device"`
	Settings []device.Setting `json:"settings"`
}

func runDevices(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dev, err := app.OpenDevice(context.Background(), cfg.Device)
	if err != nil {
		return err
	}
	defer dev.Close()

	settings, err := dev.Settings()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	report := devicesReport{
		Drivers:  device.Drivers(),
		Device:   dev.Info(),
		Settings: settings,
	}

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "table":
		return printDevicesTable(report)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func printDevicesTable(r devicesReport) error {
	fmt.Printf("Drivers: %v\n", r.Drivers)
	fmt.Printf("Device:  %s %s (%s)\n\n", r.Device.Model, r.Device.Serial, r.Device.Driver)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSETTING\tCAPACITY")
	fmt.Fprintln(w, "-----\t-------\t--------")
	for _, s := range r.Settings {
		fmt.Fprintf(w, "%d\t%s\t%d\n", s.Index, s.Name, s.Capacity)
	}
	return w.Flush()
}
