package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/propview/internal/app"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one frame sequence and export it as FITS",
	Long: `Open the configured camera, record a sequence of frames without starting
the HTTP server and write it to the export directory as a FITS cube.

A continuous recording keeps the last --frames images in a ring until
interrupted with Ctrl+C.`,
	Example: `  # Record 10 frames
  propview record

  # Record 50 frames into a custom directory
  propview record --frames 50 --out ./sequences

  # Keep the last 20 frames until Ctrl+C
  propview record --frames 20 --continuous`,
	RunE: runRecord,
}

var (
	recordFrames     int
	recordContinuous bool
	recordOut        string
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().IntVarP(&recordFrames, "frames", "n", 10, "number of frames in the sequence")
	recordCmd.Flags().BoolVar(&recordContinuous, "continuous", false, "record into a ring until interrupted")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "export directory (default from config)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if recordOut != "" {
		cfg.Export.Dir = recordOut
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	if recordContinuous {
		fmt.Fprintln(os.Stderr, "Recording, press Ctrl+C to stop")
	}

	path, err := a.Record(ctx, recordFrames, recordContinuous)
	if err != nil {
		return fmt.Errorf("recording failed: %w", err)
	}
	fmt.Println(path)
	return nil
}
