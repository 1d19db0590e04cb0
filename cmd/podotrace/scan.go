package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/podotrace/podotrace/internal/link"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for pressure insoles",
	Long: `Scan for nearby pressure insoles and list them.

The built-in demo insole is always available and is listed whenever
discovery finds nothing usable, so a recording can proceed without
hardware.`,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanNamePrefix string
	scanByService  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&scanNamePrefix, "name-prefix", "", "Only list devices whose name starts with this prefix")
	scanCmd.Flags().BoolVar(&scanByService, "by-service", false, "Only list devices advertising the pressure service")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := link.NewBLETransport(logger)
	opts := link.DiscoverOptions{
		NamePrefix: scanNamePrefix,
		Timeout:    scanDuration,
	}
	if scanByService {
		opts.ServiceUUID = &link.PressureServiceUUID
	}

	handles, err := transport.Discover(ctx, opts)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if scanFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(handles)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE")
	demoMark := color.New(color.FgYellow).SprintFunc()
	for _, h := range handles {
		kind := "insole"
		if h.Demo {
			kind = demoMark("simulated")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", h.ID, h.DisplayName(), kind)
	}
	return w.Flush()
}
