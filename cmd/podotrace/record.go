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

	"github.com/podotrace/podotrace/internal/frame"
	"github.com/podotrace/podotrace/internal/link"
	"github.com/podotrace/podotrace/internal/session"
	"github.com/podotrace/podotrace/internal/sim"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a timed measurement session",
	Long: `Record one timed plantar pressure session and print the per-point
averages.

With --device the given insole is used; otherwise the first discovered
insole is. When no hardware can be reached the session runs against the
built-in simulator and says so in the event log. Ctrl+C stops the session
early and summarizes whatever was collected.`,
	RunE: runRecord,
}

var (
	recordDevice     string
	recordDemo       bool
	recordTicks      int
	recordSide       string
	recordNotes      string
	recordFormat     string
	recordNamePrefix string
)

func init() {
	recordCmd.Flags().StringVar(&recordDevice, "device", "", "Insole address to connect to")
	recordCmd.Flags().BoolVar(&recordDemo, "demo", false, "Record with the simulated insole")
	recordCmd.Flags().IntVarP(&recordTicks, "duration", "d", 0, "Session length in seconds (default from config)")
	recordCmd.Flags().StringVar(&recordSide, "side", "", "Which foot: left or right (default from config)")
	recordCmd.Flags().StringVar(&recordNotes, "notes", "", "Free-text clinical notes attached to the report")
	recordCmd.Flags().StringVarP(&recordFormat, "format", "f", "table", "Output format (table, json)")
	recordCmd.Flags().StringVar(&recordNamePrefix, "name-prefix", "", "Discovery filter when no --device is given")
}

func runRecord(cmd *cobra.Command, args []string) error {
	if recordFormat != "table" && recordFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", recordFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	sideLabel := recordSide
	if sideLabel == "" {
		sideLabel = cfg.Side
	}
	side, err := frame.ParseSide(sideLabel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := link.NewBLETransport(logger)
	l := link.New(transport, logger)
	defer l.Disconnect()

	simulator := sim.New(l.Ingest, side, logger)
	simulator.SetInterval(cfg.SimInterval.Std())

	controller := session.New(l, simulator, logger)
	controller.SetClinicalInfo(side, recordNotes)
	l.SetLinkLostHandler(func() {
		_ = controller.StopEarly()
	})

	handle, err := selectDevice(ctx, l, cfg.ScanTimeout.Std())
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout.Std())
	err = l.Connect(connectCtx, handle)
	cancel()
	if err != nil {
		// The link has already fallen back to the simulator; say so and go on.
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", FormatUserError(err))
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case sample := <-l.Samples():
				controller.HandleSample(sample)
			case <-done:
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case msg := <-l.Diagnostics():
				logger.Info(msg)
			case <-done:
				return
			}
		}
	}()

	view := newLiveView()
	controller.SetVisualizer(view.update)

	ticks := recordTicks
	if ticks <= 0 {
		ticks = cfg.SessionTicks
	}
	if err := controller.Start(ticks); err != nil {
		return err
	}
	view.setRemaining(ticks)

	ticker := time.NewTicker(cfg.TickInterval.Std())
	defer ticker.Stop()

	for controller.State() == session.StateRecording {
		select {
		case <-ctx.Done():
			logger.Info("Stop requested, closing session early")
			if err := controller.StopEarly(); err != nil {
				view.clear()
				fmt.Fprintf(os.Stderr, "WARNING: %s\n", FormatUserError(err))
				return nil
			}
		case <-ticker.C:
			controller.OnTick()
			view.setRemaining(controller.Remaining())
		}
	}
	view.clear()

	report, ok := controller.CompletedReport()
	if !ok {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", FormatUserError(session.ErrEmptySession))
		return nil
	}
	return printReport(report, recordFormat)
}

// selectDevice resolves which insole to connect to: the explicit flag, the
// demo sentinel, or the first discovery hit.
func selectDevice(ctx context.Context, l *link.Link, scanTimeout time.Duration) (link.DeviceHandle, error) {
	if recordDemo {
		return link.DemoDevice(), nil
	}
	if recordDevice != "" {
		return link.DeviceHandle{ID: recordDevice}, nil
	}

	handles, err := l.Discover(ctx, link.DiscoverOptions{
		NamePrefix: recordNamePrefix,
		Timeout:    scanTimeout,
	})
	if err != nil {
		return link.DeviceHandle{}, fmt.Errorf("discovery failed: %w", err)
	}
	if len(handles) == 0 {
		return link.DemoDevice(), nil
	}
	return handles[0], nil
}

// printReport renders the completed session summary.
func printReport(report session.Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	bold := color.New(color.Bold).SprintfFunc()
	highlight := color.New(color.FgRed, color.Bold).SprintfFunc()

	fmt.Printf("Session %s (%s foot, %d samples)\n",
		report.ID, report.Side, len(report.Samples))
	if report.Notes != "" {
		fmt.Printf("Notes: %s\n", report.Notes)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POINT\tAVERAGE")
	for i, avg := range report.Summary.Averages {
		cell := fmt.Sprintf("%d", avg)
		if i == report.Summary.MaxIndex {
			cell = highlight("%d  <- max", avg)
		}
		fmt.Fprintf(w, "%d\t%s\n", i+1, cell)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println(bold("Overall mean: %d", report.Summary.OverallMean))
	return nil
}
