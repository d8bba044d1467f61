// Command fleetbench runs throughput test plans across a fleet of WiFi
// client devices.
//
// It connects to every device and to the access point over SSH, switches
// the access point through each band, channel and standard of the test
// matrix and has each device measure throughput with iperf3 through the
// on-device agent. Devices that fail three steps in a row are excluded
// from the rest of the run.
//
// Usage:
//
//	fleetbench [flags]
//
// Flags:
//
//	-config string   Path to the configuration file (default "fleetbench.yaml")
//	-parallel        Run all devices of a step at once, overriding the config
//	-resume string   Journal of an interrupted run to continue
//	-format string   Report format: text, json, junit (default "text")
//	-verbose         Log debug output and journal events
//	-history int     List the last N runs from the store and exit
//
// Exit status is 0 when every measurement passed, 1 when some failed or a
// device was excluded, and 2 when the run was interrupted.
//
// Examples:
//
//	# Run the configured matrix one device at a time
//	fleetbench -config lab.yaml
//
//	# Continue an interrupted run in parallel mode
//	fleetbench -config lab.yaml -parallel -resume runs/lab.fbj
//
//	# Show the last ten runs
//	fleetbench -config lab.yaml -history 10
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetbench/fleetbench-go/internal/config"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

var (
	configPath = flag.String("config", "fleetbench.yaml", "Path to the configuration file")
	parallel   = flag.Bool("parallel", false, "Run all devices of a step at once, overriding the config")
	resume     = flag.String("resume", "", "Journal of an interrupted run to continue")
	format     = flag.String("format", "text", "Report format: text, json, junit")
	verbose    = flag.Bool("verbose", false, "Log debug output and journal events")
	history    = flag.Int("history", 0, "List the last N runs from the store and exit")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *history > 0 {
		if cfg.Store == "" {
			fmt.Fprintln(os.Stderr, "Error: no store configured")
			os.Exit(1)
		}
		if err := printHistory(os.Stdout, cfg.Store, *history); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{
		cfg: cfg,
		opts: options{
			Parallel: *parallel,
			Resume:   *resume,
			Format:   *format,
			Verbose:  *verbose,
			Output:   os.Stdout,
		},
		dialer: &remote.SSHDialer{},
		logger: logger,
	}
	report, err := r.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stop()
	os.Exit(exitCode(report))
}
