// Command fleetbench-log views and analyzes fleetbench run journals.
//
// Journals are written by fleetbench when the configuration names a
// journal file; they double as the checkpoint for -resume.
//
// Usage:
//
//	fleetbench-log <command> [flags] <file.fbj>
//
// Commands:
//
//	view     View journal in human-readable format
//	export   Export journal to JSON lines or CSV
//	filter   Filter journal and write to new file
//	stats    Show per-run statistics
//
// Examples:
//
//	# View the measurements of one device
//	fleetbench-log view -category measurement -device laptop-1 runs.fbj
//
//	# Export measurements to CSV
//	fleetbench-log export -format csv -o results.csv runs.fbj
//
//	# Keep only one run
//	fleetbench-log filter -run 3f2a9c1e-... -o run.fbj runs.fbj
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fleetbench/fleetbench-go/cmd/fleetbench-log/commands"
)

const usage = `fleetbench-log - Fleetbench Journal Analyzer

Usage:
  fleetbench-log <command> [flags] <file.fbj>

Commands:
  view     View journal in human-readable format
  export   Export journal to JSON lines or CSV
  filter   Filter journal and write to new file
  stats    Show per-run statistics

Use "fleetbench-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func journalPath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: journal path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "fleetbench-log %s - %s\n\nUsage:\n  fleetbench-log %s [flags] <file.fbj>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

func runView(args []string) {
	fs := newFlagSet("view", "View journal in human-readable format")
	runID := fs.String("run", "", "Filter by run ID")
	device := fs.String("device", "", "Filter by device name")
	category := fs.String("category", "", "Filter by category (run, state, mode, measurement, exclusion, error)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := journalPath(fs)

	filter := commands.ViewFilter{RunID: *runID, DeviceID: *device}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export journal to JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := commands.RunExport(journalPath(fs), *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter journal and write to new file")
	output := fs.String("o", "", "Output file (required)")
	runID := fs.String("run", "", "Filter by run ID")
	device := fs.String("device", "", "Filter by device name")
	step := fs.Int("step", -1, "Filter by step index")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	category := fs.String("category", "", "Filter by category")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := journalPath(fs)
	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, commands.FilterOptions{
		Output:    *output,
		RunID:     *runID,
		DeviceID:  *device,
		Step:      *step,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Category:  *category,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show per-run statistics")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if err := commands.RunStatsCommand(journalPath(fs), os.Stdout); err != nil {
		fail(err)
	}
}
