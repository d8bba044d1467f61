// Package log records a machine-readable journal of a test run.
//
// The journal is separate from operational logging (slog). It captures
// every run level fact the orchestrator produces: run start and end,
// session state changes, infrastructure mode applications, measurements
// and exclusions. A journal written by one run can be read back to resume
// an interrupted run without repeating finished measurements.
//
// # Basic Usage
//
//	// Console only
//	journal := log.NewSlogAdapter(slog.Default())
//
//	// Binary file, appended across runs
//	journal, _ := log.NewFileLogger("run.fbj")
//
//	// Both
//	journal := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fileLogger)
//
// # File Format
//
// Journal files are a sequence of CBOR encoded Event values with integer
// keys. The fleetbench-log tool views and filters them.
package log
