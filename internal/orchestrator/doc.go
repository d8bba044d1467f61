// Package orchestrator drives a test plan against a fleet of devices.
//
// An Engine runs the steps produced by a Domain either sequentially, one
// device at a time, or in parallel with one worker per device and a
// barrier at every step boundary. Before each step the infrastructure is
// switched to the step's mode; each participating device then waits for
// its session to recover from the expected link drop and runs the
// domain's measurement.
//
// Device level errors never abort a run. They are classified (see
// Classify) and turned into failure counter updates: a device is excluded
// from the remaining steps after FailureThreshold consecutive failures, or
// at once when its session fails for good. Only cancellation aborts a run.
package orchestrator
