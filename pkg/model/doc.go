// Package model holds the value types shared by every fleetbench component.
//
// The types here are plain data. A Device comes from the discovery
// collaborator, a Mode from the configuration module, a Step from the
// planner and a Measurement from the orchestrator. None of them are mutated
// after construction; components that need a variation build a new value.
//
// # Hierarchy
//
//	Run
//	├── Step 0 (Mode 2G/ch1/11b/g/n, Devices [a, b, c])
//	├── Step 1 (Mode 2G/ch6/11b/g/n, Devices [a, b, c])
//	└── ...
//
// Each (Step, Device) pair yields exactly one Measurement, either a
// throughput value in Mbit/s or a failure marker.
package model
