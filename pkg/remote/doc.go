// Package remote manages persistent command sessions to test devices.
//
// A Session binds to exactly one device and owns at most one transport
// handle at a time. It survives expected link drops: after a disruptive
// change the caller invokes WaitForRecovery, which re-dials the device at a
// fixed interval until one full command round trip succeeds.
//
// # State Machine
//
//	Disconnected ──Connect──► Connecting ──► Connected
//	Connected ──transport lost──► Disconnected
//	Disconnected ──WaitForRecovery──► Recovering ──► Connected
//	                                            └──► Disconnected (timeout)
//	                                            └──► Failed (budget exhausted)
//	any ──authentication error──► Failed
//
// Failed is terminal. Commands are only issued while Connected.
//
// The production transport is SSH (golang.org/x/crypto/ssh) with file
// transfer over SFTP (github.com/pkg/sftp). Tests use the in-memory fakes in
// package remotetest.
package remote
