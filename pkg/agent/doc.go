// Package agent sends module commands to the agent deployed on a device
// and parses its textual replies into typed results.
//
// # Wire Contract
//
// A request is a module name, a command name and --key value arguments:
//
//	cd /tmp/wifi_test_agent && python3 agent.py wifi iperf --port 5203
//
// The agent prints RESULT:SUCCESS followed by an optional payload, or
// RESULT:FAILURE / ERROR:<message> (optionally CODE:<code>) and exits
// non-zero. Modules are registered explicitly at startup; the client never
// retries on its own.
package agent
