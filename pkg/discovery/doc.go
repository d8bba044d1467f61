// Package discovery resolves the device roster.
//
// Devices come from two sources:
//
// # Static roster
//
// A YAML file with a top-level "devices" list, each entry a model.Device.
// StaticDiscoverer returns a fixed list, LoadRoster reads one from disk.
//
// # Agent announcements (_fleetbench-agent._tcp)
//
// Test agents may announce themselves over mDNS/DNS-SD. The instance name
// is the device name. TXT records carry:
//   - name: device name (overrides the instance name)
//   - os: "linux" or "windows"
//   - user: login user
//   - py: interpreter path
//   - product: free-form product description
//
// The service port is the remote command (SSH) port. Passwords and keys
// are never announced; MDNSDiscoverer applies a configured credential.
package discovery
