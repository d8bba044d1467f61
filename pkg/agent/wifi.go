package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// WiFi module commands.
const (
	WiFiModuleName = "wifi"

	CmdConnect      = "connect"
	CmdIperf        = "iperf"
	CmdForget       = "forget"
	CmdPreventSleep = "prevent_sleep"
	CmdAllowSleep   = "allow_sleep"
)

// Markers framing iperf output in the iperf payload.
const (
	iperfStart = "IPERF_OUTPUT_START"
	iperfEnd   = "IPERF_OUTPUT_END"
)

// ThroughputReport is the decoded result of the iperf command.
type ThroughputReport struct {
	Mbps float64

	// Raw is the iperf output between the framing markers.
	Raw string
}

// WiFiModule is the wireless client module of the agent.
type WiFiModule struct{}

var _ Module = WiFiModule{}

// Name implements Module.
func (WiFiModule) Name() string { return WiFiModuleName }

// Commands implements Module.
func (WiFiModule) Commands() []string {
	return []string{CmdConnect, CmdIperf, CmdForget, CmdPreventSleep, CmdAllowSleep}
}

// Decode implements Module. Only iperf carries a payload.
func (WiFiModule) Decode(command, payload string) (any, error) {
	if command != CmdIperf {
		return nil, nil
	}
	raw, err := extractIperf(payload)
	if err != nil {
		return nil, err
	}
	mbps, err := ParseIperfMbps(raw)
	if err != nil {
		return nil, err
	}
	return ThroughputReport{Mbps: mbps, Raw: raw}, nil
}

// WiFi wraps a Client with typed wifi module calls.
type WiFi struct {
	Client *Client

	// IperfTimeout bounds the iperf command.
	IperfTimeout time.Duration

	// Server overrides the measurement server the agent was deployed with.
	Server string
}

// Connect joins the device to ssid.
func (w WiFi) Connect(ctx context.Context, dev model.Device, ssid, password string) error {
	_, err := w.Client.Invoke(ctx, dev, WiFiModuleName, CmdConnect, Args{
		"ssid":     ssid,
		"password": password,
		"cleanup":  "true",
	})
	return err
}

// Throughput runs iperf against the measurement server on port.
func (w WiFi) Throughput(ctx context.Context, dev model.Device, port int) (ThroughputReport, error) {
	args := Args{"port": strconv.Itoa(port)}
	if w.Server != "" {
		args["server"] = w.Server
	}
	v, err := w.Client.Do(ctx, dev, Request{
		Module:  WiFiModuleName,
		Command: CmdIperf,
		Args:    args,
		Timeout: w.IperfTimeout,
	})
	if err != nil {
		return ThroughputReport{}, err
	}
	return v.(ThroughputReport), nil
}

// Forget removes every stored network profile.
func (w WiFi) Forget(ctx context.Context, dev model.Device) error {
	_, err := w.Client.Invoke(ctx, dev, WiFiModuleName, CmdForget, nil)
	return err
}

// PreventSleep keeps the device awake for the run.
func (w WiFi) PreventSleep(ctx context.Context, dev model.Device) error {
	_, err := w.Client.Invoke(ctx, dev, WiFiModuleName, CmdPreventSleep, nil)
	return err
}

// AllowSleep restores the power policy.
func (w WiFi) AllowSleep(ctx context.Context, dev model.Device) error {
	_, err := w.Client.Invoke(ctx, dev, WiFiModuleName, CmdAllowSleep, nil)
	return err
}

func extractIperf(payload string) (string, error) {
	start := strings.Index(payload, iperfStart)
	end := strings.Index(payload, iperfEnd)
	if start < 0 || end < 0 || end < start {
		return "", errors.New("iperf output markers missing")
	}
	return strings.TrimSpace(payload[start+len(iperfStart) : end]), nil
}

// iperf3 summary lines:
//
//	[  5]   0.00-10.00  sec  64.2 MBytes  53.9 Mbits/sec                  sender
//	[SUM]   0.00-10.00  sec   112 MBytes  94.1 Mbits/sec    0             sender
var iperfSummary = regexp.MustCompile(`^\[\s*(?:\d+|SUM)\]\s+[\d.]+-[\d.]+\s+sec\s+[\d.]+\s+\w?Bytes\s+([\d.]+)\s+(\w?)bits/sec.*\b(sender|receiver)\s*$`)

// ParseIperfMbps extracts the throughput in Mbit/s from iperf3 text
// output. The sender summary is preferred, then the receiver summary; a
// [SUM] line wins over per-stream lines.
func ParseIperfMbps(out string) (float64, error) {
	found := map[string]float64{}
	sum := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		m := iperfSummary.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		mbps, err := toMbps(v, m[2])
		if err != nil {
			return 0, err
		}
		side := m[3]
		isSum := strings.Contains(line, "[SUM]")
		if _, ok := found[side]; ok && sum[side] && !isSum {
			continue
		}
		found[side] = mbps
		sum[side] = sum[side] || isSum
	}
	for _, side := range []string{"sender", "receiver"} {
		if v, ok := found[side]; ok {
			return v, nil
		}
	}
	return 0, errors.New("no iperf summary line found")
}

func toMbps(v float64, prefix string) (float64, error) {
	switch prefix {
	case "":
		return v / 1e6, nil
	case "K":
		return v / 1e3, nil
	case "M":
		return v, nil
	case "G":
		return v * 1e3, nil
	default:
		return 0, fmt.Errorf("unknown rate unit %sbits/sec", prefix)
	}
}
