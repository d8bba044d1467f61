package discovery

import (
	"context"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// mDNS defaults.
const (
	ServiceTypeAgent = "_fleetbench-agent._tcp"
	Domain           = "local"
	BrowseTimeout    = 5 * time.Second
)

// BrowseFunc browses service in domain, sending entries as they appear or
// disappear, until ctx ends.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry) error

// MDNSConfig configures an MDNSDiscoverer.
type MDNSConfig struct {
	Service string
	Domain  string

	// Timeout is how long announcements are collected.
	Timeout time.Duration

	// Interface restricts browsing to one network interface.
	Interface string

	// Credential is applied to every discovered device. A user announced
	// by the agent wins over Credential.User.
	Credential model.Credential

	// Browse replaces the zeroconf browser in tests.
	Browse BrowseFunc
}

// MDNSDiscoverer collects agent announcements for a fixed time.
type MDNSDiscoverer struct {
	cfg    MDNSConfig
	logger *slog.Logger
}

var _ Discoverer = (*MDNSDiscoverer)(nil)

// NewMDNSDiscoverer creates a discoverer.
func NewMDNSDiscoverer(cfg MDNSConfig, logger *slog.Logger) *MDNSDiscoverer {
	if cfg.Service == "" {
		cfg.Service = ServiceTypeAgent
	}
	if cfg.Domain == "" {
		cfg.Domain = Domain
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = BrowseTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &MDNSDiscoverer{cfg: cfg, logger: logger}
	if d.cfg.Browse == nil {
		d.cfg.Browse = d.browse
	}
	return d
}

func (d *MDNSDiscoverer) browse(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry) error {
	var opts []zeroconf.ClientOption
	if d.cfg.Interface != "" {
		iface, err := net.InterfaceByName(d.cfg.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
}

// Discover browses for the configured time and returns the devices that
// are still announced at the end, sorted by name. Addresses seen on
// several interfaces are merged; the first IPv4 address is used.
func (d *MDNSDiscoverer) Discover(ctx context.Context) ([]model.Device, error) {
	bctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- d.cfg.Browse(bctx, d.cfg.Service, d.cfg.Domain, entries, removed)
	}()

	// The browser may close its channels or return early; collection
	// always runs until the timeout.
	in, out, errs := entries, removed, browseErr
	found := make(map[string]*agentEntry)
collect:
	for {
		select {
		case e, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if e == nil {
				continue
			}
			if a, ok := found[e.Instance]; ok {
				a.addrs = mergeAddresses(a.addrs, entryAddresses(e))
				continue
			}
			a, err := newAgentEntry(e)
			if err != nil {
				d.logger.Debug("ignoring announcement", "instance", e.Instance, "error", err)
				continue
			}
			found[e.Instance] = a
		case e, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			if e == nil {
				continue
			}
			if a, ok := found[e.Instance]; ok {
				a.addrs = removeAddresses(a.addrs, entryAddresses(e))
				if len(a.addrs) == 0 {
					delete(found, e.Instance)
				}
			}
		case err := <-errs:
			if err != nil && bctx.Err() == nil {
				return nil, err
			}
			errs = nil
		case <-bctx.Done():
			break collect
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devs := make([]model.Device, 0, len(found))
	for _, a := range found {
		dev, ok := a.device(d.cfg.Credential)
		if !ok {
			continue
		}
		devs = append(devs, dev)
	}
	if len(devs) == 0 {
		return nil, ErrNoDevices
	}
	slices.SortFunc(devs, func(a, b model.Device) int { return strings.Compare(a.ID, b.ID) })
	d.logger.Info("discovered devices", "count", len(devs))
	return devs, nil
}

type agentEntry struct {
	instance string
	info     AgentInfo
	port     int
	addrs    []string
}

func newAgentEntry(e *zeroconf.ServiceEntry) (*agentEntry, error) {
	info, err := DecodeAgentTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	return &agentEntry{instance: e.Instance, info: info, port: e.Port, addrs: entryAddresses(e)}, nil
}

func (a *agentEntry) device(cred model.Credential) (model.Device, bool) {
	host := ""
	for _, addr := range a.addrs {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			host = addr
			break
		}
	}
	if host == "" && len(a.addrs) > 0 {
		host = a.addrs[0]
	}
	if host == "" {
		return model.Device{}, false
	}
	name := a.info.Name
	if name == "" {
		name = a.instance
	}
	if a.info.User != "" {
		cred.User = a.info.User
	}
	os, err := model.ParseOSClass(a.info.OS)
	if err != nil {
		return model.Device{}, false
	}
	port := a.port
	if port == 0 {
		port, _ = strconv.Atoi(model.DefaultSSHPort)
	}
	return model.Device{
		ID:          name,
		Address:     net.JoinHostPort(host, strconv.Itoa(port)),
		OS:          os,
		Credential:  cred,
		Interpreter: a.info.Interpreter,
		Product:     a.info.Product,
	}, true
}

func entryAddresses(e *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ip := range e.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// mergeAddresses adds new addresses to existing, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	for _, addr := range added {
		if !slices.Contains(existing, addr) {
			existing = append(existing, addr)
		}
	}
	return existing
}

func removeAddresses(addresses, gone []string) []string {
	return slices.DeleteFunc(addresses, func(a string) bool { return slices.Contains(gone, a) })
}
