// Package tailscale reads the tailnet device list from the local Tailscale
// daemon by invoking the tailscale CLI.
package tailscale

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"sort"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
)

// Device is one machine on the tailnet with a usable hostname and at least
// one parsed address.
type Device struct {
	Hostname string // normalized first DNS label, e.g. "laptop"
	Addrs    []netip.Addr
	Online   bool
}

// Addr returns the device's preferred address: its first IPv4 address, or its
// first address when it has no IPv4.
func (d Device) Addr() netip.Addr {
	for _, a := range d.Addrs {
		if a.Is4() {
			return a
		}
	}
	if len(d.Addrs) > 0 {
		return d.Addrs[0]
	}
	return netip.Addr{}
}

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, err
	}
	return out, nil
}

// Source lists devices from the local Tailscale daemon.
type Source struct {
	Log    logr.Logger
	Runner Runner
}

// status mirrors the fields of `tailscale status --json` the source reads.
// Self and the Peer values share one shape.
type status struct {
	Self *node            `json:"Self"`
	Peer map[string]*node `json:"Peer"`
}

type node struct {
	ID           string   `json:"ID"`
	HostName     string   `json:"HostName"`
	DNSName      string   `json:"DNSName"`
	TailscaleIPs []string `json:"TailscaleIPs"`
	Online       bool     `json:"Online"`
}

// ListOnlineDevices returns every online tailnet device, the local machine
// included, sorted by hostname. Devices whose name yields no valid DNS label
// and devices without any parsable address are skipped with a log line; a
// bad entry in the device list must not take down the whole run.
func (s *Source) ListOnlineDevices(ctx context.Context) ([]Device, error) {
	out, err := s.Runner.Run(ctx, "tailscale", "status", "--json")
	if err != nil {
		return nil, fmt.Errorf("tailscale: status: %w", err)
	}

	var st status
	if err := json.Unmarshal(out, &st); err != nil {
		return nil, fmt.Errorf("tailscale: decode status output: %w", err)
	}

	// The local machine appears as Self, not under Peer. Keying by node ID
	// collapses any overlap between the two.
	nodes := make(map[string]*node, len(st.Peer)+1)
	if st.Self != nil {
		nodes[st.Self.ID] = st.Self
	}
	for _, n := range st.Peer {
		if n != nil {
			nodes[n.ID] = n
		}
	}

	devices := make([]Device, 0, len(nodes))
	for _, n := range nodes {
		if !n.Online {
			continue
		}

		name := n.DNSName
		if name == "" {
			name = n.HostName
		}
		label, err := dns.NormalizeLabel(name)
		if err != nil {
			s.Log.Info("skipping device without usable hostname", "device", n.HostName, "error", err.Error())
			continue
		}

		addrs := make([]netip.Addr, 0, len(n.TailscaleIPs))
		for _, raw := range n.TailscaleIPs {
			ip, err := netip.ParseAddr(raw)
			if err != nil {
				s.Log.Info("skipping unparsable device address", "device", label, "ip", raw)
				continue
			}
			addrs = append(addrs, ip)
		}
		if len(addrs) == 0 {
			s.Log.Info("skipping device with no usable address", "device", label)
			continue
		}

		devices = append(devices, Device{Hostname: label, Addrs: addrs, Online: n.Online})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Hostname < devices[j].Hostname })

	s.Log.V(1).Info("listed tailnet devices", "total", len(nodes), "online", len(devices))
	return devices, nil
}
