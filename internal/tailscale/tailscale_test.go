package tailscale

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/go-logr/logr"
)

type fakeRunner struct {
	output string
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.output), nil
}

const statusJSON = `{
  "Version": "1.66.0",
  "Self": {
    "ID": "1001",
    "HostName": "pihole-server",
    "DNSName": "pihole-server.tailnet-1234.ts.net.",
    "TailscaleIPs": ["100.64.0.10", "fd7a:115c:a1e0::10"],
    "Online": true
  },
  "Peer": {
    "nodekey:aaa": {
      "ID": "1002",
      "HostName": "My-Laptop",
      "DNSName": "my-laptop.tailnet-1234.ts.net.",
      "TailscaleIPs": ["100.64.0.1", "fd7a:115c:a1e0::1"],
      "Online": true
    },
    "nodekey:bbb": {
      "ID": "1003",
      "HostName": "dormant-nas",
      "DNSName": "dormant-nas.tailnet-1234.ts.net.",
      "TailscaleIPs": ["100.64.0.2"],
      "Online": false
    }
  }
}`

func newSource(runner *fakeRunner) *Source {
	return &Source{Log: logr.Discard(), Runner: runner}
}

func TestListOnlineDevices(t *testing.T) {
	runner := &fakeRunner{output: statusJSON}
	devices, err := newSource(runner).ListOnlineDevices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 command invocation, got %d", len(runner.calls))
	}
	if got := strings.Join(runner.calls[0], " "); got != "tailscale status --json" {
		t.Errorf("expected 'tailscale status --json', got %q", got)
	}

	// Offline peer excluded, self included, sorted by hostname.
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d: %v", len(devices), devices)
	}
	if devices[0].Hostname != "my-laptop" {
		t.Errorf("expected first device 'my-laptop', got %q", devices[0].Hostname)
	}
	if devices[1].Hostname != "pihole-server" {
		t.Errorf("expected second device 'pihole-server', got %q", devices[1].Hostname)
	}

	// IPv4 preferred over IPv6.
	if got := devices[0].Addr(); got != netip.MustParseAddr("100.64.0.1") {
		t.Errorf("expected my-laptop addr 100.64.0.1, got %s", got)
	}
	if got := devices[1].Addr(); got != netip.MustParseAddr("100.64.0.10") {
		t.Errorf("expected pihole-server addr 100.64.0.10, got %s", got)
	}
}

func TestListOnlineDevices_SelfAlsoInPeerMap(t *testing.T) {
	// Some status dumps repeat the local node; the ID collapses the overlap.
	runner := &fakeRunner{output: `{
	  "Self": {"ID": "1001", "HostName": "host", "DNSName": "host.ts.net.", "TailscaleIPs": ["100.64.0.10"], "Online": true},
	  "Peer": {
	    "nodekey:self": {"ID": "1001", "HostName": "host", "DNSName": "host.ts.net.", "TailscaleIPs": ["100.64.0.10"], "Online": true}
	  }
	}`}

	devices, err := newSource(runner).ListOnlineDevices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device after deduplication, got %d", len(devices))
	}
}

func TestListOnlineDevices_SkipsUnusableHostname(t *testing.T) {
	runner := &fakeRunner{output: `{
	  "Self": {"ID": "1001", "HostName": "good", "DNSName": "good.ts.net.", "TailscaleIPs": ["100.64.0.1"], "Online": true},
	  "Peer": {
	    "nodekey:aaa": {"ID": "1002", "HostName": "---", "DNSName": "---.ts.net.", "TailscaleIPs": ["100.64.0.2"], "Online": true}
	  }
	}`}

	devices, err := newSource(runner).ListOnlineDevices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 1 || devices[0].Hostname != "good" {
		t.Fatalf("expected only 'good' to survive, got %v", devices)
	}
}

func TestListOnlineDevices_SkipsDeviceWithoutAddresses(t *testing.T) {
	runner := &fakeRunner{output: `{
	  "Self": {"ID": "1001", "HostName": "good", "DNSName": "good.ts.net.", "TailscaleIPs": ["100.64.0.1"], "Online": true},
	  "Peer": {
	    "nodekey:aaa": {"ID": "1002", "HostName": "empty", "DNSName": "empty.ts.net.", "TailscaleIPs": [], "Online": true},
	    "nodekey:bbb": {"ID": "1003", "HostName": "garbled", "DNSName": "garbled.ts.net.", "TailscaleIPs": ["not-an-ip"], "Online": true}
	  }
	}`}

	devices, err := newSource(runner).ListOnlineDevices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 1 || devices[0].Hostname != "good" {
		t.Fatalf("expected devices without addresses to be skipped, got %v", devices)
	}
}

func TestListOnlineDevices_HostNameFallback(t *testing.T) {
	runner := &fakeRunner{output: `{
	  "Self": {"ID": "1001", "HostName": "Bare-Host", "DNSName": "", "TailscaleIPs": ["100.64.0.1"], "Online": true},
	  "Peer": {}
	}`}

	devices, err := newSource(runner).ListOnlineDevices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 1 || devices[0].Hostname != "bare-host" {
		t.Fatalf("expected fallback to HostName, got %v", devices)
	}
}

func TestListOnlineDevices_CommandError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("Tailscale is stopped")}

	_, err := newSource(runner).ListOnlineDevices(context.Background())
	if err == nil {
		t.Fatal("expected error when the CLI fails, got nil")
	}
	if !strings.Contains(err.Error(), "tailscale: status") {
		t.Errorf("expected wrapped CLI error, got %v", err)
	}
}

func TestListOnlineDevices_BadJSON(t *testing.T) {
	runner := &fakeRunner{output: "tailscaled is not running"}

	if _, err := newSource(runner).ListOnlineDevices(context.Background()); err == nil {
		t.Fatal("expected error for unparsable status output, got nil")
	}
}

func TestDeviceAddr(t *testing.T) {
	tests := []struct {
		name  string
		addrs []netip.Addr
		want  netip.Addr
	}{
		{
			name:  "prefers IPv4",
			addrs: []netip.Addr{netip.MustParseAddr("fd7a:115c:a1e0::1"), netip.MustParseAddr("100.64.0.1")},
			want:  netip.MustParseAddr("100.64.0.1"),
		},
		{
			name:  "IPv6 only",
			addrs: []netip.Addr{netip.MustParseAddr("fd7a:115c:a1e0::1")},
			want:  netip.MustParseAddr("fd7a:115c:a1e0::1"),
		},
		{
			name:  "no addresses",
			addrs: nil,
			want:  netip.Addr{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Device{Hostname: "x", Addrs: tt.addrs}
			if got := d.Addr(); got != tt.want {
				t.Errorf("Addr(): got %v, want %v", got, tt.want)
			}
		})
	}
}
