package pihole

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
)

func init() {
	dns.Register("pihole", func(log logr.Logger, settings map[string]string) (dns.Backend, error) {
		return New(log, settings)
	})
}

// Backend implements dns.Backend against the Pi-hole v6 HTTP API using its
// local custom DNS records.
type Backend struct {
	baseURL  string
	password string
	client   *http.Client
	log      logr.Logger
	sid      string
}

// New creates a Pi-hole DNS backend from the given settings map.
// Required settings: base_url, password.
// Optional settings: timeout (default 10s), skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Backend, error) {
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("pihole: missing required setting 'base_url'")
	}
	password := settings["password"]
	if password == "" {
		return nil, fmt.Errorf("pihole: missing required setting 'password'")
	}

	timeout := 10 * time.Second
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("pihole: invalid timeout %q: %w", v, err)
		}
		timeout = parsed
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Backend{
		baseURL:  baseURL,
		password: password,
		client:   &http.Client{Transport: transport, Timeout: timeout},
		log:      log,
	}, nil
}

// customDNSResponse is the shape returned by the custom DNS endpoints.
type customDNSResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    []customDNSEntry `json:"data"`
}

// customDNSEntry is a single domain-to-address mapping on the wire.
type customDNSEntry struct {
	Domain string `json:"domain"`
	IP     string `json:"ip"`
}

// List fetches all custom DNS entries and returns those under suffix, one
// record per FQDN. Entries with unparsable addresses are skipped; when the
// appliance holds several addresses for one name, the lowest is kept so
// repeated runs see the same record.
func (b *Backend) List(ctx context.Context, suffix string) ([]dns.Record, error) {
	resp, err := b.do(ctx, http.MethodGet, "dns/custom", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pihole: list custom DNS returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var cr customDNSResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("pihole: decode custom DNS response: %w", err)
	}

	seen := make(map[string]netip.Addr)
	for _, entry := range cr.Data {
		fqdn := strings.ToLower(entry.Domain)
		if !dns.UnderSuffix(fqdn, suffix) {
			continue
		}
		ip, err := netip.ParseAddr(entry.IP)
		if err != nil {
			b.log.Info("skipping custom DNS entry with unparsable address", "domain", entry.Domain, "ip", entry.IP)
			continue
		}
		if prev, ok := seen[fqdn]; ok {
			b.log.Info("duplicate custom DNS entries for domain, keeping lowest address", "domain", fqdn)
			if !ip.Less(prev) {
				continue
			}
		}
		seen[fqdn] = ip
	}

	records := make([]dns.Record, 0, len(seen))
	for fqdn, ip := range seen {
		records = append(records, dns.Record{FQDN: fqdn, IP: ip})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].FQDN < records[j].FQDN })

	b.log.V(1).Info("listed custom DNS entries", "total", len(cr.Data), "managed", len(records))
	return records, nil
}

// Create adds a new custom DNS entry. An entry that already exists with the
// same address is a no-op success.
func (b *Backend) Create(ctx context.Context, record dns.Record) error {
	b.log.V(1).Info("creating record", "domain", record.FQDN, "ip", record.IP.String())

	body := customDNSEntry{Domain: record.FQDN, IP: record.IP.String()}
	resp, err := b.do(ctx, http.MethodPost, "dns/custom", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pihole: add custom DNS returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var cr customDNSResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return fmt.Errorf("pihole: decode add response: %w", err)
	}
	if !cr.Success {
		// Only the identical-mapping refusal is benign. "already mapped to
		// <other address>" means the name is taken and must surface as a
		// failure.
		msg := strings.ToLower(cr.Message)
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already present") {
			b.log.V(1).Info("record already present", "domain", record.FQDN)
			return nil
		}
		return fmt.Errorf("pihole: add custom DNS for %s failed: %s", record.FQDN, cr.Message)
	}
	return nil
}

// Update replaces the address mapped to record.FQDN. The appliance has no
// replace verb for custom DNS, so this removes the old entry and adds the
// new one.
func (b *Backend) Update(ctx context.Context, record dns.Record) error {
	b.log.V(1).Info("updating record", "domain", record.FQDN, "ip", record.IP.String())

	if err := b.Delete(ctx, record.FQDN); err != nil {
		return fmt.Errorf("pihole: update %s: remove old entry: %w", record.FQDN, err)
	}
	return b.Create(ctx, record)
}

// Delete removes the custom DNS entry for fqdn. An absent entry is a no-op
// success.
func (b *Backend) Delete(ctx context.Context, fqdn string) error {
	b.log.V(1).Info("deleting record", "domain", fqdn)

	resp, err := b.do(ctx, http.MethodDelete, "dns/custom/"+url.PathEscape(fqdn), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		b.log.V(1).Info("record already absent", "domain", fqdn)
		return nil
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pihole: delete custom DNS returned status %d: %s", resp.StatusCode, string(respBody))
	}
}
