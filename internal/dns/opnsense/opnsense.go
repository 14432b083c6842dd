package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
)

func init() {
	dns.Register("opnsense", func(log logr.Logger, settings map[string]string) (dns.Backend, error) {
		return New(log, settings)
	})
}

// Backend implements dns.Backend for OPNsense Unbound DNS, mapping records
// under the suffix onto host overrides. The API uses static keys, so there is
// no session to manage.
type Backend struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	log       logr.Logger
}

// New creates an OPNsense DNS backend from the given settings map.
// Required settings: base_url, api_key, api_secret.
// Optional settings: timeout (default 10s), skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Backend, error) {
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'base_url'")
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_key'")
	}
	apiSecret := settings["api_secret"]
	if apiSecret == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_secret'")
	}

	timeout := 10 * time.Second
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("opnsense: invalid timeout %q: %w", v, err)
		}
		timeout = parsed
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Backend{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		log:       log,
	}, nil
}

// doRequest builds and executes an HTTP request against the OPNsense API.
func (b *Backend) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("opnsense: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := strings.TrimRight(b.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("opnsense: build request: %w", err)
	}

	req.SetBasicAuth(b.apiKey, b.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opnsense: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// reconfigure tells OPNsense to apply DNS changes.
func (b *Backend) reconfigure(ctx context.Context) error {
	resp, err := b.doRequest(ctx, http.MethodPost, "unbound/service/reconfigure", struct{}{})
	if err != nil {
		return fmt.Errorf("opnsense: reconfigure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opnsense: reconfigure returned status %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode reconfigure response: %w", err)
	}
	b.log.V(1).Info("reconfigure completed", "status", result.Status)
	return nil
}

// searchResponse is the shape returned by searchHostOverride.
type searchResponse struct {
	Rows []hostRow `json:"rows"`
}

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID     string `json:"uuid"`
	Enabled  string `json:"enabled"`
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
	RR       string `json:"rr"`
	Server   string `json:"server"`
}

func (r hostRow) fqdn() string {
	return strings.ToLower(r.Hostname + "." + r.Domain)
}

// searchOverrides fetches every host override row.
func (b *Backend) searchOverrides(ctx context.Context) ([]hostRow, error) {
	resp, err := b.doRequest(ctx, http.MethodGet, "unbound/settings/searchHostOverride", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opnsense: searchHostOverride returned status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("opnsense: decode search response: %w", err)
	}
	return sr.Rows, nil
}

// findOverride returns the first enabled override for fqdn, or nil.
func (b *Backend) findOverride(ctx context.Context, fqdn string) (*hostRow, error) {
	rows, err := b.searchOverrides(ctx)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if row.Enabled == "1" && row.fqdn() == strings.ToLower(fqdn) {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// buildHostBody creates the JSON body for add/set host override calls.
func buildHostBody(record dns.Record) map[string]interface{} {
	host, domain := dns.SplitHostname(record.FQDN)
	return map[string]interface{}{
		"host": map[string]string{
			"enabled":     "1",
			"hostname":    host,
			"domain":      domain,
			"rr":          recordType(record.IP),
			"server":      record.IP.String(),
			"description": "",
			"mxprio":      "",
			"mx":          "",
		},
	}
}

func recordType(ip netip.Addr) string {
	if ip.Is4() {
		return "A"
	}
	return "AAAA"
}

// List returns the enabled A and AAAA overrides under suffix, one record per
// FQDN. Rows with unparsable addresses are skipped; duplicate names collapse
// to the lowest address.
func (b *Backend) List(ctx context.Context, suffix string) ([]dns.Record, error) {
	rows, err := b.searchOverrides(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]netip.Addr)
	for _, row := range rows {
		if row.Enabled != "1" {
			continue
		}
		if rr := strings.ToUpper(row.RR); rr != "A" && rr != "AAAA" {
			continue
		}
		fqdn := row.fqdn()
		if !dns.UnderSuffix(fqdn, suffix) {
			continue
		}
		ip, err := netip.ParseAddr(row.Server)
		if err != nil {
			b.log.Info("skipping override with unparsable address", "fqdn", fqdn, "server", row.Server)
			continue
		}
		if prev, ok := seen[fqdn]; ok {
			b.log.Info("duplicate overrides for name, keeping lowest address", "fqdn", fqdn)
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
	return records, nil
}

// Create adds a host override. An override already mapping the name to the
// same address is a no-op success.
func (b *Backend) Create(ctx context.Context, record dns.Record) error {
	b.log.V(1).Info("creating record", "fqdn", record.FQDN, "ip", record.IP.String())

	existing, err := b.findOverride(ctx, record.FQDN)
	if err != nil {
		return err
	}
	if existing != nil && existing.Server == record.IP.String() {
		b.log.V(1).Info("record already present", "fqdn", record.FQDN)
		return nil
	}

	resp, err := b.doRequest(ctx, http.MethodPost, "unbound/settings/addHostOverride", buildHostBody(record))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: addHostOverride returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Result string `json:"result"`
		UUID   string `json:"uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode addHostOverride response: %w", err)
	}
	if result.Result != "saved" {
		return fmt.Errorf("opnsense: addHostOverride unexpected result: %s", result.Result)
	}

	return b.reconfigure(ctx)
}

// Update points an existing override at a new address, or creates it when the
// name is absent.
func (b *Backend) Update(ctx context.Context, record dns.Record) error {
	b.log.V(1).Info("updating record", "fqdn", record.FQDN, "ip", record.IP.String())

	existing, err := b.findOverride(ctx, record.FQDN)
	if err != nil {
		return err
	}
	if existing == nil {
		return b.Create(ctx, record)
	}

	resp, err := b.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("unbound/settings/setHostOverride/%s", existing.UUID), buildHostBody(record))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: setHostOverride returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode setHostOverride response: %w", err)
	}
	if result.Result != "saved" {
		return fmt.Errorf("opnsense: setHostOverride unexpected result: %s", result.Result)
	}

	return b.reconfigure(ctx)
}

// Delete removes the override for fqdn. An absent name is a no-op success.
func (b *Backend) Delete(ctx context.Context, fqdn string) error {
	b.log.V(1).Info("deleting record", "fqdn", fqdn)

	existing, err := b.findOverride(ctx, fqdn)
	if err != nil {
		return err
	}
	if existing == nil {
		b.log.V(1).Info("record already absent", "fqdn", fqdn)
		return nil
	}

	resp, err := b.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("unbound/settings/delHostOverride/%s", existing.UUID), struct{}{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: delHostOverride returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode delHostOverride response: %w", err)
	}
	if result.Result != "deleted" {
		return fmt.Errorf("opnsense: delHostOverride unexpected result: %s", result.Result)
	}

	return b.reconfigure(ctx)
}

// Close is a no-op; the API holds no per-client state.
func (b *Backend) Close(ctx context.Context) error {
	return nil
}
