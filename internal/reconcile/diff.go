package reconcile

import (
	"sort"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/tailscale"
)

// BuildDesired maps each device to the record it should hold under suffix.
// Devices whose normalized hostnames collide yield no record; each colliding
// device is reported as one ConflictError, sorted by FQDN then address.
func BuildDesired(devices []tailscale.Device, suffix string) (map[string]dns.Record, []*ConflictError) {
	byFQDN := make(map[string][]tailscale.Device)
	for _, d := range devices {
		fqdn := dns.FQDN(d.Hostname, suffix)
		byFQDN[fqdn] = append(byFQDN[fqdn], d)
	}

	desired := make(map[string]dns.Record, len(byFQDN))
	var conflicts []*ConflictError
	for fqdn, group := range byFQDN {
		if len(group) == 1 {
			desired[fqdn] = dns.Record{FQDN: fqdn, IP: group[0].Addr()}
			continue
		}
		for _, d := range group {
			conflicts = append(conflicts, &ConflictError{FQDN: fqdn, IP: d.Addr()})
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].FQDN != conflicts[j].FQDN {
			return conflicts[i].FQDN < conflicts[j].FQDN
		}
		return conflicts[i].IP.Less(conflicts[j].IP)
	})
	return desired, conflicts
}

// Diff compares desired records against the observed ones and returns the
// plan that reconciles them: missing names are created, names mapped to a
// different address are updated, and managed names with no device behind
// them are deleted. A conflicted name receives no mutations at all, so an
// existing record for it stays in place rather than being deleted. Observed
// duplicates collapse to the first occurrence.
func Diff(desired map[string]dns.Record, observed []dns.Record, conflicts []*ConflictError) Plan {
	contested := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		contested[c.FQDN] = true
	}

	seen := make(map[string]dns.Record, len(observed))
	for _, rec := range observed {
		if _, ok := seen[rec.FQDN]; ok {
			continue
		}
		seen[rec.FQDN] = rec
	}

	var plan Plan
	for fqdn, want := range desired {
		if contested[fqdn] {
			continue
		}
		have, ok := seen[fqdn]
		switch {
		case !ok:
			plan.Creates = append(plan.Creates, want)
		case have.IP != want.IP:
			plan.Updates = append(plan.Updates, want)
		}
	}
	for fqdn := range seen {
		if contested[fqdn] {
			continue
		}
		if _, ok := desired[fqdn]; !ok {
			plan.Deletes = append(plan.Deletes, fqdn)
		}
	}

	sort.Slice(plan.Creates, func(i, j int) bool { return plan.Creates[i].FQDN < plan.Creates[j].FQDN })
	sort.Slice(plan.Updates, func(i, j int) bool { return plan.Updates[i].FQDN < plan.Updates[j].FQDN })
	sort.Strings(plan.Deletes)
	return plan
}
