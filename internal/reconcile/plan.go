// Package reconcile computes and applies the mutations that move a DNS
// backend from its observed state to the desired state.
package reconcile

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
)

// Op identifies one kind of record mutation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Action is a single planned mutation. Delete actions carry only the FQDN.
type Action struct {
	Op     Op
	Record dns.Record
}

// Plan holds the mutations that reconcile the backend with the desired state.
type Plan struct {
	Creates []dns.Record
	Updates []dns.Record
	Deletes []string
}

// Empty reports whether the plan contains no mutations.
func (p Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Actions returns the plan's mutations in apply order: creates and updates
// merged and sorted by FQDN, then deletes sorted by FQDN. Additions always
// run before removals.
func (p Plan) Actions() []Action {
	actions := make([]Action, 0, len(p.Creates)+len(p.Updates)+len(p.Deletes))
	for _, rec := range p.Creates {
		actions = append(actions, Action{Op: OpCreate, Record: rec})
	}
	for _, rec := range p.Updates {
		actions = append(actions, Action{Op: OpUpdate, Record: rec})
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Record.FQDN < actions[j].Record.FQDN })

	deletes := append([]string(nil), p.Deletes...)
	sort.Strings(deletes)
	for _, fqdn := range deletes {
		actions = append(actions, Action{Op: OpDelete, Record: dns.Record{FQDN: fqdn}})
	}
	return actions
}

// ConflictError records a device whose normalized hostname collides with
// another device's. Colliding devices are skipped for the run; which address
// the shared name should carry is ambiguous.
type ConflictError struct {
	FQDN string
	IP   netip.Addr
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconcile: hostname conflict on %s (device %s)", e.FQDN, e.IP)
}
