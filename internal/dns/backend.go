package dns

import (
	"context"
	"errors"
	"net/netip"
)

// ErrUnauthorized reports that the backend rejected the configured credentials
// or the current session. Backends wrap it so callers can tell an auth failure
// from an ordinary request failure; nothing can be reconciled without a valid
// session, so callers treat it as fatal.
var ErrUnauthorized = errors.New("dns: unauthorized")

// Record is one host mapping held by the DNS backend under the configured
// suffix. A record is managed if and only if its FQDN sits strictly under
// that suffix; backends never return or touch names outside the partition.
type Record struct {
	FQDN string // fully qualified, lowercase, e.g. "laptop.lan"
	IP   netip.Addr
}

// Backend is the record repository contract DNS backends must implement.
//
// Mutating calls are idempotent: creating an identical existing mapping and
// deleting an absent name are both no-op successes, so a run repeated after
// a partial failure converges instead of erroring.
type Backend interface {
	// List returns every managed record under suffix. At most one record is
	// returned per FQDN.
	List(ctx context.Context, suffix string) ([]Record, error)

	// Create adds a new mapping.
	Create(ctx context.Context, record Record) error

	// Update replaces the address mapped to record.FQDN.
	Update(ctx context.Context, record Record) error

	// Delete removes the mapping for fqdn.
	Delete(ctx context.Context, fqdn string) error

	// Close releases any session state held against the backend.
	Close(ctx context.Context) error
}
