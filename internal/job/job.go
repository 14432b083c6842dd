// Package job orchestrates one reconciliation run: list tailnet devices,
// list managed DNS records, compute the difference, apply it.
package job

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/reconcile"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/tailscale"
)

// DeviceSource lists the devices whose DNS records the job manages.
type DeviceSource interface {
	ListOnlineDevices(ctx context.Context) ([]tailscale.Device, error)
}

// Job wires a device source to a DNS backend for a single reconciliation.
type Job struct {
	Log     logr.Logger
	Source  DeviceSource
	Backend dns.Backend
	Suffix  string
}

// Run performs one reconciliation pass and returns its summary. Errors from
// listing either side are fatal; nothing has been mutated at that point. An
// error alongside a non-zero summary means the pass aborted partway through
// applying.
func (j *Job) Run(ctx context.Context) (reconcile.Summary, error) {
	start := time.Now()
	log := j.Log.WithValues("run", uuid.NewString()[:8])

	devices, err := j.Source.ListOnlineDevices(ctx)
	if err != nil {
		return reconcile.Summary{}, fmt.Errorf("job: list devices: %w", err)
	}
	log.Info("device list assembled", "devices", len(devices))

	observed, err := j.Backend.List(ctx, j.Suffix)
	if err != nil {
		return reconcile.Summary{}, fmt.Errorf("job: list records: %w", err)
	}
	log.Info("managed records listed", "records", len(observed), "suffix", j.Suffix)

	desired, conflicts := reconcile.BuildDesired(devices, j.Suffix)
	for _, c := range conflicts {
		log.Info("hostname conflict, skipping device", "domain", c.FQDN, "ip", c.IP.String())
	}

	plan := reconcile.Diff(desired, observed, conflicts)
	if plan.Empty() {
		log.Info("records already in sync")
	} else {
		log.Info("plan computed",
			"creates", len(plan.Creates), "updates", len(plan.Updates), "deletes", len(plan.Deletes))
	}

	summary, err := reconcile.Apply(ctx, log, j.Backend, plan)
	summary.Conflicts = conflicts
	if err != nil {
		return summary, fmt.Errorf("job: %w", err)
	}

	log.Info("reconciliation complete",
		"created", summary.Created, "updated", summary.Updated, "deleted", summary.Deleted,
		"failed", len(summary.Failures), "conflicts", len(summary.Conflicts),
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	return summary, nil
}
