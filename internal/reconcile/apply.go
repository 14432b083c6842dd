package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
)

// Failure records one mutation the backend rejected.
type Failure struct {
	Op   Op
	FQDN string
	Err  error
}

// Summary is the outcome of one reconciliation pass.
type Summary struct {
	Created   int
	Updated   int
	Deleted   int
	Failures  []Failure
	Conflicts []*ConflictError
}

// Clean reports whether the pass completed without failed mutations or
// skipped conflicts.
func (s Summary) Clean() bool {
	return len(s.Failures) == 0 && len(s.Conflicts) == 0
}

// Err aggregates the pass's conflicts and failures into one error, or nil
// when the pass was clean.
func (s Summary) Err() error {
	var result *multierror.Error
	for _, c := range s.Conflicts {
		result = multierror.Append(result, c)
	}
	for _, f := range s.Failures {
		result = multierror.Append(result, fmt.Errorf("%s %s: %w", f.Op, f.FQDN, f.Err))
	}
	return result.ErrorOrNil()
}

// Apply executes the plan in order against the backend. A rejected mutation
// is recorded and the pass moves on. Two conditions abort the pass with the
// partial summary: a canceled context and an authentication failure.
func Apply(ctx context.Context, log logr.Logger, backend dns.Backend, plan Plan) (Summary, error) {
	var summary Summary
	for _, action := range plan.Actions() {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("reconcile: apply interrupted: %w", err)
		}

		var err error
		switch action.Op {
		case OpCreate:
			err = backend.Create(ctx, action.Record)
		case OpUpdate:
			err = backend.Update(ctx, action.Record)
		case OpDelete:
			err = backend.Delete(ctx, action.Record.FQDN)
		}

		fields := []interface{}{"op", string(action.Op), "domain", action.Record.FQDN}
		if action.Record.IP.IsValid() {
			fields = append(fields, "ip", action.Record.IP.String())
		}

		if err != nil {
			if errors.Is(err, dns.ErrUnauthorized) {
				return summary, fmt.Errorf("reconcile: %s %s: %w", action.Op, action.Record.FQDN, err)
			}
			summary.Failures = append(summary.Failures, Failure{Op: action.Op, FQDN: action.Record.FQDN, Err: err})
			log.Error(err, "record mutation failed", fields...)
			continue
		}

		switch action.Op {
		case OpCreate:
			summary.Created++
		case OpUpdate:
			summary.Updated++
		case OpDelete:
			summary.Deleted++
		}
		log.Info("record reconciled", fields...)
	}
	return summary, nil
}
