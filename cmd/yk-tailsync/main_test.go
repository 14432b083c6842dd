package main

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-tailsync/internal/reconcile"
)

func TestSummaryErr(t *testing.T) {
	tests := []struct {
		name    string
		summary reconcile.Summary
		wantNil bool
	}{
		{
			name:    "clean run",
			summary: reconcile.Summary{Created: 2, Deleted: 1},
			wantNil: true,
		},
		{
			name: "failed mutation",
			summary: reconcile.Summary{
				Created:  1,
				Failures: []reconcile.Failure{{Op: reconcile.OpCreate, FQDN: "phone.lan", Err: errors.New("rejected")}},
			},
		},
		{
			name: "skipped conflict",
			summary: reconcile.Summary{
				Conflicts: []*reconcile.ConflictError{{FQDN: "laptop.lan", IP: netip.MustParseAddr("100.64.0.1")}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := summaryErr(tt.summary)
			if tt.wantNil {
				if err != nil {
					t.Fatalf("summaryErr() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, errHadFailures) {
				t.Errorf("summaryErr() = %v, want errHadFailures", err)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "clean", err: nil, want: 0},
		{name: "fatal setup error", err: errors.New("unable to load sync config"), want: 1},
		{name: "auth failure", err: dns.ErrUnauthorized, want: 1},
		{name: "completed with failures", err: summaryErr(reconcile.Summary{
			Failures: []reconcile.Failure{{Op: reconcile.OpDelete, FQDN: "nas.lan", Err: errors.New("boom")}},
		}), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
