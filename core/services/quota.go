package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/store"
	"github.com/verbatimhq/verbatim/pkg/xsync"
)

const burstWindow = time.Minute

// QuotaGate is the single admission point for transcription work. The
// durable period quota lives in the usage store; the burst window and the
// in-flight gauge are in-memory and reset on restart, the period quota is
// the control that must survive.
type QuotaGate struct {
	usage       *store.UsageStore
	burstLimit  int
	maxInflight int

	requests *xsync.SyncedMap[string, []time.Time]
	inflight *xsync.SyncedMap[string, int]

	clock func() time.Time
}

func NewQuotaGate(usage *store.UsageStore, burstPerMinute, maxInflightPerMode int) *QuotaGate {
	return &QuotaGate{
		usage:       usage,
		burstLimit:  burstPerMinute,
		maxInflight: maxInflightPerMode,
		requests:    xsync.NewSyncedMap[string, []time.Time](),
		inflight:    xsync.NewSyncedMap[string, int](),
		clock:       time.Now,
	}
}

// Check answers what Admit would decide without reserving minutes, recording
// the request in the burst window or taking an in-flight slot.
func (g *QuotaGate) Check(ctx context.Context, req schema.AdmissionRequest) (schema.AdmissionDecision, error) {
	now := g.clock().UTC()

	counter, err := g.usage.Get(ctx, req.OrganizationID, req.Mode, now)
	if err != nil {
		return schema.AdmissionDecision{}, fmt.Errorf("reading usage counter: %w", err)
	}

	decision := decisionFromCounter(counter, now)
	switch {
	case counter.LimitMinutes == 0:
		return denied(decision, schema.ErrorModeNotAvailable, ""), nil
	case counter.LimitMinutes > 0 && counter.ConsumedMinutes+req.EstimatedMinutes > counter.LimitMinutes:
		return denied(decision, schema.ErrorOrganizationLimit, ""), nil
	}
	decision.Allowed = true
	return decision, nil
}

// Admit runs the full gate: burst window, in-flight ceiling, then the atomic
// period reservation. On success the estimated minutes are reserved and an
// in-flight slot is held until Release.
func (g *QuotaGate) Admit(ctx context.Context, req schema.AdmissionRequest) (schema.AdmissionDecision, error) {
	now := g.clock().UTC()

	if retryAfter, ok := g.recordRequest(req.OrganizationID, now); !ok {
		log.Debug().
			Str("organization_id", req.OrganizationID).
			Int("retry_after_s", retryAfter).
			Msg("burst window rejected request")
		d := denied(schema.AdmissionDecision{}, schema.ErrorRateLimited, "")
		d.RetryAfterSeconds = retryAfter
		return d, nil
	}

	if !g.acquireSlot(req.OrganizationID, req.Mode) {
		d := denied(schema.AdmissionDecision{}, schema.ErrorRateLimited,
			fmt.Sprintf("too many %s jobs in flight for this organization; try again shortly", req.Mode))
		d.RetryAfterSeconds = 10
		return d, nil
	}

	counter, granted, err := g.usage.Reserve(ctx, req.OrganizationID, req.Mode, now, req.EstimatedMinutes)
	if err != nil {
		g.Release(req.OrganizationID, req.Mode)
		return schema.AdmissionDecision{}, fmt.Errorf("reserving usage: %w", err)
	}

	decision := decisionFromCounter(counter, now)
	if !granted {
		g.Release(req.OrganizationID, req.Mode)
		if counter.LimitMinutes == 0 {
			return denied(decision, schema.ErrorModeNotAvailable, ""), nil
		}
		return denied(decision, schema.ErrorOrganizationLimit, ""), nil
	}

	decision.Allowed = true
	return decision, nil
}

// Release frees the in-flight slot taken by a successful Admit. Safe to call
// once per admitted job, on any terminal outcome.
func (g *QuotaGate) Release(org string, mode schema.TranscriptionMode) {
	g.inflight.Update(inflightKey(org, mode), func(n int) int {
		if n <= 0 {
			return 0
		}
		return n - 1
	})
}

// Refund returns reserved minutes after a permanent failure or an unbilled
// cancellation, per the refund policy the orchestrator enforces.
func (g *QuotaGate) Refund(ctx context.Context, org string, mode schema.TranscriptionMode, minutes float64) error {
	if minutes <= 0 {
		return nil
	}
	return g.usage.Refund(ctx, org, mode, g.clock().UTC(), minutes)
}

// Usage exposes the current-period counters for the usage endpoint.
func (g *QuotaGate) Usage(ctx context.Context, org string) ([]schema.UsageCounter, error) {
	return g.usage.GetAll(ctx, org, g.clock().UTC())
}

// SetLimit configures the organization's period allowance for a mode. Zero
// disables the mode, UnlimitedMinutes removes the cap.
func (g *QuotaGate) SetLimit(ctx context.Context, org string, mode schema.TranscriptionMode, minutes float64) error {
	return g.usage.SetLimit(ctx, org, mode, g.clock().UTC(), minutes)
}

// recordRequest appends the request to the org's sliding window. It reports
// false with a suggested wait when the window is already full.
func (g *QuotaGate) recordRequest(org string, now time.Time) (int, bool) {
	var retryAfter int
	full := false
	g.requests.Update(org, func(times []time.Time) []time.Time {
		kept := times[:0]
		for _, t := range times {
			if now.Sub(t) < burstWindow {
				kept = append(kept, t)
			}
		}
		if g.burstLimit > 0 && len(kept) >= g.burstLimit {
			full = true
			oldest := kept[0]
			retryAfter = int(math.Ceil((burstWindow - now.Sub(oldest)).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			return kept
		}
		return append(kept, now)
	})
	return retryAfter, !full
}

func (g *QuotaGate) acquireSlot(org string, mode schema.TranscriptionMode) bool {
	acquired := false
	g.inflight.Update(inflightKey(org, mode), func(n int) int {
		if g.maxInflight > 0 && n >= g.maxInflight {
			return n
		}
		acquired = true
		return n + 1
	})
	return acquired
}

func inflightKey(org string, mode schema.TranscriptionMode) string {
	return org + "/" + string(mode)
}

func decisionFromCounter(counter schema.UsageCounter, now time.Time) schema.AdmissionDecision {
	return schema.AdmissionDecision{
		LimitMinutes:     counter.LimitMinutes,
		UsedMinutes:      counter.ConsumedMinutes,
		RemainingMinutes: counter.Remaining(),
		ResetAt:          store.NextPeriod(now),
	}
}

func denied(d schema.AdmissionDecision, kind schema.ErrorKind, message string) schema.AdmissionDecision {
	d.Allowed = false
	d.Reason = kind
	d.Message = Failure(kind, message).Message
	return d
}
