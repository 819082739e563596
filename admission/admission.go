// Package admission implements ConnectAdmission: the bounded pending-connect
// limiter used exclusively by TCP_CONNECT tasks (spec §4.8). It is a
// buffered-channel semaphore, the same cooperative-concurrency primitive the
// teacher uses for its own admission-style gate (broker.go's proxyPolls
// channel) and the pack's general idiom of "block a goroutine on a channel
// rather than a mutex+condvar".
package admission

import (
	"context"

	"github.com/kzahel/jstorrentd/apperr"
	"github.com/kzahel/jstorrentd/metrics"
)

// Capacity is the number of concurrently admitted TCP_CONNECT attempts
// (spec §4.8: "A semaphore with capacity 30").
const Capacity = 30

// FastFailThreshold is the total pending-connect count (admitted + waiting)
// at or above which new TCP_CONNECT requests are rejected immediately rather than
// queued (spec §4.4: "If pendingConnects.len() ≥ FAST_FAIL_THRESHOLD (e.g.
// 60), reply TCP_CONNECTED{status=fail} immediately").
const FastFailThreshold = 60

// Admission is a per-session semaphore bounding concurrent outstanding
// TCP_CONNECT attempts.
type Admission struct {
	permits chan struct{}
	metrics *metrics.Metrics
}

// New constructs an Admission with the given capacity. m may be nil in
// tests that don't care about diagnostic counters.
func New(capacity int, m *metrics.Metrics) *Admission {
	return &Admission{permits: make(chan struct{}, capacity), metrics: m}
}

// Acquire blocks the caller cooperatively until a permit is free or the
// deadline in ctx expires, whichever comes first. On success it returns a
// release function that must be called exactly once. On timeout or
// cancellation it returns a Timeout or Cancelled *apperr.Error.
func (a *Admission) Acquire(ctx context.Context) (release func(), err error) {
	if a.metrics != nil {
		a.metrics.AdmissionWaiting.Inc()
		defer a.metrics.AdmissionWaiting.Dec()
	}
	select {
	case a.permits <- struct{}{}:
		released := false
		return func() {
			if released {
				return
			}
			released = true
			<-a.permits
		}, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperr.New(apperr.KindTimeout, ctx.Err())
		}
		return nil, apperr.New(apperr.KindCancelled, ctx.Err())
	}
}

// InUse reports the number of permits currently held, for diagnostics.
func (a *Admission) InUse() int {
	return len(a.permits)
}
