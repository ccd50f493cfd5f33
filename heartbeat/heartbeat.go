// Package heartbeat implements HeartbeatMonitor: a periodic,
// side-channel progress reporter that reads a job's accumulated
// counters without ever touching the data path itself.
//
// No teacher file implements this directly (the pack kept only
// fs/accounting's tests, not its source), so the ticker/callback shape
// is written fresh from the periodic-snapshot pattern those tests
// imply, using stdlib time.Ticker and context.Context cancellation —
// the same primitives every other background loop in this module
// already uses.
package heartbeat

import (
	"context"
	"time"

	"github.com/fametec/filed/jobctx"
)

// Monitor runs a goroutine that calls a reporter with the job's
// counter snapshot at a fixed interval, until stopped or its context
// is canceled.
type Monitor struct {
	ctx      *jobctx.Context
	interval time.Duration
	report   func(jobctx.Snapshot)

	stop chan struct{}
	done chan struct{}
}

// New builds a Monitor. report is called from the monitor's own
// goroutine; it must not block indefinitely or later ticks will be
// delayed.
func New(ctx *jobctx.Context, interval time.Duration, report func(jobctx.Snapshot)) *Monitor {
	return &Monitor{
		ctx:      ctx,
		interval: interval,
		report:   report,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the monitor loop until ctx is canceled or Stop is
// called. It blocks the caller; run it in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.report(m.ctx.Snapshot())
		}
	}
}

// Stop requests the loop exit and blocks until it has.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}
