// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Delta is the pair of deltas ComputeDelta produces for the two tracked map
// shapes on a single reporting tick.
type Delta struct {
	Connections ConnMap
	Endpoints   ContainerEndpointMap
}

// Empty reports whether neither half of the delta carries any entries.
func (d Delta) Empty() bool {
	return len(d.Connections) == 0 && len(d.Endpoints) == 0
}

// Sink ships a Delta downstream. Implementations must be idempotent on the
// (connection, active) key, per spec.md §1 — this engine does not guarantee
// exactly-once delivery.
type Sink interface {
	ShipDelta(ctx context.Context, delta Delta) error
}

// Reporter owns the "old_state" this engine's delta algorithm compares
// against: the most recently shipped snapshot of each map, and the
// observation time it was shipped at. old_state belongs exclusively to the
// Reporter — the Tracker never retains a reference into it, and the
// Reporter never shares it back (spec.md §4.4, §9 "Delta state ownership").
type Reporter struct {
	tracker   *Tracker
	afterglow time.Duration
	sink      Sink
	log       *logrus.Entry

	oldConnState     ConnMap
	oldEndpointState ContainerEndpointMap
	oldNow           int64

	ticksSent     atomic.Uint64
	lastDeltaSize atomic.Uint64
}

// NewReporter constructs a Reporter with an empty retained snapshot. A zero
// afterglow disables the tolerance window entirely (every state change is
// reported on the very next tick).
func NewReporter(tracker *Tracker, afterglow time.Duration, sink Sink, log *logrus.Entry) *Reporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reporter{
		tracker:          tracker,
		afterglow:        afterglow,
		sink:             sink,
		log:              log.WithField("component", "conntrack-reporter"),
		oldConnState:     make(ConnMap),
		oldEndpointState: make(ContainerEndpointMap),
	}
}

// Tick runs one full reporting cycle at nowMicros: fetch a normalized
// snapshot, compute the delta against the retained old_state, ship it, then
// fold the new snapshot into old_state (spec.md §4.4). The snapshot is
// fetched with clearInactive=false — afterglow eviction from the live
// tracker state, if desired, is a separate concern from delta shipping.
func (r *Reporter) Tick(ctx context.Context, nowMicros int64) (Delta, error) {
	newConnState := r.tracker.FetchConnState(true, false)
	newEndpointState := r.tracker.FetchEndpointState(true, false)

	afterglowMicros := r.afterglow.Microseconds()

	delta := Delta{
		Connections: ComputeDelta(newConnState, r.oldConnState, nowMicros, r.oldNow, afterglowMicros),
		Endpoints:   ComputeDelta(newEndpointState, r.oldEndpointState, nowMicros, r.oldNow, afterglowMicros),
	}

	if !delta.Empty() {
		if err := r.sink.ShipDelta(ctx, delta); err != nil {
			return delta, err
		}
	}

	UpdateOldState(r.oldConnState, newConnState, nowMicros, afterglowMicros)
	UpdateOldState(r.oldEndpointState, newEndpointState, nowMicros, afterglowMicros)
	r.oldNow = nowMicros

	r.ticksSent.Inc()
	r.lastDeltaSize.Store(uint64(len(delta.Connections) + len(delta.Endpoints)))

	r.log.WithField("delta_size", len(delta.Connections)+len(delta.Endpoints)).Debug("reporting tick complete")
	return delta, nil
}

// TicksSent returns the number of completed Tick calls.
func (r *Reporter) TicksSent() uint64 {
	return r.ticksSent.Load()
}

// LastDeltaSize returns the combined connection+endpoint entry count from
// the most recently completed Tick.
func (r *Reporter) LastDeltaSize() uint64 {
	return r.lastDeltaSize.Load()
}

// Run ticks the reporter on a fixed interval, using the provided clock to
// obtain the current microsecond timestamp, until ctx is canceled. The
// ticking loop runs in an errgroup goroutine; Run returns the context's
// error on cancellation, or the first error a Tick returns.
func (r *Reporter) Run(ctx context.Context, interval time.Duration, nowMicros func() int64) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := r.Tick(ctx, nowMicros()); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}
