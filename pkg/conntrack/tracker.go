// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package conntrack is the connection-tracking core of a host-level network
// observability agent: it ingests bursts of observed L4 connections and
// listening endpoints, deduplicates and normalizes them, maintains a live
// view with activity state, and (via ComputeDelta/UpdateOldState) supports
// emitting periodic, afterglow-aware deltas to a downstream reporter.
package conntrack

import (
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DataDog/conntrack-engine/internal/lograte"
)

// DefaultAfterglowPeriod is the default tolerance window (spec.md §4.4,
// §6): a connection that has gone inactive within this long ago is still
// treated as active for delta purposes.
const DefaultAfterglowPeriod = 20 * time.Second

// Tracker is the connection-tracking core described by spec.md §4.3–§4.5. A
// single mutex serializes all access to all tracker-owned state: the two
// state maps, the known-IP set, the radix tree, and the ignore filter.
// Every public method acquires the lock at entry and releases at return; no
// public operation blocks while holding it.
type Tracker struct {
	mu sync.Mutex

	connState     ConnMap
	endpointState ContainerEndpointMap

	knownPublicIPs map[netip.Addr]struct{}
	networks       *networkTable
	ignored        map[L4ProtoPortPair]struct{}

	log         *logrus.Entry
	warnLimiter *lograte.Limiter
}

// NewTracker constructs an empty Tracker. A nil logger falls back to a
// discard logger, matching the teacher convention of a required-but-safe
// logging dependency.
func NewTracker(log *logrus.Entry) *Tracker {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(discardWriter{})
		log = logrus.NewEntry(discard)
	}
	return &Tracker{
		connState:      make(ConnMap),
		endpointState:  make(ContainerEndpointMap),
		knownPublicIPs: make(map[netip.Addr]struct{}),
		networks:       newNetworkTable(),
		ignored:        make(map[L4ProtoPortPair]struct{}),
		log:            log.WithField("component", "conntracker"),
		warnLimiter:    lograte.New(10, 10*time.Minute, 256),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// AddConnection is UpdateConnection(conn, t, true).
func (t *Tracker) AddConnection(conn Connection, tMicros int64) error {
	return t.UpdateConnection(conn, tMicros, true)
}

// RemoveConnection is UpdateConnection(conn, t, false).
func (t *Tracker) RemoveConnection(conn Connection, tMicros int64) error {
	return t.UpdateConnection(conn, tMicros, false)
}

// UpdateConnection computes ConnStatus(t, added) and merges it into the
// stored status for conn, inserting if absent (spec.md §4.3). Because merge
// prefers "active at equal-or-later time", an add dominates a
// later-arriving remove at the same timestamp, and re-adds promote the
// connection back to active.
func (t *Tracker) UpdateConnection(conn Connection, tMicros int64, added bool) error {
	if err := ValidateTimestamp(tMicros); err != nil {
		return err
	}
	if err := validateConnection(conn); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isIgnoredConnection(conn) {
		return nil
	}
	t.emplaceOrUpdateConnNoLock(conn, NewConnStatus(tMicros, added))
	return nil
}

// Update is the batch ingest path (spec.md §4.3): every currently-active
// connection is first demoted to inactive at its own last-active time, then
// every element of allConns is merged in as active at t — so connections
// still present are restored to active, while those absent stay inactive.
// Symmetric for endpoints. The whole call validates before mutating
// anything: either every element is well-formed and applied, or none are.
func (t *Tracker) Update(allConns []Connection, allEndpoints []ContainerEndpoint, tMicros int64) error {
	if err := ValidateTimestamp(tMicros); err != nil {
		return err
	}
	for _, c := range allConns {
		if err := validateConnection(c); err != nil {
			return err
		}
	}
	for _, e := range allEndpoints {
		if err := validateContainerEndpoint(e); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, v := range t.connState {
		if v.IsActive() {
			t.connState[k] = v.WithStatus(false)
		}
	}
	for k, v := range t.endpointState {
		if v.IsActive() {
			t.endpointState[k] = v.WithStatus(false)
		}
	}

	for _, c := range allConns {
		if t.isIgnoredConnection(c) {
			continue
		}
		t.emplaceOrUpdateConnNoLock(c, NewConnStatus(tMicros, true))
	}
	for _, e := range allEndpoints {
		if t.isIgnoredEndpoint(e) {
			continue
		}
		t.emplaceOrUpdateEndpointNoLock(e, NewConnStatus(tMicros, true))
	}
	return nil
}

func (t *Tracker) emplaceOrUpdateConnNoLock(conn Connection, status ConnStatus) {
	if existing, ok := t.connState[conn]; ok {
		existing.MergeFrom(status)
		t.connState[conn] = existing
		return
	}
	t.connState[conn] = status
}

func (t *Tracker) emplaceOrUpdateEndpointNoLock(ep ContainerEndpoint, status ConnStatus) {
	if existing, ok := t.endpointState[ep]; ok {
		existing.MergeFrom(status)
		t.endpointState[ep] = existing
		return
	}
	t.endpointState[ep] = status
}

// FetchConnState atomically produces a normalized (if requested) copy of
// conn_state. If clearInactive, inactive entries are removed both from the
// returned snapshot and from the tracker's own state (spec.md §4.3).
func (t *Tracker) FetchConnState(normalize, clearInactive bool) ConnMap {
	t.mu.Lock()
	defer t.mu.Unlock()

	if clearInactive {
		for k, v := range t.connState {
			if !v.IsActive() {
				delete(t.connState, k)
			}
		}
	}

	if !normalize {
		return t.connState.Clone()
	}

	cfg := t.normalizeConfigNoLock()
	out := make(ConnMap, len(t.connState))
	for k, v := range t.connState {
		if !t.shouldFetchConnectionNoLock(k) {
			continue
		}
		nk := normalizeConnection(cfg, k)
		if existing, ok := out[nk]; ok {
			existing.MergeFrom(v)
			out[nk] = existing
		} else {
			out[nk] = v
		}
	}
	return out
}

// FetchEndpointState is the endpoint-state analogue of FetchConnState.
func (t *Tracker) FetchEndpointState(normalize, clearInactive bool) ContainerEndpointMap {
	t.mu.Lock()
	defer t.mu.Unlock()

	if clearInactive {
		for k, v := range t.endpointState {
			if !v.IsActive() {
				delete(t.endpointState, k)
			}
		}
	}

	if !normalize {
		return t.endpointState.Clone()
	}

	out := make(ContainerEndpointMap, len(t.endpointState))
	for k, v := range t.endpointState {
		if !t.shouldFetchEndpointNoLock(k) {
			continue
		}
		nk := normalizeContainerEndpoint(k)
		if existing, ok := out[nk]; ok {
			existing.MergeFrom(v)
			out[nk] = existing
		} else {
			out[nk] = v
		}
	}
	return out
}

func (t *Tracker) normalizeConfigNoLock() *normalizeConfig {
	return &normalizeConfig{
		knownPublicIPs: t.knownPublicIPs,
		networks:       t.networks,
	}
}

func (t *Tracker) isIgnoredL4ProtoPortPair(p L4ProtoPortPair) bool {
	_, ok := t.ignored[p]
	return ok
}

func (t *Tracker) isIgnoredConnection(conn Connection) bool {
	return t.isIgnoredL4ProtoPortPair(L4ProtoPortPair{Proto: conn.L4Proto, Port: conn.Local.Port}) ||
		t.isIgnoredL4ProtoPortPair(L4ProtoPortPair{Proto: conn.L4Proto, Port: conn.Remote.Port})
}

func (t *Tracker) isIgnoredEndpoint(ep ContainerEndpoint) bool {
	return t.isIgnoredL4ProtoPortPair(L4ProtoPortPair{Proto: ep.L4Proto, Port: ep.Endpoint.Port})
}

func (t *Tracker) shouldFetchConnectionNoLock(conn Connection) bool {
	return !t.isIgnoredConnection(conn)
}

func (t *Tracker) shouldFetchEndpointNoLock(ep ContainerEndpoint) bool {
	return !t.isIgnoredEndpoint(ep)
}

// UpdateKnownPublicIPs atomically replaces the set of addresses that must be
// reported verbatim (as a full-host network) rather than coarsened into the
// public sentinel.
func (t *Tracker) UpdateKnownPublicIPs(ips []netip.Addr) {
	set := make(map[netip.Addr]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.knownPublicIPs = set
}

// UpdateKnownIPNetworks atomically rebuilds the per-family radix tree of
// declared networks and recomputes known_private_networks_exists for each
// family. The replacement is all-or-nothing: a malformed network (family
// mismatch, out-of-range prefix) leaves the tracker's existing tree
// untouched and returns an error.
func (t *Tracker) UpdateKnownIPNetworks(networks map[Family][]IPNet) error {
	built, err := buildNetworkTable(networks)
	if err != nil {
		if t.warnLimiter.ShouldLog("known_ip_networks_rejected") {
			t.log.WithError(err).Warn("rejected known IP networks update")
		}
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.networks = built
	return nil
}

// UpdateIgnoredL4ProtoPortPairs atomically replaces the set of (proto, port)
// pairs dropped at ingest.
func (t *Tracker) UpdateIgnoredL4ProtoPortPairs(pairs []L4ProtoPortPair) {
	set := make(map[L4ProtoPortPair]struct{}, len(pairs))
	for _, p := range pairs {
		set[p] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignored = set
}

// Stats is a point-in-time introspection snapshot, the Go analogue of the
// original collector's forward-declared CollectorStats seam (see
// SPEC_FULL.md §12). It is cheap, lock-protected, and does no I/O.
type Stats struct {
	ActiveConnections    int
	InactiveConnections  int
	ActiveEndpoints      int
	InactiveEndpoints    int
	KnownPublicIPs       int
	KnownNetworksV4      int
	KnownNetworksV6      int
	IgnoredProtoPortPair int
}

// Stats returns a snapshot of the tracker's current sizes for debugging and
// status reporting. It never mutates state.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, v := range t.connState {
		if v.IsActive() {
			s.ActiveConnections++
		} else {
			s.InactiveConnections++
		}
	}
	for _, v := range t.endpointState {
		if v.IsActive() {
			s.ActiveEndpoints++
		} else {
			s.InactiveEndpoints++
		}
	}
	s.KnownPublicIPs = len(t.knownPublicIPs)
	s.KnownNetworksV4 = t.networks.v4.Size()
	s.KnownNetworksV6 = t.networks.v6.Size()
	s.IgnoredProtoPortPair = len(t.ignored)
	return s
}

func validateConnection(conn Connection) error {
	if err := validateAddress(conn.Local.Address()); err != nil {
		return err
	}
	if err := validateAddress(conn.Remote.Address()); err != nil {
		return err
	}
	return nil
}

func validateContainerEndpoint(ep ContainerEndpoint) error {
	return validateAddress(ep.Endpoint.Address())
}

func validateAddress(addr netip.Addr) error {
	if FamilyOf(addr) == FamilyUnknown {
		return newTrackerError(KindInvalidArgument, "address %s has unknown family", addr)
	}
	return nil
}
