// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

// ComputeDelta compares newState against oldState — the previously shipped
// snapshot — with an afterglow tolerance, and returns the minimal set of
// (key, status) entries downstream must apply to move from oldState to
// newState. It is pure: neither argument is mutated. now/oldNow are the
// observation times newState/oldState were captured at.
//
// This is the afterglow-aware algorithm from spec.md §4.4, generic over the
// key type so it serves both ConnMap and ContainerEndpointMap.
func ComputeDelta[K comparable](newState, oldState map[K]ConnStatus, now, oldNow, afterglowMicros int64) map[K]ConnStatus {
	delta := make(map[K]ConnStatus)

	for k, vNew := range newState {
		vOld, existed := oldState[k]
		if !existed {
			// New observation: never seen before.
			delta[k] = vNew
			continue
		}

		oldRecentlyActive := recentlyActive(vOld, oldNow, afterglowMicros)
		newRecentlyActive := recentlyActive(vNew, now, afterglowMicros)

		switch {
		case newRecentlyActive != oldRecentlyActive:
			// Resurrected (old stale, new fresh) or newly closed (old
			// active-like, new stale).
			delta[k] = vNew
		case !newRecentlyActive:
			// Both stale-inactive: only surface a timestamp advance.
			if vNew.LastActiveTime() > vOld.LastActiveTime() {
				delta[k] = vNew
			}
		default:
			// Both recently-active: nothing changed worth reporting.
		}
	}

	for k, vOld := range oldState {
		if _, stillPresent := newState[k]; stillPresent {
			continue
		}
		if !vanishedPastAfterglow(vOld, now, afterglowMicros) {
			continue
		}
		// Disappeared from the snapshot and afterglow has elapsed: only now
		// do we tell downstream it closed. A vOld already inactive here was
		// either already reported closed on a prior tick, or never active
		// to begin with — nothing left to say about it.
		delta[k] = vOld.WithStatus(false)
	}

	return delta
}

// vanishedPastAfterglow reports whether a key present in oldState but absent
// from the latest snapshot has gone far enough past its last-active time
// that its disappearance should now be reported as a close. It must NOT use
// recentlyActive/inAfterglowPeriod directly: those treat vOld.IsActive() as
// an unconditional override, which is correct for a status that reflects a
// live observation but wrong here — an "active" vOld for a vanished key is
// stale belief, not current truth, and must be judged on elapsed time alone.
func vanishedPastAfterglow(vOld ConnStatus, now, afterglowMicros int64) bool {
	return vOld.IsActive() && now-vOld.LastActiveTime() >= afterglowMicros
}

// UpdateOldState folds newState into oldState in place (spec.md §4.4):
//
//  1. A key present in oldState but absent from newState that has just
//     crossed the afterglow threshold is demoted to inactive — the same
//     transition ComputeDelta reported in this tick's delta.
//  2. Entries already inactive for at least afterglowMicros are purged:
//     their close was reported on some earlier tick (by this function or by
//     ComputeDelta on the very same tick after being demoted in step 1), and
//     there is nothing further to ever say about them.
//  3. Every entry of newState is inserted or overwritten, becoming the
//     baseline the *next* tick's ComputeDelta compares against.
//
// An active vOld that has not yet crossed the afterglow threshold is left
// untouched: downstream still believes it is (recently) active, and nothing
// has been reported about it yet, so old_state must keep saying so.
func UpdateOldState[K comparable](oldState map[K]ConnStatus, newState map[K]ConnStatus, now, afterglowMicros int64) {
	for k, v := range oldState {
		if _, present := newState[k]; present {
			continue
		}
		if vanishedPastAfterglow(v, now, afterglowMicros) {
			oldState[k] = v.WithStatus(false)
		}
	}
	for k, v := range oldState {
		if !v.IsActive() && now-v.LastActiveTime() >= afterglowMicros {
			delete(oldState, k)
		}
	}
	for k, v := range newState {
		oldState[k] = v
	}
}
