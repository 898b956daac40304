// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

// activeFlag is the low bit of the packed ConnStatus word; the remaining 63
// bits (shifted left by one) hold the microsecond timestamp. Putting the
// timestamp in the more significant bits, with the active flag only as a
// tie-breaker, is what lets MergeFrom implement spec.md §8 invariant 1 —
// "merge keeps the later timestamp; ties prefer active" — with a single
// unsigned word comparison: two packed words compare exactly like the
// (timestamp, active) pairs they encode, in that priority order.
const activeFlag = uint64(1)

// maxTimestamp is the largest microsecond timestamp representable once one
// bit is reserved for the active flag.
const maxTimestamp = int64(1<<63 - 1)

func pack(tMicros int64, active bool) uint64 {
	data := uint64(tMicros) << 1
	if active {
		data |= activeFlag
	}
	return data
}

// ConnStatus is a bit-packed (timestamp, active) pair. The zero value is
// (t=0, active=false).
type ConnStatus struct {
	data uint64
}

// NewConnStatus packs a timestamp and active flag. tMicros must be
// non-negative and fit in 63 bits; callers that accept timestamps from
// outside the tracker should validate with ValidateTimestamp first so a bad
// value is rejected before any state is mutated.
func NewConnStatus(tMicros int64, active bool) ConnStatus {
	return ConnStatus{data: pack(tMicros, active)}
}

// ValidateTimestamp reports whether tMicros is usable as a ConnStatus
// timestamp: non-negative and representable in 63 bits.
func ValidateTimestamp(tMicros int64) error {
	if tMicros < 0 {
		return newTrackerError(KindInvalidArgument, "timestamp %d is negative", tMicros)
	}
	if tMicros > maxTimestamp {
		return newTrackerError(KindInvalidArgument, "timestamp %d exceeds 63-bit range", tMicros)
	}
	return nil
}

// LastActiveTime returns the microsecond timestamp of the most recent
// observation, regardless of current activity.
func (s ConnStatus) LastActiveTime() int64 {
	return int64(s.data >> 1)
}

// IsActive reports the active flag.
func (s ConnStatus) IsActive() bool {
	return s.data&activeFlag != 0
}

// SetActive flips the active flag in place, preserving the timestamp.
func (s *ConnStatus) SetActive(active bool) {
	s.data = pack(s.LastActiveTime(), active)
}

// MergeFrom keeps the word-wise maximum of the two packed words: whichever
// side carries the later timestamp wins outright, and an equal timestamp
// resolves to active. Merge is associative and idempotent.
func (s *ConnStatus) MergeFrom(other ConnStatus) {
	if other.data > s.data {
		s.data = other.data
	}
}

// Merge returns merge(a, b) without mutating either argument.
func Merge(a, b ConnStatus) ConnStatus {
	a.MergeFrom(b)
	return a
}

// WithStatus returns a copy with only the active flag replaced.
func (s ConnStatus) WithStatus(active bool) ConnStatus {
	return ConnStatus{data: pack(s.LastActiveTime(), active)}
}

// recentlyActive implements spec's recently_active(s, ref): s is active, or
// s went inactive less than afterglow ago relative to ref.
func recentlyActive(s ConnStatus, ref, afterglowMicros int64) bool {
	return s.IsActive() || ref-s.LastActiveTime() < afterglowMicros
}

// inAfterglowPeriod implements spec's in_afterglow(s, ref): s is inactive but
// still within the afterglow window relative to ref.
func inAfterglowPeriod(s ConnStatus, ref, afterglowMicros int64) bool {
	return !s.IsActive() && ref-s.LastActiveTime() < afterglowMicros
}

// RecentlyActive is the exported, two-argument form of recentlyActive kept
// around for callers (debug dumps, tests) that want the predicate without
// going through ComputeDelta.
func RecentlyActive(s ConnStatus, ref int64, afterglowMicros int64) bool {
	return recentlyActive(s, ref, afterglowMicros)
}

// InAfterglowPeriod is the exported form of inAfterglowPeriod.
func InAfterglowPeriod(s ConnStatus, ref int64, afterglowMicros int64) bool {
	return inAfterglowPeriod(s, ref, afterglowMicros)
}
