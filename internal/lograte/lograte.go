// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package lograte rate-limits repeated warning messages so a noisy failure
// mode (rejected config pushed on every tick, a flood of dropped
// allocations) logs a handful of times and then falls silent for a cooldown
// window, instead of drowning the log.
//
// This mirrors the teacher's conntracker.go exceededSizeLogLimit pattern
// ("will log first ten times, and then once every 10 minutes"), reimplemented
// on top of a real bounded cache instead of a bespoke counter map so the
// distinct-message memory itself can't grow without bound.
package lograte

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	count int
	last  time.Time
}

// Limiter tracks how many times each distinct message key has been seen and
// decides whether the next occurrence should actually be logged.
type Limiter struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, *entry]
	first  int
	window time.Duration
	now    func() time.Time
}

// New returns a Limiter that logs the first `first` occurrences of a given
// key unconditionally, then at most once per `window` after that. size
// bounds the number of distinct keys remembered at once.
func New(first int, window time.Duration, size int) *Limiter {
	cache, _ := lru.New[string, *entry](size)
	return &Limiter{cache: cache, first: first, window: window, now: time.Now}
}

// ShouldLog reports whether the caller should emit a log line for key right
// now, and records the occurrence either way.
func (l *Limiter) ShouldLog(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.cache.Get(key)
	if !ok {
		e = &entry{}
		l.cache.Add(key, e)
	}
	e.count++

	switch {
	case e.count <= l.first:
		e.last = now
		return true
	case now.Sub(e.last) >= l.window:
		e.last = now
		return true
	default:
		return false
	}
}
