// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink is a Sink that logs each delta entry at debug level. It exists so
// conntrackerd has something to report to out of the box; a real deployment
// would supply a Sink that ships to an actual backend instead.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink builds a LogSink. A nil logger falls back to logrus's standard
// logger.
func NewLogSink(log *logrus.Entry) *LogSink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogSink{log: log.WithField("component", "conntrack-logsink")}
}

// ShipDelta never errors; logging a delta cannot fail in a way worth
// propagating to the reporter's tick loop.
func (s *LogSink) ShipDelta(_ context.Context, delta Delta) error {
	for conn, status := range delta.Connections {
		s.log.WithFields(logrus.Fields{
			"connection":     conn.String(),
			"active":         status.IsActive(),
			"last_active_us": status.LastActiveTime(),
		}).Debug("connection delta")
	}
	for ep, status := range delta.Endpoints {
		s.log.WithFields(logrus.Fields{
			"endpoint":       ep.String(),
			"active":         status.IsActive(),
			"last_active_us": status.LastActiveTime(),
		}).Debug("endpoint delta")
	}
	return nil
}
