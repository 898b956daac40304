// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/DataDog/conntrack-engine/pkg/config"
	"github.com/DataDog/conntrack-engine/pkg/conntrack"
)

func runCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tracker and reporter until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(*configPath, *verbose)
		},
	}
}

func runDaemon(configPath string, verbose bool) error {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := log.WithField("component", "conntrackerd")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tr := conntrack.NewTracker(entry)
	if err := cfg.Apply(tr); err != nil {
		return err
	}

	sink := conntrack.NewLogSink(entry)
	reporter := conntrack.NewReporter(tr, cfg.AfterglowPeriod, sink, entry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entry.WithFields(logrus.Fields{
		"report_interval":  cfg.ReportInterval,
		"afterglow_period": cfg.AfterglowPeriod,
	}).Info("starting conntrackerd")

	err = reporter.Run(ctx, cfg.ReportInterval, func() int64 {
		return time.Now().UnixMicro()
	})
	if err != nil && ctx.Err() != nil {
		// Canceled by signal: a clean shutdown, not a failure.
		return nil
	}
	return err
}
