// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/DataDog/conntrack-engine/pkg/config"
	"github.com/DataDog/conntrack-engine/pkg/conntrack"
)

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Load configuration and print the tracker's starting introspection snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(*configPath)
		},
	}
}

func printStatus(configPath string) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tr := conntrack.NewTracker(log)
	if err := cfg.Apply(tr); err != nil {
		return err
	}

	s := tr.Stats()
	fmt.Printf("active connections:   %d\n", s.ActiveConnections)
	fmt.Printf("inactive connections: %d\n", s.InactiveConnections)
	fmt.Printf("active endpoints:     %d\n", s.ActiveEndpoints)
	fmt.Printf("inactive endpoints:   %d\n", s.InactiveEndpoints)
	fmt.Printf("known public IPs:     %d\n", s.KnownPublicIPs)
	fmt.Printf("known v4 networks:    %d\n", s.KnownNetworksV4)
	fmt.Printf("known v6 networks:    %d\n", s.KnownNetworksV6)
	fmt.Printf("ignored (proto,port): %d\n", s.IgnoredProtoPortPair)
	return nil
}
