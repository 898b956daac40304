// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config loads the demo conntrackerd daemon's YAML configuration and
// translates it into the inputs conntrack.Tracker's Update* methods expect.
// This is ambient, daemon-only plumbing — the tracking engine itself takes
// no dependency on this package or on YAML.
package config

import (
	"net/netip"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/DataDog/conntrack-engine/pkg/conntrack"
)

// Config is the on-disk shape of conntrackerd's configuration file.
type Config struct {
	ReportInterval  time.Duration     `yaml:"report_interval"`
	AfterglowPeriod time.Duration     `yaml:"afterglow_period"`
	KnownPublicIPs  []string          `yaml:"known_public_ips"`
	KnownNetworks   []NetworkEntry    `yaml:"known_networks"`
	IgnoredPorts    []IgnoredPortPair `yaml:"ignored_ports"`
}

// NetworkEntry is one declared network, in CIDR form. Its address family is
// taken from the parsed prefix itself.
type NetworkEntry struct {
	CIDR string `yaml:"cidr"`
}

// IgnoredPortPair is one (proto, port) pair to drop at ingest.
type IgnoredPortPair struct {
	Proto string `yaml:"proto"`
	Port  uint16 `yaml:"port"`
}

// Default returns the configuration conntrackerd runs with when no file is
// given: a 10s report interval and the tracker's default afterglow.
func Default() Config {
	return Config{
		ReportInterval:  10 * time.Second,
		AfterglowPeriod: conntrack.DefaultAfterglowPeriod,
	}
}

// Load reads and parses the YAML configuration at path. A missing file is
// not an error — it returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %s", path)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config file %s", path)
	}
	if cfg.ReportInterval <= 0 {
		return Config{}, errors.Errorf("config %s: report_interval must be positive", path)
	}
	return cfg, nil
}

// PublicIPs parses KnownPublicIPs into netip.Addr, returning an error (and
// no addresses) on the first unparseable entry.
func (c Config) PublicIPs() ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(c.KnownPublicIPs))
	for _, s := range c.KnownPublicIPs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, errors.Wrapf(err, "known_public_ips entry %q", s)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Networks parses KnownNetworks into the per-family map UpdateKnownIPNetworks
// expects, keyed by each prefix's own address family.
func (c Config) Networks() (map[conntrack.Family][]conntrack.IPNet, error) {
	out := map[conntrack.Family][]conntrack.IPNet{
		conntrack.FamilyV4: nil,
		conntrack.FamilyV6: nil,
	}
	for _, entry := range c.KnownNetworks {
		prefix, err := netip.ParsePrefix(entry.CIDR)
		if err != nil {
			return nil, errors.Wrapf(err, "known_networks entry %q", entry.CIDR)
		}
		n := conntrack.IPNetFromPrefix(prefix)
		family := conntrack.FamilyOf(prefix.Addr())
		out[family] = append(out[family], n)
	}
	return out, nil
}

// IgnoredPairs parses IgnoredPorts into L4ProtoPortPair, rejecting any
// unrecognized protocol name.
func (c Config) IgnoredPairs() ([]conntrack.L4ProtoPortPair, error) {
	out := make([]conntrack.L4ProtoPortPair, 0, len(c.IgnoredPorts))
	for _, p := range c.IgnoredPorts {
		proto, err := parseProto(p.Proto)
		if err != nil {
			return nil, err
		}
		out = append(out, conntrack.L4ProtoPortPair{Proto: proto, Port: p.Port})
	}
	return out, nil
}

func parseProto(s string) (conntrack.L4Proto, error) {
	switch s {
	case "tcp":
		return conntrack.L4ProtoTCP, nil
	case "udp":
		return conntrack.L4ProtoUDP, nil
	case "icmp":
		return conntrack.L4ProtoICMP, nil
	default:
		return conntrack.L4ProtoUnknown, errors.Errorf("unknown protocol %q", s)
	}
}

// Apply pushes every configured input into tr. It is all-or-nothing only at
// the granularity UpdateKnownIPNetworks already provides — the public-IP and
// ignore-list replacements cannot themselves fail.
func (c Config) Apply(tr *conntrack.Tracker) error {
	ips, err := c.PublicIPs()
	if err != nil {
		return err
	}
	tr.UpdateKnownPublicIPs(ips)

	networks, err := c.Networks()
	if err != nil {
		return err
	}
	if err := tr.UpdateKnownIPNetworks(networks); err != nil {
		return errors.Wrap(err, "applying known_networks")
	}

	pairs, err := c.IgnoredPairs()
	if err != nil {
		return err
	}
	tr.UpdateIgnoredL4ProtoPortPairs(pairs)
	return nil
}
