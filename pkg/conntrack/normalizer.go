// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import "net/netip"

// normalizeConfig is the configuration snapshot the Normalizer is a pure
// function of: the set of addresses that must be reported verbatim, and the
// radix tree of declared networks. Both are read-only once handed to
// normalizeConnection/normalizeAddress — the tracker holds the lock while
// normalization runs, per spec.md §4.2.
type normalizeConfig struct {
	knownPublicIPs map[netip.Addr]struct{}
	networks       *networkTable
}

func emptyNormalizeConfig() *normalizeConfig {
	return &normalizeConfig{
		knownPublicIPs: make(map[netip.Addr]struct{}),
		networks:       newNetworkTable(),
	}
}

// normalizeConnection rewrites a raw Connection into the form downstream
// will actually see (spec.md §4.2, rules 1–2):
//
//  1. Role collapse: a server connection's local side keeps only its port
//     (address erased); a client connection's local side is erased entirely
//     (address and port both zeroed) — the ephemeral local port is noise.
//  2. Address coarsening: the remote address is widened to its longest
//     matching known network, a known-public full-host network, the
//     per-family public sentinel, or left as an exact host address.
//
// normalizeConnection is deterministic and idempotent for a fixed cfg.
func normalizeConnection(cfg *normalizeConfig, conn Connection) Connection {
	out := conn

	localFamily := FamilyOf(conn.Local.Address())
	switch conn.Role {
	case RoleServer:
		out.Local = zeroEndpoint(localFamily, conn.Local.Port)
	case RoleClient:
		out.Local = zeroEndpoint(localFamily, 0)
	}

	out.Remote = Endpoint{
		Network: normalizeAddress(cfg, conn.Remote.Address()),
		Port:    conn.Remote.Port,
	}
	return out
}

// normalizeAddress implements spec.md §4.2 rule 2 for a single remote
// address: radix hit wins, then known-public-IP, then the per-family public
// sentinel if any private network has been declared, otherwise the address
// is left exactly as observed.
func normalizeAddress(cfg *normalizeConfig, addr netip.Addr) IPNet {
	family := FamilyOf(addr)

	if n, ok := cfg.networks.lookup(addr); ok {
		return n
	}
	if _, ok := cfg.knownPublicIPs[addr]; ok {
		return fullHostIPNet(addr)
	}
	if cfg.networks.hasPrivateFor(family) {
		return publicSentinelIPNet(family)
	}
	// No reference for "private" exists for this family: without a basis to
	// declare the address external, leave it as a host address.
	return fullHostIPNet(addr)
}

// normalizeContainerEndpoint implements spec.md §4.2 rule 3: zero the bound
// address, keep (family, port, proto, container). It has no configuration
// dependency, so it is not gated behind normalizeConfig.
func normalizeContainerEndpoint(cep ContainerEndpoint) ContainerEndpoint {
	family := FamilyOf(cep.Endpoint.Address())
	return ContainerEndpoint{
		Container: cep.Container,
		Endpoint:  zeroEndpoint(family, cep.Endpoint.Port),
		L4Proto:   cep.L4Proto,
	}
}
