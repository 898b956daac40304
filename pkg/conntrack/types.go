// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import (
	"fmt"
	"net/netip"
)

// Family is the address family of an Address or IPNet.
type Family uint8

// Recognized address families. FamilyUnknown never appears on a constructed
// Address; it only shows up as a zero value before validation.
const (
	FamilyUnknown Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return "unknown"
	}
}

// FamilyOf returns the family of addr, or FamilyUnknown for the zero/invalid
// netip.Addr.
func FamilyOf(addr netip.Addr) Family {
	switch {
	case !addr.IsValid():
		return FamilyUnknown
	case addr.Is4() || addr.Is4In6():
		return FamilyV4
	default:
		return FamilyV6
	}
}

// zeroAddress returns the family's unspecified address (0.0.0.0 or ::),
// used to erase a local endpoint's identity during normalization.
func zeroAddress(f Family) netip.Addr {
	if f == FamilyV4 {
		return netip.IPv4Unspecified()
	}
	return netip.IPv6Unspecified()
}

// zeroEndpoint builds the exact-host endpoint at the family's unspecified
// address and the given port — the shape rule 1 (role collapse) erases a
// local side down to.
func zeroEndpoint(f Family, port uint16) Endpoint {
	return EndpointFromAddr(zeroAddress(f), port)
}

// hostBits is the address width in bits for the family: the "full-host
// prefix" length used when coarsening a known-public address.
func hostBits(f Family) int {
	if f == FamilyV4 {
		return 32
	}
	return 128
}

// IPNet is an (Address, prefix-length) pair: a declared or derived network.
// The Address is expected to already be the network base once IPNet is used
// as a normalized key (see normalizeAddress); ToPrefix/IPNetFromPrefix translate to
// and from the bart/netip prefix representation at the radix-tree boundary.
type IPNet struct {
	Address   netip.Addr
	PrefixLen int
}

// Endpoint is an (Address, port) pair, per spec.md §3. A freshly observed
// endpoint always carries an exact address — Network.PrefixLen equal to the
// family's full host width — so Endpoint behaves exactly like (Address,
// port) until normalization widens Network into a coarser, declared network.
// This is the one place this repo goes beyond spec.md's literal data model:
// representing the remote side's network identity requires a prefix length,
// and reusing IPNet here (rather than inventing a third address shape) keeps
// "exact host" and "coarsened network" representable with the same type. See
// DESIGN.md for the rationale.
type Endpoint struct {
	Network IPNet
	Port    uint16
}

// EndpointFromAddr builds an exact-host Endpoint, the shape every endpoint
// has before normalization.
func EndpointFromAddr(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{Network: IPNet{Address: addr, PrefixLen: hostBits(FamilyOf(addr))}, Port: port}
}

// Address returns the endpoint's address (the network's base address for a
// normalized/coarsened endpoint, the exact address otherwise).
func (e Endpoint) Address() netip.Addr {
	return e.Network.Address
}

func (e Endpoint) String() string {
	if e.Network.PrefixLen == hostBits(FamilyOf(e.Network.Address)) {
		return fmt.Sprintf("%s:%d", e.Network.Address, e.Port)
	}
	return fmt.Sprintf("%s:%d", e.Network, e.Port)
}

func (n IPNet) String() string {
	return fmt.Sprintf("%s/%d", n.Address, n.PrefixLen)
}

// ToPrefix converts to a netip.Prefix, masking the address to its network
// base the way the radix tree and spec's "network base" language expect.
func (n IPNet) ToPrefix() netip.Prefix {
	return netip.PrefixFrom(n.Address, n.PrefixLen).Masked()
}

// IPNetFromPrefix builds an IPNet from a (possibly unmasked) netip.Prefix.
func IPNetFromPrefix(p netip.Prefix) IPNet {
	m := p.Masked()
	return IPNet{Address: m.Addr(), PrefixLen: m.Bits()}
}

// fullHostIPNet is the "/32" or "/128" network consisting of exactly addr,
// used when a remote address is a known public IP that must be reported
// verbatim instead of folded into a coarser network.
func fullHostIPNet(addr netip.Addr) IPNet {
	return IPNet{Address: addr, PrefixLen: hostBits(FamilyOf(addr))}
}

// publicSentinelIPNet is the canonical "any unclassified external peer"
// network for a family: the family's all-zero address at prefix length 0.
func publicSentinelIPNet(f Family) IPNet {
	return IPNet{Address: zeroAddress(f), PrefixLen: 0}
}

// Role distinguishes which side of a connection the local container plays.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleClient
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// L4Proto is the L4 transport protocol of a connection or listener.
type L4Proto uint8

const (
	L4ProtoUnknown L4Proto = iota
	L4ProtoTCP
	L4ProtoUDP
	L4ProtoICMP
)

func (p L4Proto) String() string {
	switch p {
	case L4ProtoTCP:
		return "tcp"
	case L4ProtoUDP:
		return "udp"
	case L4ProtoICMP:
		return "icmp"
	default:
		return "unknown"
	}
}

// L4ProtoPortPair identifies a protocol/port combination, used to express
// ignore filters (e.g. (UDP, 53) to drop DNS).
type L4ProtoPortPair struct {
	Proto L4Proto
	Port  uint16
}

// Connection is the opaque, immutable key this engine tracks: a container's
// observed L4 connection to a remote peer. Equality and hashing (as a Go map
// key) are structural over all fields.
type Connection struct {
	Container string
	Local     Endpoint
	Remote    Endpoint
	L4Proto   L4Proto
	Role      Role
}

func (c Connection) String() string {
	return fmt.Sprintf("%s[%s %s->%s/%s]", c.Container, c.Role, c.Local, c.Remote, c.L4Proto)
}

// ContainerEndpoint represents a listener: a container-id plus the endpoint
// it is bound to, plus the L4 protocol it listens on.
type ContainerEndpoint struct {
	Container string
	Endpoint  Endpoint
	L4Proto   L4Proto
}

func (c ContainerEndpoint) String() string {
	return fmt.Sprintf("%s[listen %s/%s]", c.Container, c.Endpoint, c.L4Proto)
}

// ConnMap and ContainerEndpointMap are the two state-store map shapes used
// throughout the tracker, delta engine, and fetch/snapshot APIs.
type ConnMap map[Connection]ConnStatus
type ContainerEndpointMap map[ContainerEndpoint]ConnStatus

// Clone returns a shallow copy of m; ConnStatus is a value type so this is a
// full, independent copy.
func (m ConnMap) Clone() ConnMap {
	out := make(ConnMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of m.
func (m ContainerEndpointMap) Clone() ContainerEndpointMap {
	out := make(ContainerEndpointMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
