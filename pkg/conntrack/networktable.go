// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// networkTable is the per-family radix-tree lookup structure spec.md §3
// treats as an external black box ("the radix-tree IP-network lookup
// structure ... supporting longest-prefix match"). It is backed by
// github.com/gaissmai/bart's Table, a real longest-prefix-match
// implementation over net/netip, rather than a hand-rolled trie.
type networkTable struct {
	v4, v6 bart.Table[struct{}]

	// hasPrivate caches, per family, whether at least one non-full-host
	// prefix has been declared — spec.md §3's known_private_networks_exists.
	hasPrivate [2]bool // indexed by Family-1 (FamilyV4=1, FamilyV6=2)
}

func newNetworkTable() *networkTable {
	return &networkTable{}
}

func (t *networkTable) tableFor(f Family) *bart.Table[struct{}] {
	if f == FamilyV4 {
		return &t.v4
	}
	return &t.v6
}

func (t *networkTable) hasPrivateFor(f Family) bool {
	switch f {
	case FamilyV4, FamilyV6:
		return t.hasPrivate[f-1]
	default:
		return false
	}
}

// buildNetworkTable builds a fresh table from networks, keyed by family. An
// IPNet whose Address family doesn't match the map key it was declared under,
// or whose prefix length is out of range, is rejected and no table is
// returned, so the caller can swap the result in whole or not at all.
func buildNetworkTable(networks map[Family][]IPNet) (*networkTable, error) {
	t := newNetworkTable()
	for family, nets := range networks {
		if family != FamilyV4 && family != FamilyV6 {
			return nil, newTrackerError(KindConfigRejected, "unknown address family %v", family)
		}
		tbl := t.tableFor(family)
		for _, n := range nets {
			declaredFamily := FamilyOf(n.Address)
			if declaredFamily != family {
				return nil, newTrackerError(KindConfigRejected,
					"IPNet %s declared under family %v has address family %v", n, family, declaredFamily)
			}
			if n.PrefixLen < 0 || n.PrefixLen > hostBits(family) {
				return nil, newTrackerError(KindConfigRejected,
					"IPNet %s has prefix length out of range for family %v", n, family)
			}
			pfx := n.ToPrefix()
			tbl.Insert(pfx, struct{}{})
			if n.PrefixLen < hostBits(family) {
				t.hasPrivate[family-1] = true
			}
		}
	}
	return t, nil
}

// lookup returns the longest-matching declared IPNet for addr, or !ok on a
// miss.
func (t *networkTable) lookup(addr netip.Addr) (IPNet, bool) {
	family := FamilyOf(addr)
	if family != FamilyV4 && family != FamilyV6 {
		return IPNet{}, false
	}
	tbl := t.tableFor(family)
	query := netip.PrefixFrom(addr, hostBits(family))
	lpmPfx, _, ok := tbl.LookupPrefixLPM(query)
	if !ok {
		return IPNet{}, false
	}
	return IPNetFromPrefix(lpmPfx), true
}
