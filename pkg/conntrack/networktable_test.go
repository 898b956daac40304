// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildNetworkTable_LookupHitAndMiss(t *testing.T) {
	tbl, err := buildNetworkTable(map[Family][]IPNet{
		FamilyV4: {
			{Address: mustAddr("10.0.0.0"), PrefixLen: 8},
			{Address: mustAddr("10.1.0.0"), PrefixLen: 16},
		},
	})
	require.NoError(t, err)

	// Longest prefix match: the /16 wins over the /8 for an address in both.
	n, ok := tbl.lookup(mustAddr("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, IPNet{Address: mustAddr("10.1.0.0"), PrefixLen: 16}, n)

	// Only the /8 covers this one.
	n, ok = tbl.lookup(mustAddr("10.2.2.3"))
	require.True(t, ok)
	assert.Equal(t, IPNet{Address: mustAddr("10.0.0.0"), PrefixLen: 8}, n)

	_, ok = tbl.lookup(mustAddr("192.168.1.1"))
	assert.False(t, ok)
}

func TestBuildNetworkTable_HasPrivateFlag(t *testing.T) {
	tbl, err := buildNetworkTable(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("10.0.0.0"), PrefixLen: 8}},
	})
	require.NoError(t, err)
	assert.True(t, tbl.hasPrivateFor(FamilyV4))
	assert.False(t, tbl.hasPrivateFor(FamilyV6))
}

func TestBuildNetworkTable_FullHostDoesNotSetHasPrivate(t *testing.T) {
	tbl, err := buildNetworkTable(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("203.0.113.9"), PrefixLen: 32}},
	})
	require.NoError(t, err)
	assert.False(t, tbl.hasPrivateFor(FamilyV4))
}

func TestBuildNetworkTable_RejectsFamilyMismatch(t *testing.T) {
	_, err := buildNetworkTable(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("::1"), PrefixLen: 64}},
	})
	require.Error(t, err)

	var te *TrackerError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindConfigRejected, te.Kind)
}

func TestBuildNetworkTable_RejectsOutOfRangePrefix(t *testing.T) {
	_, err := buildNetworkTable(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("10.0.0.0"), PrefixLen: 33}},
	})
	require.Error(t, err)

	var te *TrackerError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindConfigRejected, te.Kind)
}

func TestBuildNetworkTable_RejectsUnknownFamilyKey(t *testing.T) {
	_, err := buildNetworkTable(map[Family][]IPNet{
		FamilyUnknown: {{Address: mustAddr("10.0.0.0"), PrefixLen: 8}},
	})
	require.Error(t, err)
}

func TestBuildNetworkTable_V4AndV6Independent(t *testing.T) {
	tbl, err := buildNetworkTable(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("10.0.0.0"), PrefixLen: 8}},
		FamilyV6: {{Address: mustAddr("fd00::"), PrefixLen: 8}},
	})
	require.NoError(t, err)

	_, ok := tbl.lookup(mustAddr("fd00::1"))
	assert.True(t, ok)
	_, ok = tbl.lookup(mustAddr("10.1.1.1"))
	assert.True(t, ok)
	assert.True(t, tbl.hasPrivateFor(FamilyV4))
	assert.True(t, tbl.hasPrivateFor(FamilyV6))
}
