// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package conntrack

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_AddThenRemoveConnection(t *testing.T) {
	tr := NewTracker(nil)
	conn := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 55555, 443)

	require.NoError(t, tr.AddConnection(conn, 100))
	snap := tr.FetchConnState(false, false)
	require.Contains(t, snap, conn)
	assert.True(t, snap[conn].IsActive())

	require.NoError(t, tr.RemoveConnection(conn, 200))
	snap = tr.FetchConnState(false, false)
	require.Contains(t, snap, conn)
	assert.False(t, snap[conn].IsActive())
	assert.Equal(t, int64(200), snap[conn].LastActiveTime())
}

func TestTracker_UpdateConnection_AddDominatesEqualTimeRemove(t *testing.T) {
	tr := NewTracker(nil)
	conn := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 55555, 443)

	require.NoError(t, tr.AddConnection(conn, 100))
	require.NoError(t, tr.RemoveConnection(conn, 100))

	snap := tr.FetchConnState(false, false)
	assert.True(t, snap[conn].IsActive())
}

func TestTracker_UpdateConnection_RejectsInvalidTimestamp(t *testing.T) {
	tr := NewTracker(nil)
	conn := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 55555, 443)

	err := tr.AddConnection(conn, -1)
	require.Error(t, err)

	var te *TrackerError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindInvalidArgument, te.Kind)

	assert.Empty(t, tr.FetchConnState(false, false))
}

func TestTracker_UpdateConnection_RejectsUnknownFamily(t *testing.T) {
	tr := NewTracker(nil)
	conn := Connection{
		Container: "c1",
		Local:     Endpoint{Network: IPNet{}, Port: 1},
		Remote:    EndpointFromAddr(mustAddr("10.0.0.1"), 2),
		L4Proto:   L4ProtoTCP,
		Role:      RoleClient,
	}
	err := tr.AddConnection(conn, 0)
	require.Error(t, err)
}

// TestTracker_Update_BatchDemoteThenRestore is spec.md §8 scenario S6: a
// batch Update demotes everything currently active to inactive at its own
// last-active time, then restores only what is still present to active at
// t, leaving absent connections inactive.
func TestTracker_Update_BatchDemoteThenRestore(t *testing.T) {
	tr := NewTracker(nil)
	stays := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 1, 443)
	vanishes := baseConn(RoleClient, "10.0.0.5", "203.0.113.10", 2, 443)

	require.NoError(t, tr.AddConnection(stays, 50))
	require.NoError(t, tr.AddConnection(vanishes, 60))

	require.NoError(t, tr.Update([]Connection{stays}, nil, 1000))

	snap := tr.FetchConnState(false, false)
	require.True(t, snap[stays].IsActive())
	assert.Equal(t, int64(1000), snap[stays].LastActiveTime())

	require.False(t, snap[vanishes].IsActive())
	assert.Equal(t, int64(60), snap[vanishes].LastActiveTime())
}

func TestTracker_Update_AllOrNothingValidation(t *testing.T) {
	tr := NewTracker(nil)
	good := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 1, 443)
	require.NoError(t, tr.AddConnection(good, 10))

	bad := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 1, 443)
	bad.Local = Endpoint{}

	err := tr.Update([]Connection{bad}, nil, 20)
	require.Error(t, err)

	// Nothing should have been demoted: state still shows `good` active at
	// its original timestamp since Update validated before mutating.
	snap := tr.FetchConnState(false, false)
	assert.True(t, snap[good].IsActive())
	assert.Equal(t, int64(10), snap[good].LastActiveTime())
}

func TestTracker_FetchConnState_ClearInactiveRemovesFromLiveState(t *testing.T) {
	tr := NewTracker(nil)
	conn := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 1, 443)
	require.NoError(t, tr.AddConnection(conn, 10))
	require.NoError(t, tr.RemoveConnection(conn, 20))

	snap := tr.FetchConnState(false, true)
	assert.NotContains(t, snap, conn, "inactive entry must be dropped from the returned snapshot")

	again := tr.FetchConnState(false, false)
	assert.NotContains(t, again, conn, "inactive entry must be purged from live state")
}

func TestTracker_FetchConnState_NormalizeMergesCollisions(t *testing.T) {
	tr := NewTracker(nil)
	a := baseConn(RoleServer, "10.0.0.5", "203.0.113.9", 8080, 1)
	b := baseConn(RoleServer, "10.0.0.6", "203.0.113.9", 8080, 1)

	require.NoError(t, tr.AddConnection(a, 10))
	require.NoError(t, tr.AddConnection(b, 20))

	snap := tr.FetchConnState(true, false)
	// Both collapse to the same normalized key: server role erases the
	// local address but keeps the port, and with no declared networks the
	// remote stays as an exact host.
	assert.Len(t, snap, 1)
	for _, status := range snap {
		assert.True(t, status.IsActive())
		assert.Equal(t, int64(20), status.LastActiveTime())
	}
}

func TestTracker_IgnoredProtoPortPair_DropsAtIngestAndFetch(t *testing.T) {
	tr := NewTracker(nil)
	conn := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 1, 53)
	conn.L4Proto = L4ProtoUDP

	tr.UpdateIgnoredL4ProtoPortPairs([]L4ProtoPortPair{{Proto: L4ProtoUDP, Port: 53}})

	require.NoError(t, tr.AddConnection(conn, 10))
	snap := tr.FetchConnState(false, false)
	assert.Empty(t, snap, "connection touching an ignored (proto, port) must never be stored")
}

func TestTracker_UpdateKnownIPNetworks_AtomicReject(t *testing.T) {
	tr := NewTracker(nil)
	require.NoError(t, tr.UpdateKnownIPNetworks(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("10.0.0.0"), PrefixLen: 8}},
	}))

	err := tr.UpdateKnownIPNetworks(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("::1"), PrefixLen: 8}},
	})
	require.Error(t, err)

	// The prior, valid table must still be in effect.
	conn := baseConn(RoleClient, "10.0.0.5", "10.2.3.4", 1, 443)
	require.NoError(t, tr.AddConnection(conn, 0))
	snap := tr.FetchConnState(true, false)
	require.Len(t, snap, 1)
	for c := range snap {
		assert.Equal(t, IPNet{Address: mustAddr("10.0.0.0"), PrefixLen: 8}, c.Remote.Network)
	}
}

func TestTracker_UpdateKnownPublicIPs_ReplacesSet(t *testing.T) {
	tr := NewTracker(nil)
	// A declared v4 network makes unmatched, non-public addresses fold into
	// the public sentinel instead of staying as exact hosts.
	require.NoError(t, tr.UpdateKnownIPNetworks(map[Family][]IPNet{
		FamilyV4: {{Address: mustAddr("10.0.0.0"), PrefixLen: 8}},
	}))
	ip := mustAddr("203.0.113.9")
	tr.UpdateKnownPublicIPs([]netip.Addr{ip})

	conn := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 1, 443)
	require.NoError(t, tr.AddConnection(conn, 0))

	snap := tr.FetchConnState(true, false)
	for c := range snap {
		assert.Equal(t, fullHostIPNet(ip), c.Remote.Network)
	}

	tr.UpdateKnownPublicIPs(nil)
	require.NoError(t, tr.RemoveConnection(conn, 1))
	require.NoError(t, tr.AddConnection(conn, 2))
	snap = tr.FetchConnState(true, false)
	for c := range snap {
		assert.NotEqual(t, fullHostIPNet(ip), c.Remote.Network)
	}
}

func TestTracker_Stats(t *testing.T) {
	tr := NewTracker(nil)
	active := baseConn(RoleClient, "10.0.0.5", "203.0.113.9", 1, 443)
	inactive := baseConn(RoleClient, "10.0.0.5", "203.0.113.10", 2, 443)

	require.NoError(t, tr.AddConnection(active, 0))
	require.NoError(t, tr.AddConnection(inactive, 0))
	require.NoError(t, tr.RemoveConnection(inactive, 1))

	tr.UpdateKnownPublicIPs([]netip.Addr{mustAddr("203.0.113.9")})
	tr.UpdateIgnoredL4ProtoPortPairs([]L4ProtoPortPair{{Proto: L4ProtoUDP, Port: 53}})

	s := tr.Stats()
	assert.Equal(t, 1, s.ActiveConnections)
	assert.Equal(t, 1, s.InactiveConnections)
	assert.Equal(t, 1, s.KnownPublicIPs)
	assert.Equal(t, 1, s.IgnoredProtoPortPair)
}
