package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReplIDIsFortyHexChars(t *testing.T) {
	id := GenerateReplID()
	assert.Len(t, id, 40)
	for _, c := range id {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'), "unexpected char %q", c)
	}
}

func TestNewRegistrySeedsSelfEntry(t *testing.T) {
	r := NewRegistry(RoleMaster, "abc123")
	entry, ok := r.Get(SelfID)
	require.True(t, ok)
	assert.Equal(t, RoleMaster, entry.Role)
	assert.Equal(t, "abc123", entry.ReplID)
	assert.EqualValues(t, 0, entry.MasterOffset)
}

func TestUpsertGetRemove(t *testing.T) {
	r := NewRegistry(RoleMaster, "abc123")
	peer := ReplicaID("127.0.0.1:6380")

	_, ok := r.Get(peer)
	assert.False(t, ok)

	r.Upsert(peer, Entry{Role: RoleSlave, MasterOffset: 0})
	entry, ok := r.Get(peer)
	require.True(t, ok)
	assert.Equal(t, RoleSlave, entry.Role)

	r.Remove(peer)
	_, ok = r.Get(peer)
	assert.False(t, ok)
}

func TestAddSelfOffsetAccumulates(t *testing.T) {
	r := NewRegistry(RoleMaster, "abc123")
	got := r.AddSelfOffset(10)
	assert.EqualValues(t, 10, got)
	got = r.AddSelfOffset(5)
	assert.EqualValues(t, 15, got)
	assert.EqualValues(t, 15, r.SelfOffset())
}

func TestSyncedCountOnlyCountsReplicasMatchingSelfOffset(t *testing.T) {
	r := NewRegistry(RoleMaster, "abc123")
	r.SetSelfOffset(100)

	synced := ReplicaID("127.0.0.1:6380")
	lagging := ReplicaID("127.0.0.1:6381")
	r.Upsert(synced, Entry{Role: RoleSlave, MasterOffset: 100})
	r.Upsert(lagging, Entry{Role: RoleSlave, MasterOffset: 50})

	assert.Equal(t, 1, r.SyncedCount())
	assert.Equal(t, 2, r.ReplicaCount())
}

func TestResetReplicaOffsetsSetsNotAckedButLeavesSelfAlone(t *testing.T) {
	r := NewRegistry(RoleMaster, "abc123")
	r.SetSelfOffset(100)
	peer := ReplicaID("127.0.0.1:6380")
	r.Upsert(peer, Entry{Role: RoleSlave, MasterOffset: 100})

	r.ResetReplicaOffsets()

	entry, _ := r.Get(peer)
	assert.Equal(t, NotAcked, entry.MasterOffset)
	assert.EqualValues(t, 100, r.SelfOffset())
}

func TestReplicasListsAddrAndOffset(t *testing.T) {
	r := NewRegistry(RoleMaster, "abc123")
	r.Upsert(ReplicaID("127.0.0.1:6380"), Entry{Role: RoleSlave, MasterOffset: 30})

	peers := r.Replicas()
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1:6380", peers[0].Addr)
	assert.EqualValues(t, 30, peers[0].MasterOffset)
}

func TestUpdateReplicaOffsetIgnoresUnknownPeer(t *testing.T) {
	r := NewRegistry(RoleMaster, "abc123")
	r.UpdateReplicaOffset(ReplicaID("127.0.0.1:9999"), 42)
	_, ok := r.Get(ReplicaID("127.0.0.1:9999"))
	assert.False(t, ok)
}
