package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecrafters-redis-go/internal/broadcast"
	"github.com/codecrafters-redis-go/internal/clock"
	"github.com/codecrafters-redis-go/internal/commands"
	"github.com/codecrafters-redis-go/internal/config"
	"github.com/codecrafters-redis-go/internal/keyspace"
	"github.com/codecrafters-redis-go/internal/replication"
	"github.com/codecrafters-redis-go/internal/resp"
)

func newDeps() *Deps {
	now := clock.Wall()
	return &Deps{
		Keyspace:  keyspace.New(),
		Config:    config.New(),
		Registry:  replication.NewRegistry(replication.RoleMaster, replication.GenerateReplID()),
		Broadcast: broadcast.NewHub(0),
		Clock:     now,
	}
}

func process(t *testing.T, deps *Deps, v resp.Value, origin Origin) Result {
	t.Helper()
	cmd, err := commands.Parse(v, deps.Clock)
	require.NoError(t, err)
	result, err := Process(deps, v, cmd, origin, "127.0.0.1")
	require.NoError(t, err)
	return result
}

func TestPingReplies(t *testing.T) {
	deps := newDeps()
	result := process(t, deps, resp.ArrayOfStrings("PING"), Origin{Kind: OriginClient})
	require.Len(t, result.Replies, 1)
	assert.Equal(t, []byte("+PONG\r\n"), resp.Encode(result.Replies[0]))
}

func TestSetThenGet(t *testing.T) {
	deps := newDeps()
	setResult := process(t, deps, resp.ArrayOfStrings("SET", "hello", "world"), Origin{Kind: OriginClient})
	require.Len(t, setResult.Replies, 1)
	assert.Equal(t, []byte("+OK\r\n"), resp.Encode(setResult.Replies[0]))

	getResult := process(t, deps, resp.ArrayOfStrings("GET", "hello"), Origin{Kind: OriginClient})
	require.Len(t, getResult.Replies, 1)
	assert.Equal(t, []byte("$5\r\nworld\r\n"), resp.Encode(getResult.Replies[0]))
}

func TestClientOriginSetFansOutOriginalFrame(t *testing.T) {
	deps := newDeps()
	_, ch := deps.Broadcast.Subscribe()

	frame := resp.ArrayOfStrings("SET", "k", "v")
	process(t, deps, frame, Origin{Kind: OriginClient})

	select {
	case got := <-ch:
		assert.Equal(t, resp.Encode(frame), got)
	default:
		t.Fatal("expected a fanned-out frame on the broadcast channel")
	}
}

func TestMasterOriginSetDoesNotFanOut(t *testing.T) {
	deps := newDeps()
	_, ch := deps.Broadcast.Subscribe()

	process(t, deps, resp.ArrayOfStrings("SET", "k", "v"), Origin{Kind: OriginMaster})

	select {
	case <-ch:
		t.Fatal("a master-origin write must never fan out")
	default:
	}
}

func TestWaitWithNoFollowersReturnsImmediately(t *testing.T) {
	deps := newDeps()
	start := time.Now()
	result := process(t, deps, resp.ArrayOfStrings("WAIT", "1", "500"), Origin{Kind: OriginClient})
	elapsed := time.Since(start)

	require.Len(t, result.Replies, 1)
	assert.Equal(t, []byte(":0\r\n"), resp.Encode(result.Replies[0]))
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestWaitZeroReplicasReturnsCurrentCountImmediately(t *testing.T) {
	deps := newDeps()
	result := process(t, deps, resp.ArrayOfStrings("WAIT", "0", "500"), Origin{Kind: OriginClient})
	require.Len(t, result.Replies, 1)
	assert.Equal(t, []byte(":0\r\n"), resp.Encode(result.Replies[0]))
}

func TestReplconfListeningPortRegistersReplicaAndSignalsPromotion(t *testing.T) {
	deps := newDeps()
	result := process(t, deps, resp.ArrayOfStrings("REPLCONF", "listening-port", "6380"), Origin{Kind: OriginClient})

	require.NotNil(t, result.BecomeReplica)
	entry, ok := deps.Registry.Get(result.BecomeReplica.Peer)
	require.True(t, ok)
	assert.Equal(t, replication.RoleSlave, entry.Role)
	assert.EqualValues(t, 0, entry.MasterOffset)
}

func TestConfigGetReturnsKeyValuePair(t *testing.T) {
	deps := newDeps()
	deps.Config.Set("dir", "/tmp")

	result := process(t, deps, resp.ArrayOfStrings("CONFIG", "GET", "dir"), Origin{Kind: OriginClient})
	require.Len(t, result.Replies, 1)
	assert.Equal(t, []byte("*2\r\n$3\r\ndir\r\n$4\r\n/tmp\r\n"), resp.Encode(result.Replies[0]))
}

func TestUnsupportedCommandRepliesWithErrWithoutClosing(t *testing.T) {
	deps := newDeps()
	cmd := commands.Command{Kind: commands.Unsupported}
	result, err := Process(deps, resp.Value{}, cmd, Origin{Kind: OriginClient}, "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, result.Replies, 1)
	assert.True(t, result.Replies[0].IsError())
}
