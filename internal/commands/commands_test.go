package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecrafters-redis-go/internal/clock"
	"github.com/codecrafters-redis-go/internal/resp"
)

func fixedClock(t time.Time) clock.Clock {
	return func() time.Time { return t }
}

func TestParsePing(t *testing.T) {
	cmd, err := Parse(resp.ArrayOfStrings("PING"), clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, Ping, cmd.Kind)
}

func TestParseSetWithPXConvertsToAbsoluteInstant(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cmd, err := Parse(resp.ArrayOfStrings("SET", "k", "v", "PX", "100"), fixedClock(now))
	require.NoError(t, err)
	require.Equal(t, Set, cmd.Kind)
	require.NotNil(t, cmd.Set.Expiry)
	assert.Equal(t, now.Add(100*time.Millisecond), *cmd.Set.Expiry)
}

func TestParseSetWithEXConvertsToAbsoluteInstant(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cmd, err := Parse(resp.ArrayOfStrings("SET", "k", "v", "EX", "10"), fixedClock(now))
	require.NoError(t, err)
	require.NotNil(t, cmd.Set.Expiry)
	assert.Equal(t, now.Add(10*time.Second), *cmd.Set.Expiry)
}

func TestParseReplconfSubcommands(t *testing.T) {
	cmd, err := Parse(resp.ArrayOfStrings("REPLCONF", "listening-port", "6380"), clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, ReplConfListeningPort, cmd.Kind)
	assert.EqualValues(t, 6380, cmd.Port)

	cmd, err = Parse(resp.ArrayOfStrings("REPLCONF", "GETACK", "*"), clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, ReplConfGetAck, cmd.Kind)

	cmd, err = Parse(resp.ArrayOfStrings("REPLCONF", "ACK", "42"), clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, ReplConfAck, cmd.Kind)
	assert.EqualValues(t, 42, cmd.Offset)
}

func TestParsePsync(t *testing.T) {
	cmd, err := Parse(resp.ArrayOfStrings("PSYNC", "?", "-1"), clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, Psync, cmd.Kind)
	assert.Equal(t, "?", cmd.ReplID)
	assert.EqualValues(t, -1, cmd.PsyncOffset)
}

func TestParseFullresyncSimpleString(t *testing.T) {
	v := resp.NewSimpleString("FULLRESYNC abc123 0")
	cmd, err := Parse(v, clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, Fullresync, cmd.Kind)
	assert.Equal(t, "abc123", cmd.FullresyncID)
}

func TestParseUnknownCommandIsUnsupportedNotError(t *testing.T) {
	cmd, err := Parse(resp.ArrayOfStrings("FROBNICATE", "x"), clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, Unsupported, cmd.Kind)
}

func TestParseWait(t *testing.T) {
	cmd, err := Parse(resp.ArrayOfStrings("WAIT", "2", "500"), clock.Wall())
	require.NoError(t, err)
	assert.Equal(t, Wait, cmd.Kind)
	assert.Equal(t, 2, cmd.NumReplicas)
	assert.EqualValues(t, 500, cmd.TimeoutMs)
}
