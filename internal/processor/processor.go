// Package processor is the command processor: the single ingress that
// receives a parsed frame plus its origin, mutates the keyspace/config/
// registry stores, produces zero or more reply frames, and decides
// whether to fan the frame out to followers. It is the one place that
// knows the full dispatch table.
package processor

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/codecrafters-redis-go/internal/broadcast"
	"github.com/codecrafters-redis-go/internal/clock"
	"github.com/codecrafters-redis-go/internal/commands"
	"github.com/codecrafters-redis-go/internal/config"
	"github.com/codecrafters-redis-go/internal/errors"
	"github.com/codecrafters-redis-go/internal/keyspace"
	"github.com/codecrafters-redis-go/internal/logger"
	"github.com/codecrafters-redis-go/internal/replication"
	"github.com/codecrafters-redis-go/internal/resp"
)

// OriginKind distinguishes who sent the frame being processed.
type OriginKind int

const (
	// OriginClient: an ordinary client connection on a leader (or a
	// follower answering a client's read-only command).
	OriginClient OriginKind = iota
	// OriginMaster: this server is a follower, and the frame arrived on
	// its connection to its master.
	OriginMaster
	// OriginReplica: this server is a leader, and the frame arrived on a
	// connection that has already identified itself via REPLCONF
	// listening-port.
	OriginReplica
)

// Origin identifies the sender of the frame being processed. Peer is
// meaningful for OriginReplica, where it is the registry key for the
// sending follower.
type Origin struct {
	Kind OriginKind
	Peer replication.PeerID
}

// Deps bundles every store the processor touches. All fields are shared,
// long-lived handles constructed once at startup.
type Deps struct {
	Keyspace  *keyspace.Store
	Config    *config.Config
	Registry  *replication.Registry
	Broadcast *broadcast.Hub
	Clock     clock.Clock
}

// ReplicaInfo is returned when a REPLCONF listening-port command has just
// registered a new follower; the connection-handling layer uses it to
// start treating the connection as a replica (subscribing it to the
// broadcast hub) and to remember the PeerID for later REPLCONF ACK
// bookkeeping.
type ReplicaInfo struct {
	Peer replication.PeerID
}

// Result is everything Process hands back to the connection layer besides
// the direct store mutations it already performed.
type Result struct {
	// Replies are written to the originating connection in order. Some
	// commands (follower-origin writes, REPLCONF ACK) produce none.
	Replies []resp.Value

	// BecomeReplica is set after a successful REPLCONF listening-port,
	// telling the connection layer to subscribe this connection to the
	// broadcast hub and start tracking it under Peer.
	BecomeReplica *ReplicaInfo

	// LoadedRDB is set after processing an inbound RDB frame (follower
	// path), purely informational for logging.
	LoadedRDB bool
}

// Process is the processor's single ingress. frame is the already-decoded
// value (used to re-derive the exact wire bytes for fan-out, leaning on
// the round-trip invariant encode(parse(b))==b); cmd is its parsed form;
// remoteHost is the connecting peer's bare host (no port), used to build
// the Replica PeerID once its listening port is known.
func Process(deps *Deps, frame resp.Value, cmd commands.Command, origin Origin, remoteHost string) (Result, error) {
	switch cmd.Kind {
	case commands.Ping:
		return reply(resp.NewSimpleString("PONG")), nil

	case commands.CommandDocs:
		return reply(resp.OK()), nil

	case commands.Echo:
		return reply(resp.NewBulkStringFromString(cmd.Str)), nil

	case commands.Set:
		return processSet(deps, frame, cmd, origin)

	case commands.Get:
		return processGet(deps, cmd), nil

	case commands.Del:
		return processDel(deps, frame, cmd, origin), nil

	case commands.MGet:
		return processMGet(deps, cmd), nil

	case commands.Strlen:
		n := deps.Keyspace.Strlen(cmd.Keys[0])
		return reply(resp.NewInteger(int64(n))), nil

	case commands.Append:
		return processAppend(deps, frame, cmd, origin), nil

	case commands.ConfigGet:
		return reply(processConfigGet(deps, cmd)...), nil

	case commands.Keys:
		return reply(processKeys(deps, cmd)), nil

	case commands.Info:
		return reply(resp.NewBulkStringFromString(renderInfo(deps, cmd.Str))), nil

	case commands.ReplConfListeningPort:
		return processReplConfListeningPort(deps, cmd, remoteHost), nil

	case commands.ReplConfCapa:
		return reply(resp.OK()), nil

	case commands.ReplConfGetAck:
		return processReplConfGetAck(deps), nil

	case commands.ReplConfAck:
		processReplConfAck(deps, origin, cmd)
		return Result{}, nil

	case commands.Psync:
		return processPsync(deps, origin)

	case commands.Fullresync:
		deps.Registry.SetSelfReplID(cmd.FullresyncID)
		return Result{}, nil

	case commands.RDB:
		if err := deps.Config.LoadRDBFromBytes(cmd.RDBBytes, deps.Keyspace.SetSimple); err != nil {
			logger.Warn("processor: failed to load replicated RDB payload: %v", err)
		}
		return Result{LoadedRDB: true}, nil

	case commands.Wait:
		return processWait(deps, cmd), nil

	default:
		return reply(resp.NewError(errors.ErrUnsupported.Error())), nil
	}
}

func reply(values ...resp.Value) Result { return Result{Replies: values} }

// fanOut publishes frame's exact wire bytes to every connected follower,
// relying on the round-trip invariant encode(parse(b))==b so that
// re-encoding the already-parsed Value is equivalent to retransmitting the
// client's original bytes.
func fanOut(deps *Deps, frame resp.Value, origin Origin) {
	if origin.Kind != OriginClient {
		return
	}
	publish(deps, resp.Encode(frame))
}

// publish hands wire to every connected follower and advances this
// leader's own Self.master_offset by wire's length, so that Self.
// master_offset is always the byte count of everything ever sent down the
// replication stream — the same quantity a follower's own counter accrues
// as it processes that stream.
func publish(deps *Deps, wire []byte) {
	deps.Broadcast.Publish(wire)
	deps.Registry.AddSelfOffset(int64(len(wire)))
}

func processSet(deps *Deps, frame resp.Value, cmd commands.Command, origin Origin) (Result, error) {
	result := deps.Keyspace.Set(cmd.Set)
	fanOut(deps, frame, origin)
	if origin.Kind == OriginClient {
		if cmd.Set.ReturnPrevious {
			if !result.HadPrev {
				return reply(resp.NewNull()), nil
			}
			return reply(resp.NewBulkStringFromString(result.Previous)), nil
		}
		if !result.Applied {
			return reply(resp.NewNull()), nil
		}
		return reply(resp.OK()), nil
	}
	return Result{}, nil
}

func processGet(deps *Deps, cmd commands.Command) Result {
	v, ok := deps.Keyspace.Get(cmd.Keys[0])
	if !ok {
		return reply(resp.NewNull())
	}
	return reply(resp.NewBulkStringFromString(v))
}

func processDel(deps *Deps, frame resp.Value, cmd commands.Command, origin Origin) Result {
	count := 0
	for _, k := range cmd.Keys {
		if deps.Keyspace.Delete(k) {
			count++
		}
	}
	fanOut(deps, frame, origin)
	if origin.Kind != OriginClient {
		return Result{}
	}
	return reply(resp.NewInteger(int64(count)))
}

func processMGet(deps *Deps, cmd commands.Command) Result {
	got := deps.Keyspace.MGet(cmd.Keys)
	values := make([]resp.Value, len(got))
	for i, g := range got {
		if g.OK {
			values[i] = resp.NewBulkStringFromString(g.Value)
		} else {
			values[i] = resp.NewNull()
		}
	}
	return reply(resp.NewArray(values...))
}

func processAppend(deps *Deps, frame resp.Value, cmd commands.Command, origin Origin) Result {
	newLen := deps.Keyspace.Append(cmd.Keys[0], cmd.Value)
	fanOut(deps, frame, origin)
	if origin.Kind != OriginClient {
		return Result{}
	}
	return reply(resp.NewInteger(int64(newLen)))
}

func processConfigGet(deps *Deps, cmd commands.Command) []resp.Value {
	pairs := deps.Config.GetMatching(cmd.Str)
	if pairs == nil {
		return []resp.Value{resp.NewNull()}
	}
	values := make([]resp.Value, len(pairs))
	for i, p := range pairs {
		values[i] = resp.NewBulkStringFromString(p)
	}
	return []resp.Value{resp.NewArray(values...)}
}

func processKeys(deps *Deps, cmd commands.Command) resp.Value {
	keys := deps.Keyspace.Keys(cmd.Str)
	values := make([]resp.Value, len(keys))
	for i, k := range keys {
		values[i] = resp.NewBulkStringFromString(k)
	}
	return resp.NewArray(values...)
}

func renderInfo(deps *Deps, section string) string {
	if section != "" && !strings.EqualFold(section, "replication") {
		return ""
	}
	self, _ := deps.Registry.Get(replication.SelfID)
	lines := []string{
		"# Replication",
		fmt.Sprintf("role:%s", roleWord(self.Role)),
		"master_failover_state:no-failover",
		fmt.Sprintf("connected_slaves:%d", deps.Registry.ReplicaCount()),
	}
	for i, peer := range deps.Registry.Replicas() {
		ip, port, err := net.SplitHostPort(peer.Addr)
		if err != nil {
			ip, port = peer.Addr, "0"
		}
		lag := self.MasterOffset - peer.MasterOffset
		lines = append(lines, fmt.Sprintf("slave%d:ip=%s,port=%s,state=online,offset=%d,lag=%d",
			i, ip, port, peer.MasterOffset, lag))
	}
	lines = append(lines,
		fmt.Sprintf("master_replid:%s", self.ReplID),
		"master_replid2:0000000000000000000000000000000000000000",
		fmt.Sprintf("master_repl_offset:%d", self.MasterOffset),
		"second_repl_offset:-1",
	)
	if self.Role == replication.RoleSlave {
		lines = append(lines, "master_sync_in_progress:0")
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func roleWord(r replication.Role) string {
	if r == replication.RoleSlave {
		return "slave"
	}
	return "master"
}

func processReplConfListeningPort(deps *Deps, cmd commands.Command, remoteHost string) Result {
	peer := replication.ReplicaID(fmt.Sprintf("%s:%d", remoteHost, cmd.Port))
	self, _ := deps.Registry.Get(replication.SelfID)
	deps.Registry.Upsert(peer, replication.Entry{
		Role:         replication.RoleSlave,
		ReplID:       self.ReplID,
		MasterOffset: 0,
	})
	result := reply(resp.OK())
	result.BecomeReplica = &ReplicaInfo{Peer: peer}
	return result
}

func processReplConfGetAck(deps *Deps) Result {
	offset := deps.Registry.SelfOffset()
	return reply(resp.NewArray(
		resp.NewBulkStringFromString("REPLCONF"),
		resp.NewBulkStringFromString("ACK"),
		resp.NewBulkStringFromString(strconv.FormatInt(offset, 10)),
	))
}

func processReplConfAck(deps *Deps, origin Origin, cmd commands.Command) {
	if origin.Kind != OriginReplica {
		return
	}
	deps.Registry.UpdateReplicaOffset(origin.Peer, cmd.Offset)
}

func processPsync(deps *Deps, origin Origin) (Result, error) {
	self, _ := deps.Registry.Get(replication.SelfID)
	rdbBytes, err := deps.Config.ReadRDBBytes()
	if err != nil {
		if class, ok := errors.ClassOf(err); ok && class == errors.ClassNotFound {
			rdbBytes = emptyRDB()
		} else {
			return Result{}, err
		}
	}
	fullresync := resp.NewSimpleString(fmt.Sprintf("FULLRESYNC %s 0", self.ReplID))
	rdbFrame := resp.NewRdb(rdbBytes)

	// Every PSYNC sends the same handshake bytes (this leader never
	// rewrites its on-disk RDB), so a follower's own byte count always
	// includes exactly this much before its first propagated command —
	// fold it into Self's offset once rather than per-handshake.
	handshakeBytes := int64(len(resp.Encode(fullresync))) + int64(len(resp.Encode(rdbFrame)))
	deps.Registry.EstablishReplicationBaseline(handshakeBytes)

	if origin.Kind == OriginReplica {
		deps.Registry.UpdateReplicaOffset(origin.Peer, 0)
	}
	return reply(fullresync, rdbFrame), nil
}

// emptyRDB is the minimal valid RDB payload (magic, version, EOF, no
// checksum) sent when no on-disk snapshot exists yet.
func emptyRDB() []byte {
	return []byte("REDIS0011\xff\x00\x00\x00\x00\x00\x00\x00\x00")
}

func processWait(deps *Deps, cmd commands.Command) Result {
	if cmd.NumReplicas == 0 {
		return reply(resp.NewInteger(int64(deps.Registry.SyncedCount())))
	}
	if deps.Registry.ReplicaCount() == 0 {
		return reply(resp.NewInteger(0))
	}

	// Self.master_offset is deliberately left untouched by this probe: a
	// follower's ACK reply reports its offset as it stood before the
	// GETACK frame's own bytes (the GETACK exception in the handshake's
	// stream loop), so the comparison baseline here must exclude them too.
	deps.Registry.ResetReplicaOffsets()
	deps.Broadcast.Publish(resp.Encode(resp.NewArray(
		resp.NewBulkStringFromString("REPLCONF"),
		resp.NewBulkStringFromString("GETACK"),
		resp.NewBulkStringFromString("*"),
	)))

	deadline := time.After(time.Duration(cmd.TimeoutMs) * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n := deps.Registry.SyncedCount(); n >= cmd.NumReplicas {
			return reply(resp.NewInteger(int64(n)))
		}
		select {
		case <-deadline:
			return reply(resp.NewInteger(int64(deps.Registry.SyncedCount())))
		case <-ticker.C:
		}
	}
}
