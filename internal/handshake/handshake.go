// Package handshake drives a follower's outbound connection to its
// master: the PING → REPLCONF listening-port → REPLCONF capa → PSYNC
// state machine, then the indefinite STREAMING phase where every
// subsequent frame is a replicated command dispatched through the
// processor with origin=master.
package handshake

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codecrafters-redis-go/internal/commands"
	"github.com/codecrafters-redis-go/internal/logger"
	"github.com/codecrafters-redis-go/internal/periodic"
	"github.com/codecrafters-redis-go/internal/processor"
	"github.com/codecrafters-redis-go/internal/replication"
	"github.com/codecrafters-redis-go/internal/resp"
)

// Driver owns the follower's connection to its master and runs the
// handshake-then-stream loop, reconnecting on any fatal error.
type Driver struct {
	masterAddr  string
	listenPort  int
	deps        *processor.Deps
	reconnector *rate.Limiter
}

// New creates a Driver that dials masterAddr ("host:port") and advertises
// listenPort as this server's own listening port via REPLCONF.
func New(masterAddr string, listenPort int, deps *processor.Deps) *Driver {
	return &Driver{
		masterAddr: masterAddr,
		listenPort: listenPort,
		deps:       deps,
		// At most one reconnect attempt per second, with a small burst to
		// allow an immediate retry right after the first failure.
		reconnector: rate.NewLimiter(rate.Limit(1), 2),
	}
}

// Run drives the handshake and streaming loop until ctx is cancelled,
// reconnecting after any fatal error (per the state diagram: "a missing or
// malformed reply is fatal and restarts the connection").
func (d *Driver) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.reconnector.Wait(ctx); err != nil {
			return
		}
		if err := d.runOnce(ctx); err != nil {
			logger.Warn("handshake: connection to master %s failed: %v", d.masterAddr, err)
		}
	}
}

func (d *Driver) runOnce(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", d.masterAddr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("handshake: dial %s: %w", d.masterAddr, err)
	}
	defer conn.Close()

	d.deps.Registry.Upsert(replication.MasterID, replication.Entry{Role: replication.RoleMaster})

	decoder := resp.NewDecoder(conn)
	encoder := resp.NewEncoder(conn)

	if err := step(encoder, decoder, resp.ArrayOfStrings("PING")); err != nil {
		return fmt.Errorf("handshake: PING: %w", err)
	}

	if err := step(encoder, decoder, resp.ArrayOfStrings(
		"REPLCONF", "listening-port", strconv.Itoa(d.listenPort),
	)); err != nil {
		return fmt.Errorf("handshake: REPLCONF listening-port: %w", err)
	}

	if err := step(encoder, decoder, resp.ArrayOfStrings("REPLCONF", "capa", "psync2")); err != nil {
		return fmt.Errorf("handshake: REPLCONF capa: %w", err)
	}

	if err := encoder.Encode(resp.ArrayOfStrings("PSYNC", "?", "-1")); err != nil {
		return fmt.Errorf("handshake: send PSYNC: %w", err)
	}

	fullresync, length, err := decoder.Decode()
	if err != nil {
		return fmt.Errorf("handshake: receive FULLRESYNC: %w", err)
	}
	cmd, err := commands.Parse(fullresync, d.deps.Clock)
	if err != nil || cmd.Kind != commands.Fullresync {
		return fmt.Errorf("handshake: expected FULLRESYNC, got %v (err=%v)", fullresync, err)
	}
	d.deps.Registry.SetSelfOffset(0)
	d.deps.Registry.AddSelfOffset(int64(length))
	d.deps.Registry.SetSelfReplID(cmd.FullresyncID)

	decoder.ExpectRDB()
	rdbFrame, rdbLength, err := decoder.Decode()
	if err != nil {
		return fmt.Errorf("handshake: receive RDB payload: %w", err)
	}
	d.deps.Registry.AddSelfOffset(int64(rdbLength))
	if rdbFrame.Kind == resp.Rdb {
		if err := d.deps.Config.LoadRDBFromBytes(rdbFrame.Bulk, d.deps.Keyspace.SetSimple); err != nil {
			logger.Warn("handshake: failed to load initial RDB snapshot: %v", err)
		}
	}

	logger.Info("handshake: synced with master %s at offset %d", d.masterAddr, d.deps.Registry.SelfOffset())

	var writeMu sync.Mutex
	send := func(v resp.Value) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return encoder.Encode(v)
	}

	tickerCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	go periodic.RunFollowerTicker(tickerCtx, periodic.DefaultPeriod, d.deps.Registry.SelfOffset, func(offset int64) error {
		return send(resp.NewArray(
			resp.NewBulkStringFromString("REPLCONF"),
			resp.NewBulkStringFromString("ACK"),
			resp.NewBulkStringFromString(strconv.FormatInt(offset, 10)),
		))
	})

	return d.stream(ctx, decoder, send)
}

// step sends cmd and consumes exactly one reply frame, discarding its
// content (used for the three acknowledgement-only handshake steps).
func step(encoder *resp.Encoder, decoder *resp.Decoder, cmd resp.Value) error {
	if err := encoder.Encode(cmd); err != nil {
		return err
	}
	_, _, err := decoder.Decode()
	return err
}

// stream runs the indefinite STREAMING phase: every frame received is a
// replicated command. The running counter is incremented by the frame's
// exact byte length before dispatch, except that a REPLCONF GETACK's own
// reply must report the offset as it stood *before* that frame's bytes
// were added.
func (d *Driver) stream(ctx context.Context, decoder *resp.Decoder, send func(resp.Value) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, length, err := decoder.Decode()
		if err != nil {
			return fmt.Errorf("stream: decode: %w", err)
		}

		offsetBeforeFrame := d.deps.Registry.SelfOffset()
		cmd, err := commands.Parse(frame, d.deps.Clock)
		if err != nil {
			logger.Warn("stream: malformed frame from master, tearing down link: %v", err)
			return err
		}
		d.deps.Registry.AddSelfOffset(int64(length))

		if cmd.Kind == commands.ReplConfGetAck {
			ack := resp.NewArray(
				resp.NewBulkStringFromString("REPLCONF"),
				resp.NewBulkStringFromString("ACK"),
				resp.NewBulkStringFromString(strconv.FormatInt(offsetBeforeFrame, 10)),
			)
			if err := send(ack); err != nil {
				return fmt.Errorf("stream: send ACK: %w", err)
			}
			continue
		}

		result, err := processor.Process(d.deps, frame, cmd, processor.Origin{Kind: processor.OriginMaster}, "")
		if err != nil {
			logger.Warn("stream: processing error for %v: %v", cmd.Kind, err)
			continue
		}
		for _, reply := range result.Replies {
			if err := send(reply); err != nil {
				return fmt.Errorf("stream: send reply: %w", err)
			}
		}
	}
}
