// Package periodic implements the two recurring replication loops: a
// follower's REPLCONF ACK heartbeat to its master, and a leader's
// REPLCONF GETACK broadcast used to keep registry offsets fresh between
// explicit WAIT calls.
package periodic

import (
	"context"
	"time"

	"github.com/codecrafters-redis-go/internal/broadcast"
	"github.com/codecrafters-redis-go/internal/resp"
)

// DefaultPeriod is the ≈1s default period for both loops.
const DefaultPeriod = time.Second

// RunFollowerTicker calls sendACK(offset()) every period until ctx is
// cancelled.
func RunFollowerTicker(ctx context.Context, period time.Duration, offset func() int64, sendACK func(int64) error) {
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = sendACK(offset())
		}
	}
}

// RunLeaderTicker broadcasts REPLCONF GETACK * on hub every period until
// ctx is cancelled.
func RunLeaderTicker(ctx context.Context, period time.Duration, hub *broadcast.Hub) {
	if period <= 0 {
		period = DefaultPeriod
	}
	frame := resp.Encode(resp.NewArray(
		resp.NewBulkStringFromString("REPLCONF"),
		resp.NewBulkStringFromString("GETACK"),
		resp.NewBulkStringFromString("*"),
	))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.Publish(frame)
		}
	}
}
