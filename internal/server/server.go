// Package server accepts inbound TCP connections and runs the per-
// connection reader loop: decode a frame, parse it into a Command, hand
// it to the processor, write back whatever replies come out. A
// connection that REPLCONF listening-port's itself is promoted to a
// replica subscriber on the broadcast hub for the rest of its life.
package server

import (
	"io"
	"net"
	"sync"

	"github.com/codecrafters-redis-go/internal/commands"
	"github.com/codecrafters-redis-go/internal/logger"
	"github.com/codecrafters-redis-go/internal/processor"
	"github.com/codecrafters-redis-go/internal/resp"
)

// Server listens on one TCP address and dispatches every connection
// through the processor.
type Server struct {
	addr     string
	deps     *processor.Deps
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
}

// New creates a Server bound to addr (not yet listening).
func New(addr string, deps *processor.Deps) *Server {
	return &Server{addr: addr, deps: deps, quit: make(chan struct{})}
}

// Start opens the listening socket and begins accepting connections in
// the background. It returns once the socket is open.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Info("server: listening on %s", s.addr)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				logger.Warn("server: accept error: %v", err)
				return
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Stop closes the listener, which drains the accept loop; in-flight
// connections run to completion (stores ignore send failures on a closed
// reply path).
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
}

// Wait blocks until the accept loop and every connection it spawned have
// returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	remoteHost, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteHost = conn.RemoteAddr().String()
	}

	decoder := resp.NewDecoder(conn)
	encoder := resp.NewEncoder(conn)

	var writeMu sync.Mutex
	send := func(v resp.Value) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return encoder.Encode(v)
	}

	origin := processor.Origin{Kind: processor.OriginClient}
	var subID int
	var subscribed bool

	defer func() {
		if subscribed {
			s.deps.Broadcast.Unsubscribe(subID)
		}
		if origin.Kind == processor.OriginReplica {
			s.deps.Registry.Remove(origin.Peer)
		}
	}()

	for {
		frame, _, err := decoder.Decode()
		if err != nil {
			if err != io.EOF {
				logger.Debug("server: connection from %s closed: %v", remoteHost, err)
			}
			return
		}

		cmd, err := commands.Parse(frame, s.deps.Clock)
		if err != nil {
			logger.Debug("server: grammar error from %s: %v", remoteHost, err)
			_ = send(resp.NewError(err.Error()))
			continue
		}

		result, err := processor.Process(s.deps, frame, cmd, origin, remoteHost)
		if err != nil {
			logger.Warn("server: processing error for %v from %s: %v", cmd.Kind, remoteHost, err)
			_ = send(resp.NewError("ERR " + err.Error()))
			continue
		}

		if result.BecomeReplica != nil && !subscribed {
			origin = processor.Origin{Kind: processor.OriginReplica, Peer: result.BecomeReplica.Peer}
			id, ch := s.deps.Broadcast.Subscribe()
			subID = id
			subscribed = true
			go pumpBroadcast(conn, ch, &writeMu)
			logger.Info("server: %s registered as a replica", result.BecomeReplica.Peer.Addr)
		}

		// Sent as one locked batch: PSYNC's FULLRESYNC-then-RDB reply must
		// never be interleaved with a concurrently broadcast frame once
		// this connection has been subscribed as a replica.
		if err := sendAll(&writeMu, encoder, result.Replies); err != nil {
			return
		}
	}
}

// sendAll writes every value in replies while holding writeMu for the
// whole batch, so a multi-value reply (PSYNC's FULLRESYNC + Rdb) is never
// split by an interleaved broadcast write.
func sendAll(writeMu *sync.Mutex, encoder *resp.Encoder, replies []resp.Value) error {
	if len(replies) == 0 {
		return nil
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	for _, v := range replies {
		if err := encoder.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

// pumpBroadcast writes every frame published on ch directly to conn, in
// order, until ch is closed (either on graceful unsubscribe or because
// the hub dropped this subscriber for being too slow).
func pumpBroadcast(conn net.Conn, ch <-chan []byte, writeMu *sync.Mutex) {
	for frame := range ch {
		writeMu.Lock()
		_, err := conn.Write(frame)
		writeMu.Unlock()
		if err != nil {
			conn.Close()
			return
		}
	}
}
