// Package config holds the small, closed set of configuration entries
// (dir, dbfilename, port, replicaof) and owns RDB-load orchestration: it
// is the only component that both decodes an RDB source (internal/rdb)
// and writes the resulting records into the keyspace, per the design note
// on resolving the config/keyspace/processor cycle with capability
// handles instead of embedding one store inside another.
package config

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/codecrafters-redis-go/internal/errors"
	"github.com/codecrafters-redis-go/internal/logger"
	"github.com/codecrafters-redis-go/internal/rdb"
)

// Config holds the Redis server configuration
type Config struct {
	mu         sync.RWMutex
	Dir        string
	DBFilename string
	Port       int
	ReplicaOf  string // Format: "host port"
}

// New creates a new configuration with default values
func New() *Config {
	return &Config{
		Dir:        ".",
		DBFilename: "dump.rdb",
		Port:       6379,
	}
}

// ParseFlags parses command-line flags and updates the configuration
func (config *Config) ParseFlags() {
	flag.StringVar(&config.Dir, "dir", config.Dir, "The directory where RDB files are stored")
	flag.StringVar(&config.DBFilename, "dbfilename", config.DBFilename, "The name of the RDB file")
	flag.IntVar(&config.Port, "port", config.Port, "The port to listen on")
	flag.StringVar(&config.ReplicaOf, "replicaof", config.ReplicaOf, "Make this server a replica of \"<host> <port>\"")
	flag.Parse()
}

// Get retrieves a configuration value by name.
func (config *Config) Get(name string) (string, bool) {
	config.mu.RLock()
	defer config.mu.RUnlock()
	return config.getLocked(name)
}

func (config *Config) getLocked(name string) (string, bool) {
	switch name {
	case "dir":
		return config.Dir, true
	case "dbfilename":
		return config.DBFilename, true
	case "port":
		return fmt.Sprintf("%d", config.Port), true
	default:
		return "", false
	}
}

// entryNames lists every configurable name, for pattern-based lookups.
func (config *Config) entryNames() []string {
	return []string{"dir", "dbfilename", "port"}
}

// GetMatching returns every (name, value) pair whose name matches the
// given glob pattern — a supplement to the single-name CONFIG GET lookup,
// mirroring real Redis's CONFIG GET semantics.
func (config *Config) GetMatching(pattern string) []string {
	g, err := glob.Compile(pattern)
	if err != nil {
		logger.Warn("config: invalid CONFIG GET pattern %q: %v", pattern, err)
		return nil
	}
	config.mu.RLock()
	defer config.mu.RUnlock()
	var out []string
	for _, name := range config.entryNames() {
		if !g.Match(name) {
			continue
		}
		value, _ := config.getLocked(name)
		out = append(out, name, value)
	}
	return out
}

// Set updates a configuration value by name.
func (config *Config) Set(name, value string) bool {
	config.mu.Lock()
	defer config.mu.Unlock()
	switch name {
	case "dir":
		config.Dir = value
		return true
	case "dbfilename":
		config.DBFilename = value
		return true
	default:
		return false
	}
}

// IsReplica returns true if this server is configured as a replica
func (config *Config) IsReplica() bool {
	config.mu.RLock()
	defer config.mu.RUnlock()
	return config.ReplicaOf != ""
}

// GetReplicaInfo parses and returns the master host and port
func (config *Config) GetReplicaInfo() (host string, port string) {
	config.mu.RLock()
	defer config.mu.RUnlock()
	if config.ReplicaOf == "" {
		return "", ""
	}
	parts := strings.Fields(config.ReplicaOf)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", ""
}

// RDBPath returns the filesystem path to the RDB file this config points
// at: dir + "/" + dbfilename.
func (config *Config) RDBPath() string {
	config.mu.RLock()
	defer config.mu.RUnlock()
	return filepath.Join(config.Dir, config.DBFilename)
}

// RecordSink receives one decoded RDB record at a time, already converted
// to an absolute expiry instant. The config package stays decoupled from
// keyspace.Store's SetParams shape by only depending on this narrow
// function type; callers pass a closure wrapping keyspace.Store.Set.
type RecordSink func(key, value string, expiresAt *time.Time)

// LoadRDBFromBytes decodes an in-memory RDB payload (as arrives over the
// wire during FULLRESYNC) and replays it through sink.
func (config *Config) LoadRDBFromBytes(payload []byte, sink RecordSink) error {
	return loadInto(bytes.NewReader(payload), sink)
}

// LoadRDBFromDisk decodes the on-disk RDB file at dir/dbfilename and
// replays it through sink. A missing file is non-fatal (empty keyspace);
// any other open error is returned classified as IO.
func (config *Config) LoadRDBFromDisk(sink RecordSink) error {
	path := config.RDBPath()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config: no RDB file at %s, starting with an empty keyspace", path)
			return nil
		}
		return errors.IO(fmt.Errorf("config: failed to open RDB file %s: %w", path, err))
	}
	defer f.Close()
	return loadInto(f, sink)
}

func loadInto(r io.Reader, sink RecordSink) error {
	return rdb.Decode(r, func(rec rdb.Record) {
		var expiresAt *time.Time
		if rec.ExpiresAt > 0 {
			t := time.UnixMilli(int64(rec.ExpiresAt))
			expiresAt = &t
		}
		sink(rec.Key, rec.Value, expiresAt)
	})
}

// ReadRDBBytes returns the raw bytes of the on-disk RDB file, for
// transmission during PSYNC. It errors (classified NotFound) if the file
// is absent — fatal for that handshake only, not for the server.
func (config *Config) ReadRDBBytes() ([]byte, error) {
	path := config.RDBPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Errorf("config: no RDB file at %s", path))
		}
		return nil, errors.IO(fmt.Errorf("config: failed to read RDB file %s: %w", path, err))
	}
	return data, nil
}
