// Package keyspace implements the string keyspace: a map from key to
// (value, optional absolute expiry), with the read paths responsible for
// reporting an expired entry as absent and the expiry scheduler
// responsible for actually removing it eventually.
package keyspace

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/codecrafters-redis-go/internal/clock"
	"github.com/codecrafters-redis-go/internal/logger"
)

// Mode selects SET's overwrite behavior.
type Mode int

const (
	ModeNone Mode = iota
	ModeNX        // only set if the key does not already exist
	ModeXX        // only set if the key already exists
)

// SetParams bundles the arguments to Set. Expiry, if non-nil, is already an
// absolute wall-clock instant: relative EX/PX input is converted to it at
// parse time, not here.
type SetParams struct {
	Key            string
	Value          string
	Mode           Mode
	ReturnPrevious bool
	Expiry         *time.Time
}

// SetResult reports what Set actually did, for callers that need to know
// (GET-like SET variants, or whether to schedule an expiry / fan out).
type SetResult struct {
	Applied  bool // false when NX found the key present, or XX found it absent
	Previous string
	HadPrev  bool
}

type entry struct {
	value      string
	expiresAt  *time.Time
	generation uint64
}

// Store is the single logical owner of the keyspace. All of its exported
// methods are safe for concurrent use; nothing outside this package ever
// reaches into the map directly (the actor-style message-passing model
// described in the design notes is realized here by "every method takes
// the lock itself", which is equivalent for a keyspace with no cross-key
// transactions).
type Store struct {
	mu   sync.RWMutex
	data map[string]*entry

	now       clock.Clock
	generator atomic.Uint64

	scheduler scheduler

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     sync.WaitGroup
}

// scheduler is the subset of *expiry.Scheduler the keyspace depends on. It
// is declared here (rather than importing the expiry package directly) so
// the keyspace depends only on this narrow interface, not on a concrete
// timer implementation.
type scheduler interface {
	Schedule(at time.Time, fire func())
}

// noopScheduler is used when the store is built without a scheduler (e.g.
// in unit tests for keyspace alone); expiry then only happens lazily, on
// read, and via the background sweep.
type noopScheduler struct{}

func (noopScheduler) Schedule(time.Time, func()) {}

// New creates a Store using the host wall clock and a 1-minute background
// sweep, with no proactive per-key expiry scheduling.
func New() *Store {
	return NewWithOptions(clock.Wall(), noopScheduler{}, time.Minute)
}

// NewWithOptions creates a Store with an injectable clock, expiry
// scheduler, and background-sweep interval (0 disables the sweep).
func NewWithOptions(now clock.Clock, sched scheduler, cleanupInterval time.Duration) *Store {
	if sched == nil {
		sched = noopScheduler{}
	}
	s := &Store{
		data:            make(map[string]*entry),
		now:             now,
		scheduler:       sched,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		s.startCleanup()
	}
	return s
}

// UseScheduler attaches a scheduler after construction; used by the
// startup wiring in cmd/redis-server, where the scheduler and the store
// are constructed in the same breath as a pair of capability handles.
func (s *Store) UseScheduler(sched scheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched != nil {
		s.scheduler = sched
	}
}

func (s *Store) startCleanup() {
	s.cleanupDone.Add(1)
	go func() {
		defer s.cleanupDone.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.sweepExpired(); n > 0 {
					logger.Debug("keyspace: background sweep removed %d expired keys", n)
				}
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

func (s *Store) sweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for key, e := range s.data {
		if e.expiresAt != nil && !now.Before(*e.expiresAt) {
			delete(s.data, key)
			count++
		}
	}
	return count
}

// Close stops the background sweep goroutine. Safe to call once.
func (s *Store) Close() {
	close(s.stopCleanup)
	s.cleanupDone.Wait()
}

// isLive reports whether e has not expired as of now. The caller must hold
// s.mu (read or write).
func (e *entry) isLive(now time.Time) bool {
	return e.expiresAt == nil || now.Before(*e.expiresAt)
}

// Get returns the value for key iff it exists and has not expired. An
// observed-expired entry is opportunistically removed.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return "", false
	}
	if !e.isLive(s.now()) {
		delete(s.data, key)
		return "", false
	}
	return e.value, true
}

// MGet performs a positional lookup of keys, never failing: absent or
// expired keys report ok=false at their index.
func (s *Store) MGet(keys []string) []struct {
	Value string
	OK    bool
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]struct {
		Value string
		OK    bool
	}, len(keys))
	for i, k := range keys {
		e, ok := s.data[k]
		if ok && !e.isLive(now) {
			delete(s.data, k)
			ok = false
		}
		if ok {
			out[i].Value = e.value
			out[i].OK = true
		}
	}
	return out
}

// Strlen returns the length of the value stored at key, or 0 if absent.
func (s *Store) Strlen(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	return len(v)
}

// Set inserts or overwrites key per p.Mode, registering an expiry timer
// with the scheduler when p.Expiry is set.
func (s *Store) Set(p SetParams) SetResult {
	s.mu.Lock()

	existing, exists := s.data[p.Key]
	live := exists && existing.isLive(s.now())

	if p.Mode == ModeNX && live {
		prev := existing.value
		s.mu.Unlock()
		return SetResult{Applied: false, Previous: prev, HadPrev: true}
	}
	if p.Mode == ModeXX && !live {
		s.mu.Unlock()
		return SetResult{Applied: false}
	}

	var prevVal string
	var hadPrev bool
	if live {
		prevVal, hadPrev = existing.value, true
	}

	gen := s.generator.Add(1)
	s.data[p.Key] = &entry{value: p.Value, expiresAt: p.Expiry, generation: gen}
	s.mu.Unlock()

	if p.Expiry != nil {
		s.scheduleExpiry(p.Key, *p.Expiry, gen)
	}

	return SetResult{Applied: true, Previous: prevVal, HadPrev: hadPrev}
}

// SetSimple is a convenience wrapper matching config.RecordSink's shape,
// used when replaying decoded RDB records into the keyspace.
func (s *Store) SetSimple(key, value string, expiresAt *time.Time) {
	s.Set(SetParams{Key: key, Value: value, Expiry: expiresAt})
}

func (s *Store) scheduleExpiry(key string, at time.Time, generation uint64) {
	s.scheduler.Schedule(at, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.data[key]; ok && e.generation == generation {
			delete(s.data, key)
		}
	})
}

// Delete removes key if present, returning whether it was present. It is
// idempotent.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[key]
	delete(s.data, key)
	return existed
}

// Append concatenates suffix onto key's value (creating it, with no
// expiry, if absent) and returns the new length.
func (s *Store) Append(key, suffix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || !e.isLive(s.now()) {
		gen := s.generator.Add(1)
		e = &entry{value: suffix, generation: gen}
		s.data[key] = e
		return len(e.value)
	}
	e.value += suffix
	return len(e.value)
}

// Keys returns all live keys matching pattern. "*" matches everything;
// glob-style ?, [...] and [a-z] are supported via gobwas/glob.
func (s *Store) Keys(pattern string) []string {
	g, err := compilePattern(pattern)
	if err != nil {
		logger.Warn("keyspace: invalid KEYS pattern %q: %v", pattern, err)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]string, 0)
	for key, e := range s.data {
		if !e.isLive(now) {
			delete(s.data, key)
			continue
		}
		if g.Match(key) {
			out = append(out, key)
		}
	}
	return out
}

// compilePattern compiles a Redis-style glob pattern. "*" is special-cased
// to avoid paying for glob compilation on the overwhelmingly common case.
func compilePattern(pattern string) (glob.Glob, error) {
	if pattern == "*" {
		return matchAll{}, nil
	}
	return glob.Compile(pattern)
}

type matchAll struct{}

func (matchAll) Match(string) bool { return true }
