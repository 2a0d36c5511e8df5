package session

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session doesn't exist or has expired.
var ErrNotFound = errors.New("session not found")

// DefaultSweepInterval is how often expired sessions are purged.
const DefaultSweepInterval = 24 * time.Hour

const shardCount = 32

// Session is a snapshot of one stored session. Mutating it does not affect
// the store until it is saved.
type Session struct {
	ID        string
	Values    map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time

	modified bool
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Set stores a value and marks the session for saving.
func (s *Session) Set(key string, v any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = v
	s.modified = true
}

// Delete removes key and marks the session for saving.
func (s *Session) Delete(key string) {
	if _, ok := s.Values[key]; ok {
		delete(s.Values, key)
		s.modified = true
	}
}

// Modified reports whether the session changed since it was loaded.
func (s *Session) Modified() bool {
	return s.modified
}

func (s *Session) clone() *Session {
	return &Session{
		ID:        s.ID,
		Values:    maps.Clone(s.Values),
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

type entry struct {
	mu      sync.Mutex
	sess    *Session
	deleted bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// MemoryStore keeps sessions in process memory. It is not shared between
// server instances, so sessions are lost on restart and a multi-instance
// deployment needs sticky routing.
//
// Sessions are spread over shards keyed by an xxhash of the id; each session
// has its own lock so concurrent requests only serialize on the same id.
type MemoryStore struct {
	shards        [shardCount]*shard
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewMemoryStore creates a store whose sessions expire ttl after last use.
func NewMemoryStore(ttl, sweepInterval time.Duration, logger *slog.Logger) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	s := &MemoryStore{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        logger.With("component", "session_store"),
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

// NewID returns a fresh random session id.
func (s *MemoryStore) NewID() string {
	return uuid.NewString()
}

func (s *MemoryStore) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%shardCount]
}

func (s *MemoryStore) lookup(id string) *entry {
	sh := s.shardFor(id)
	sh.mu.RLock()
	e := sh.entries[id]
	sh.mu.RUnlock()
	return e
}

// Get returns a copy of the session, or ErrNotFound when it is missing or
// expired. Expired entries are left for the sweeper.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted || !s.now().Before(e.sess.ExpiresAt) {
		return nil, ErrNotFound
	}
	return e.sess.clone(), nil
}

// Save stores sess and sets its expiry to now+ttl. Concurrent saves of the
// same id are last-writer-wins.
func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session: save without id")
	}
	sh := s.shardFor(sess.ID)
	for {
		now := s.now()
		sh.mu.Lock()
		e := sh.entries[sess.ID]
		if e == nil {
			if sess.CreatedAt.IsZero() {
				sess.CreatedAt = now
			}
			sess.ExpiresAt = now.Add(s.ttl)
			sh.entries[sess.ID] = &entry{sess: sess.clone()}
			sh.mu.Unlock()
			sess.modified = false
			return nil
		}
		sh.mu.Unlock()

		e.mu.Lock()
		if e.deleted {
			e.mu.Unlock()
			continue
		}
		sess.ExpiresAt = now.Add(s.ttl)
		e.sess = sess.clone()
		e.mu.Unlock()
		sess.modified = false
		return nil
	}
}

// Touch extends a live session's expiry to now+ttl and returns it.
func (s *MemoryStore) Touch(_ context.Context, id string) (time.Time, error) {
	e := s.lookup(id)
	if e == nil {
		return time.Time{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := s.now()
	if e.deleted || !now.Before(e.sess.ExpiresAt) {
		return time.Time{}, ErrNotFound
	}
	e.sess.ExpiresAt = now.Add(s.ttl)
	return e.sess.ExpiresAt, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[id]; ok {
		e.mu.Lock()
		e.deleted = true
		e.mu.Unlock()
		delete(sh.entries, id)
	}
	return nil
}

// Len returns the number of stored sessions, including expired ones that
// have not been swept yet.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// StartSweep runs the expiry sweep every sweep interval until ctx is done
// or Stop is called.
func (s *MemoryStore) StartSweep(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop ends the sweep goroutine and waits for it. Safe to call repeatedly.
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *MemoryStore) sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			e.mu.Lock()
			if !now.Before(e.sess.ExpiresAt) {
				e.deleted = true
				delete(sh.entries, id)
				removed++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.logger.Debug("swept expired sessions", "count", removed)
	}
	return removed
}
