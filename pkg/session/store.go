package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/events"
)

const (
	// DefaultMaxHistory is the number of messages kept per session.
	DefaultMaxHistory = 20
	// DefaultIdleTimeout is how long an untouched session survives.
	DefaultIdleTimeout = 24 * time.Hour
)

// Config configures a Store.
type Config struct {
	MaxHistory  int
	IdleTimeout time.Duration
	Logger      zerolog.Logger
	Emitter     events.Emitter
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	messages     []agent.Message
	lastAccessed time.Time
}

type lane struct {
	mu   sync.Mutex
	refs int
}

// Store keeps conversation history in memory, keyed by session id.
type Store struct {
	maxHistory  int
	idleTimeout time.Duration
	logger      zerolog.Logger
	emitter     events.Emitter
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry

	lanesMu sync.Mutex
	lanes   map[string]*lane
}

// Stats summarizes the store. Ages are whole minutes since last access and
// are null when the store is empty.
type Stats struct {
	ActiveSessions  int    `json:"activeSessions"`
	OldestSession   *int64 `json:"oldestSession"`
	NewestSession   *int64 `json:"newestSession"`
	AverageMessages int    `json:"averageMessagesPerSession"`
}

// Info describes a single session.
type Info struct {
	SessionID    string `json:"sessionId"`
	MessageCount int    `json:"messageCount"`
	HasHistory   bool   `json:"hasHistory"`
}

// New creates an empty store.
func New(cfg Config) *Store {
	observability.EnsureRegistered()

	s := &Store{
		maxHistory:  cfg.MaxHistory,
		idleTimeout: cfg.IdleTimeout,
		logger:      cfg.Logger.With().Str("component", "session").Logger(),
		emitter:     cfg.Emitter,
		now:         cfg.Now,
		sessions:    make(map[string]*entry),
		lanes:       make(map[string]*lane),
	}
	if s.maxHistory <= 0 {
		s.maxHistory = DefaultMaxHistory
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = DefaultIdleTimeout
	}
	if s.emitter == nil {
		s.emitter = events.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// touch returns the entry for id, creating it if needed, and refreshes its
// access time. Caller holds s.mu.
func (s *Store) touch(id string) *entry {
	e, ok := s.sessions[id]
	if !ok {
		e = &entry{}
		s.sessions[id] = e
		observability.SetActiveSessions(len(s.sessions))
	}
	e.lastAccessed = s.now()
	return e
}

// Get returns a copy of the session history. An unknown id yields an empty
// history and creates the session; an empty id yields an empty history and
// creates nothing.
func (s *Store) Get(id string) []agent.Message {
	if id == "" {
		return []agent.Message{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return agent.CloneMessages(s.touch(id).messages)
}

// Append adds msgs to the session history and enforces the history cap. When
// the cap is exceeded a leading system message is kept along with the most
// recent messages.
func (s *Store) Append(id string, msgs ...agent.Message) {
	if id == "" || len(msgs) == 0 {
		return
	}

	start := time.Now()
	s.mu.Lock()
	e := s.touch(id)
	e.messages = append(e.messages, agent.CloneMessages(msgs)...)

	truncated := false
	if len(e.messages) > s.maxHistory {
		truncated = true
		e.messages = truncate(e.messages, s.maxHistory)
	}
	total := len(e.messages)
	s.mu.Unlock()

	if truncated {
		observability.RecordSessionTruncation()
	}
	observability.RecordSessionSave(time.Since(start))

	s.logger.Debug().
		Str("session_id", id).
		Int("added", len(msgs)).
		Int("total", total).
		Bool("truncated", truncated).
		Msg("Session history updated")
}

func truncate(msgs []agent.Message, limit int) []agent.Message {
	if msgs[0].Role == agent.RoleSystem {
		out := make([]agent.Message, 0, limit)
		out = append(out, msgs[0])
		return append(out, msgs[len(msgs)-(limit-1):]...)
	}
	out := make([]agent.Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out
}

// Evict removes every session idle for longer than the idle timeout and
// returns how many were removed.
func (s *Store) Evict() int {
	now := s.now()

	s.mu.Lock()
	var evicted []string
	for id, e := range s.sessions {
		if now.Sub(e.lastAccessed) > s.idleTimeout {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	observability.SetActiveSessions(active)
	if len(evicted) == 0 {
		return 0
	}

	observability.RecordSessionEvictions(len(evicted))
	for _, id := range evicted {
		s.emitter.Emit(context.Background(), events.Event{
			Type:      events.TypeSessionEvicted,
			Message:   fmt.Sprintf("Session %s evicted after inactivity", id),
			SessionID: id,
		})
	}
	s.logger.Info().
		Int("evicted", len(evicted)).
		Int("active", active).
		Msg("Removed inactive sessions")
	return len(evicted)
}

// Stats reports store-wide figures.
func (s *Store) Stats() Stats {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{ActiveSessions: len(s.sessions)}
	if len(s.sessions) == 0 {
		return st
	}

	var oldest, newest time.Time
	total := 0
	for _, e := range s.sessions {
		if oldest.IsZero() || e.lastAccessed.Before(oldest) {
			oldest = e.lastAccessed
		}
		if newest.IsZero() || e.lastAccessed.After(newest) {
			newest = e.lastAccessed
		}
		total += len(e.messages)
	}

	oldestAge := minutes(now.Sub(oldest))
	newestAge := minutes(now.Sub(newest))
	st.OldestSession = &oldestAge
	st.NewestSession = &newestAge
	st.AverageMessages = int(math.Round(float64(total) / float64(len(s.sessions))))
	return st
}

func minutes(d time.Duration) int64 {
	return int64(math.Round(d.Minutes()))
}

// Info describes one session, refreshing its access time like Get.
func (s *Store) Info(id string) Info {
	n := s.Len(id)
	return Info{SessionID: id, MessageCount: n, HasHistory: n > 0}
}

// Len returns the number of stored messages for id.
func (s *Store) Len(id string) int {
	if id == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.touch(id).messages)
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Lock serializes whole turns on one session. The returned function releases
// the lock and is safe to call more than once.
func (s *Store) Lock(id string) func() {
	s.lanesMu.Lock()
	l, ok := s.lanes[id]
	if !ok {
		l = &lane{}
		s.lanes[id] = l
	}
	l.refs++
	s.lanesMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.lanesMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.lanes, id)
			}
			s.lanesMu.Unlock()
		})
	}
}
