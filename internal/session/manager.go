package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quam/quam-engine/internal/transcript"
	"github.com/rs/zerolog"
)

// FlowFunc runs one transcript request. ctx is cancelled when the request is
// superseded in its session, when the session is torn down, or on shutdown.
type FlowFunc func(ctx context.Context, reg *transcript.Registry, requestID string)

// KeyCounter reports the size of the primary key pool.
type KeyCounter interface {
	Len() int
}

// Options configures a Manager.
type Options struct {
	Jobs        transcript.JobService
	Keys        KeyCounter
	IdleTimeout time.Duration // sessions idle this long are reaped; 0 disables
	Log         zerolog.Logger
}

type flow struct {
	requestID string
	started   time.Time
	cancel    context.CancelFunc
}

// Session is one consumer context: a cancellation registry plus at most one
// in-flight flow.
type Session struct {
	ID       string
	Registry *transcript.Registry

	flow       *flow
	lastActive time.Time
}

// Manager owns every live session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup

	base   context.Context
	cancel context.CancelFunc

	jobs transcript.JobService
	keys KeyCounter
	idle time.Duration
	log  zerolog.Logger
	now  func() time.Time
}

// NewManager creates an empty session manager.
func NewManager(opts Options) *Manager {
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions: make(map[string]*Session),
		base:     base,
		cancel:   cancel,
		jobs:     opts.Jobs,
		keys:     opts.Keys,
		idle:     opts.IdleTimeout,
		log:      opts.Log.With().Str("component", "sessions").Logger(),
		now:      time.Now,
	}
}

// getLocked returns the session for id, creating it on first use.
func (m *Manager) getLocked(id string) *Session {
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			ID:       id,
			Registry: transcript.NewRegistry(m.jobs, m.log.With().Str("session", id).Logger()),
		}
		m.sessions[id] = s
		m.log.Debug().Str("session", id).Msg("session created")
	}
	s.lastActive = m.now()
	return s
}

// Touch marks a session as active, creating it if needed.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	m.getLocked(id)
	m.mu.Unlock()
}

// Start supersedes the session's current flow, if any, and runs fn in a new
// goroutine. It returns the new request id.
func (m *Manager) Start(sessionID string, fn FlowFunc) string {
	requestID := uuid.NewString()
	ctx, cancel := context.WithCancel(m.base)

	m.mu.Lock()
	s := m.getLocked(sessionID)
	if prev := s.flow; prev != nil {
		prev.cancel()
		m.log.Info().
			Str("session", sessionID).
			Str("request_id", prev.requestID).
			Str("superseded_by", requestID).
			Msg("flow superseded")
	}
	s.flow = &flow{requestID: requestID, started: m.now(), cancel: cancel}
	reg := s.Registry
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.finish(sessionID, requestID, cancel)
		fn(ctx, reg, requestID)
	}()
	return requestID
}

func (m *Manager) finish(sessionID, requestID string, cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && s.flow != nil && s.flow.requestID == requestID {
		s.flow = nil
		s.lastActive = m.now()
	}
}

// Teardown ends a session: the in-flight flow is cancelled and the current
// job gets a fire-and-forget cancellation. Returns false for unknown sessions.
func (m *Manager) Teardown(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if s.flow != nil {
			s.flow.cancel()
		}
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	jobID := s.Registry.Teardown()
	m.log.Info().Str("session", sessionID).Str("job_id", jobID).Msg("session torn down")
	return true
}

// Shutdown tears down every session and waits for running flows to return
// or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Teardown(id)
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reap tears down sessions with no flow that have been idle longer than the
// idle timeout. Returns how many were removed.
func (m *Manager) Reap() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.flow == nil && s.lastActive.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Teardown(id)
	}
	return len(stale)
}

// CurrentRequest returns the request id of the session's in-flight flow.
func (m *Manager) CurrentRequest(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.flow == nil {
		return "", false
	}
	return s.flow.requestID, true
}

func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) ActiveFlowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.flow != nil {
			n++
		}
	}
	return n
}

func (m *Manager) KeyCount() int {
	if m.keys == nil {
		return 0
	}
	return m.keys.Len()
}
