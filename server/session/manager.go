package session

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/utils"
	"github.com/rs/zerolog"
)

// Manager tracks the open sessions of every transport and tears down the
// ones that stay idle for too long.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]*Session
	keys            map[string]string
	maxSessions     int
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger

	// Stats
	totalSessions    atomic.Int64
	peakSessions     atomic.Int64
	rejectedSessions atomic.Int64
	expiredSessions  atomic.Int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a session manager. A non-positive cleanupInterval
// disables the background idle sweep.
func NewManager(maxSessions int, idleTimeout, cleanupInterval time.Duration, logger zerolog.Logger) *Manager {
	m := &Manager{
		sessions:        make(map[string]*Session),
		keys:            make(map[string]string),
		maxSessions:     maxSessions,
		idleTimeout:     idleTimeout,
		cleanupInterval: cleanupInterval,
		logger:          logger.With().Str("component", "sessions").Logger(),
		stopCleanup:     make(chan struct{}),
	}

	if cleanupInterval > 0 && idleTimeout > 0 {
		go m.cleanupRoutine()
	}
	return m
}

// Open creates and registers a session for a new connection.
func (m *Manager) Open(transport, remote string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(transport, remote)
}

// OpenKeyed returns the session registered under key, creating it when
// absent. Transports that do not own their connections (HTTP keep-alive)
// key sessions by the peer address.
func (m *Manager) OpenKeyed(key, transport, remote string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.keys[key]; ok {
		if s, ok := m.sessions[id]; ok && !s.Closed() {
			return s, nil
		}
		delete(m.keys, key)
	}

	s, err := m.openLocked(transport, remote)
	if err != nil {
		return nil, err
	}
	m.keys[key] = s.ID
	return s, nil
}

func (m *Manager) openLocked(transport, remote string) (*Session, error) {
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.rejectedSessions.Add(1)
		m.logger.Warn().
			Str("remote", remote).
			Str("transport", transport).
			Int("max_sessions", m.maxSessions).
			Msg("Session rejected - at capacity")
		return nil, errors.New(ErrCapacity, "session limit reached", nil).
			AddContext("max_sessions", strconv.Itoa(m.maxSessions))
	}

	s := New(utils.ConnectionID(transport), transport, remote)
	m.sessions[s.ID] = s
	m.totalSessions.Add(1)

	if current := int64(len(m.sessions)); current > m.peakSessions.Load() {
		m.peakSessions.Store(current)
	}

	m.logger.Debug().
		Str("connection_id", s.ID).
		Str("remote", remote).
		Int("active_sessions", len(m.sessions)).
		Msg("Session opened")
	return s, nil
}

// Lookup returns the open session registered under key.
func (m *Manager) Lookup(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.keys[key]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session. Unknown IDs are ignored.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	m.logger.Debug().
		Str("connection_id", id).
		Str("remote", s.Remote).
		Int64("requests", s.Requests()).
		Msg("Session closed")
}

// RemoveKey removes the session registered under key by OpenKeyed.
func (m *Manager) RemoveKey(key string) {
	m.mu.Lock()
	id, ok := m.keys[key]
	delete(m.keys, key)
	m.mu.Unlock()

	if ok {
		m.Remove(id)
	}
}

func (m *Manager) cleanupRoutine() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ExpireIdle(time.Now())
		case <-m.stopCleanup:
			return
		}
	}
}

// ExpireIdle closes every session without a request in flight whose last
// activity is older than the idle timeout, and returns how many it closed.
func (m *Manager) ExpireIdle(now time.Time) int {
	cutoff := now.Add(-m.idleTimeout)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) && !s.Busy() {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	for key, id := range m.keys {
		if _, ok := m.sessions[id]; !ok {
			delete(m.keys, key)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
		m.expiredSessions.Add(1)
		m.logger.Info().
			Str("connection_id", s.ID).
			Str("remote", s.Remote).
			Dur("idle_time", now.Sub(s.LastActivity())).
			Msg("Removing idle session")
	}
	return len(expired)
}

// Stats summarizes the manager for reporting.
type Stats struct {
	Active          int            `json:"active"`
	MaxSessions     int            `json:"max_sessions"`
	Total           int64          `json:"total"`
	Peak            int64          `json:"peak"`
	Rejected        int64          `json:"rejected"`
	Expired         int64          `json:"expired"`
	IdleTimeout     time.Duration  `json:"idle_timeout"`
	CleanupInterval time.Duration  `json:"cleanup_interval"`
	ByTransport     map[string]int `json:"by_transport"`
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byTransport := make(map[string]int)
	for _, s := range m.sessions {
		byTransport[s.Transport]++
	}
	return Stats{
		Active:          len(m.sessions),
		MaxSessions:     m.maxSessions,
		Total:           m.totalSessions.Load(),
		Peak:            m.peakSessions.Load(),
		Rejected:        m.rejectedSessions.Load(),
		Expired:         m.expiredSessions.Load(),
		IdleTimeout:     m.idleTimeout,
		CleanupInterval: m.cleanupInterval,
		ByTransport:     byTransport,
	}
}

// Sessions lists snapshots of the open sessions, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].StartTime.Equal(infos[j].StartTime) {
			return infos[i].StartTime.Before(infos[j].StartTime)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Close stops the idle sweep and closes every session.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopCleanup) })

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.keys = make(map[string]string)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	stats := m.Stats()
	m.logger.Info().
		Int64("total_sessions", stats.Total).
		Int64("peak_sessions", stats.Peak).
		Int64("rejected_sessions", stats.Rejected).
		Msg("Session manager closed")
	return nil
}
