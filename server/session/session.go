// Package session holds per-connection state.
//
// A Session is owned by the pipeline of its connection, but a handler that
// outlives its deadline still holds it, so every mutable field is locked or
// atomic.
package session

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the state of one connection.
type Session struct {
	ID        string
	Transport string
	Remote    string
	StartTime time.Time

	mu      sync.RWMutex
	model   string
	version int64
	pcbid   string

	lastSeq uint16
	hasSeq  bool
	values  map[string]interface{}

	lastActivity atomic.Int64
	inflight     atomic.Int32
	requests     atomic.Int64
	errors       atomic.Int64
	state        atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
}

// New creates an open session.
func New(id, transport, remote string) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		Transport: transport,
		Remote:    remote,
		StartTime: now,
		values:    make(map[string]interface{}),
		done:      make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Advance accepts seq as the next request sequence number. Numbers are
// 16-bit counters compared with serial number arithmetic; a number that is
// not strictly newer than the last accepted one is a SequenceViolation and
// leaves the session unchanged.
func (s *Session) Advance(seq uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasSeq && !newer(seq, s.lastSeq) {
		return errors.New(ErrSequenceViolation, "sequence number replayed or out of order", nil).
			AddContext("session", s.ID).
			AddContext("seq", strconv.Itoa(int(seq))).
			AddContext("last_seq", strconv.Itoa(int(s.lastSeq)))
	}
	s.lastSeq = seq
	s.hasSeq = true
	return nil
}

// LastSequence returns the last accepted sequence number.
func (s *Session) LastSequence() (uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq, s.hasSeq
}

func newer(a, b uint16) bool {
	d := a - b
	return d != 0 && d < 0x8000
}

// Identify records the cabinet behind the connection, from the model and
// srcid of the last routed call.
func (s *Session) Identify(model string, version int64, pcbid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
	s.version = version
	s.pcbid = pcbid
}

// Model returns the model string of the cabinet.
func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Version returns the negotiated model version.
func (s *Session) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// PCBID returns the srcid of the cabinet.
func (s *Session) PCBID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pcbid
}

// Get returns handler state stored under key.
func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores handler state for the lifetime of the connection.
func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Touch records activity.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last recorded activity.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Begin marks a request in flight.
func (s *Session) Begin() {
	s.inflight.Add(1)
	s.requests.Add(1)
	s.Touch()
}

// End marks a request finished. failed counts it as an error.
func (s *Session) End(failed bool) {
	s.inflight.Add(-1)
	if failed {
		s.errors.Add(1)
	}
	s.Touch()
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	return s.inflight.Load() > 0
}

// Requests returns the number of requests seen.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

// Errors returns the number of failed requests.
func (s *Session) Errors() int64 {
	return s.errors.Load()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.done)
		s.state.Store(int32(StateClosed))
	})
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Info is a read-only snapshot for reporting.
type Info struct {
	ID           string    `json:"id"`
	Transport    string    `json:"transport"`
	Remote       string    `json:"remote"`
	Model        string    `json:"model,omitempty"`
	PCBID        string    `json:"pcbid,omitempty"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	Requests     int64     `json:"requests"`
	Errors       int64     `json:"errors"`
	State        string    `json:"state"`
}

// Snapshot returns the reportable fields.
func (s *Session) Snapshot() Info {
	return Info{
		ID:           s.ID,
		Transport:    s.Transport,
		Remote:       s.Remote,
		Model:        s.Model(),
		PCBID:        s.PCBID(),
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity(),
		Requests:     s.Requests(),
		Errors:       s.Errors(),
		State:        s.State().String(),
	}
}
