package session

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance(t *testing.T) {
	s := New("stream-1", "stream", "127.0.0.1:1")

	require.NoError(t, s.Advance(1))
	require.NoError(t, s.Advance(2))

	err := s.Advance(2)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrSequenceViolation))

	err = s.Advance(1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrSequenceViolation))

	require.NoError(t, s.Advance(3))
	last, ok := s.LastSequence()
	require.True(t, ok)
	assert.Equal(t, uint16(3), last)
}

func TestAdvanceFirstNumberIsFree(t *testing.T) {
	s := New("stream-1", "stream", "")
	require.NoError(t, s.Advance(40000))
	require.NoError(t, s.Advance(40001))
}

func TestAdvanceWrapsAround(t *testing.T) {
	s := New("stream-1", "stream", "")
	require.NoError(t, s.Advance(0xfffe))
	require.NoError(t, s.Advance(0xffff))
	require.NoError(t, s.Advance(0))
	require.NoError(t, s.Advance(1))

	err := s.Advance(0xffff)
	assert.True(t, errors.HasCode(err, ErrSequenceViolation))
}

func TestSessionState(t *testing.T) {
	s := New("http-1", "http", "10.0.0.2:5000")
	assert.Equal(t, StateOpen, s.State())
	assert.False(t, s.Closed())

	s.Identify("LDJ:J:A:A:2020092900", 2020092900, "0120")
	s.Set("profile", 7)
	v, ok := s.Get("profile")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	s.Begin()
	assert.True(t, s.Busy())
	s.End(true)
	assert.False(t, s.Busy())

	info := s.Snapshot()
	assert.Equal(t, "LDJ:J:A:A:2020092900", info.Model)
	assert.Equal(t, "0120", info.PCBID)
	assert.Equal(t, int64(1), info.Requests)
	assert.Equal(t, int64(1), info.Errors)

	s.Close()
	s.Close()
	assert.True(t, s.Closed())
	assert.Equal(t, StateClosed, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSessionValuesConcurrentAccess(t *testing.T) {
	s := New("stream-1", "stream", "10.0.0.2:5000")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Set("key", w)
				s.Get("key")
				s.Identify("KFC:J:A:A:2021042800", 2021042800, "0120")
				s.LastSequence()
			}
		}(w)
	}
	require.NoError(t, s.Advance(1))
	wg.Wait()

	_, ok := s.Get("key")
	assert.True(t, ok)
	seq, ok := s.LastSequence()
	assert.True(t, ok)
	assert.Equal(t, uint16(1), seq)
}

func newTestManager(max int, idle time.Duration) *Manager {
	return NewManager(max, idle, 0, zerolog.New(io.Discard))
}

func TestManagerOpenAndRemove(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Close()

	s, err := m.Open("stream", "127.0.0.1:4000")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.ID, "stream-"))

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	m.Remove(s.ID)
	assert.True(t, s.Closed())
	_, ok = m.Get(s.ID)
	assert.False(t, ok)

	m.Remove(s.ID)
}

func TestManagerCapacity(t *testing.T) {
	m := newTestManager(2, time.Minute)
	defer m.Close()

	_, err := m.Open("stream", "a")
	require.NoError(t, err)
	_, err = m.Open("stream", "b")
	require.NoError(t, err)

	_, err = m.Open("stream", "c")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrCapacity))

	stats := m.Stats()
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, int64(2), stats.Peak)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, 2, stats.ByTransport["stream"])
}

func TestManagerOpenKeyed(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Close()

	a, err := m.OpenKeyed("10.0.0.2:5000", "http", "10.0.0.2:5000")
	require.NoError(t, err)
	b, err := m.OpenKeyed("10.0.0.2:5000", "http", "10.0.0.2:5000")
	require.NoError(t, err)
	assert.Same(t, a, b)

	found, ok := m.Lookup("10.0.0.2:5000")
	require.True(t, ok)
	assert.Same(t, a, found)

	m.RemoveKey("10.0.0.2:5000")
	assert.True(t, a.Closed())
	_, ok = m.Lookup("10.0.0.2:5000")
	assert.False(t, ok)

	c, err := m.OpenKeyed("10.0.0.2:5000", "http", "10.0.0.2:5000")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestManagerExpireIdle(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Close()

	idle, err := m.Open("stream", "idle")
	require.NoError(t, err)
	busy, err := m.Open("stream", "busy")
	require.NoError(t, err)
	busy.Begin()

	assert.Equal(t, 0, m.ExpireIdle(time.Now()))
	assert.Equal(t, 1, m.ExpireIdle(time.Now().Add(2*time.Minute)))

	assert.True(t, idle.Closed())
	assert.False(t, busy.Closed())
	assert.Equal(t, int64(1), m.Stats().Expired)

	busy.End(false)
	assert.Equal(t, 1, m.ExpireIdle(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, m.Stats().Active)
}

func TestManagerSessionsAndClose(t *testing.T) {
	m := newTestManager(10, time.Minute)

	first, err := m.Open("stream", "a")
	require.NoError(t, err)
	second, err := m.Open("http", "b")
	require.NoError(t, err)

	infos := m.Sessions()
	require.Len(t, infos, 2)
	ids := []string{infos[0].ID, infos[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	require.NoError(t, m.Close())
	assert.True(t, first.Closed())
	assert.True(t, second.Closed())
	assert.Empty(t, m.Sessions())
	require.NoError(t, m.Close())
}
