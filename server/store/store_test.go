package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	lite, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "oxygen.db"), zerolog.New(io.Discard))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
		"cached": NewCached(NewMemory(), time.Minute),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

// fakeClock makes updated_at ordering deterministic.
func fakeClock(t *testing.T) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	t.Cleanup(func() { now = time.Now })
}

func TestStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadRecord(ctx, KindMachine, "0120")
			require.Error(t, err)
			assert.True(t, IsNotFound(err))

			require.NoError(t, s.WriteRecord(ctx, KindMachine, "0120", Record(`{"pcbid":"0120","port":10011}`)))
			rec, err := s.ReadRecord(ctx, KindMachine, "0120")
			require.NoError(t, err)
			assert.Equal(t, "0120", rec.String("pcbid"))
			assert.Equal(t, int64(10011), rec.Int("port"))

			require.NoError(t, s.WriteRecord(ctx, KindMachine, "0120", Record(`{"pcbid":"0120","port":5730}`)))
			rec, err = s.ReadRecord(ctx, KindMachine, "0120")
			require.NoError(t, err)
			assert.Equal(t, int64(5730), rec.Int("port"))

			// kinds are separate namespaces
			_, err = s.ReadRecord(ctx, KindArcade, "0120")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestStoreCreateRecord(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CreateRecord(ctx, KindCard, "E004010000000001", Record(`{"user_id":"a"}`)))

			err := s.CreateRecord(ctx, KindCard, "E004010000000001", Record(`{"user_id":"b"}`))
			require.Error(t, err)
			assert.True(t, IsExists(err))

			rec, err := s.ReadRecord(ctx, KindCard, "E004010000000001")
			require.NoError(t, err)
			assert.Equal(t, "a", rec.String("user_id"))

			assert.True(t, errors.HasCode(s.CreateRecord(ctx, KindCard, "bad", Record(`{`)), ErrInvalidRecord))
		})
	}
}

func TestStoreRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.WriteRecord(ctx, KindUser, "1", Record(`{"broken"`))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, ErrInvalidRecord))
		})
	}
}

func TestStoreListRecords(t *testing.T) {
	ctx := context.Background()
	fakeClock(t)

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"a", "b", "c"} {
				require.NoError(t, Put(ctx, s, KindEvent, key, map[string]string{"type": "pcbevent", "key": key}))
			}
			require.NoError(t, Put(ctx, s, KindMachine, "x", map[string]string{}))

			entries, err := s.ListRecords(ctx, KindEvent, 0)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, "c", entries[0].Key)
			assert.Equal(t, "a", entries[2].Key)
			assert.Equal(t, KindEvent, entries[0].Kind)
			assert.Equal(t, "c", entries[0].Record.String("key"))

			entries, err = s.ListRecords(ctx, KindEvent, 2)
			require.NoError(t, err)
			assert.Len(t, entries, 2)
		})
	}
}

func TestGetDecodes(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type machine struct {
		PCBID string `json:"pcbid"`
		Port  int    `json:"port"`
	}
	require.NoError(t, Put(ctx, s, KindMachine, "0120", machine{PCBID: "0120", Port: 10011}))

	m, err := Get[machine](ctx, s, KindMachine, "0120")
	require.NoError(t, err)
	assert.Equal(t, machine{PCBID: "0120", Port: 10011}, m)

	_, err = Get[machine](ctx, s, KindMachine, "missing")
	assert.True(t, IsNotFound(err))
}

func TestCachedServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	c := NewCached(inner, time.Minute)
	defer c.Close()

	require.NoError(t, inner.WriteRecord(ctx, KindCard, "E004", Record(`{"user":1}`)))

	_, err := c.ReadRecord(ctx, KindCard, "E004")
	require.NoError(t, err)
	_, err = c.ReadRecord(ctx, KindCard, "E004")
	require.NoError(t, err)

	// a write behind the cache's back is not seen until expiry
	require.NoError(t, inner.WriteRecord(ctx, KindCard, "E004", Record(`{"user":2}`)))
	rec, err := c.ReadRecord(ctx, KindCard, "E004")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Int("user"))

	// writes through the cache are
	require.NoError(t, c.WriteRecord(ctx, KindCard, "E004", Record(`{"user":3}`)))
	rec, err = c.ReadRecord(ctx, KindCard, "E004")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Int("user"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, 1, stats.Entries)
}

func TestCachedDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	c := NewCached(inner, time.Minute)
	defer c.Close()

	_, err := c.ReadRecord(ctx, KindUser, "7")
	assert.True(t, IsNotFound(err))

	require.NoError(t, inner.WriteRecord(ctx, KindUser, "7", Record(`{}`)))
	_, err = c.ReadRecord(ctx, KindUser, "7")
	assert.NoError(t, err)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "oxygen.db")

	s, err := OpenSQLite(ctx, path, zerolog.New(io.Discard))
	require.NoError(t, err)
	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	require.NoError(t, s.WriteRecord(ctx, KindArcade, "1", Record(`{"paseli_enabled":false}`)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.ReadRecord(ctx, KindArcade, "1")
	require.NoError(t, err)
	assert.True(t, rec.Exists("paseli_enabled"))
	assert.False(t, rec.Bool("paseli_enabled"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	s, err := Open(ctx, config.DatabaseConfig{Driver: config.DRIVER_MEMORY}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	s.Close()

	s, err = Open(ctx, config.DatabaseConfig{Driver: config.DRIVER_MEMORY, CacheTTL: time.Second}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, s)
	s.Close()

	s, err = Open(ctx, config.DatabaseConfig{Driver: config.DRIVER_SQLITE, Path: filepath.Join(t.TempDir(), "o.db")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	s.Close()

	_, err = Open(ctx, config.DatabaseConfig{Driver: "postgres"}, logger)
	assert.True(t, errors.HasCode(err, ErrUnsupportedDriver))
}
