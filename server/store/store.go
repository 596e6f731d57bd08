// Package store persists the records handlers read and write: machines,
// cards, users and events, each a JSON document addressed by kind and key.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/rs/zerolog"
)

// Store is the persistence boundary passed to every handler.
type Store interface {
	// ReadRecord returns the record or an ErrNotFound error.
	ReadRecord(ctx context.Context, kind, key string) (Record, error)
	// WriteRecord creates or replaces the record.
	WriteRecord(ctx context.Context, kind, key string, record Record) error
	// CreateRecord writes the record only if kind/key is absent, and
	// returns an ErrExists error otherwise.
	CreateRecord(ctx context.Context, kind, key string, record Record) error
	// ListRecords returns up to limit records of kind, most recently
	// updated first. A non-positive limit returns all of them.
	ListRecords(ctx context.Context, kind string, limit int) ([]Entry, error)
	Close() error
}

// Open creates the store selected by cfg, wrapped in a read cache when
// cfg.CacheTTL is positive.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Driver {
	case config.DRIVER_MEMORY:
		s = NewMemory()
	case config.DRIVER_SQLITE:
		s, err = OpenSQLite(ctx, cfg.Path, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New(ErrUnsupportedDriver, "unsupported store driver", nil).AddContext("driver", cfg.Driver)
	}

	if cfg.CacheTTL > 0 {
		s = NewCached(s, cfg.CacheTTL)
	}
	return s, nil
}

// Get reads a record and decodes it into a T.
func Get[T any](ctx context.Context, s Store, kind, key string) (T, error) {
	var v T
	rec, err := s.ReadRecord(ctx, kind, key)
	if err != nil {
		return v, err
	}
	err = rec.Decode(&v)
	return v, err
}

// Put encodes v and writes it.
func Put(ctx context.Context, s Store, kind, key string, v interface{}) error {
	rec, err := NewRecord(v)
	if err != nil {
		return err
	}
	return s.WriteRecord(ctx, kind, key, rec)
}

// Create encodes v and writes it unless the key is taken.
func Create(ctx context.Context, s Store, kind, key string, v interface{}) error {
	rec, err := NewRecord(v)
	if err != nil {
		return err
	}
	return s.CreateRecord(ctx, kind, key, rec)
}

var now = time.Now

func itoa(n int) string {
	return strconv.Itoa(n)
}
