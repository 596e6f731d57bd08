package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type recordRow struct {
	bun.BaseModel `bun:"table:records"`

	Kind      string    `bun:"kind,pk,type:text"`
	Key       string    `bun:"key,pk,type:text"`
	Data      string    `bun:"data,type:text,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLite stores records in a single SQLite table through bun.
type SQLite struct {
	db     *bun.DB
	path   string
	logger zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and runs
// pending migrations.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New(ErrOpenFailed, "sqlite path is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.New(ErrOpenFailed, "failed to create database directory", err).AddContext("path", path)
	}

	sqldb, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.New(ErrOpenFailed, "failed to open SQLite database", err).AddContext("path", path)
	}
	// one writer; go-sqlite3 serializes anyway and this avoids SQLITE_BUSY
	sqldb.SetMaxOpenConns(1)

	s := &SQLite{
		db:     bun.NewDB(sqldb, sqlitedialect.New()),
		path:   path,
		logger: logger.With().Str("component", "store").Str("driver", "sqlite").Logger(),
	}

	if err := s.migrate(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ReadRecord(ctx context.Context, kind, key string) (Record, error) {
	var row recordRow
	err := s.db.NewSelect().
		Model(&row).
		Where("kind = ?", kind).
		Where(`"key" = ?`, key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, notFound(kind, key)
		}
		return nil, errors.New(ErrQueryFailed, "failed to read record", err).AddContext("kind", kind).AddContext("key", key)
	}
	return Record(row.Data), nil
}

func (s *SQLite) WriteRecord(ctx context.Context, kind, key string, record Record) error {
	if !record.Valid() {
		return errors.New(ErrInvalidRecord, "record is not valid JSON", nil).AddContext("kind", kind).AddContext("key", key)
	}

	ts := now().UTC()
	row := &recordRow{Kind: kind, Key: key, Data: string(record), CreatedAt: ts, UpdatedAt: ts}
	_, err := s.db.NewInsert().
		Model(row).
		On(`CONFLICT (kind, "key") DO UPDATE`).
		Set("data = EXCLUDED.data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return errors.New(ErrQueryFailed, "failed to write record", err).AddContext("kind", kind).AddContext("key", key)
	}
	return nil
}

func (s *SQLite) CreateRecord(ctx context.Context, kind, key string, record Record) error {
	if !record.Valid() {
		return errors.New(ErrInvalidRecord, "record is not valid JSON", nil).AddContext("kind", kind).AddContext("key", key)
	}

	ts := now().UTC()
	row := &recordRow{Kind: kind, Key: key, Data: string(record), CreatedAt: ts, UpdatedAt: ts}
	res, err := s.db.NewInsert().
		Model(row).
		On(`CONFLICT (kind, "key") DO NOTHING`).
		Exec(ctx)
	if err != nil {
		return errors.New(ErrQueryFailed, "failed to create record", err).AddContext("kind", kind).AddContext("key", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.New(ErrQueryFailed, "failed to create record", err).AddContext("kind", kind).AddContext("key", key)
	}
	if n == 0 {
		return exists(kind, key)
	}
	return nil
}

func (s *SQLite) ListRecords(ctx context.Context, kind string, limit int) ([]Entry, error) {
	var rows []recordRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("kind = ?", kind).
		OrderExpr(`updated_at DESC, "key" DESC`)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to list records", err).AddContext("kind", kind)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{Kind: row.Kind, Key: row.Key, Record: Record(row.Data), UpdatedAt: row.UpdatedAt})
	}
	return entries, nil
}

// Path returns the database file.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
