package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/uptrace/bun"
)

// migration is one schema step, applied in version order inside a single
// transaction with the others pending.
type migration interface {
	Version() int
	Name() string
	Up(ctx context.Context, tx bun.Tx) error
}

type migrationRow struct {
	bun.BaseModel `bun:"table:bun_migrations"`

	Version   int    `bun:"version,pk,type:integer"`
	Name      string `bun:"name,type:text,notnull"`
	AppliedAt string `bun:"applied_at,type:text,notnull"`
}

type createRecords struct{}

func (createRecords) Version() int { return 1 }
func (createRecords) Name() string { return "create_records" }

func (createRecords) Up(ctx context.Context, tx bun.Tx) error {
	if _, err := tx.NewCreateTable().
		Model((*recordRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_records_kind_updated ON records(kind, updated_at)`)
	return err
}

func migrations() []migration {
	return []migration{
		createRecords{},
	}
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*migrationRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return errors.New(ErrMigrationFailed, "failed to create migrations table", err)
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}

	var pending []migration
	for _, m := range migrations() {
		if m.Version() > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		s.logger.Debug().Int("version", current).Msg("No pending migrations")
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(ErrMigrationFailed, "failed to begin migration transaction", err)
	}

	applied := time.Now().UTC().Format(time.RFC3339)
	for _, m := range pending {
		if err := m.Up(ctx, tx); err != nil {
			_ = tx.Rollback()
			return errors.New(ErrMigrationFailed, "migration failed", err).
				AddContext("version", itoa(m.Version())).
				AddContext("name", m.Name())
		}
		row := &migrationRow{Version: m.Version(), Name: m.Name(), AppliedAt: applied}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			_ = tx.Rollback()
			return errors.New(ErrMigrationFailed, "failed to record migration", err).AddContext("version", itoa(m.Version()))
		}
		s.logger.Info().Int("version", m.Version()).Str("name", m.Name()).Msg("Applied migration")
	}

	if err := tx.Commit(); err != nil {
		return errors.New(ErrMigrationFailed, "failed to commit migrations", err)
	}
	return nil
}

func (s *SQLite) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.NewSelect().
		Model((*migrationRow)(nil)).
		Column("version").
		Order("version DESC").
		Limit(1).
		Scan(ctx, &version)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.New(ErrMigrationFailed, "failed to read schema version", err)
	}
	return version, nil
}

// SchemaVersion returns the latest applied migration.
func (s *SQLite) SchemaVersion(ctx context.Context) (int, error) {
	return s.currentVersion(ctx)
}
