package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// migrationLockID keys the advisory lock that serializes migrators, so two
// replicas booting together do not race on the schema.
const migrationLockID = 0x636f766572 // "cover"

// Migrator applies {version}_{name}.up.sql / .down.sql files from a
// directory, recording applied versions in public.schema_migrations.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// MigrationStatus is one migration file and whether it has been applied.
type MigrationStatus struct {
	Version   string
	File      string
	Applied   bool
	AppliedAt time.Time
}

// Up applies every pending migration in version order, each in its own
// transaction.
func (m *Migrator) Up(ctx context.Context) error {
	plan, err := m.Status(ctx)
	if err != nil {
		return err
	}
	pending := 0
	for _, mig := range plan {
		if mig.Applied {
			continue
		}
		pending++
		err := m.apply(ctx, mig.File, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)
				 ON CONFLICT (version) DO NOTHING`,
				mig.Version, mig.File)
			return err
		})
		if err != nil {
			return err
		}
		m.logger.Info().Str("version", mig.Version).Str("file", mig.File).Msg("applied migration")
	}
	if pending == 0 {
		m.logger.Debug().Int("migrations", len(plan)).Msg("schema up to date")
	}
	return nil
}

// Down reverts the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	plan, err := m.Status(ctx)
	if err != nil {
		return err
	}
	var last *MigrationStatus
	for i := range plan {
		if plan[i].Applied {
			last = &plan[i]
		}
	}
	if last == nil {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}

	downFile := strings.TrimSuffix(last.File, ".up.sql") + ".down.sql"
	err = m.apply(ctx, downFile, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, last.Version)
		return err
	})
	if err != nil {
		return err
	}
	m.logger.Info().Str("version", last.Version).Str("file", downFile).Msg("rolled back migration")
	return nil
}

// Status lists the up-migrations on disk in version order with their applied
// state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}

	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations in %s: %w", m.migrationsDir, err)
	}
	var plan []MigrationStatus
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		v := extractVersion(e.Name())
		at, ok := applied[v]
		plan = append(plan, MigrationStatus{Version: v, File: e.Name(), Applied: ok, AppliedAt: at})
	}
	slices.SortFunc(plan, func(a, b MigrationStatus) int { return strings.Compare(a.Version, b.Version) })
	return plan, nil
}

// apply runs one script and its bookkeeping atomically under the migration
// lock.
func (m *Migrator) apply(ctx context.Context, file string, record func(*sql.Tx) error) error {
	script, err := os.ReadFile(filepath.Join(m.migrationsDir, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("lock for %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

func (m *Migrator) appliedAt(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var (
			v  string
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		applied[v] = at
	}
	return applied, rows.Err()
}

// extractVersion returns the prefix before the first underscore:
// "000001_event_log.up.sql" is version "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
