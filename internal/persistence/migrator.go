package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockID keys the advisory lock held while migrating, so replicas
// that auto-migrate at start-up apply each file once.
const migrationLockID int64 = 0x706f776572 // "power"

// Migrator applies the SQL files of a directory in version order.
// Files are named {version}_{name}.up.sql with an optional .down.sql twin.
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

// MigrationStatus is one migration and its state in the database
type MigrationStatus struct {
	Version  string
	Name     string
	Applied  bool
	Modified bool // applied, but the file changed since
}

type migration struct {
	version  string
	name     string
	up       string
	down     string
	checksum string
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return NewMigratorFS(db, os.DirFS(migrationsDir), logger)
}

// NewMigratorFS reads migrations from any filesystem, e.g. an embed.FS
func NewMigratorFS(db *sql.DB, files fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, files: files, logger: logger}
}

// Up applies every pending migration. Returns the number applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	migrations, err := m.load()
	if err != nil {
		return 0, err
	}

	count := 0
	err = m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			if sum, ok := applied[mig.version]; ok {
				if sum != mig.checksum {
					m.logger.Warn().Str("version", mig.version).Str("name", mig.name).Msg("applied migration was modified")
				}
				continue
			}
			if err := m.apply(ctx, conn, mig.up, `INSERT INTO public.powerperp_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				mig.version, mig.name, mig.checksum); err != nil {
				return fmt.Errorf("migration %s_%s: %w", mig.version, mig.name, err)
			}
			count++
			m.logger.Info().Str("version", mig.version).Str("name", mig.name).Msg("applied migration")
		}
		return nil
	})
	return count, err
}

// Down rolls back the latest steps applied migrations. Returns the number rolled back.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if steps < 1 {
		return 0, fmt.Errorf("steps must be at least 1, got %d", steps)
	}
	migrations, err := m.load()
	if err != nil {
		return 0, err
	}
	byVersion := make(map[string]migration, len(migrations))
	for _, mig := range migrations {
		byVersion[mig.version] = mig
	}

	count := 0
	err = m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		versions := make([]string, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(versions)))

		for _, v := range versions {
			if count == steps {
				break
			}
			mig, ok := byVersion[v]
			if !ok || mig.down == "" {
				return fmt.Errorf("no down migration for version %s", v)
			}
			if err := m.apply(ctx, conn, mig.down, `DELETE FROM public.powerperp_migrations WHERE version = $1`, v); err != nil {
				return fmt.Errorf("roll back %s_%s: %w", mig.version, mig.name, err)
			}
			count++
			m.logger.Info().Str("version", v).Str("name", mig.name).Msg("rolled back migration")
		}
		return nil
	})
	return count, err
}

// Status lists every migration with its applied and modified flags
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := m.load()
	if err != nil {
		return nil, err
	}

	var out []MigrationStatus
	err = m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		out = make([]MigrationStatus, 0, len(migrations))
		for _, mig := range migrations {
			sum, ok := applied[mig.version]
			out = append(out, MigrationStatus{
				Version:  mig.version,
				Name:     mig.name,
				Applied:  ok,
				Modified: ok && sum != mig.checksum,
			})
		}
		return nil
	})
	return out, err
}

// locked runs fn on one connection holding the migration advisory lock
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			m.logger.Warn().Err(err).Msg("release migration lock")
		}
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.powerperp_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// apply runs a migration body and its bookkeeping statement in one transaction
func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, body, record string, args ...interface{}) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM public.powerperp_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var v, sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		applied[v] = sum
	}
	return applied, rows.Err()
}

// CheckMigrations parses a migration directory without touching a database
func CheckMigrations(files fs.FS) error {
	_, err := loadMigrations(files)
	return err
}

func (m *Migrator) load() ([]migration, error) {
	return loadMigrations(m.files)
}

// loadMigrations reads and pairs the migration files, sorted by version
func loadMigrations(files fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, dir, ok := parseMigrationName(e.Name())
		if !ok {
			continue
		}
		content, err := fs.ReadFile(files, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}

		mig, exists := byVersion[version]
		if !exists {
			mig = &migration{version: version, name: name}
			byVersion[version] = mig
		} else if mig.name != name {
			return nil, fmt.Errorf("version %s used by %s and %s", version, mig.name, name)
		}
		if dir == "up" {
			mig.up = string(content)
			sum := sha256.Sum256(content)
			mig.checksum = hex.EncodeToString(sum[:])
		} else {
			mig.down = string(content)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.up == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", mig.version, mig.name)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// parseMigrationName splits "000001_event_log.up.sql" into
// ("000001", "event_log", "up")
func parseMigrationName(filename string) (version, name, direction string, ok bool) {
	var base string
	switch {
	case strings.HasSuffix(filename, ".up.sql"):
		base, direction = strings.TrimSuffix(filename, ".up.sql"), "up"
	case strings.HasSuffix(filename, ".down.sql"):
		base, direction = strings.TrimSuffix(filename, ".down.sql"), "down"
	default:
		return "", "", "", false
	}
	version, name, ok = strings.Cut(base, "_")
	if !ok || version == "" || name == "" {
		return "", "", "", false
	}
	return version, name, direction, true
}
