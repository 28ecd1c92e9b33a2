package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	appLog "medtrack/internal/log"
)

// migration is one numbered schema step read from NNN_name.sql.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrator applies embedded migrations and tracks the applied version in
// schema_version.
type migrator struct {
	db   *sql.DB
	fs   fs.FS
	bind func(string) string
}

func (m *migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`)
	return err
}

// currentVersion returns 0 for a fresh database.
func (m *migrator) currentVersion(ctx context.Context) (int, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure schema_version table: %w", err)
	}

	var version int
	err := m.db.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// files reads the migrations sorted by version.
func (m *migrator) files() ([]migration, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var out []migration
	for _, f := range entries {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}

		parts := strings.SplitN(f.Name(), "_", 2)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", f.Name())
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid version number in filename %s: %w", f.Name(), err)
		}
		if version < 1 {
			return nil, fmt.Errorf("invalid version number in filename %s: version must be at least 1", f.Name())
		}

		content, err := fs.ReadFile(m.fs, f.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", f.Name(), err)
		}

		out = append(out, migration{
			Version: version,
			Name:    strings.TrimSuffix(parts[1], ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

// apply runs every pending migration, each in its own transaction together
// with the version bump. It returns how many were applied.
func (m *migrator) apply(ctx context.Context) (int, error) {
	current, err := m.currentVersion(ctx)
	if err != nil {
		return 0, err
	}

	all, err := m.files()
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	latest := all[len(all)-1].Version
	if current > latest {
		return 0, fmt.Errorf("database schema version (%d) is newer than supported version (%d) - please upgrade the application", current, latest)
	}

	start := time.Now()
	applied := 0
	for _, mig := range all {
		if mig.Version <= current {
			continue
		}
		appLog.Info("applying migration", "version", mig.Version, "name", mig.Name)

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to begin transaction for migration %d: %w", mig.Version, err)
		}
		if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("failed to clear version in migration %d: %w", mig.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.bind("INSERT INTO schema_version (version) VALUES (?)"), mig.Version); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("failed to set version in migration %d: %w", mig.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
		applied++
	}

	if applied > 0 {
		appLog.Info("schema migrated", "from", current, "to", latest, "applied", applied, "took", time.Since(start))
	} else {
		appLog.Debug("schema up to date", "version", current)
	}
	return applied, nil
}
