// Package backup snapshots, rotates and restores the local sqlite database.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	appLog "medtrack/internal/log"
)

const (
	filePrefix      = "medtrack-"
	fileSuffix      = ".db"
	timestampLayout = "20060102-150405"

	// DefaultKeep is used when Manager.Keep is not positive.
	DefaultKeep = 7
)

// Info describes one backup file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Manager handles backup operations for one database file.
type Manager struct {
	dbPath string
	dir    string
	keep   int
	now    func() time.Time
}

// NewManager creates a manager writing to dir and keeping the newest keep
// snapshots.
func NewManager(dbPath, dir string, keep int) *Manager {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Manager{dbPath: dbPath, dir: dir, keep: keep, now: time.Now}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

// Create writes a new snapshot and prunes old ones.
func (m *Manager) Create(ctx context.Context) (Info, error) {
	info, err := m.create(ctx)
	if err != nil {
		return Info{}, err
	}
	if err := m.rotate(); err != nil {
		// The snapshot itself succeeded.
		appLog.Error("backup rotation failed", err, "dir", m.dir)
	}
	return info, nil
}

func (m *Manager) create(ctx context.Context) (Info, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return Info{}, fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := os.Stat(m.dbPath); errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("database does not exist: %s", m.dbPath)
	}

	ts := m.now()
	path, err := m.uniquePath(ts)
	if err != nil {
		return Info{}, err
	}

	src, err := sql.Open("sqlite", "file:"+m.dbPath+"?mode=ro")
	if err != nil {
		return Info{}, fmt.Errorf("failed to open source database: %w", err)
	}
	defer src.Close()

	var count int
	if err := src.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&count); err != nil {
		return Info{}, fmt.Errorf("source database appears to be corrupted: %w", err)
	}
	if _, err := src.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return Info{}, fmt.Errorf("failed to backup database: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	appLog.Info("backup created", "path", path, "bytes", st.Size())
	return Info{Path: path, Timestamp: ts.Truncate(time.Second), Size: st.Size()}, nil
}

func (m *Manager) uniquePath(ts time.Time) (string, error) {
	base := filePrefix + ts.Format(timestampLayout)
	path := filepath.Join(m.dir, base+fileSuffix)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if n > 100 {
			return "", errors.New("failed to generate unique backup filename")
		}
		path = filepath.Join(m.dir, base+"-"+strconv.Itoa(n)+fileSuffix)
	}
}

// List returns the available backups, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []Info{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		seq := 0
		// A collision counter follows the timestamp as "-N".
		if len(stamp) > len(timestampLayout) {
			n, err := strconv.Atoi(strings.TrimPrefix(stamp[len(timestampLayout):], "-"))
			if err != nil {
				continue
			}
			seq = n
			stamp = stamp[:len(timestampLayout)]
		}
		ts, err := time.ParseInLocation(timestampLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:      filepath.Join(m.dir, name),
			Timestamp: ts.Add(time.Duration(seq)),
			Size:      st.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	for i := range backups {
		backups[i].Timestamp = backups[i].Timestamp.Truncate(time.Second)
	}
	return backups, nil
}

func (m *Manager) rotate() error {
	backups, err := m.List()
	if err != nil {
		return err
	}
	for i := m.keep; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].Path, err)
		}
		appLog.Debug("backup pruned", "path", backups[i].Path)
	}
	return nil
}

// Restore replaces the database with the backup at path. The current
// database is snapshotted first (without rotation). The store must not be
// open while restoring.
func (m *Manager) Restore(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup file does not exist: %s", path)
	}
	if err := Verify(ctx, path); err != nil {
		return fmt.Errorf("backup file is corrupted or invalid: %w", err)
	}

	if _, err := os.Stat(m.dbPath); err == nil {
		prev, err := m.create(ctx)
		if err != nil {
			return fmt.Errorf("failed to backup current database before restore: %w", err)
		}
		appLog.Info("snapshot of current database taken before restore", "path", prev.Path)
	}

	tmp := m.dbPath + ".restore.tmp"
	if err := copyFile(path, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to copy backup file: %w", err)
	}
	if err := os.Rename(tmp, m.dbPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to restore database: %w", err)
	}
	// Stale WAL or journal files would be replayed over the restored data.
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(m.dbPath + suffix)
	}
	appLog.Info("database restored", "from", path)
	return nil
}

// Verify checks that path is a sqlite database carrying this schema.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	var version int
	if err := db.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		return fmt.Errorf("unexpected schema version %d", version)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Scheduler runs Create on a cron schedule.
type Scheduler struct {
	c *cron.Cron
}

// Schedule starts periodic backups using a standard 5-field cron spec.
func Schedule(m *Manager, spec string) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := m.Create(ctx); err != nil {
			appLog.Error("scheduled backup failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("backup schedule started", "cron", spec, "dir", m.dir)
	return &Scheduler{c: c}, nil
}

// Stop halts the schedule and waits for a running backup to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
