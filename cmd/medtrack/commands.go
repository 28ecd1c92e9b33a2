package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medtrack/internal/backup"
	"medtrack/internal/config"
	appLog "medtrack/internal/log"
	"medtrack/internal/service"
	"medtrack/internal/web"
)

type ServeCmd struct {
	Listen string `help:"HTTP listen address (overrides config if set)."`
}

func (c *ServeCmd) Run(app *appContext) error {
	cfg := app.cfg
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"driver", cfg.Storage.Driver,
		"users", len(cfg.Users),
		"backup_cron", cfg.Backup.Cron,
	)

	return withService(app, func(svc *service.Service) error {
		if cfg.Storage.Driver == config.DriverSQLite && cfg.Backup.Cron != "" {
			sched, err := backup.Schedule(backupManager(cfg), cfg.Backup.Cron)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				sched.Stop(ctx)
			}()
		}

		err := web.NewServer(cfg, svc).Run(app.ctx)
		appLog.Info("medtrack exiting")
		return err
	})
}

type ExportCmd struct {
	User   string `help:"Acting user id." default:"local"`
	Case   string `help:"Case id." required:""`
	Entry  string `help:"Entry id." required:""`
	Output string `short:"o" help:"Output file; defaults to a name derived from the title, '-' writes to stdout." type:"path"`
}

func (c *ExportCmd) Run(app *appContext) error {
	return withService(app, func(svc *service.Service) error {
		p, err := svc.ExportEntry(app.ctx, c.User, c.Case, c.Entry)
		if err != nil {
			return err
		}
		if c.Output == "-" {
			_, err := os.Stdout.Write(p.Body)
			return err
		}
		out := c.Output
		if out == "" {
			out = p.FileName
		}
		if err := os.WriteFile(out, p.Body, 0o644); err != nil {
			return err
		}
		fmt.Printf("✓ Exported %s\n", out)
		return nil
	})
}

type ImportCmd struct {
	User string `help:"Acting user id." default:"local"`
	Case string `help:"Case id." required:""`
	File string `help:"Calendar file to import." type:"existingfile" xor:"source"`
	URL  string `help:"Calendar URL (http, https or webcal)." name:"url" xor:"source"`
}

func (c *ImportCmd) Run(app *appContext) error {
	if c.File == "" && c.URL == "" {
		return fmt.Errorf("one of --file or --url is required")
	}
	return withService(app, func(svc *service.Service) error {
		var (
			res service.ImportResult
			err error
		)
		if c.File != "" {
			var body []byte
			body, err = os.ReadFile(c.File)
			if err != nil {
				return err
			}
			res, err = svc.Import(app.ctx, c.User, c.Case, body)
		} else {
			res, err = svc.ImportURL(app.ctx, c.User, c.Case, c.URL)
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ Imported: %d created, %d updated, %d skipped\n", res.Created, res.Updated, res.Skipped)
		return nil
	})
}

type SummaryCmd struct {
	User string `help:"Acting user id." default:"local"`
	Case string `help:"Case id." required:""`
}

func (c *SummaryCmd) Run(app *appContext) error {
	return withService(app, func(svc *service.Service) error {
		cs, err := svc.GetCase(app.ctx, c.User, c.Case)
		if err != nil {
			return err
		}
		sum, err := svc.Summary(app.ctx, c.User, c.Case)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n\n", cs.Name)
		for _, s := range sum {
			fmt.Printf("  %-16s %3d done  %3d planned\n", s.Type, s.Done, s.Planned)
		}
		return nil
	})
}

func backupManager(cfg *config.Config) *backup.Manager {
	return backup.NewManager(cfg.Storage.SQLitePath, cfg.Backup.Dir, cfg.Backup.Keep)
}

type BackupCreateCmd struct{}

func (c *BackupCreateCmd) Run(app *appContext) error {
	if app.cfg.Storage.Driver != config.DriverSQLite {
		return errNotSQLite
	}
	info, err := backupManager(app.cfg).Create(app.ctx)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Printf("✓ Backup created: %s\n", filepath.Base(info.Path))
	return nil
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(app *appContext) error {
	if app.cfg.Storage.Driver != config.DriverSQLite {
		return errNotSQLite
	}
	mgr := backupManager(app.cfg)
	backups, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		fmt.Println("No backups found.")
		fmt.Printf("Backups are stored in: %s\n", mgr.Dir())
		return nil
	}
	fmt.Printf("Available backups (%d total, keeping most recent %d):\n\n", len(backups), app.cfg.Backup.Keep)
	for _, b := range backups {
		fmt.Printf("  %s  %s  (%.1f KB)\n", b.Timestamp.Format("2006-01-02 15:04:05"), filepath.Base(b.Path), float64(b.Size)/1024.0)
	}
	return nil
}

type BackupRestoreCmd struct {
	BackupFile string `arg:"" help:"Path or filename of the backup to restore."`
	Yes        bool   `short:"y" help:"Do not ask for confirmation."`
}

func (c *BackupRestoreCmd) Run(app *appContext) error {
	if app.cfg.Storage.Driver != config.DriverSQLite {
		return errNotSQLite
	}
	mgr := backupManager(app.cfg)

	path := c.BackupFile
	if !filepath.IsAbs(path) {
		if candidate := filepath.Join(mgr.Dir(), path); fileExists(candidate) {
			path = candidate
		}
	}
	if !fileExists(path) {
		return fmt.Errorf("backup file not found: %s", c.BackupFile)
	}

	if !c.Yes {
		fmt.Printf("Restore %s over %s? The server must be stopped. [y/N] ", filepath.Base(path), app.cfg.Storage.SQLitePath)
		var answer string
		fmt.Scanln(&answer)
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	if err := mgr.Restore(app.ctx, path); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Printf("✓ Restored from %s\n", filepath.Base(path))
	return nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
