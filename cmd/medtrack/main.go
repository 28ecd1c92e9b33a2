package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/alecthomas/kong"

	"medtrack/internal/attach"
	"medtrack/internal/config"
	"medtrack/internal/ics"
	appLog "medtrack/internal/log"
	"medtrack/internal/service"
	"medtrack/internal/storage"
	"medtrack/internal/storage/mongostore"
	"medtrack/internal/storage/sqlstore"
)

var CLI struct {
	Version kong.VersionFlag
	Config  string `help:"Config file path." type:"path" default:"medtrack.yaml" env:"MEDTRACK_CONFIG"`
	EnvFile string `help:"Dotenv file loaded before the config." name:"env-file" default:".env"`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API." default:"1"`
	Export  ExportCmd  `cmd:"" help:"Write one entry as an .ics file."`
	Import  ImportCmd  `cmd:"" help:"Import an .ics file or URL into a case."`
	Summary SummaryCmd `cmd:"" help:"Print done/planned counts per entry type."`
	Backup  struct {
		Create  BackupCreateCmd  `cmd:"" help:"Snapshot the sqlite database now."`
		List    BackupListCmd    `cmd:"" help:"List snapshots, newest first."`
		Restore BackupRestoreCmd `cmd:"" help:"Replace the database with a snapshot."`
	} `cmd:"" help:"Manage sqlite snapshots."`
}

// appContext is handed to every command's Run method.
type appContext struct {
	ctx context.Context
	cfg *config.Config
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("medtrack"),
		kong.Description("Personal and family medical tracker"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	if err := config.LoadDotEnv(CLI.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", CLI.Config)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", CLI.Config)
		os.Exit(1)
	}
	if err := appLog.Init(appLog.Config{Level: appLog.ParseLevel(cfg.Log.Level), Dir: cfg.Log.Dir}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = kctx.Run(&appContext{ctx: ctx, cfg: cfg})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// openStore opens the configured backend. The driver is fixed for the life
// of the process.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	case config.DriverPostgres:
		return sqlstore.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
	case config.DriverMongo:
		return mongostore.Open(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newService wires the store, attachments and calendar settings.
func newService(cfg *config.Config, store storage.Store) (*service.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	opts := ics.DefaultOptions()
	opts.DefaultDuration = cfg.DefaultDuration()
	opts.AlarmsMinutesBefore = cfg.Calendar.AlarmsMinutesBefore
	opts.UIDDomain = cfg.Calendar.UIDDomain
	opts.ProdID = cfg.Calendar.ProdID
	opts.Location = loc

	return service.New(store, attach.New(cfg.Attachments.Dir), ics.NewFormatter(opts), loc,
		service.WithFetcher(ics.NewFetcher(cfg.Calendar.CacheDir)),
		service.WithSeries(ics.SeriesConfig{
			HorizonDays:    cfg.Calendar.SeriesHorizonDays,
			MaxOccurrences: cfg.Calendar.SeriesMaxOccurrences,
		}),
		service.WithUIDDomain(cfg.Calendar.UIDDomain),
		service.WithMaxUpload(cfg.MaxUploadBytes()),
	), nil
}

// withService opens the store, runs fn and closes the store.
func withService(app *appContext, fn func(*service.Service) error) (err error) {
	store, err := openStore(app.ctx, app.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	svc, err := newService(app.cfg, store)
	if err != nil {
		return err
	}
	return fn(svc)
}

var errNotSQLite = errors.New("backups are only available for the sqlite driver")
