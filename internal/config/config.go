package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "America/Santiago"
	defaultDataDir     = "data"
	defaultMongoDB     = "medtrack"
	defaultDurationMin = 30
	defaultUIDDomain   = "medtrack"
	defaultProdID      = "-//medtrack//ES"
	defaultHorizonDays = 90
	defaultMaxSeries   = 500
	defaultMaxUploadMB = 20
	defaultBackupCron  = "0 3 * * *"
	defaultBackupKeep  = 7
	defaultLogLevel    = "info"
)

// StorageConfig selects the backing store. The driver is read once at
// startup; switching requires a restart.
type StorageConfig struct {
	// Driver is one of "sqlite" (default, a file on this device),
	// "postgres" or "mongo" (shared by several devices).
	Driver        string `yaml:"driver" json:"driver"`
	SQLitePath    string `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn,omitempty" json:"postgres_dsn,omitempty"`
	MongoURI      string `yaml:"mongo_uri,omitempty" json:"mongo_uri,omitempty"`
	MongoDatabase string `yaml:"mongo_database,omitempty" json:"mongo_database,omitempty"`
}

// CalendarConfig holds the .ics export and import settings.
type CalendarConfig struct {
	// DefaultDurationMinutes is used for entries without an end.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`

	// AlarmsMinutesBefore emits one reminder per value. Leaving it out
	// gives one day and one hour; an explicit empty list disables alarms.
	AlarmsMinutesBefore []int `yaml:"alarms_minutes_before" json:"alarms_minutes_before"`

	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`
	ProdID    string `yaml:"prodid" json:"prodid"`

	// SeriesHorizonDays bounds open-ended dose schedules.
	SeriesHorizonDays    int `yaml:"series_horizon_days" json:"series_horizon_days"`
	SeriesMaxOccurrences int `yaml:"series_max_occurrences" json:"series_max_occurrences"`

	// CacheDir keeps ETag metadata and bodies of imported remote calendars.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// AttachmentsConfig controls where uploaded files live.
type AttachmentsConfig struct {
	Dir   string `yaml:"dir" json:"dir"`
	MaxMB int    `yaml:"max_mb" json:"max_mb"`
}

// BackupConfig schedules local sqlite snapshots. Ignored for shared stores.
type BackupConfig struct {
	Dir string `yaml:"dir" json:"dir"`
	// Cron is a standard 5-field schedule; empty disables scheduled backups.
	Cron string `yaml:"cron" json:"cron"`
	Keep int    `yaml:"keep" json:"keep"`
}

// UserConfig is one HTTP Basic Auth account. The username doubles as the
// user id recorded on cases and entries.
type UserConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	// Dir enables a rotating log file; empty logs to stderr only.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone offset-bearing date-times are converted
	// into before being treated as wall clock times.
	Timezone string `yaml:"timezone" json:"timezone"`

	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Calendar    CalendarConfig    `yaml:"calendar" json:"calendar"`
	Attachments AttachmentsConfig `yaml:"attachments" json:"attachments"`
	Backup      BackupConfig      `yaml:"backup" json:"backup"`

	// Users enables HTTP Basic Authentication on every endpoint except
	// /health. With no users the API runs as the single user "local".
	Users []UserConfig `yaml:"users,omitempty" json:"users,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(defaultDataDir, "medtrack.db")
	}
	if c.Storage.MongoDatabase == "" {
		c.Storage.MongoDatabase = defaultMongoDB
	}

	if c.Calendar.DefaultDurationMinutes <= 0 {
		c.Calendar.DefaultDurationMinutes = defaultDurationMin
	}
	if c.Calendar.AlarmsMinutesBefore == nil {
		c.Calendar.AlarmsMinutesBefore = []int{1440, 60}
	}
	if c.Calendar.UIDDomain == "" {
		c.Calendar.UIDDomain = defaultUIDDomain
	}
	if c.Calendar.ProdID == "" {
		c.Calendar.ProdID = defaultProdID
	}
	if c.Calendar.SeriesHorizonDays <= 0 {
		c.Calendar.SeriesHorizonDays = defaultHorizonDays
	}
	if c.Calendar.SeriesMaxOccurrences <= 0 {
		c.Calendar.SeriesMaxOccurrences = defaultMaxSeries
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = filepath.Join(defaultDataDir, "cache")
	}

	if c.Attachments.Dir == "" {
		c.Attachments.Dir = filepath.Join(defaultDataDir, "attachments")
	}
	if c.Attachments.MaxMB <= 0 {
		c.Attachments.MaxMB = defaultMaxUploadMB
	}

	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(defaultDataDir, "backups")
	}
	if c.Backup.Keep <= 0 {
		c.Backup.Keep = defaultBackupKeep
	}

	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var problems []string

	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage.postgres_dsn is required for the postgres driver")
		}
	case DriverMongo:
		if c.Storage.MongoURI == "" {
			problems = append(problems, "storage.mongo_uri is required for the mongo driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not one of sqlite, postgres, mongo", c.Storage.Driver))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}

	if c.Backup.Cron != "" {
		if _, err := cron.ParseStandard(c.Backup.Cron); err != nil {
			problems = append(problems, fmt.Sprintf("backup.cron %q: %v", c.Backup.Cron, err))
		}
	}

	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.Username == "" || u.Password == "" {
			problems = append(problems, fmt.Sprintf("users[%d] needs a username and a password", i))
			continue
		}
		if seen[u.Username] {
			problems = append(problems, fmt.Sprintf("users[%d]: duplicate username %q", i, u.Username))
		}
		seen[u.Username] = true
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Location loads the configured display timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DefaultDuration is the export duration for entries without an end.
func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.Calendar.DefaultDurationMinutes) * time.Minute
}

// MaxUploadBytes is the attachment size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Attachments.MaxMB) << 20
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	key string
	set func(c *Config, v string)
}{
	{"MEDTRACK_LISTEN", func(c *Config, v string) { c.Listen = v }},
	{"MEDTRACK_TIMEZONE", func(c *Config, v string) { c.Timezone = v }},
	{"MEDTRACK_STORAGE_DRIVER", func(c *Config, v string) { c.Storage.Driver = strings.ToLower(v) }},
	{"MEDTRACK_SQLITE_PATH", func(c *Config, v string) { c.Storage.SQLitePath = v }},
	{"MEDTRACK_POSTGRES_DSN", func(c *Config, v string) { c.Storage.PostgresDSN = v }},
	{"MEDTRACK_MONGO_URI", func(c *Config, v string) { c.Storage.MongoURI = v }},
	{"MEDTRACK_MONGO_DATABASE", func(c *Config, v string) { c.Storage.MongoDatabase = v }},
	{"MEDTRACK_LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
}

// ApplyEnv overrides fields from MEDTRACK_* environment variables.
func (c *Config) ApplyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok && strings.TrimSpace(v) != "" {
			o.set(c, strings.TrimSpace(v))
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is read and defaults are filled in.
//
// Environment overrides are applied last and never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			cfg.ApplyEnv()
			cfg.Normalize()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyEnv()
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file in the same directory,
// then rename) with 0600 permissions. The parent directory is created with
// 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".medtrack-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
