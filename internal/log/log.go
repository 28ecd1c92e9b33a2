package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls where log lines go.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level Level
	// Dir, if set, enables a rotating log file at Dir/medtrack.log in
	// addition to stderr.
	Dir string
}

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, LevelInfo)
)

func newLogger(w io.Writer, l Level) *charmlog.Logger {
	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		Level:           toCharm(l),
		Prefix:          "medtrack",
	})
}

// Init replaces the global logger according to cfg. Log calls made before
// Init go to stderr at info level.
func Init(cfg Config) error {
	var w io.Writer = os.Stderr
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return err
		}
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "medtrack.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	mu.Lock()
	logger = newLogger(w, cfg.Level)
	mu.Unlock()
	return nil
}

// SetOutput redirects the global logger, keeping its level. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	level := logger.GetLevel()
	logger = charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "medtrack",
	})
}

func SetLevel(l Level) {
	mu.RLock()
	defer mu.RUnlock()
	logger.SetLevel(toCharm(l))
}

// ParseLevel maps a config string to a Level, falling back to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s)
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}

func current() *charmlog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func toCharm(l Level) charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}
