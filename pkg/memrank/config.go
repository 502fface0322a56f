package memrank

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dan-solli/memrank/pkg/rank"
	"github.com/dan-solli/memrank/pkg/store"
	"github.com/dan-solli/memrank/pkg/timeline"
)

// ErrInvalidConfig wraps every configuration problem reported by Validate.
var ErrInvalidConfig = errors.New("memrank: invalid config")

// Storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config is the full configuration of a Memory.
type Config struct {
	Timeline timeline.Config `yaml:"timeline"`
	Rank     rank.Config     `yaml:"rank"`
	Storage  StorageConfig   `yaml:"storage"`
	Log      LogConfig       `yaml:"log"`
	Trace    TraceConfig     `yaml:"trace"`
}

// StorageConfig selects where Save and Load go. An empty Path disables persistence.
type StorageConfig struct {
	// Backend is "json" (a directory of documents) or "sqlite" (default: json).
	Backend string `yaml:"backend"`

	// Path is the directory for json or the database file for sqlite.
	Path string `yaml:"path"`

	// Driver picks the SQLite driver: "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver"`
}

// LogConfig is consumed by SetupLogger.
type LogConfig struct {
	// Level is debug, info, warn or error (default: info).
	Level string `yaml:"level"`

	// File receives JSON logs in addition to the text logs on stderr.
	File string `yaml:"file"`
}

// TraceConfig configures the file exporter New builds when no exporter is passed.
// Zero sizes fall back to the exporter defaults.
type TraceConfig struct {
	// Path of the JSONL trace file. Empty disables trace export.
	Path            string `yaml:"path"`
	MaxSizeBytes    int64  `yaml:"max_size_bytes"`
	MaxRotatedFiles int    `yaml:"max_rotated_files"`
}

// DefaultConfig returns a Config with the default values and persistence disabled.
func DefaultConfig() Config {
	return Config{
		Timeline: timeline.DefaultConfig(),
		Rank:     rank.DefaultConfig(),
		Storage: StorageConfig{
			Backend: BackendJSON,
			Driver:  store.DriverPure,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Timeline.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Rank.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend))
	}
	switch c.Storage.Driver {
	case "", store.DriverPure, store.DriverCGO:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown sqlite driver %q", ErrInvalidConfig, c.Storage.Driver))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Trace.MaxSizeBytes < 0 || c.Trace.MaxRotatedFiles < 0 {
		errs = append(errs, fmt.Errorf("%w: trace rotation limits must not be negative", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a config level name to a slog.Level. The empty string is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, name)
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// LoadConfig reads a YAML file, expands environment variables and overlays
// the result on DefaultConfig. The returned Config has been validated.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return ParseConfig(raw)
}

// ParseConfig is LoadConfig for YAML already in memory.
func ParseConfig(raw []byte) (Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: expanding variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing yaml: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if subs[2] != nil {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("%w: unresolved variable %s", ErrInvalidConfig, name))
		return match
	})

	return result, errors.Join(errs...)
}
