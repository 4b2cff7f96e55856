// Package config loads kvstore settings and resolves per-namespace paths.
//
// Settings come from the first YAML file found among $KVSTORE_CONFIG,
// kvstore.yaml and config/kvstore.yaml; missing fields keep their defaults.
// The resolved values are passed explicitly to the components that need
// them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/overhuman/kvstore/internal/observability"
)

// Environment variables consulted by Load and Resolve.
const (
	EnvConfig     = "KVSTORE_CONFIG"
	EnvNamespace  = "KVSTORE_NAMESPACE"
	EnvDataFile   = "KVSTORE_DATA_FILE"
	EnvRecentFile = "KVSTORE_RECENT_FILE"
	EnvHome       = "KVSTORE_HOME"
)

// DefaultPaths are tried in order when $KVSTORE_CONFIG is unset.
var DefaultPaths = []string{"kvstore.yaml", "config/kvstore.yaml"}

// Settings is the whole configuration file.
type Settings struct {
	Logging LoggingSettings `yaml:"logging"`
	History HistorySettings `yaml:"history"`
	Server  ServerSettings  `yaml:"server"`
}

// LoggingSettings controls the process logger.
type LoggingSettings struct {
	Level string `yaml:"level"` // trace|debug|info|warn|error
	File  string `yaml:"file"`  // empty means stderr
}

// HistorySettings controls the recent-access log.
type HistorySettings struct {
	File  string `yaml:"file"`
	Limit int    `yaml:"limit"` // 0 disables the log
}

// ServerSettings controls `kvstore serve`.
type ServerSettings struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepGrace    time.Duration `yaml:"sweep_grace"`
	IOTimeout     time.Duration `yaml:"io_timeout"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Logging: LoggingSettings{Level: "info"},
		History: HistorySettings{Limit: 25},
		Server: ServerSettings{
			Host:          "127.0.0.1",
			Port:          7878,
			MaxBodyBytes:  128 * 1024,
			SweepInterval: time.Hour,
			SweepGrace:    time.Hour,
			IOTimeout:     30 * time.Second,
		},
	}
}

// Load reads the first settings file that exists. It returns the defaults
// and a non-nil error when that file cannot be parsed; callers report the
// error and carry on.
func Load() (Settings, string, error) {
	candidates := DefaultPaths
	if explicit := os.Getenv(EnvConfig); explicit != "" {
		candidates = append([]string{explicit}, DefaultPaths...)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := LoadFile(path)
		if err != nil {
			return Default(), path, err
		}
		return s, path, nil
	}
	return Default(), "", nil
}

// LoadFile parses one YAML settings file over the defaults.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read settings %s: %w", path, err)
	}

	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return Default(), fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

func (s *Settings) validate() error {
	if _, ok := observability.ParseLevel(s.Logging.Level); !ok {
		return fmt.Errorf("unknown logging level %q", s.Logging.Level)
	}
	if s.History.Limit < 0 {
		return errors.New("history.limit must not be negative")
	}
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", s.Server.Port)
	}
	if s.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	if s.Server.SweepInterval < 0 || s.Server.SweepGrace < 0 || s.Server.IOTimeout < 0 {
		return errors.New("server durations must not be negative")
	}
	return nil
}

// SlogLevel returns the configured slog level (info when unset).
func (l LoggingSettings) SlogLevel() slog.Level {
	level, _ := observability.ParseLevel(l.Level)
	return level
}

// Addr joins host and port.
func (s ServerSettings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// OpenLogFile opens the configured log file for appending. It returns nil
// when logging goes to stderr.
func (l LoggingSettings) OpenLogFile() (*os.File, error) {
	if l.File == "" {
		return nil, nil
	}
	f, err := os.OpenFile(l.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open log file %s: parent directory does not exist", l.File)
		}
		return nil, fmt.Errorf("open log file %s: %w", l.File, err)
	}
	return f, nil
}
