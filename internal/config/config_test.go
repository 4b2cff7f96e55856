package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overhuman/kvstore/internal/kverr"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, 25, s.History.Limit)
	assert.Equal(t, "127.0.0.1:7878", s.Server.Addr())
	assert.Equal(t, int64(131072), s.Server.MaxBodyBytes)
	assert.Equal(t, time.Hour, s.Server.SweepInterval)
	assert.Equal(t, time.Hour, s.Server.SweepGrace)
	assert.Equal(t, slog.LevelInfo, s.Logging.SlogLevel())
}

func TestLoadFile_PartialOverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvstore.yaml")
	writeFile(t, path, `
logging:
  level: debug
history:
  limit: 5
server:
  port: 9000
  sweep_interval: 10m
`)

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, s.Logging.SlogLevel())
	assert.Equal(t, 5, s.History.Limit)
	assert.Equal(t, 9000, s.Server.Port)
	assert.Equal(t, 10*time.Minute, s.Server.SweepInterval)
	assert.Equal(t, "127.0.0.1", s.Server.Host)
	assert.Equal(t, time.Hour, s.Server.SweepGrace)
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "logging: [unterminated")
	s, err := LoadFile(bad)
	require.Error(t, err)
	assert.Equal(t, Default(), s)

	level := filepath.Join(dir, "level.yaml")
	writeFile(t, level, "logging:\n  level: loud\n")
	_, err = LoadFile(level)
	require.ErrorContains(t, err, "unknown logging level")

	limit := filepath.Join(dir, "limit.yaml")
	writeFile(t, limit, "history:\n  limit: -1\n")
	_, err = LoadFile(limit)
	require.Error(t, err)
}

func TestLoad_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "history:\n  limit: 3\n")
	t.Setenv(EnvConfig, path)

	s, used, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, 3, s.History.Limit)
}

func TestLoad_NothingFound(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvConfig, "")

	s, used, err := Load()
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, Default(), s)
}

func TestLoad_FallsBackToConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvConfig, "")
	writeFile(t, filepath.Join(dir, "config", "kvstore.yaml"), "server:\n  host: 0.0.0.0\n")

	s, used, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("config", "kvstore.yaml"), used)
	assert.Equal(t, "0.0.0.0", s.Server.Host)
}

func TestOpenLogFile(t *testing.T) {
	f, err := LoggingSettings{}.OpenLogFile()
	require.NoError(t, err)
	assert.Nil(t, f)

	path := filepath.Join(t.TempDir(), "kvstore.log")
	f, err = LoggingSettings{File: path}.OpenLogFile()
	require.NoError(t, err)
	require.NotNil(t, f)
	f.Close()

	_, err = LoggingSettings{File: filepath.Join(t.TempDir(), "missing", "x.log")}.OpenLogFile()
	require.Error(t, err)
}

func TestValidateNamespace(t *testing.T) {
	for _, ok := range []string{"work", "investments-2026", "team.alpha_1", "A"} {
		assert.NoError(t, ValidateNamespace(ok), ok)
	}
	for _, bad := range []string{".", "..", "", "a/b", "white space", "ünïcode"} {
		err := ValidateNamespace(bad)
		require.Error(t, err, bad)
		assert.True(t, kverr.Is(err, kverr.KindInvalidInput), bad)
	}
}

func TestResolveNamespace(t *testing.T) {
	t.Setenv(EnvNamespace, "")
	ns, err := ResolveNamespace("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespace, ns)

	t.Setenv(EnvNamespace, " env-ns ")
	ns, err = ResolveNamespace("")
	require.NoError(t, err)
	assert.Equal(t, "env-ns", ns)

	ns, err = ResolveNamespace("flag-ns")
	require.NoError(t, err)
	assert.Equal(t, "flag-ns", ns)

	_, err = ResolveNamespace("..")
	require.Error(t, err)
}

func TestResolve_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv(EnvNamespace, "")
	t.Setenv(EnvDataFile, "")
	t.Setenv(EnvRecentFile, "")

	p, err := Resolve(Overrides{Namespace: "work"}, Default())
	require.NoError(t, err)
	assert.Equal(t, "work", p.Namespace)
	assert.Equal(t, filepath.Join(home, "namespaces", "work", "data.db"), p.DataFile)
	assert.Equal(t, filepath.Join(home, "namespaces", "work", "logs", "recent.log"), p.RecentFile)
	assert.Equal(t, filepath.Join(home, "namespaces", "work", "serve.pid"), p.PIDFile)
}

func TestResolve_Overrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)
	t.Setenv(EnvDataFile, filepath.Join(dir, "env.db"))
	t.Setenv(EnvRecentFile, filepath.Join(dir, "env-recent.log"))

	p, err := Resolve(Overrides{}, Default())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "env.db"), p.DataFile)
	assert.Equal(t, filepath.Join(dir, "env-recent.log"), p.RecentFile)

	s := Default()
	s.History.File = filepath.Join(dir, "settings-recent.log")
	p, err = Resolve(Overrides{DataFile: filepath.Join(dir, "flag.db")}, s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "flag.db"), p.DataFile)
	assert.Equal(t, filepath.Join(dir, "settings-recent.log"), p.RecentFile)
	assert.Equal(t, filepath.Join(dir, "serve.pid"), p.PIDFile)
}
