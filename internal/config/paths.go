package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/overhuman/kvstore/internal/kverr"
)

const (
	appDir           = ".kvstore"
	namespacesDir    = "namespaces"
	dataFileName     = "data.db"
	recentLogName    = "recent.log"
	pidFileName      = "serve.pid"
	DefaultNamespace = "default"
)

// Overrides carries command-line values that win over the environment.
type Overrides struct {
	Namespace string
	DataFile  string
}

// Paths is everything a command needs to locate one namespace on disk.
type Paths struct {
	Namespace  string
	DataFile   string
	RecentFile string
	PIDFile    string
}

// Resolve picks the namespace and file locations for this invocation.
//
// Namespace: flag, then $KVSTORE_NAMESPACE, then "default".
// Data file: flag, then $KVSTORE_DATA_FILE, then <home>/namespaces/<ns>/data.db.
// Recent file: history.file, then $KVSTORE_RECENT_FILE, then
// <home>/namespaces/<ns>/logs/recent.log.
func Resolve(o Overrides, s Settings) (Paths, error) {
	ns, err := ResolveNamespace(o.Namespace)
	if err != nil {
		return Paths{}, err
	}

	p := Paths{Namespace: ns}
	switch {
	case strings.TrimSpace(o.DataFile) != "":
		p.DataFile = o.DataFile
	case os.Getenv(EnvDataFile) != "":
		p.DataFile = os.Getenv(EnvDataFile)
	default:
		p.DataFile = filepath.Join(NamespaceDir(ns), dataFileName)
	}

	switch {
	case s.History.File != "":
		p.RecentFile = s.History.File
	case os.Getenv(EnvRecentFile) != "":
		p.RecentFile = os.Getenv(EnvRecentFile)
	default:
		p.RecentFile = filepath.Join(NamespaceDir(ns), "logs", recentLogName)
	}

	p.PIDFile = filepath.Join(filepath.Dir(p.DataFile), pidFileName)
	return p, nil
}

// ResolveNamespace trims raw, falls back to $KVSTORE_NAMESPACE and then to
// the default namespace, and validates the result.
func ResolveNamespace(raw string) (string, error) {
	ns := strings.TrimSpace(raw)
	if ns == "" {
		ns = strings.TrimSpace(os.Getenv(EnvNamespace))
	}
	if ns == "" {
		ns = DefaultNamespace
	}
	if err := ValidateNamespace(ns); err != nil {
		return "", err
	}
	return ns, nil
}

// ValidateNamespace accepts ASCII letters, digits, '_', '-' and '.', but
// not the names "." and "..".
func ValidateNamespace(ns string) error {
	if ns == "." || ns == ".." {
		return kverr.InvalidInput("invalid namespace '%s'; '.' and '..' are not allowed", ns)
	}
	if ns == "" {
		return kverr.InvalidInput("namespace cannot be empty")
	}
	for _, r := range ns {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return kverr.InvalidInput("invalid namespace '%s'; use letters, numbers, '_', '-', or '.'", ns)
		}
	}
	return nil
}

// StorageDir is $KVSTORE_HOME, or ~/.kvstore, or ./.kvstore when no home
// directory is known.
func StorageDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, appDir)
	}
	return appDir
}

// NamespaceDir is the directory holding one namespace's files.
func NamespaceDir(ns string) string {
	return filepath.Join(StorageDir(), namespacesDir, ns)
}
