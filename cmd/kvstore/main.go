// Package main is the entry point for the kvstore CLI.
//
// Usage:
//
//	kvstore [--namespace NS] [--data-file FILE] <command> [args]
//
// Run `kvstore help` for the command list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/overhuman/kvstore/internal/config"
	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/observability"
)

const (
	version = "0.1.0"
	appName = "kvstore"
)

// app carries what every command needs.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	settings  config.Settings
	log       *observability.Logger
	overrides config.Overrides
}

type command struct {
	run     func(ctx context.Context, a *app, args []string) error
	aliases []string
	usage   string
	summary string
}

var commands = map[string]command{
	"add":      {run: runAdd, aliases: []string{"a"}, usage: "add KEY VALUE [-t TAG]... [--ttl MINUTES]", summary: "Add or update a key"},
	"get":      {run: runGet, aliases: []string{"g"}, usage: "get KEY [--copy]", summary: "Print a value"},
	"remove":   {run: runRemove, aliases: []string{"r", "rm", "delete"}, usage: "remove KEY", summary: "Remove a key"},
	"list":     {run: runList, aliases: []string{"l"}, usage: "list [--match GLOB]", summary: "List entries in key order"},
	"search":   {run: runSearch, aliases: []string{"s"}, usage: "search PATTERN [-l N] [--tags|--keys]", summary: "Fuzzy search keys and tags"},
	"live":     {run: runLive, aliases: []string{"f", "interactive"}, usage: "live [-l N] [--tags|--keys]", summary: "Interactive fuzzy search"},
	"export":   {run: runExport, aliases: []string{"e"}, usage: "export PATH", summary: "Write all entries as JSON"},
	"import":   {run: runImport, aliases: []string{"i"}, usage: "import PATH", summary: "Replace all entries from JSON"},
	"html":     {run: runHTML, usage: "html PATH", summary: "Write a static HTML view"},
	"serve":    {run: runServe, usage: "serve [--host HOST] [--port PORT]", summary: "Serve the live viewer and JSON API"},
	"status":   {run: runStatus, usage: "status [--host HOST] [--port PORT]", summary: "Check whether the viewer is running"},
	"stop":     {run: runStop, usage: "stop", summary: "Stop the viewer for this namespace"},
	"service":  {run: runService, usage: "service install|uninstall [--host HOST] [--port PORT]", summary: "Manage a per-user background service"},
	"mcp":      {run: runMCP, usage: "mcp", summary: "Serve MCP tools over stdio"},
	"put-file": {run: runPutFile, usage: "put-file KEY PATH [-t TAG]... [--any-file]", summary: "Store a file's contents"},
	"get-file": {run: runGetFile, usage: "get-file KEY PATH [--any-file]", summary: "Write a value to a file"},
	"recent":   {run: runRecent, usage: "recent [-l N]", summary: "Show recently accessed keys"},
	"version":  {run: runVersion, usage: "version", summary: "Print version"},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}

	settings, path, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %v; using default settings\n", err)
	}
	a.settings = settings

	logOut := stderr
	logFile, err := settings.Logging.OpenLogFile()
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %v; logging to stderr\n", err)
	} else if logFile != nil {
		defer logFile.Close()
		logOut = logFile
	}
	a.log = observability.NewLeveled(appName, logOut, settings.Logging.SlogLevel())
	if path != "" {
		a.log.Debug("loaded settings", "path", path)
	}

	global := a.flagSet(appName)
	global.Usage = func() { printUsage(stderr) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 1
	}

	name := rest[0]
	switch name {
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}
	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(stderr, "unknown command: %s\n\n", name)
		printUsage(stderr)
		return 1
	}

	if err := cmd.run(context.Background(), a, rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func lookup(name string) (command, bool) {
	if cmd, ok := commands[name]; ok {
		return cmd, true
	}
	for _, cmd := range commands {
		for _, alias := range cmd.aliases {
			if alias == name {
				return cmd, true
			}
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%s v%s, a namespace-scoped note store\n\n", appName, version)
	fmt.Fprintf(w, "Usage:\n  %s [--namespace NS] [--data-file FILE] <command> [args]\n\nCommands:\n", appName)
	for _, name := range names {
		cmd := commands[name]
		label := name
		if len(cmd.aliases) > 0 {
			label += " (" + strings.Join(cmd.aliases, ", ") + ")"
		}
		fmt.Fprintf(w, "  %-28s %s\n", label, cmd.summary)
	}
	fmt.Fprintf(w, `
Environment variables:
  %s    Settings file (default: kvstore.yaml, config/kvstore.yaml)
  %s Namespace (default: %s)
  %s Data file (default: <home>/namespaces/<ns>/data.db)
  %s Recent-access log
  %s      Storage home (default: ~/.kvstore)
`, config.EnvConfig, config.EnvNamespace, config.DefaultNamespace, config.EnvDataFile, config.EnvRecentFile, config.EnvHome)
}

// flagSet returns a FlagSet that also accepts the global flags, so they can
// appear before or after the command name.
func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.StringVar(&a.overrides.Namespace, "namespace", a.overrides.Namespace, "namespace to operate on")
	fs.StringVar(&a.overrides.DataFile, "data-file", a.overrides.DataFile, "path to the SQLite data file")
	return fs
}

// parseArgs parses flags that may be interleaved with positional arguments.
// Everything after "--" is positional.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// expectArgs checks the positional count for a command.
func expectArgs(positional []string, n int, usage string) error {
	if len(positional) != n {
		return kverr.InvalidInput("usage: %s %s", appName, usage)
	}
	return nil
}

// tagList collects a repeatable -t flag.
type tagList []string

func (t *tagList) String() string { return strings.Join(*t, ",") }

func (t *tagList) Set(v string) error {
	*t = append(*t, v)
	return nil
}
