package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"

	"github.com/overhuman/kvstore/internal/cache"
	"github.com/overhuman/kvstore/internal/config"
	"github.com/overhuman/kvstore/internal/deploy"
	"github.com/overhuman/kvstore/internal/gateway"
	"github.com/overhuman/kvstore/internal/kverr"
	"github.com/overhuman/kvstore/internal/live"
	"github.com/overhuman/kvstore/internal/mcpserver"
	"github.com/overhuman/kvstore/internal/observability"
	"github.com/overhuman/kvstore/internal/session"
	"github.com/overhuman/kvstore/internal/storage"
)

func (a *app) paths() (config.Paths, error) {
	return config.Resolve(a.overrides, a.settings)
}

// openSession loads the namespace for a CLI-path command.
func (a *app) openSession(ctx context.Context) (*session.Session, config.Paths, error) {
	p, err := a.paths()
	if err != nil {
		return nil, config.Paths{}, err
	}
	a.log.Info("opening store", "path", p.DataFile, "namespace", p.Namespace)
	s, err := session.Open(ctx, session.Options{
		Namespace:    p.Namespace,
		DataFile:     p.DataFile,
		RecentFile:   p.RecentFile,
		HistoryLimit: a.settings.History.Limit,
		SweepGrace:   a.settings.Server.SweepGrace,
		Logger:       a.log,
	})
	if err != nil {
		return nil, config.Paths{}, err
	}
	return s, p, nil
}

func runAdd(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("add")
	var tags tagList
	fs.Var(&tags, "t", "tag (repeatable)")
	fs.Var(&tags, "tag", "tag (repeatable)")
	ttl := fs.Int64("ttl", 0, "expire after this many minutes")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 2, "add KEY VALUE [-t TAG]... [--ttl MINUTES]"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	res, err := s.Add(ctx, pos[0], pos[1], tags, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, res.Message())
	return nil
}

func runGet(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("get")
	copyValue := fs.Bool("copy", false, "copy the value to the clipboard")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 1, "get KEY [--copy]"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	e, err := s.Get(pos[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, e.Value)
	if len(e.Tags) > 0 {
		fmt.Fprintf(a.stdout, "tags: %s\n", strings.Join(e.Tags, ", "))
	}
	if *copyValue {
		if err := clipboard.WriteAll(e.Value); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Fprintf(a.stdout, "Copied '%s' to the clipboard.\n", pos[0])
	}
	return nil
}

func runRemove(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("remove")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 1, "remove KEY"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	old, err := s.Remove(ctx, pos[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Removed '%s'. Stored value was %s.\n", pos[0], old.Describe())
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("list")
	match := fs.String("match", "", "only keys matching this glob")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 0, "list [--match GLOB]"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	records, err := s.List(*match)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.stdout, "No entries stored.")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintln(a.stdout, rec.Summary(rec.Key))
	}
	return nil
}

// scopeFlags registers --tags/--keys and -l.
func scopeFlags(fs *flag.FlagSet) (limit *int, resolve func() (cache.Scope, error)) {
	limit = fs.Int("l", 10, "maximum number of matches")
	tagsOnly := fs.Bool("tags", false, "search tags only")
	keysOnly := fs.Bool("keys", false, "search keys only")
	return limit, func() (cache.Scope, error) { return cache.ResolveScope(*tagsOnly, *keysOnly) }
}

func runSearch(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("search")
	limit, scopeOf := scopeFlags(fs)
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 1, "search PATTERN [-l N] [--tags|--keys]"); err != nil {
		return err
	}
	scope, err := scopeOf()
	if err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	matches := s.Search(pos[0], *limit, scope)
	if len(matches) == 0 {
		fmt.Fprintln(a.stdout, "No matches found.")
		return nil
	}
	for _, m := range matches {
		fmt.Fprintln(a.stdout, m.Entry.Summary(m.Key))
	}
	return nil
}

func runLive(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("live")
	limit, scopeOf := scopeFlags(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	scope, err := scopeOf()
	if err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return live.Run(s.Index(), live.Options{Limit: *limit, Scope: scope, Out: a.stdout})
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("export")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 1, "export PATH"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	n, err := s.Export(pos[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Exported %d entries to %s\n", n, pos[0])
	return nil
}

func runImport(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("import")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 1, "import PATH"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Import(ctx, pos[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Imported entries from %s\n", pos[0])
	return nil
}

func runHTML(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("html")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 1, "html PATH"); err != nil {
		return err
	}

	s, p, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.WriteHTML(pos[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Generated HTML view at %s (namespace: %s, data source: %s)\n", pos[0], p.Namespace, p.DataFile)
	return nil
}

func runPutFile(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("put-file")
	var tags tagList
	fs.Var(&tags, "t", "tag (repeatable)")
	fs.Var(&tags, "tag", "tag (repeatable)")
	anyFile := fs.Bool("any-file", false, "allow files without an .md extension")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 2, "put-file KEY PATH [-t TAG]... [--any-file]"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	res, err := s.PutFile(ctx, pos[0], pos[1], tags, *anyFile)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, res.Message())
	return nil
}

func runGetFile(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("get-file")
	anyFile := fs.Bool("any-file", false, "allow files without an .md extension")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 2, "get-file KEY PATH [--any-file]"); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.GetFile(pos[0], pos[1], *anyFile); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Wrote '%s' to %s\n", pos[0], pos[1])
	return nil
}

func runRecent(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("recent")
	limit := fs.Int("l", 10, "maximum number of keys")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	s, _, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	keys := s.Recent(*limit)
	if len(keys) == 0 {
		fmt.Fprintln(a.stdout, "No recent keys recorded.")
		return nil
	}
	for i, key := range keys {
		fmt.Fprintf(a.stdout, "%2d. %s\n", i+1, key)
	}
	return nil
}

// addrFlags is a FlagSet with --host and --port defaulting to the
// configured server address.
type addrFlags struct {
	*flag.FlagSet
	host *string
	port *int
}

func (a *app) addrFlags(name string) *addrFlags {
	fs := a.flagSet(name)
	return &addrFlags{
		FlagSet: fs,
		host:    fs.String("host", a.settings.Server.Host, "address to bind"),
		port:    fs.Int("port", a.settings.Server.Port, "port to bind"),
	}
}

func (f *addrFlags) addr() string {
	return net.JoinHostPort(*f.host, strconv.Itoa(*f.port))
}

// explicit reports whether any of names was set on the command line.
func (f *addrFlags) explicit(names ...string) bool {
	set := false
	f.Visit(func(fl *flag.Flag) {
		for _, name := range names {
			if fl.Name == name {
				set = true
			}
		}
	})
	return set
}

// openStore opens the namespace's store directly, for the serve path.
func (a *app) openStore(p config.Paths, log *observability.Logger) (*storage.SQLiteStore, error) {
	return storage.Open(p.DataFile,
		storage.WithLogger(log.Named("storage")),
		storage.WithSweepGrace(a.settings.Server.SweepGrace),
	)
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := a.addrFlags("serve")
	pos, err := parseArgs(fs.FlagSet, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 0, "serve [--host HOST] [--port PORT]"); err != nil {
		return err
	}
	p, err := a.paths()
	if err != nil {
		return err
	}

	cfg := gateway.Config{
		Addr:          fs.addr(),
		Namespace:     p.Namespace,
		MaxBodyBytes:  a.settings.Server.MaxBodyBytes,
		SweepInterval: a.settings.Server.SweepInterval,
		IOTimeout:     a.settings.Server.IOTimeout,
	}
	pid := deploy.NewPIDFile(p.PIDFile)
	if proc, running := pid.Running(); running {
		return fmt.Errorf("server already running for this namespace (pid=%d, addr=%s)", proc.PID, proc.Addr)
	}

	store, err := a.openStore(p, a.log)
	if err != nil {
		return err
	}
	defer store.Close()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return kverr.IO("binding viewer address", cfg.Addr, err)
	}
	if err := pid.Claim(ln.Addr().String(), p.Namespace); err != nil {
		ln.Close()
		return err
	}
	defer pid.Remove()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(store, cfg, a.log.Named("gateway"))
	fmt.Fprintf(a.stdout, "Serving kvstore viewer at http://%s\n", ln.Addr())
	fmt.Fprintf(a.stdout, "Namespace: %s\n", p.Namespace)
	fmt.Fprintf(a.stdout, "Data source: %s\n", p.DataFile)
	fmt.Fprintln(a.stdout, "Press Ctrl+C to stop.")

	if err := gw.Serve(ctx, ln); err != nil {
		return err
	}
	a.log.Info("viewer stopped", "namespace", p.Namespace)
	return nil
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fs := a.addrFlags("status")
	if _, err := parseArgs(fs.FlagSet, args); err != nil {
		return err
	}
	p, err := a.paths()
	if err != nil {
		return err
	}

	addr := fs.addr()
	if proc, running := deploy.NewPIDFile(p.PIDFile).Running(); running {
		fmt.Fprintf(a.stdout, "namespace %s: server process %d since %s\n",
			p.Namespace, proc.PID, proc.StartedAt.Format(time.RFC3339))
		if proc.Addr != "" && !fs.explicit("host", "port") {
			addr = proc.Addr
		}
	}

	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("viewer is not running at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("viewer at %s returned status %d", addr, resp.StatusCode)
	}
	fmt.Fprintf(a.stdout, "viewer is running at http://%s\n", addr)
	return nil
}

func runStop(_ context.Context, a *app, args []string) error {
	fs := a.flagSet("stop")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	p, err := a.paths()
	if err != nil {
		return err
	}
	proc, err := deploy.Stop(p.PIDFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Sent SIGTERM to kvstore server (pid=%d, addr=%s)\n", proc.PID, proc.Addr)
	return nil
}

func runService(_ context.Context, a *app, args []string) error {
	fs := a.addrFlags("service")
	pos, err := parseArgs(fs.FlagSet, args)
	if err != nil {
		return err
	}
	if err := expectArgs(pos, 1, "service install|uninstall [--host HOST] [--port PORT]"); err != nil {
		return err
	}
	p, err := a.paths()
	if err != nil {
		return err
	}
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate kvstore binary: %w", err)
	}
	cfg := deploy.ServiceConfig{
		BinaryPath: binary,
		Namespace:  p.Namespace,
		Host:       *fs.host,
		Port:       *fs.port,
		LogDir:     filepath.Join(filepath.Dir(p.DataFile), "logs"),
	}

	var res *deploy.InstallResult
	switch pos[0] {
	case "install":
		res, err = deploy.Install(cfg)
	case "uninstall":
		res, err = deploy.Uninstall(cfg)
	default:
		return kverr.InvalidInput("unknown service action '%s'; use install or uninstall", pos[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s service file: %s\n%s\n", res.Platform, res.ServiceFile, res.Instructions)
	return nil
}

func runMCP(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("mcp")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	p, err := a.paths()
	if err != nil {
		return err
	}
	store, err := a.openStore(p, a.log)
	if err != nil {
		return err
	}
	defer store.Close()
	if n, err := store.SweepExpired(ctx); err != nil {
		return err
	} else if n > 0 {
		a.log.Info("removed expired entries", "count", n)
	}

	a.log.Info("serving mcp over stdio", "namespace", p.Namespace)
	err = mcpserver.Serve(mcpserver.New(store, version, a.log.Named("mcp")))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runVersion(_ context.Context, a *app, _ []string) error {
	fmt.Fprintf(a.stdout, "%s v%s\n", appName, version)
	return nil
}
