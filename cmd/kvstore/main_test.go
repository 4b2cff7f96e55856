package main

import (
	"bytes"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cli runs commands against an isolated storage home.
type cli struct {
	t    *testing.T
	home string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	home := t.TempDir()
	t.Setenv("KVSTORE_HOME", home)
	t.Setenv("KVSTORE_NAMESPACE", "")
	t.Setenv("KVSTORE_DATA_FILE", "")
	t.Setenv("KVSTORE_RECENT_FILE", "")
	t.Setenv("KVSTORE_CONFIG", "")
	return &cli{t: t, home: home}
}

func (c *cli) run(args ...string) (string, string, int) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (c *cli) ok(args ...string) string {
	c.t.Helper()
	out, errOut, code := c.run(args...)
	require.Equal(c.t, 0, code, "%v: %s", args, errOut)
	return out
}

func (c *cli) fail(args ...string) string {
	c.t.Helper()
	_, errOut, code := c.run(args...)
	require.Equal(c.t, 1, code, "%v", args)
	return errOut
}

func TestAddGetRemove(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, "Added 'note'. 'hello' (tags: a, b)\n", c.ok("add", "note", "hello", "-t", "b", "-t", "a"))
	assert.Equal(t, "Updated 'note'. Previous: 'hello' (tags: a, b); Now: 'again' (tags: a, b)\n", c.ok("a", "note", "again"))
	assert.Equal(t, "again\ntags: a, b\n", c.ok("g", "note"))
	assert.Equal(t, "Removed 'note'. Stored value was 'again' (tags: a, b).\n", c.ok("rm", "note"))

	assert.Contains(t, c.fail("get", "note"), "Error: key not found: note")
}

func TestAdd_TTLBounds(t *testing.T) {
	c := newCLI(t)

	assert.Contains(t, c.fail("add", "big", "v", "--ttl", "200000000"), "Error: --ttl must be at most 153722867")
	assert.Equal(t, "No entries stored.\n", c.ok("list"))

	c.ok("add", "big", "v", "--ttl", "153722867")
	assert.Equal(t, "big = v\n", c.ok("list"), "a maximal ttl must not expire at once")
}

func TestFlagsAfterPositionals(t *testing.T) {
	c := newCLI(t)
	c.ok("add", "k", "v", "--ttl", "5", "--namespace", "work")

	assert.Equal(t, "No entries stored.\n", c.ok("list"), "default namespace should be empty")
	assert.Equal(t, "k = v\n", c.ok("--namespace", "work", "list"))
	_, err := os.Stat(filepath.Join(c.home, "namespaces", "work", "data.db"))
	assert.NoError(t, err, "data file not created")
}

func TestListAndSearch(t *testing.T) {
	c := newCLI(t)
	c.ok("add", "project-notes", "v", "-t", "@work")
	c.ok("add", "groceries", "milk")

	assert.Equal(t, "groceries = milk\nproject-notes = v [tags: @work]\n", c.ok("l"))
	assert.Equal(t, "project-notes = v [tags: @work]\n", c.ok("list", "--match", "proj*"))
	assert.Equal(t, "project-notes = v [tags: @work]\n", c.ok("s", "proj", "--keys"))
	assert.Equal(t, "No matches found.\n", c.ok("search", "zzz"))
	c.fail("search", "proj", "--keys", "--tags")
}

func TestExportImportHTML(t *testing.T) {
	c := newCLI(t)
	c.ok("add", "a", "1")
	c.ok("add", "b", "2")
	dir := t.TempDir()

	path := filepath.Join(dir, "dump.json")
	assert.Equal(t, "Exported 2 entries to "+path+"\n", c.ok("export", path))
	assert.Equal(t, "Imported entries from "+path+"\n", c.ok("--namespace", "copy", "i", path))
	assert.Equal(t, "a = 1\nb = 2\n", c.ok("--namespace", "copy", "list"))

	page := filepath.Join(dir, "view.html")
	assert.Contains(t, c.ok("html", page), "Generated HTML view at "+page+" (namespace: default, data source: ")
	assert.FileExists(t, page)
}

func TestPutGetFileAndRecent(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(src, []byte("# doc\n"), 0o644))

	assert.Contains(t, c.ok("put-file", "doc", src), "Added 'doc'.")
	dst := filepath.Join(dir, "out.md")
	assert.Equal(t, "Wrote 'doc' to "+dst+"\n", c.ok("get-file", "doc", dst))
	c.fail("get-file", "doc", filepath.Join(dir, "out.txt"))

	assert.Equal(t, " 1. doc\n", c.ok("recent"))
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t)

	assert.Contains(t, c.fail("add", "only-key"), "usage: kvstore add KEY VALUE")
	assert.Contains(t, c.fail("frobnicate"), "unknown command: frobnicate")
	assert.Contains(t, c.fail("--namespace", "..", "list"), "invalid namespace '..'")
	c.fail("service", "restart")
}

func TestVersionAndHelp(t *testing.T) {
	c := newCLI(t)
	assert.Equal(t, "kvstore v"+version+"\n", c.ok("version"))

	out := c.ok("help")
	for _, want := range []string{"add (a)", "remove (r, rm, delete)", "serve", "mcp"} {
		assert.Contains(t, out, want)
	}
}

func TestStopWithoutServer(t *testing.T) {
	assert.Contains(t, newCLI(t).fail("stop"), "server is not running")
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
		tags []string
	}{
		{"flags first", []string{"-t", "x", "k", "v"}, []string{"k", "v"}, []string{"x"}},
		{"interleaved", []string{"k", "-t", "x", "v", "-t", "y"}, []string{"k", "v"}, []string{"x", "y"}},
		{"dash value after separator", []string{"k", "--", "-v"}, []string{"k", "-v"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			var tags tagList
			fs.Var(&tags, "t", "")

			got, err := parseArgs(fs, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.tags, []string(tags))
		})
	}
}
