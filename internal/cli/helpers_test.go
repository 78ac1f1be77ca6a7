package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/testutil"
)

// cliEnv runs commands against one database and one in-memory remote.
type cliEnv struct {
	t      *testing.T
	dir    string
	db     string
	remote *remote.Memory
	clock  *testutil.Clock
	ids    *testutil.SeqGenerator
	tokens *testutil.SeqGenerator

	// offline runs commands without a remote.
	offline bool
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	return &cliEnv{
		t:      t,
		dir:    dir,
		db:     filepath.Join(dir, "hrsync.db"),
		remote: remote.NewMemory(),
		clock:  testutil.NewClock(time.Time{}),
		ids:    testutil.NewSeqGenerator("rec"),
		tokens: testutil.NewSeqGenerator("cycle"),
	}
}

// run executes the root command and returns what it wrote to stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	return e.runWithInput("", args...)
}

func (e *cliEnv) runWithInput(stdin string, args ...string) (string, error) {
	e.t.Helper()
	opts := &RootOptions{IDs: e.ids, Tokens: e.tokens, Now: e.clock.Now}
	if !e.offline {
		opts.Remote = e.remote
	}
	cmd := newRootCommand(opts)

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{
		"--db", e.db,
		"--env-file", filepath.Join(e.dir, "missing.env"),
	}, args...))

	err := cmd.Execute()
	return out.String(), err
}

// writeFile writes content under the env's directory and returns its path.
func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// decodeResponse parses one JSON response line.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}
