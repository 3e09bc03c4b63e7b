package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/feathers-client-go/pkg/auth"
	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/memserver"
)

type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T) (*cli, *memserver.Server) {
	t.Helper()
	srv := memserver.New(memserver.Config{})
	url := srv.Start()
	t.Cleanup(srv.Close)
	_, err := srv.AddUser("grace@example.com", "cobol")
	require.NoError(t, err)

	dir := t.TempDir()
	return &cli{t: t, base: []string{
		"--config", filepath.Join(dir, "config.yaml"),
		"--state", filepath.Join(dir, "state.json"),
		"--endpoint", url,
		"--log-level", "error",
	}}, srv
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(append([]string{}, c.base...), args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run("", args...)
	require.NoError(c.t, err, out)
	return out
}

func decode(t *testing.T, out string, v interface{}) {
	t.Helper()
	// Skip any leading status line
	if i := strings.IndexAny(out, "{["); i > 0 {
		out = out[i:]
	}
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestCRUDSession(t *testing.T) {
	c, srv := newCLI(t)

	_, err := c.run("", "find", "messages")
	assert.ErrorIs(t, err, auth.ErrLoginRequired)
	assert.Equal(t, ExitCodeAuthRequired, exitCode(err))

	out := c.mustRun("login", "--email", "grace@example.com", "--password", "cobol")
	assert.Contains(t, out, "Logged in via local over rest")

	var created map[string]interface{}
	decode(t, c.mustRun("create", "messages", `{"text":"hello"}`), &created)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	var page struct {
		Total int               `json:"total"`
		Data  []json.RawMessage `json:"data"`
	}
	decode(t, c.mustRun("find", "messages", "--limit", "5"), &page)
	assert.Equal(t, 1, page.Total)

	out, err = c.run(`{"text":"edited"}`, "patch", "messages", id, "-")
	require.NoError(t, err)
	assert.Contains(t, out, "edited")

	var got map[string]interface{}
	decode(t, c.mustRun("get", "messages", id), &got)
	assert.Equal(t, "edited", got["text"])

	c.mustRun("update", "messages", id, `{"text":"replaced"}`)
	c.mustRun("rm", "messages", id)
	assert.Empty(t, srv.Records("messages"))

	_, err = c.run("", "get", "messages", id)
	assert.True(t, svcerrors.IsNotFound(err))
	assert.Equal(t, ExitCodeError, exitCode(err))

	var who map[string]interface{}
	decode(t, c.mustRun("whoami"), &who)
	assert.Equal(t, "local", who["issuedBy"])
	assert.Equal(t, false, who["expired"])

	assert.Contains(t, c.mustRun("whoami", "--remote"), "grace@example.com")

	assert.Contains(t, c.mustRun("logout"), "Logged out")
	_, err = c.run("", "whoami")
	assert.ErrorIs(t, err, auth.ErrLoginRequired)
}

func TestFindAll(t *testing.T) {
	c, srv := newCLI(t)
	for i := 0; i < 12; i++ {
		_, err := srv.Seed("messages", memserver.Record{"text": "seeded"})
		require.NoError(t, err)
	}
	c.mustRun("login", "--email", "grace@example.com", "--password", "cobol")

	var all []json.RawMessage
	decode(t, c.mustRun("find", "messages", "--all", "--limit", "5"), &all)
	assert.Len(t, all, 12)

	var page struct {
		Total int `json:"total"`
	}
	decode(t, c.mustRun("find", "messages", "--filter", "text=nothing"), &page)
	assert.Equal(t, 0, page.Total)

	_, err := c.run("", "find", "messages", "--filter", "broken")
	assert.Error(t, err)
}

func TestTransportCommand(t *testing.T) {
	c, _ := newCLI(t)

	assert.Equal(t, "rest\n", c.mustRun("transport"))
	assert.Equal(t, "Using socket\n", c.mustRun("transport", "socket"))
	assert.Equal(t, "socket\n", c.mustRun("transport"))

	out := c.mustRun("login", "--email", "grace@example.com", "--password", "cobol")
	assert.Contains(t, out, "over socket")
	c.mustRun("create", "messages", `{"text":"via socket"}`)

	_, err := c.run("", "transport", "telegraph")
	assert.True(t, svcerrors.IsValidationFailed(err))
}

func TestProviderLogin(t *testing.T) {
	c, _ := newCLI(t)
	out := c.mustRun("login", "--provider-token", "0xsig", "--provider-user", `{"address":"0xfeed"}`)
	assert.Contains(t, out, "Logged in via external-provider")

	var who map[string]interface{}
	decode(t, c.mustRun("whoami"), &who)
	assert.Equal(t, "external-provider", who["issuedBy"])
}

func TestLoginErrors(t *testing.T) {
	c, _ := newCLI(t)

	_, err := c.run("", "login", "--email", "grace@example.com", "--password", "fortran")
	assert.True(t, svcerrors.IsAuthRejected(err))
	assert.Equal(t, ExitCodeAuthRequired, exitCode(err))

	_, err = c.run("", "login")
	assert.Error(t, err)

	_, err = c.run("", "create", "messages", "not json")
	assert.Error(t, err)
}

func TestUnreachableServer(t *testing.T) {
	dir := t.TempDir()
	c := &cli{t: t, base: []string{
		"--config", filepath.Join(dir, "config.yaml"),
		"--state", filepath.Join(dir, "state.json"),
		"--endpoint", "http://127.0.0.1:1",
		"--log-level", "error",
	}}
	_, err := c.run("", "login", "--email", "a@b.c", "--password", "x")
	assert.True(t, svcerrors.IsTransportUnavailable(err), "got %v", err)
	assert.Equal(t, ExitCodeUnavailable, exitCode(err))
}

func TestServeRejectsMalformedUser(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--addr", "127.0.0.1:0", "--user", "nocolon"})
	err := root.Execute()
	assert.ErrorContains(t, err, "email:password")
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, svcerrors.NotFound("messages", "7"))
	assert.Contains(t, buf.String(), "no longer exists")

	buf.Reset()
	reportError(&buf, errors.New("plain failure"))
	assert.Equal(t, "Error: plain failure\n", buf.String())
}
