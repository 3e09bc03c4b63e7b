package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/feathers-client-go/pkg/auth"
	"github.com/ajitpratap0/feathers-client-go/pkg/client"
	"github.com/ajitpratap0/feathers-client-go/pkg/config"
	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

// Exit codes for scripting.
const (
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments)
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no session or it was rejected
	ExitCodeAuthRequired = 2
	// ExitCodeUnavailable indicates the server could not be reached
	ExitCodeUnavailable = 3
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	endpoint   string
	transport  string
	statePath  string
	logLevel   string
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		reportError(root.ErrOrStderr(), err)
		return exitCode(err)
	}
	return ExitCodeSuccess
}

// reportError prints the user-facing notice for service errors followed by
// the underlying message.
func reportError(w io.Writer, err error) {
	if svcerrors.IsServiceError(err) {
		fmt.Fprintln(w, svcerrors.Notice(err))
	}
	fmt.Fprintln(w, "Error:", err)
}

// exitCode maps an error onto the documented exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrLoginRequired), svcerrors.IsAuthRejected(err):
		return ExitCodeAuthRequired
	case svcerrors.IsTransportUnavailable(err):
		return ExitCodeUnavailable
	default:
		return ExitCodeError
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "feathersctl",
		Short: "Call remote services over REST or WebSocket",
		Long: `feathersctl authenticates against a service server and performs
find, get, create, patch, update and remove calls over either the REST
or the WebSocket transport. The session and the transport choice are
kept between runs.

Configuration is read from ~/.config/feathersctl/config.yaml and
FEATHERS_* environment variables; flags override both.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "feathersctl version %s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/feathersctl/config.yaml)")
	pf.StringVar(&flags.endpoint, "endpoint", "", "server base URL")
	pf.StringVar(&flags.transport, "transport", "", "transport to use when none is persisted (rest or socket)")
	pf.StringVar(&flags.statePath, "state", "", "file holding the session and transport choice")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(flags),
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newWhoamiCmd(flags),
		newTransportCmd(flags),
	)
	for _, c := range newServiceCmds(flags) {
		root.AddCommand(c)
	}
	return root
}

// loadConfig resolves the config file, environment and flags.
func (f *globalFlags) loadConfig() (config.Config, error) {
	path := f.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.transport != "" {
		kind, err := transport.ParseKind(f.transport)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Transport = kind
	}
	if f.statePath != "" {
		cfg.StoragePath = f.statePath
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openClient builds a client whose logs go to the command's stderr.
func (f *globalFlags) openClient(cmd *cobra.Command, opts ...client.Option) (*client.Client, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return client.New(cfg, append([]client.Option{client.WithLogger(logger)}, opts...)...)
}

// withSession opens a client, restores the stored session and runs fn.
func (f *globalFlags) withSession(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	c, err := f.openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient(c, cmd.ErrOrStderr())

	if _, err := c.Start(ctx); err != nil {
		if errors.Is(err, auth.ErrLoginRequired) {
			return fmt.Errorf("not logged in, run 'feathersctl login': %w", err)
		}
		return err
	}
	return fn(ctx, c)
}

func closeClient(c *client.Client, stderr io.Writer) {
	if err := c.Close(context.Background()); err != nil {
		logging.New(stderr, logging.NewTextFormatter()).Warn("Failed to close client", logging.ErrorField(err))
	}
}

// printJSON writes v indented. Raw JSON is re-indented as is.
func printJSON(w io.Writer, v interface{}) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		v = decoded
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
