package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/memserver"
)

type serveFlags struct {
	addr      string
	users     []string
	services  []string
	secret    string
	tokenTTL  time.Duration
	logFormat string
}

func newServeCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory service server",
		Long: `Run an in-memory server that speaks the same REST and WebSocket
protocol the client uses. Data lives only as long as the process.

The server exposes:
  POST /authentication        local, jwt and external-provider logins
  /<service>[/<id>]           find, get, create, patch, update, remove
  /ws                         WebSocket calls and service events
  /metrics                    Prometheus metrics

Examples:
  feathersctl serve
  feathersctl serve --addr :8080 --user ada@example.com:secret --service notes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "127.0.0.1:3030", "listen address")
	f.StringArrayVar(&flags.users, "user", nil, "seed a user as email:password (repeatable)")
	f.StringArrayVar(&flags.services, "service", nil, "collection to serve besides users (repeatable, default messages)")
	f.StringVar(&flags.secret, "secret", "", "token signing secret (random when empty)")
	f.DurationVar(&flags.tokenTTL, "token-ttl", 24*time.Hour, "access token lifetime")
	f.StringVar(&flags.logFormat, "log-format", "text", "log format (text or json)")
	return cmd
}

func runServe(cmd *cobra.Command, global *globalFlags, flags *serveFlags) error {
	levelName := global.logLevel
	if levelName == "" {
		levelName = "info"
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	formatter, err := logging.NewFormatter(flags.logFormat)
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), formatter)
	logger.SetLevel(level)

	srv := memserver.New(memserver.Config{
		Secret:   []byte(flags.secret),
		TokenTTL: flags.tokenTTL,
		Services: flags.services,
		Logger:   logger,
	})
	for _, u := range flags.users {
		email, password, ok := strings.Cut(u, ":")
		if !ok || email == "" || password == "" {
			return fmt.Errorf("invalid --user %q, want email:password", u)
		}
		if _, err := srv.AddUser(email, password); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", email, err)
		}
	}

	logger.Info("Serving",
		logging.String("services", strings.Join(srv.ServiceNames(), ",")),
		logging.Int("users", len(flags.users)))
	return srv.ListenAndServe(cmd.Context(), flags.addr)
}
