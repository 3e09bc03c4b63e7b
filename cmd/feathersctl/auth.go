package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ajitpratap0/feathers-client-go/pkg/auth"
	"github.com/ajitpratap0/feathers-client-go/pkg/client"
	"github.com/ajitpratap0/feathers-client-go/pkg/credential"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/storage"
)

type loginFlags struct {
	email         string
	password      string
	providerToken string
	providerUser  string
}

func newLoginCmd(global *globalFlags) *cobra.Command {
	flags := &loginFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the session",
		Long: `Authenticate against the server on the active transport and store the
access token for later commands.

With --email the local strategy is used; the password is read from
--password, FEATHERS_PASSWORD or the terminal. With --provider-token the
external-provider strategy is used with the given user snapshot.

Examples:
  feathersctl login --email ada@example.com
  feathersctl login --provider-token 0xsig --provider-user '{"address":"0xabc"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, global, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.email, "email", "", "email for the local strategy")
	f.StringVar(&flags.password, "password", "", "password for the local strategy")
	f.StringVar(&flags.providerToken, "provider-token", "", "external provider session token")
	f.StringVar(&flags.providerUser, "provider-user", "{}", "external provider user snapshot as JSON")
	cmd.MarkFlagsMutuallyExclusive("email", "provider-token")
	cmd.MarkFlagsOneRequired("email", "provider-token")
	return cmd
}

func runLogin(cmd *cobra.Command, global *globalFlags, flags *loginFlags) error {
	ctx := cmd.Context()

	var opts []client.Option
	if flags.providerToken != "" {
		var snapshot json.RawMessage
		if err := json.Unmarshal([]byte(flags.providerUser), &snapshot); err != nil {
			return fmt.Errorf("invalid --provider-user: %w", err)
		}
		provider, err := auth.NewStaticProvider(flags.providerToken, snapshot)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithProvider(provider))
	}

	c, err := global.openClient(cmd, opts...)
	if err != nil {
		return err
	}
	defer closeClient(c, cmd.ErrOrStderr())

	if _, err := c.Switchboard().Restore(); err != nil {
		return err
	}

	var id *auth.Identity
	if flags.providerToken != "" {
		id, err = c.LoginWithProvider(ctx)
	} else {
		password, perr := readPassword(cmd, flags.password)
		if perr != nil {
			return perr
		}
		id, err = c.Login(ctx, protocol.LocalPayload{Email: flags.email, Password: password})
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in via %s over %s\n", id.Source, c.Transport())
	return printJSON(cmd.OutOrStdout(), id.User)
}

// readPassword prefers the flag, then FEATHERS_PASSWORD, then an interactive
// prompt.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("FEATHERS_PASSWORD"); env != "" {
		return env, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no password given; use --password or FEATHERS_PASSWORD")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func newLogoutCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.openClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c, cmd.ErrOrStderr())

			ctx := cmd.Context()
			// Restore only to reach the server; a rejected token is fine here
			if _, err := c.Start(ctx); err != nil && !errors.Is(err, auth.ErrLoginRequired) {
				cmd.PrintErrln("Warning: session could not be restored:", err)
			}
			logoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := c.Logout(logoutCtx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(global *globalFlags) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Long: `Show the stored session. By default only the local token is decoded;
its signature is not checked. With --remote the token is presented to the
server and the user record it returns is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote {
				return global.withSession(cmd, func(ctx context.Context, c *client.Client) error {
					id, err := c.Identity(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), id.User)
				})
			}
			return showStoredSession(cmd, global)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "verify the session with the server")
	return cmd
}

func showStoredSession(cmd *cobra.Command, global *globalFlags) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	path := cfg.StoragePath
	if path == "" {
		if path, err = storage.DefaultPath(); err != nil {
			return err
		}
	}
	fs, err := storage.NewFileStorage(path)
	if err != nil {
		return err
	}

	cred, ok, err := credential.NewStore(fs).Load()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not logged in, run 'feathersctl login': %w", auth.ErrLoginRequired)
	}

	claims, err := credential.Inspect(cred.Token)
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"issuedBy": cred.IssuedBy,
		"subject":  claims.Subject,
		"issuer":   claims.Issuer,
		"expired":  claims.Expired(time.Now()),
	}
	if !claims.IssuedAt.IsZero() {
		out["issuedAt"] = claims.IssuedAt.Format(time.RFC3339)
	}
	if !claims.ExpiresAt.IsZero() {
		out["expiresAt"] = claims.ExpiresAt.Format(time.RFC3339)
	}
	return printJSON(cmd.OutOrStdout(), out)
}
