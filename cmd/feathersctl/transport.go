package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

func newTransportCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "transport [rest|socket]",
		Short: "Show or change the transport used for calls",
		Long: `Without an argument, print the active transport. With one, persist it
for later commands. Sessions belong to a transport, so run login again
after switching to one that was never used.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(transport.KindREST), string(transport.KindSocket)},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.openClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c, cmd.ErrOrStderr())

			board := c.Switchboard()
			if _, err := board.Restore(); err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), board.Selection())
				return nil
			}

			kind, err := transport.ParseKind(args[0])
			if err != nil {
				return err
			}
			if err := board.SwitchTo(kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Using %s\n", kind)
			return nil
		},
	}
}
