package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/feathers-client-go/pkg/client"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
	"github.com/ajitpratap0/feathers-client-go/pkg/service"
)

func newServiceCmds(global *globalFlags) []*cobra.Command {
	return []*cobra.Command{
		newFindCmd(global),
		newGetCmd(global),
		newDataCmd(global, protocol.OpCreate),
		newDataCmd(global, protocol.OpPatch),
		newDataCmd(global, protocol.OpUpdate),
		newRemoveCmd(global),
	}
}

func newFindCmd(global *globalFlags) *cobra.Command {
	var (
		limit   int
		skip    int
		filters []string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "find <service>",
		Short: "List records of a service",
		Long: `List one page of records, or every page with --all.

Examples:
  feathersctl find messages --limit 20 --skip 40
  feathersctl find users --filter email=ada@example.com
  feathersctl find messages --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := protocol.Query{Limit: limit, Skip: skip}
			if len(filters) > 0 {
				q.Filters = make(map[string]interface{}, len(filters))
				for _, f := range filters {
					key, value, ok := strings.Cut(f, "=")
					if !ok || key == "" {
						return fmt.Errorf("invalid --filter %q, want key=value", f)
					}
					q.Filters[key] = value
				}
			}

			return global.withSession(cmd, func(ctx context.Context, c *client.Client) error {
				if all {
					records, err := service.For[json.RawMessage](c.Service(), args[0]).FindAll(ctx, q)
					if err != nil {
						return err
					}
					if records == nil {
						records = []json.RawMessage{}
					}
					return printJSON(cmd.OutOrStdout(), records)
				}
				page, err := c.Service().Find(ctx, args[0], q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}

	f := cmd.Flags()
	f.IntVar(&limit, "limit", 0, "page size (server default when 0)")
	f.IntVar(&skip, "skip", 0, "records to skip")
	f.StringArrayVar(&filters, "filter", nil, "equality filter as key=value (repeatable)")
	f.BoolVar(&all, "all", false, "fetch every page")
	return cmd
}

func newGetCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <service> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withSession(cmd, func(ctx context.Context, c *client.Client) error {
				record, err := c.Service().Get(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
}

// newDataCmd builds create, patch and update, which all take a JSON body.
func newDataCmd(global *globalFlags, op protocol.Operation) *cobra.Command {
	use := fmt.Sprintf("%s <service> <id> <json|->", op)
	positional := cobra.ExactArgs(3)
	short := map[protocol.Operation]string{
		protocol.OpPatch:  "Merge fields into a record",
		protocol.OpUpdate: "Replace a record",
	}[op]
	if op == protocol.OpCreate {
		use = fmt.Sprintf("%s <service> <json|->", op)
		positional = cobra.ExactArgs(2)
		short = "Create a record"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `. The body is a JSON object given inline or, with "-", on stdin.

Examples:
  feathersctl create messages '{"text":"hello"}'
  echo '{"text":"edited"}' | feathersctl patch messages 42 -`,
		Args: positional,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args[len(args)-1])
			if err != nil {
				return err
			}
			call := &protocol.Call{Service: args[0], Method: op, Data: body}
			if op != protocol.OpCreate {
				call.ID = args[1]
			}

			return global.withSession(cmd, func(ctx context.Context, c *client.Client) error {
				record, err := c.Service().Invoke(ctx, call)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
}

func newRemoveCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <service> <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a record",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withSession(cmd, func(ctx context.Context, c *client.Client) error {
				record, err := c.Service().Remove(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
}

// readBody returns arg as JSON, reading stdin when arg is "-".
func readBody(stdin io.Reader, arg string) (json.RawMessage, error) {
	data := []byte(arg)
	if arg == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return json.RawMessage(data), nil
}
