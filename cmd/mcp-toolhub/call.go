package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/mcp-toolhub/pkg/registry"
)

var callCmd = &cobra.Command{
	Use:   "call <server> [tool] [arguments]",
	Short: "Connect to a server, call one tool and disconnect",
	Long: `Connects to a configured server, calls a tool with a JSON object of
arguments and prints the result. The exit status is non-zero when the call
fails or the tool reports an error.`,
	Example: `  mcp-toolhub call fs read_file '{"path":"/tmp/notes.txt"}'
  mcp-toolhub call fs --list`,
	Args:    cobra.RangeArgs(1, 3),
	RunE:    runCall,
}

var listTools bool

func init() {
	callCmd.Flags().BoolVar(&listTools, "list", false, "print the server's tools instead of calling one")
}

func runCall(cmd *cobra.Command, args []string) error {
	id := args[0]
	if len(args) == 1 && !listTools {
		return fmt.Errorf("name a tool, or pass --list")
	}
	var tool string
	if len(args) > 1 {
		tool = args[1]
	}
	var arguments json.RawMessage
	if len(args) == 3 {
		arguments = json.RawMessage(args[2])
		if !json.Valid(arguments) {
			return fmt.Errorf("arguments are not valid JSON")
		}
	}

	return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
		if err := reg.ConnectServer(ctx, id, registry.WithoutRetry()); err != nil {
			return err
		}
		defer reg.DisconnectServer(context.Background(), id)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if listTools {
			sc, err := reg.GetServer(id)
			if err != nil {
				return err
			}
			return enc.Encode(sc.Tools)
		}

		res, err := reg.ExecuteTool(ctx, id, tool, arguments)
		if err != nil {
			return err
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.IsError {
			return fmt.Errorf("tool %s reported an error", tool)
		}
		return nil
	})
}
