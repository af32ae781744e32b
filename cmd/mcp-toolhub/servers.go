package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
	"github.com/ajitpratap0/mcp-toolhub/pkg/registry"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Edit the configured server list",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			servers := reg.GetAllServers()
			if listJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				configs := make([]config.ServerConfig, 0, len(servers))
				for _, sc := range servers {
					configs = append(configs, sc.Config)
				}
				return enc.Encode(configs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTRANSPORT\tTARGET")
			for _, sc := range servers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sc.Config.ID, sc.Config.Name, sc.Config.Kind(), target(sc.Config))
			}
			return tw.Flush()
		})
	},
}

var (
	listJSON  bool
	addName   string
	addArgs   []string
	addEnv    []string
	addURL    string
	addAPIKey string
)

var serversAddCmd = &cobra.Command{
	Use:   "add <id> [command]",
	Short: "Add or replace a server",
	Long: `Adds a stdio server when a command is given, or an HTTP server with --url.
An existing server with the same id is replaced.`,
	Example: `  mcp-toolhub servers add fs npx --arg -y --arg @modelcontextprotocol/server-filesystem --arg /tmp
  mcp-toolhub servers add search --url https://search.example.com/sse --api-key $KEY`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serverFromFlags(args)
		if err != nil {
			return err
		}
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			if _, err := reg.AddServer(ctx, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", cfg.ID)
			return nil
		})
	},
}

var serversRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a server",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			if err := reg.RemoveServer(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

func init() {
	serversListCmd.Flags().BoolVar(&listJSON, "json", false, "print the list as JSON")

	flags := serversAddCmd.Flags()
	flags.StringVar(&addName, "name", "", "display name (defaults to the id)")
	flags.StringArrayVar(&addArgs, "arg", nil, "argument for the command, repeatable")
	flags.StringArrayVar(&addEnv, "env", nil, "KEY=VALUE for the command's environment, repeatable")
	flags.StringVar(&addURL, "url", "", "event stream URL of an HTTP server")
	flags.StringVar(&addAPIKey, "api-key", "", "bearer token for an HTTP server")

	serversCmd.AddCommand(serversListCmd, serversAddCmd, serversRemoveCmd)
}

func serverFromFlags(args []string) (config.ServerConfig, error) {
	cfg := config.ServerConfig{ID: args[0], Name: addName}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	switch {
	case addURL != "" && len(args) == 2:
		return cfg, fmt.Errorf("give either a command or --url, not both")
	case addURL != "":
		cfg.Spec = config.HTTPSpec{URL: addURL, APIKey: addAPIKey}
	case len(args) == 2:
		env := make(map[string]string, len(addEnv))
		for _, kv := range addEnv {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return cfg, fmt.Errorf("--env %q: want KEY=VALUE", kv)
			}
			env[k] = v
		}
		if len(env) == 0 {
			env = nil
		}
		cfg.Spec = config.StdioSpec{Command: args[1], Args: addArgs, Env: env}
	default:
		return cfg, fmt.Errorf("give a command or --url")
	}
	return cfg, cfg.Validate()
}

func target(cfg config.ServerConfig) string {
	switch spec := cfg.Spec.(type) {
	case config.StdioSpec:
		return strings.TrimSpace(spec.Command + " " + strings.Join(spec.Args, " "))
	case config.HTTPSpec:
		return spec.URL
	}
	return ""
}

// withRegistry opens the configured store, loads it into a registry and
// runs fn. Nothing is connected.
func withRegistry(ctx context.Context, fn func(ctx context.Context, reg *registry.Registry) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	store, err := settings.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := registry.New(registryOptions(store, logger)...)
	defer reg.Close()
	if err := reg.LoadFromConfig(ctx); err != nil {
		return err
	}
	return fn(ctx, reg)
}
