package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yaogent/ymux/internal/client"
	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/paths"
)

var socketPathFn = paths.SocketPath

var loadConfigFn = config.Load

var newExecutorFn = func(logger *slog.Logger) (client.Executor, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	socket := cfg.Daemon.Socket
	if socket == "" {
		socket = socketPathFn()
	}
	return client.New(cfg, client.Options{
		SocketPath: socket,
		Logger:     logger,
	}), nil
}

func newServerCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Inspect configured MCP servers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := newExecutorFn(logger())
			if err != nil {
				return err
			}
			defer exec.Close()

			servers, err := exec.ListServers(cmd.Context())
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				info(cmd, "no servers configured")
				return nil
			}
			for _, name := range servers {
				info(cmd, "%s", name)
			}
			return nil
		},
	})
	return cmd
}

func newToolCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "List and call server tools",
	}
	cmd.AddCommand(newToolListCmd(logger))
	cmd.AddCommand(newToolCallCmd(logger))
	return cmd
}

func newToolListCmd(logger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list <server>",
		Short: "List the tools a server offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := newExecutorFn(logger())
			if err != nil {
				return err
			}
			defer exec.Close()

			tools, err := exec.ListTools(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(tools) == 0 {
				info(cmd, "no tools on %s", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
			}
			return w.Flush()
		},
	}
}

func newToolCallCmd(logger func() *slog.Logger) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "call <server> <tool> [json-args]",
		Short: "Call a tool and print its result",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
					return fmt.Errorf("parsing tool arguments: %w", err)
				}
			}

			if !yes {
				ok, err := confirmToolCall(cmd, args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					info(cmd, "aborted")
					return nil
				}
			}

			exec, err := newExecutorFn(logger())
			if err != nil {
				return err
			}
			defer exec.Close()

			result, err := exec.Execute(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}
			if result.IsError {
				return fmt.Errorf("tool reported an error: %s", result.Content)
			}
			info(cmd, "%s", result.Content)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// confirmToolCall applies the server's auto-approve policy and prompts for
// anything not covered by it.
func confirmToolCall(cmd *cobra.Command, server, tool string) (bool, error) {
	cfg, err := loadConfigFn()
	if err != nil {
		return false, err
	}
	if cfg.Servers[server].AutoApproved(tool) {
		return true, nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s on %s? [y/N] ", tool, server)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
