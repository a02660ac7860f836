// Package cli wires the cobra command tree over the daemon controller and
// the tool executor.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yaogent/ymux/internal/logx"
	"github.com/yaogent/ymux/internal/mcperr"
)

// NewRootCommand builds the ymux command tree.
func NewRootCommand() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "ymux",
		Short: "ymux - MCP server multiplexer",
		Long: `ymux keeps persistent connections to your configured MCP servers in a
background daemon and serves them to short-lived invocations over a
local socket. Without a daemon, commands fall back to direct
connections for the life of that one invocation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	logger := func() *slog.Logger {
		l, err := logx.New(logx.Config{Level: logLevel, Format: "text", Output: os.Stderr})
		if err != nil {
			return slog.Default()
		}
		return l
	}

	cmd.AddCommand(newDaemonCmd(logger))
	cmd.AddCommand(newServerCmd(logger))
	cmd.AddCommand(newToolCmd(logger))
	return cmd
}

// info prints a status line for conditions that are informational rather
// than failures, e.g. stopping a daemon that is not running.
func info(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}

// reportBenign turns AlreadyRunning/NotRunning into an exit-0 message and
// passes every other error through.
func reportBenign(cmd *cobra.Command, err error) error {
	switch {
	case err == nil:
		return nil
	case mcperr.HasCode(err, mcperr.CodeAlreadyRunning):
		info(cmd, "daemon is already running")
		return nil
	case mcperr.HasCode(err, mcperr.CodeNotRunning):
		info(cmd, "daemon is not running")
		return nil
	default:
		return err
	}
}
