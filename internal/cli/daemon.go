package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yaogent/ymux/internal/daemon"
	"github.com/yaogent/ymux/internal/daemonctl"
	"github.com/yaogent/ymux/internal/mcperr"
)

// controller is the slice of daemonctl.Controller the commands use,
// replaceable in tests.
type controller interface {
	Start(foreground bool) error
	Stop() error
	Restart(foreground bool) error
	Status(ctx context.Context) (*daemon.StatusInfo, error)
	Log(n int) ([]string, error)
}

var newControllerFn = func(logger *slog.Logger) controller {
	return daemonctl.New(logger)
}

func newDaemonCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background daemon",
	}
	cmd.AddCommand(newDaemonStartCmd(logger))
	cmd.AddCommand(newDaemonStopCmd(logger))
	cmd.AddCommand(newDaemonStatusCmd(logger))
	cmd.AddCommand(newDaemonRestartCmd(logger))
	cmd.AddCommand(newDaemonLogCmd(logger))
	return cmd
}

func newDaemonStartCmd(logger func() *slog.Logger) *cobra.Command {
	var foreground bool
	var socketPath, logPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl := newControllerFn(logger())
			if c, ok := ctl.(*daemonctl.Controller); ok {
				if socketPath != "" {
					c.SocketPath = socketPath
				}
				if logPath != "" {
					c.LogPath = logPath
				}
			}
			if err := reportBenign(cmd, ctl.Start(foreground)); err != nil {
				return err
			}
			if !foreground {
				info(cmd, "daemon started")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of detaching")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Socket path (default: per-user runtime dir)")
	cmd.Flags().StringVar(&logPath, "log", "", "Log file path (default: per-user state dir)")
	return cmd
}

func newDaemonStopCmd(logger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := reportBenign(cmd, newControllerFn(logger()).Stop()); err != nil {
				return err
			}
			info(cmd, "daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCmd(logger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and per-server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newControllerFn(logger()).Status(cmd.Context())
			if err != nil {
				if mcperr.HasCode(err, mcperr.CodeNotRunning) {
					info(cmd, "daemon is not running")
					return nil
				}
				return err
			}

			info(cmd, "daemon running (pid %d, socket %s)", status.PID, status.Socket)
			if status.Log != "" {
				info(cmd, "log: %s", status.Log)
			}
			if len(status.Servers) == 0 {
				info(cmd, "no servers configured")
				return nil
			}

			names := make([]string, 0, len(status.Servers))
			for name := range status.Servers {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tSTATE\tTOOLS\tERROR")
			for _, name := range names {
				s := status.Servers[name]
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, s.State, s.Tools, s.Error)
			}
			return w.Flush()
		},
	}
}

func newDaemonRestartCmd(logger func() *slog.Logger) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := reportBenign(cmd, newControllerFn(logger()).Restart(foreground)); err != nil {
				return err
			}
			if !foreground {
				info(cmd, "daemon restarted")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of detaching")
	return cmd
}

func newDaemonLogCmd(logger func() *slog.Logger) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the tail of the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newControllerFn(logger()).Log(lines)
			if err != nil {
				if mcperr.HasCode(err, mcperr.CodeNotFound) {
					info(cmd, "%s", err.Error())
					return nil
				}
				return err
			}
			for _, line := range out {
				info(cmd, "%s", line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 50, "Number of lines to show")
	return cmd
}
