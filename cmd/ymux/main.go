package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/yaogent/ymux/internal/cli"
	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/daemon"
	"github.com/yaogent/ymux/internal/logx"
	"github.com/yaogent/ymux/internal/paths"
)

func main() {
	// The controller re-execs this binary with __daemon to run the
	// daemon loop detached from the invoking terminal.
	if len(os.Args) > 1 && os.Args[1] == "__daemon" {
		if err := runDaemon(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "ymux daemon: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ymux: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("__daemon", flag.ExitOnError)
	configPath := fs.String("config", paths.ConfigFile(), "config file path")
	socketPath := fs.String("socket", paths.SocketPath(), "socket path")
	pidPath := fs.String("pid", paths.PIDPath(), "pid file path")
	logPath := fs.String("log", paths.LogPath(), "log file path")
	logLevel := fs.String("log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := *logLevel
	if level == "" {
		if cfg, err := config.LoadFrom(*configPath); err == nil && cfg.Daemon.LogLevel != "" {
			level = cfg.Daemon.LogLevel
		} else {
			level = "info"
		}
	}

	logFile, err := logx.OpenLogFile(*logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger, err := logx.New(logx.Config{Level: level, Format: "text", Output: logFile})
	if err != nil {
		return err
	}

	return daemon.Run(daemon.Options{
		ConfigPath:  *configPath,
		SocketPath:  *socketPath,
		PIDPath:     *pidPath,
		LogPath:     *logPath,
		Logger:      logger,
		WatchConfig: true,
	})
}
