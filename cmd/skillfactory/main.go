package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "skillfactory",
		Usage: "research, validate and package agent skills",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML config file (default: $XDG_CONFIG_HOME/skillfactory/config.toml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file (default: ./.env)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "log JSON lines instead of colored text",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable colored output",
			},
			&cli.StringFlag{
				Name:  "skills-dir",
				Usage: "where skill directories and bundles are written",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "where batch files and reports live",
			},
			&cli.StringFlag{
				Name:  "logs-dir",
				Usage: "where agent.log is appended (default: <data-dir>/logs)",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
			enqueueCommand(),
			sandboxCommand(),
			checkCommand(),
			prefetchCommand(),
			inspectCommand(),
		},
	}
}
