package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/urfave/cli/v3"
)

func workersFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "workers",
		Aliases: []string{"w"},
		Usage:   "maximum number of skills processed at once",
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "process a batch file and write the results report",
		ArgsUsage: "[batch file]",
		Flags: []cli.Flag{
			workersFlag(),
			&cli.StringFlag{
				Name:  "report",
				Usage: "report path (default: <data-dir>/results_log.json)",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "exit with status 1 unless every skill succeeded",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.warn()

			path := cmd.Args().First()
			if path == "" {
				path = a.cfg.BatchFile()
			}
			b, err := task.ReadFile(path)
			if err != nil {
				return err
			}
			if len(b.Tasks) == 0 {
				a.logger.Warn("batch is empty", "file", path)
			}

			if v, err := a.engine.Version(ctx); err != nil {
				a.logger.Warn("container runtime unavailable, skills will be unvalidated", "error", err)
			} else {
				a.logger.Info("container runtime ready", "runtime", a.cfg.Docker.Runtime, "version", v)
			}

			report := cmd.String("report")
			if report == "" {
				report = a.cfg.ReportPath()
			}
			store, err := a.runBatch(ctx, b, report)
			if err != nil {
				return err
			}

			if cmd.Bool("strict") {
				summary := store.Summary()
				if summary[api.Success] != store.Len() {
					return cli.Exit(fmt.Sprintf("%d of %d skills did not succeed",
						store.Len()-summary[api.Success], store.Len()), 1)
				}
			}
			return ctx.Err()
		},
	}
}

func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}
