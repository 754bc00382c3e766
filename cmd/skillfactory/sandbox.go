package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/skillfactory/internal/sandbox"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/urfave/cli/v3"
)

func sandboxCommand() *cli.Command {
	return &cli.Command{
		Name:      "sandbox",
		Usage:     "run a code file in the sandbox the way skills are validated",
		ArgsUsage: "<code file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "lang",
				Value: string(task.Python),
				Usage: "python, javascript or typescript",
			},
			&cli.StringFlag{
				Name:  "deps",
				Usage: "dependency file (requirements.txt or package.json)",
			},
			&cli.StringFlag{
				Name:  "work-dir",
				Usage: "mount this directory instead of a temporary one",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			lang, err := task.ParseLanguage(cmd.String("lang"))
			if err != nil {
				return err
			}
			codePath := cmd.Args().First()
			if codePath == "" {
				return errors.New("a code file is required")
			}
			code, err := os.ReadFile(codePath)
			if err != nil {
				return err
			}
			var deps []byte
			if p := cmd.String("deps"); p != "" {
				if deps, err = os.ReadFile(p); err != nil {
					return err
				}
			}

			out := a.engine.Execute(ctx, sandbox.Request{
				Code:         string(code),
				Dependencies: string(deps),
				Language:     lang,
				WorkDir:      cmd.String("work-dir"),
			})
			printOutcome(a, out)
			if !out.Succeeded() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func printOutcome(a *app, out sandbox.Outcome) {
	if out.Stdout != "" {
		fmt.Fprintf(a.out, "%s\n%s\n", color.New(color.Faint).Sprint("--- stdout"), strings.TrimRight(out.Stdout, "\n"))
	}
	if out.Stderr != "" {
		fmt.Fprintf(a.out, "%s\n%s\n", color.New(color.Faint).Sprint("--- stderr"), strings.TrimRight(out.Stderr, "\n"))
	}

	verdict := color.GreenString("passed")
	switch {
	case out.InfraError != nil:
		verdict = color.YellowString("infra error: %s", *out.InfraError)
	case out.TimedOut:
		verdict = color.RedString("timed out")
	case out.ExitCode != 0:
		verdict = color.RedString("exit code %d", out.ExitCode)
	}
	fmt.Fprintf(a.out, "%s in %s\n", verdict, out.Duration.Round(time.Millisecond))
}
