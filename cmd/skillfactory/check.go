package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/skillfactory/internal/sandbox"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/urfave/cli/v3"
)

type health int

const (
	healthOk health = iota
	healthWarn
	healthError
)

type feedbackRow struct {
	unit    string
	health  health
	message string
}

var helloWorld = map[task.Language]string{
	task.Python:     `print("hello, world")`,
	task.JavaScript: `console.log("hello, world");`,
	task.TypeScript: `const greeting: string = "hello, world";
console.log(greeting);`,
}

const agentVersionTimeout = 10 * time.Second

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "verify the container runtime, the agent CLI and every language image",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-languages",
				Usage: "do not run hello world in each language image",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			feedback := make([]feedbackRow, 0)
			for _, w := range a.cfg.Warnings() {
				feedback = append(feedback, feedbackRow{unit: "Config", health: healthWarn, message: w})
			}

			runtimeRow := ensureRuntimeOk(ctx, a.engine, a.cfg.Docker.Runtime)
			feedback = append(feedback, runtimeRow)
			feedback = append(feedback, ensureAgentOk(ctx, a.cfg.Claude.Binary))

			if runtimeRow.health != healthError && !cmd.Bool("skip-languages") {
				feedback = append(feedback, ensureLanguagesOk(ctx, a.engine)...)
			}

			outputFeedback(a.out, feedback)
			for _, row := range feedback {
				if row.health == healthError {
					return cli.Exit("", 1)
				}
			}
			return nil
		},
	}
}

func ensureRuntimeOk(ctx context.Context, engine *sandbox.Engine, runtime string) feedbackRow {
	v, err := engine.Version(ctx)
	if err != nil {
		return feedbackRow{unit: runtime, health: healthError, message: err.Error()}
	}
	return feedbackRow{unit: runtime, health: healthOk, message: "server " + v}
}

func ensureAgentOk(ctx context.Context, bin string) feedbackRow {
	if bin == "" {
		bin = "claude"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return feedbackRow{unit: bin, health: healthError, message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, agentVersionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
	if err != nil {
		msg := err.Error()
		if len(out) > 0 {
			msg = msg + ": " + string(out)
		}
		return feedbackRow{unit: bin, health: healthError, message: msg}
	}
	return feedbackRow{unit: bin, health: healthOk, message: string(out)}
}

func ensureLanguagesOk(ctx context.Context, engine *sandbox.Engine) []feedbackRow {
	res := make([]feedbackRow, 0, len(task.Languages))
	for _, lang := range task.Languages {
		out := engine.Execute(ctx, sandbox.Request{
			Code:     helloWorld[lang],
			Language: lang,
		})

		row := feedbackRow{unit: string(lang), health: healthOk, message: out.Stdout}
		if !out.Succeeded() {
			row.health = healthError
			row.message = out.Excerpt(300)
		}
		res = append(res, row)
	}
	return res
}

func outputFeedback(w io.Writer, feedback []feedbackRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tHEALTH\tMESSAGE")
	for _, row := range feedback {
		msg := strings.Join(strings.Fields(row.message), " ")
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.unit, row.health.colored(), msg)
	}
	tw.Flush()
}

// colored pads before coloring so escape codes do not skew the columns.
func (h health) colored() string {
	switch h {
	case healthOk:
		return color.HiGreenString("%-5s", "OKAY")
	case healthWarn:
		return color.HiYellowString("%-5s", "WARN")
	default:
		return color.HiRedString("%-5s", "ERROR")
	}
}
