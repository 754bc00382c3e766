// Package termgath prints pipeline progress to a terminal.
package termgath

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/skillfactory/api"
)

type TerminalGatherer struct {
	mu        sync.Mutex
	w         io.Writer
	startedAt time.Time
	verbose   bool
}

// New prints to w. With verbose set, sandbox output is echoed too.
func New(w io.Writer, verbose bool) *TerminalGatherer {
	return &TerminalGatherer{w: w, startedAt: time.Now(), verbose: verbose}
}

var (
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func (t *TerminalGatherer) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

func (t *TerminalGatherer) StartTask(taskName, keyword, language string) {
	t.printf("%s %s %s\n", cyan("==>"), bold(taskName), faint(fmt.Sprintf("(%s, %s)", keyword, language)))
}

func (t *TerminalGatherer) StartPhase(taskName, phase string, attempt int) {
	if attempt > 0 {
		t.printf("    %s %s #%d\n", faint(taskName), phase, attempt)
		return
	}
	t.printf("    %s %s\n", faint(taskName), phase)
}

func (t *TerminalGatherer) FinishSandbox(taskName string, run *api.SandboxRun) {
	if run == nil {
		return
	}
	verdict := green("passed")
	switch {
	case run.InfraError != nil:
		verdict = yellow("infra error: " + *run.InfraError)
	case run.TimedOut:
		verdict = red("timed out")
	case run.ExitCode != 0:
		verdict = red(fmt.Sprintf("exit %d", run.ExitCode))
	}
	t.printf("    %s sandbox #%d %s in %dms\n", faint(taskName), run.Attempt, verdict, run.WallMillis)
	if t.verbose && run.Stderr != "" {
		t.printf("%s\n", indent(run.Stderr))
	}
}

func (t *TerminalGatherer) FinishTask(result api.TaskResult) {
	t.printf("%s %s %s\n", cyan("<=="), bold(result.TaskName), Status(result.Status))
	if result.Status != api.Success && result.ErrorLog != "" {
		t.printf("%s\n", indent(lastLines(result.ErrorLog, 5)))
	}
}

func (t *TerminalGatherer) FinishBatch(summary api.Summary) {
	dur := time.Since(t.startedAt).Round(time.Millisecond)
	parts := make([]string, 0, len(api.Statuses))
	for _, s := range api.Statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", Status(s), summary[s]))
	}
	t.printf("%s %s in %s\n", bold("== Batch finished:"), strings.Join(parts, " "), dur)
}

// Status renders a status in its color.
func Status(s api.Status) string {
	switch s {
	case api.Success:
		return green(string(s))
	case api.PartialSuccess, api.Unvalidated:
		return yellow(string(s))
	default:
		return red(string(s))
	}
}

func indent(s string) string {
	return "      " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n      ")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
