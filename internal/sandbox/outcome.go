package sandbox

import (
	"time"

	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/task"
)

// Request is one code bundle to validate. It is consumed by a single
// Execute call.
type Request struct {
	Code         string
	Dependencies string
	Language     task.Language
	// WorkDir is optional. When empty a temporary directory is created
	// and removed before Execute returns; a supplied directory is kept.
	WorkDir string
}

// Outcome is the structured result of one invocation.
type Outcome struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	TimedOut   bool
	InfraError *string
	Duration   time.Duration
}

func (o Outcome) Succeeded() bool {
	return o.ExitCode == 0 && !o.TimedOut && o.InfraError == nil
}

func infraOutcome(msg string) Outcome {
	return Outcome{ExitCode: -1, InfraError: &msg}
}

// Excerpt returns at most max characters of the most useful error text:
// the timeout and infra messages, then the tail of stderr, else stdout.
func (o Outcome) Excerpt(max int) string {
	var prefix string
	if o.TimedOut {
		prefix = "execution timed out\n"
	}
	if o.InfraError != nil {
		prefix += *o.InfraError + "\n"
	}

	text := o.Stderr
	if text == "" {
		text = o.Stdout
	}
	p, r := []rune(prefix), []rune(text)
	if len(p) >= max {
		return string(p[:max])
	}
	if budget := max - len(p); len(r) > budget {
		r = r[len(r)-budget:]
	}
	return prefix + string(r)
}

func (o Outcome) ToApi(attempt int) *api.SandboxRun {
	return &api.SandboxRun{
		Attempt:    attempt,
		Stdout:     o.Stdout,
		Stderr:     o.Stderr,
		ExitCode:   o.ExitCode,
		WallMillis: o.Duration.Milliseconds(),
		TimedOut:   o.TimedOut,
		InfraError: o.InfraError,
	}
}
