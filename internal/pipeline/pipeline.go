// Package pipeline drives one skill through research, drafting, sandbox
// validation with bounded fix rounds, and distillation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/agent"
	"github.com/programme-lv/skillfactory/internal/gatherer"
	"github.com/programme-lv/skillfactory/internal/sandbox"
	"github.com/programme-lv/skillfactory/internal/task"
)

const (
	DefaultMaxAttempts  = 3
	DefaultRoundTimeout = 1200 * time.Second
	DefaultExcerptChars = 2000

	responseSummaryChars = 500
)

// Sandbox validates demo code.
type Sandbox interface {
	Execute(ctx context.Context, req sandbox.Request) sandbox.Outcome
	IsAvailable(ctx context.Context) bool
}

// ImageWaiter blocks until the image of a language has been prefetched.
type ImageWaiter interface {
	Await(ctx context.Context, lang task.Language) bool
}

// Packager bundles a finished artifact directory and returns the bundle path.
type Packager interface {
	Package(ctx context.Context, dir string, name string, status api.Status) (string, error)
}

type Config struct {
	SkillsDir    string
	MaxAttempts  int
	RoundTimeout time.Duration
	ExcerptChars int
}

type Pipeline struct {
	cfg      Config
	agents   agent.Factory
	sandbox  Sandbox
	images   ImageWaiter
	packager Packager
	gatherer gatherer.Gatherer
	logger   *slog.Logger
}

type Option func(*Pipeline)

func WithImageWaiter(w ImageWaiter) Option {
	return func(p *Pipeline) { p.images = w }
}

func WithPackager(pk Packager) Option {
	return func(p *Pipeline) { p.packager = pk }
}

func WithGatherer(g gatherer.Gatherer) Option {
	return func(p *Pipeline) { p.gatherer = g }
}

func New(cfg Config, agents agent.Factory, sb Sandbox, logger *slog.Logger, opts ...Option) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = DefaultRoundTimeout
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}
	p := &Pipeline{
		cfg:      cfg,
		agents:   agents,
		sandbox:  sb,
		gatherer: gatherer.Nop{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run is the mutable state of one pipeline execution.
type run struct {
	*Pipeline
	desc   task.Descriptor
	rt     sandbox.Runtime
	dir    string
	agent  agent.Agent
	logger *slog.Logger

	phase      Phase
	validated  bool
	unverified bool
	attempts   int
	lastErr    string
	demoCode   string
}

// Run executes every phase for one task. Errors from the agent and
// cancellation of ctx are returned unchanged; the resulting status is then
// decided by the caller.
func (p *Pipeline) Run(ctx context.Context, desc task.Descriptor) (api.TaskResult, error) {
	rt, err := sandbox.RuntimeFor(desc.Language)
	if err != nil {
		return api.TaskResult{}, err
	}

	dir := filepath.Join(p.cfg.SkillsDir, desc.Name)
	if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o755); err != nil {
		return api.TaskResult{}, fmt.Errorf("create artifact dir: %w", err)
	}

	a, err := p.agents(desc.Name)
	if err != nil {
		return api.TaskResult{}, fmt.Errorf("start agent: %w", err)
	}

	r := &run{
		Pipeline: p,
		desc:     desc,
		rt:       rt,
		dir:      dir,
		agent:    a,
		logger:   p.logger.With("task", desc.Name),
	}
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) (api.TaskResult, error) {
	start := time.Now()
	r.logger.Info("pipeline started", "keyword", r.desc.Keyword, "language", r.desc.Language, "strategy", r.desc.Strategy)

	if err := r.enter(Research, 0); err != nil {
		return api.TaskResult{}, err
	}
	if _, err := r.round(ctx, researchInstruction(r.desc)); err != nil {
		return api.TaskResult{}, err
	}

	if err := r.enter(Draft, 0); err != nil {
		return api.TaskResult{}, err
	}
	if _, err := r.round(ctx, draftInstruction(r.desc, r.rt, r.dir)); err != nil {
		return api.TaskResult{}, err
	}

	if err := r.validate(ctx); err != nil {
		return api.TaskResult{}, err
	}

	if err := r.enter(Distill, 0); err != nil {
		return api.TaskResult{}, err
	}
	if r.desc.SkipDistillation {
		r.logger.Info("distillation skipped")
	} else if _, err := r.round(ctx, distillInstruction(r.desc, r.dir, r.validated)); err != nil {
		return api.TaskResult{}, err
	}
	if err := r.enter(Done, 0); err != nil {
		return api.TaskResult{}, err
	}

	status := r.status()
	result := api.TaskResult{
		TaskName:     r.desc.Name,
		Status:       status,
		ArtifactDir:  r.dir,
		ArtifactFile: filepath.Join(r.cfg.SkillsDir, r.desc.Name+".skill"),
		DemoCode:     r.demoCode,
		ErrorLog:     r.lastErr,
		Attempts:     r.attempts,
	}

	if r.packager != nil {
		path, err := r.packager.Package(ctx, r.dir, r.desc.Name, status)
		if err != nil {
			r.logger.Warn("packaging failed", "error", err)
			result.ErrorLog = joinLines(result.ErrorLog, "packaging failed: "+err.Error())
		} else {
			result.ArtifactFile = path
		}
	}

	result.CreatedAt = time.Now().UTC()
	r.logger.Info("pipeline finished",
		"status", status, "attempts", r.attempts, "took", time.Since(start).Round(time.Millisecond))
	return result, nil
}

// validate runs the bounded test and fix loop.
func (r *run) validate(ctx context.Context) error {
	if !r.sandbox.IsAvailable(ctx) {
		r.logger.Warn("sandbox runtime unavailable, skipping validation")
		r.unverified = true
		r.lastErr = "sandbox runtime unavailable: demo code was not validated"
		return nil
	}

	if r.images != nil && !r.images.Await(ctx, r.desc.Language) {
		r.logger.Debug("image prefetch not available, the first run pulls it")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := r.enter(Test, attempt); err != nil {
			return err
		}

		code, deps, err := r.readDraft()
		if err != nil {
			r.logger.Warn("draft artifacts missing", "error", err)
			r.lastErr = "draft artifacts missing: " + err.Error()
			return nil
		}
		r.demoCode = code

		out := r.sandbox.Execute(ctx, sandbox.Request{
			Code:         code,
			Dependencies: deps,
			Language:     r.desc.Language,
		})
		if err := ctx.Err(); err != nil {
			return err
		}
		r.attempts = attempt
		r.gatherer.FinishSandbox(r.desc.Name, out.ToApi(attempt))

		if out.Succeeded() {
			r.logger.Info("demo validated", "attempt", attempt, "took", out.Duration.Round(time.Millisecond))
			r.validated = true
			r.lastErr = ""
			return nil
		}

		r.lastErr = out.Excerpt(r.cfg.ExcerptChars)
		if out.InfraError != nil {
			r.logger.Warn("sandbox infrastructure error", "attempt", attempt, "error", *out.InfraError)
			r.unverified = true
			return nil
		}
		r.logger.Info("demo failed", "attempt", attempt, "exit_code", out.ExitCode, "timed_out", out.TimedOut)

		if attempt == r.cfg.MaxAttempts {
			break
		}
		if err := r.enter(Fix, attempt); err != nil {
			return err
		}
		if _, err := r.round(ctx, fixInstruction(r.rt, r.dir, attempt, r.lastErr)); err != nil {
			return err
		}
	}
	r.logger.Warn("demo not validated, attempts exhausted", "attempts", r.attempts)
	return nil
}

func (r *run) readDraft() (code string, deps string, err error) {
	scripts := filepath.Join(r.dir, "scripts")
	c, err := os.ReadFile(filepath.Join(scripts, r.rt.CodeFile))
	if err != nil {
		return "", "", err
	}
	d, err := os.ReadFile(filepath.Join(scripts, r.rt.DepsFile))
	if err != nil {
		return "", "", err
	}
	return string(c), string(d), nil
}

func (r *run) status() api.Status {
	switch {
	case r.validated:
		return api.Success
	case r.unverified:
		return api.Unvalidated
	default:
		return api.PartialSuccess
	}
}

func (r *run) enter(to Phase, attempt int) error {
	if err := Transition(r.phase, to); err != nil {
		return err
	}
	r.phase = to
	if to != Done {
		r.gatherer.StartPhase(r.desc.Name, string(to), attempt)
	}
	r.logger.Debug("phase", "phase", to, "attempt", attempt)
	return nil
}

func (r *run) round(ctx context.Context, instruction string) (string, error) {
	text, err := agent.Collect(ctx, r.agent, instruction, r.cfg.RoundTimeout, r.logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", err
		}
		return "", fmt.Errorf("%s round: %w", r.phase, err)
	}
	r.logger.Debug("agent response", "phase", r.phase, "summary", summarize(text))
	return text, nil
}

func summarize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) > responseSummaryChars {
		return string(r[:responseSummaryChars]) + "..."
	}
	return s
}

func joinLines(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
