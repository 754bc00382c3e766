// Package sandbox runs generated demo code inside a disposable container
// with memory, cpu and wall-clock limits.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	containerPrefix = "skillfactory-"
	versionTimeout  = 5 * time.Second
	pullTimeout     = 300 * time.Second
	removeTimeout   = 15 * time.Second

	// exit status docker and podman use when `run` itself failed
	runtimeFailureExit = 125
)

// stderr fragments the docker and podman CLIs print when `run` fails
// before the program starts
var runtimeFailureSignatures = []string{
	"Error response from daemon",
	"Cannot connect to the Docker daemon",
	"Unable to find image",
	"invalid reference format",
	"OCI runtime",
	"docker: ",
	"Error: short-name",
	"Error: initializing source",
}

type Config struct {
	// Runtime is the container CLI binary, "docker" by default.
	Runtime        string
	Constraints    Constraints
	RegistryMirror string
	// Images overrides the default image of a language.
	Images map[task.Language]string
}

type Engine struct {
	cfg    Config
	logger *slog.Logger
	live   *xsync.MapOf[string, *process]
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Runtime == "" {
		cfg.Runtime = "docker"
	}
	def := DefaultConstraints()
	if cfg.Constraints.WallTime <= 0 {
		cfg.Constraints.WallTime = def.WallTime
	}
	if cfg.Constraints.MaxOutputBytes <= 0 {
		cfg.Constraints.MaxOutputBytes = def.MaxOutputBytes
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "sandbox"),
		live:   xsync.NewMapOf[string, *process](),
	}
}

// Runtime returns the language runtime with configured image overrides
// and the registry mirror applied.
func (e *Engine) Runtime(lang task.Language) (Runtime, error) {
	rt, err := RuntimeFor(lang)
	if err != nil {
		return Runtime{}, err
	}
	if img, ok := e.cfg.Images[lang]; ok && img != "" {
		rt.Image = img
	}
	rt.Image = WithMirror(rt.Image, e.cfg.RegistryMirror)
	return rt, nil
}

// Execute installs dependencies and runs the code in a fresh container.
// Engine-level problems are reported through Outcome.InfraError.
func (e *Engine) Execute(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := e.execute(ctx, req)
	out.Duration = time.Since(start)
	return out
}

func (e *Engine) execute(ctx context.Context, req Request) Outcome {
	rt, err := e.Runtime(req.Language)
	if err != nil {
		return infraOutcome(err.Error())
	}

	b, err := openBox(req.WorkDir)
	if err != nil {
		return infraOutcome(err.Error())
	}
	defer func() {
		if err := b.Close(); err != nil {
			e.logger.Warn("failed to remove work dir", "path", b.path, "error", err)
		}
	}()

	if err := b.AddFile(rt.CodeFile, req.Code); err != nil {
		return infraOutcome(err.Error())
	}
	if err := b.AddFile(rt.DepsFile, req.Dependencies); err != nil {
		return infraOutcome(err.Error())
	}

	name := containerPrefix + uuid.NewString()
	args := []string{"run", "--rm", "--name", name}
	args = append(args, e.cfg.Constraints.ToArgs()...)
	args = append(args,
		"-v", b.path+":/app",
		"-w", "/app",
		rt.Image,
		"sh", "-c", rt.Command(),
	)

	e.logger.Debug("starting container",
		"container", name, "image", rt.Image, "language", req.Language)

	proc, err := startProcess(e.cfg.Runtime, args, e.cfg.Constraints.MaxOutputBytes)
	if err != nil {
		return infraOutcome(err.Error())
	}
	e.live.Store(name, proc)
	defer e.live.Delete(name)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Constraints.WallTime)
	defer cancel()

	code, interrupted, err := proc.wait(runCtx)
	if proc.shutdown.Load() {
		proc.reap()
		out := infraOutcome("sandbox shut down")
		out.Stdout, out.Stderr = proc.stdout.String(), proc.stderr.String()
		return out
	}
	if interrupted {
		e.terminate(name, proc)
		out := Outcome{
			ExitCode: -1,
			Stdout:   proc.stdout.String(),
			Stderr:   proc.stderr.String(),
			TimedOut: true,
		}
		if ctx.Err() != nil {
			msg := fmt.Sprintf("cancelled: %v", ctx.Err())
			out.InfraError = &msg
		} else {
			e.logger.Warn("container killed after wall time limit",
				"container", name, "limit", e.cfg.Constraints.WallTime)
		}
		return out
	}
	if err != nil {
		return infraOutcome(fmt.Sprintf("waiting for %s: %v", e.cfg.Runtime, err))
	}

	out := Outcome{
		ExitCode: code,
		Stdout:   proc.stdout.String(),
		Stderr:   proc.stderr.String(),
	}
	if isRuntimeFailure(code, out.Stderr) {
		msg := fmt.Sprintf("%s run failed: %s", e.cfg.Runtime, strings.TrimSpace(out.Stderr))
		out.InfraError = &msg
	}
	return out
}

// terminate kills the CLI process group, force-removes the container and
// reaps the process.
func (e *Engine) terminate(name string, proc *process) {
	if err := proc.kill(); err != nil {
		e.logger.Warn("failed to kill container process", "container", name, "error", err)
	}
	e.remove(name)
	proc.reap()
}

func (e *Engine) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, e.cfg.Runtime, "rm", "-f", name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		e.logger.Warn("failed to remove container",
			"container", name, "error", err, "output", strings.TrimSpace(string(out)))
	}
}

// isRuntimeFailure tells a failed `run` apart from demo code that exits
// with the same status.
func isRuntimeFailure(code int, stderr string) bool {
	if code != runtimeFailureExit {
		return false
	}
	for _, sig := range runtimeFailureSignatures {
		if strings.Contains(stderr, sig) {
			return true
		}
	}
	return false
}

// Shutdown force-removes every container still running. Executions it
// interrupts report an infra error.
func (e *Engine) Shutdown() {
	e.live.Range(func(name string, proc *process) bool {
		e.logger.Info("removing live container", "container", name)
		proc.shutdown.Store(true)
		e.terminate(name, proc)
		return true
	})
}

// Live reports how many containers are currently running.
func (e *Engine) Live() int {
	return e.live.Size()
}

// Version returns the container runtime server version.
func (e *Engine) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	if _, err := exec.LookPath(e.cfg.Runtime); err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", e.cfg.Runtime, err)
	}
	out, err := exec.CommandContext(ctx, e.cfg.Runtime,
		"version", "--format", "{{.Server.Version}}").Output()
	if err != nil {
		return "", fmt.Errorf("%s daemon not reachable: %w", e.cfg.Runtime, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *Engine) IsAvailable(ctx context.Context) bool {
	_, err := e.Version(ctx)
	if err != nil {
		e.logger.Debug("container runtime unavailable", "error", err)
		return false
	}
	return true
}

// Prefetch pulls the image of lang so the first run does not pay for it.
func (e *Engine) Prefetch(ctx context.Context, lang task.Language) bool {
	rt, err := e.Runtime(lang)
	if err != nil {
		e.logger.Warn("cannot prefetch image", "language", lang, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	start := time.Now()
	out, err := exec.CommandContext(ctx, e.cfg.Runtime, "pull", rt.Image).CombinedOutput()
	if err != nil {
		e.logger.Warn("image pull failed",
			"image", rt.Image, "error", err, "output", lastLine(string(out)))
		return false
	}
	e.logger.Info("image pulled", "image", rt.Image, "took", time.Since(start).Round(time.Millisecond))
	return true
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
