// Package scheduler runs the pipelines of a batch with bounded
// concurrency and a per-task deadline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/gatherer"
	"github.com/programme-lv/skillfactory/internal/results"
	"github.com/programme-lv/skillfactory/internal/task"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 3
	DefaultTaskTimeout = 600 * time.Second
	DefaultGrace       = 30 * time.Second
)

// Runner executes the pipeline of one task.
type Runner interface {
	Run(ctx context.Context, desc task.Descriptor) (api.TaskResult, error)
}

// Prefetcher accepts background image pulls.
type Prefetcher interface {
	Schedule(lang task.Language)
}

type Config struct {
	Concurrency int
	TaskTimeout time.Duration
	// Grace bounds how long a slot stays held after a task deadline while
	// the cancelled pipeline winds down.
	Grace     time.Duration
	SkillsDir string
	// ReportPath is where the batch report is written; empty disables it.
	ReportPath string
}

type Scheduler struct {
	cfg      Config
	runner   Runner
	prefetch Prefetcher
	gatherer gatherer.Gatherer
	logger   *slog.Logger
}

type Option func(*Scheduler)

func WithPrefetcher(p Prefetcher) Option {
	return func(s *Scheduler) { s.prefetch = p }
}

func WithGatherer(g gatherer.Gatherer) Option {
	return func(s *Scheduler) { s.gatherer = g }
}

func New(cfg Config, runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	s := &Scheduler{
		cfg:      cfg,
		runner:   runner,
		gatherer: gatherer.Nop{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunBatch runs every task of b and returns exactly one result per task in
// input order. The results are also appended to store and, when a report
// path is configured, persisted. Only the report write can fail.
func (s *Scheduler) RunBatch(ctx context.Context, b task.Batch, store *results.Store) ([]api.TaskResult, error) {
	start := time.Now()
	s.logger.Info("batch started",
		"run", b.RunUuid, "tasks", len(b.Tasks), "concurrency", s.cfg.Concurrency, "task_timeout", s.cfg.TaskTimeout)

	if len(b.Tasks) == 0 {
		s.logger.Info("batch is empty, nothing to run", "run", b.RunUuid)
		return []api.TaskResult{}, s.writeReport(store)
	}

	if s.prefetch != nil {
		for _, lang := range b.DistinctLanguages() {
			s.prefetch.Schedule(lang)
		}
	}

	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	out := make([]api.TaskResult, len(b.Tasks))

	var wg sync.WaitGroup
	for i, desc := range b.Tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = s.runTask(ctx, sem, desc)
			s.gatherer.FinishTask(out[i])
		}()
	}
	wg.Wait()

	for _, r := range out {
		store.Append(r)
	}
	summary := results.Summarize(out)
	s.gatherer.FinishBatch(summary)

	attrs := []any{"run", b.RunUuid, "took", time.Since(start).Round(time.Millisecond)}
	for _, st := range api.Statuses {
		attrs = append(attrs, string(st), summary[st])
	}
	s.logger.Info("batch finished", attrs...)

	return out, s.writeReport(store)
}

func (s *Scheduler) writeReport(store *results.Store) error {
	if s.cfg.ReportPath == "" {
		return nil
	}
	if err := store.WriteReport(s.cfg.ReportPath); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}
	s.logger.Info("report written", "path", s.cfg.ReportPath)
	return nil
}

type outcome struct {
	result api.TaskResult
	err    error
}

// runTask holds one slot for the lifetime of the pipeline goroutine. The
// task's status is fixed when the pipeline returns or the deadline fires,
// whichever comes first.
func (s *Scheduler) runTask(ctx context.Context, sem *semaphore.Weighted, desc task.Descriptor) api.TaskResult {
	logger := s.logger.With("task", desc.Name)

	if err := sem.Acquire(ctx, 1); err != nil {
		logger.Warn("task not started", "error", err)
		return s.result(desc, api.Failed, "batch cancelled before the task started: "+err.Error())
	}
	defer sem.Release(1)

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	s.gatherer.StartTask(desc.Name, desc.Keyword, string(desc.Language))

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("pipeline panicked", "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("pipeline panicked: %v", r)}
			}
		}()
		res, err := s.runner.Run(taskCtx, desc)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return s.classify(ctx, taskCtx, desc, o, logger)
	case <-taskCtx.Done():
	}

	var res api.TaskResult
	if ctx.Err() != nil {
		res = s.result(desc, api.Failed, "batch cancelled: "+ctx.Err().Error())
	} else {
		logger.Warn("task deadline exceeded", "timeout", s.cfg.TaskTimeout)
		res = s.result(desc, api.Timeout, fmt.Sprintf("task exceeded the %s deadline", s.cfg.TaskTimeout))
	}

	grace := time.NewTimer(s.cfg.Grace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		logger.Warn("pipeline ignored cancellation, releasing its slot", "grace", s.cfg.Grace)
	}
	return res
}

func (s *Scheduler) classify(ctx, taskCtx context.Context, desc task.Descriptor, o outcome, logger *slog.Logger) api.TaskResult {
	if o.err == nil {
		return o.result
	}
	switch {
	case ctx.Err() != nil:
		return s.result(desc, api.Failed, "batch cancelled: "+ctx.Err().Error())
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		logger.Warn("task deadline exceeded", "timeout", s.cfg.TaskTimeout)
		return s.result(desc, api.Timeout, fmt.Sprintf("task exceeded the %s deadline", s.cfg.TaskTimeout))
	default:
		logger.Error("pipeline failed", "error", o.err)
		return s.result(desc, api.Failed, o.err.Error())
	}
}

func (s *Scheduler) result(desc task.Descriptor, status api.Status, errLog string) api.TaskResult {
	return api.TaskResult{
		TaskName:     desc.Name,
		Status:       status,
		ArtifactDir:  filepath.Join(s.cfg.SkillsDir, desc.Name),
		ArtifactFile: filepath.Join(s.cfg.SkillsDir, desc.Name+".skill"),
		ErrorLog:     errLog,
		CreatedAt:    time.Now().UTC(),
	}
}
