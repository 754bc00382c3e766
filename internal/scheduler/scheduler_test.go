package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/gatherer"
	"github.com/programme-lv/skillfactory/internal/results"
	"github.com/programme-lv/skillfactory/internal/scheduler"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type behaviour struct {
	sleep     time.Duration
	ignoreCtx bool
	err       error
	panics    bool
}

type fakeRunner struct {
	mu         sync.Mutex
	behaviours map[string]behaviour
	running    int
	maxRunning int
	started    map[string]time.Time
	finished   map[string]time.Time
}

func newFakeRunner(b map[string]behaviour) *fakeRunner {
	return &fakeRunner{
		behaviours: b,
		started:    map[string]time.Time{},
		finished:   map[string]time.Time{},
	}
}

func (f *fakeRunner) Run(ctx context.Context, d task.Descriptor) (api.TaskResult, error) {
	f.mu.Lock()
	b := f.behaviours[d.Name]
	f.running++
	f.maxRunning = max(f.maxRunning, f.running)
	f.started[d.Name] = time.Now()
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.finished[d.Name] = time.Now()
		f.mu.Unlock()
	}()

	if b.panics {
		panic("index out of range")
	}
	if b.ignoreCtx {
		time.Sleep(b.sleep)
	} else {
		select {
		case <-time.After(b.sleep):
		case <-ctx.Done():
			return api.TaskResult{}, ctx.Err()
		}
	}
	if b.err != nil {
		return api.TaskResult{}, b.err
	}
	return api.TaskResult{TaskName: d.Name, Status: api.Success, Attempts: 1}, nil
}

func (f *fakeRunner) times(name string) (time.Time, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[name], f.finished[name]
}

func (f *fakeRunner) waitFinished(t *testing.T, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, end := f.times(name)
		return !end.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
}

func batch(names ...string) task.Batch {
	b := task.Batch{RunUuid: "run-test"}
	for _, n := range names {
		b.Tasks = append(b.Tasks, task.Descriptor{Name: n, Keyword: n, Language: task.Python})
	}
	return b
}

func newScheduler(cfg scheduler.Config, r scheduler.Runner, opts ...scheduler.Option) *scheduler.Scheduler {
	return scheduler.New(cfg, r, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func names(rs []api.TaskResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.TaskName
	}
	return out
}

func TestRunBatch_OrderAndConcurrencyBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newFakeRunner(map[string]behaviour{
		"a": {sleep: 80 * time.Millisecond},
		"b": {sleep: 10 * time.Millisecond},
		"c": {sleep: 50 * time.Millisecond},
		"d": {sleep: 5 * time.Millisecond},
		"e": {sleep: 30 * time.Millisecond},
		"f": {sleep: 1 * time.Millisecond},
	})
	s := newScheduler(scheduler.Config{Concurrency: 2, TaskTimeout: 5 * time.Second}, r)
	store := results.NewStore("run-test")

	out, err := s.RunBatch(context.Background(), batch("a", "b", "c", "d", "e", "f"), store)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, names(out))
	assert.Equal(t, names(out), names(store.Results()))
	assert.Equal(t, 2, r.maxRunning)
	assert.Equal(t, 6, store.Summary()[api.Success])
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newFakeRunner(map[string]behaviour{
		"ok":      {sleep: 10 * time.Millisecond},
		"broken":  {err: errors.New("agent exited with status 1")},
		"panics":  {panics: true},
		"slow":    {sleep: time.Minute},
		"also-ok": {sleep: 20 * time.Millisecond},
	})
	s := newScheduler(scheduler.Config{Concurrency: 5, TaskTimeout: 200 * time.Millisecond, SkillsDir: "/skills"}, r)

	out, err := s.RunBatch(context.Background(), batch("ok", "broken", "panics", "slow", "also-ok"), results.NewStore("run-test"))
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, api.Success, out[0].Status)
	assert.Equal(t, api.Failed, out[1].Status)
	assert.Contains(t, out[1].ErrorLog, "agent exited with status 1")
	assert.Equal(t, api.Failed, out[2].Status)
	assert.Contains(t, out[2].ErrorLog, "index out of range")
	assert.Equal(t, api.Timeout, out[3].Status)
	assert.Equal(t, "/skills/slow", out[3].ArtifactDir)
	assert.Equal(t, "/skills/slow.skill", out[3].ArtifactFile)
	assert.Equal(t, api.Success, out[4].Status)
}

func TestRunBatch_SlotHeldUntilPipelineReturns(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newFakeRunner(map[string]behaviour{
		"stubborn": {sleep: 300 * time.Millisecond, ignoreCtx: true},
		"next":     {sleep: time.Millisecond},
	})
	s := newScheduler(scheduler.Config{Concurrency: 1, TaskTimeout: 50 * time.Millisecond, Grace: 5 * time.Second}, r)

	out, err := s.RunBatch(context.Background(), batch("stubborn", "next"), results.NewStore("run-test"))
	require.NoError(t, err)

	assert.Equal(t, api.Timeout, out[0].Status)
	assert.Equal(t, api.Success, out[1].Status)
	_, stubbornEnd := r.times("stubborn")
	nextStart, _ := r.times("next")
	assert.False(t, nextStart.Before(stubbornEnd), "second task started while the first still held the slot")
	assert.Equal(t, 1, r.maxRunning)
}

func TestRunBatch_GraceReleasesSlot(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newFakeRunner(map[string]behaviour{
		"stubborn": {sleep: time.Second, ignoreCtx: true},
		"next":     {sleep: time.Millisecond},
	})
	defer r.waitFinished(t, "stubborn")
	s := newScheduler(scheduler.Config{Concurrency: 1, TaskTimeout: 20 * time.Millisecond, Grace: 30 * time.Millisecond}, r)

	out, err := s.RunBatch(context.Background(), batch("stubborn", "next"), results.NewStore("run-test"))
	require.NoError(t, err)

	assert.Equal(t, api.Timeout, out[0].Status)
	assert.Equal(t, api.Success, out[1].Status)
	nextStart, _ := r.times("next")
	_, stubbornEnd := r.times("stubborn")
	assert.True(t, stubbornEnd.IsZero() || nextStart.Before(stubbornEnd))
}

func TestRunBatch_CancelledBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newFakeRunner(map[string]behaviour{
		"first":  {sleep: time.Minute},
		"second": {sleep: time.Minute},
	})
	s := newScheduler(scheduler.Config{Concurrency: 1, TaskTimeout: time.Minute}, r)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	out, err := s.RunBatch(ctx, batch("first", "second"), results.NewStore("run-test"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, res := range out {
		assert.Equal(t, api.Failed, res.Status)
		assert.Contains(t, res.ErrorLog, "batch cancelled")
	}
}

func TestRunBatch_EmptyBatchWritesReport(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), results.ReportFileName)
	events := &eventRecorder{}
	prefetch := &prefetchRecorder{}
	s := newScheduler(scheduler.Config{ReportPath: path}, newFakeRunner(nil),
		scheduler.WithGatherer(events), scheduler.WithPrefetcher(prefetch))

	out, err := s.RunBatch(context.Background(), batch(), results.NewStore("run-empty"))
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Zero(t, events.batches)
	assert.Zero(t, events.tasks)
	assert.Empty(t, prefetch.langs)

	rep, err := results.ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "run-empty", rep.RunUuid)
	assert.Empty(t, rep.Results)
	assert.Equal(t, 0, rep.Summary[api.Success])
}

type eventRecorder struct {
	gatherer.Nop
	mu      sync.Mutex
	tasks   int
	batches int
}

func (e *eventRecorder) FinishTask(api.TaskResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks++
}

func (e *eventRecorder) FinishBatch(api.Summary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches++
}

type prefetchRecorder struct {
	langs []task.Language
}

func (p *prefetchRecorder) Schedule(lang task.Language) {
	p.langs = append(p.langs, lang)
}

func TestRunBatch_SchedulesPrefetchPerLanguage(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := batch("a", "b", "c")
	b.Tasks[1].Language = task.TypeScript
	r := newFakeRunner(map[string]behaviour{})
	p := &prefetchRecorder{}
	s := newScheduler(scheduler.Config{}, r, scheduler.WithPrefetcher(p))

	_, err := s.RunBatch(context.Background(), b, results.NewStore("run-test"))
	require.NoError(t, err)
	assert.Equal(t, []task.Language{task.Python, task.TypeScript}, p.langs)
}
