package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/agent"
	"github.com/programme-lv/skillfactory/internal/pipeline"
	"github.com/programme-lv/skillfactory/internal/sandbox"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent answers every instruction with a terminal fragment after
// letting onSend mutate the artifact directory like the real agent would.
type fakeAgent struct {
	mu           sync.Mutex
	instructions []string
	onSend       func(n int, instruction string) error
}

func (a *fakeAgent) Send(ctx context.Context, instruction string) (<-chan agent.Fragment, error) {
	a.mu.Lock()
	a.instructions = append(a.instructions, instruction)
	n := len(a.instructions)
	a.mu.Unlock()

	var err error
	if a.onSend != nil {
		err = a.onSend(n, instruction)
	}
	ch := make(chan agent.Fragment, 2)
	ch <- &agent.Text{Text: "ok"}
	ch <- &agent.Terminal{Err: err}
	close(ch)
	return ch, nil
}

func (a *fakeAgent) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.instructions...)
}

type fakeSandbox struct {
	available bool
	outcomes  []sandbox.Outcome
	requests  []sandbox.Request
}

func (s *fakeSandbox) IsAvailable(context.Context) bool { return s.available }

func (s *fakeSandbox) Execute(_ context.Context, req sandbox.Request) sandbox.Outcome {
	s.requests = append(s.requests, req)
	out := s.outcomes[0]
	if len(s.outcomes) > 1 {
		s.outcomes = s.outcomes[1:]
	}
	return out
}

type fakePackager struct {
	err    error
	status api.Status
	dir    string
}

func (p *fakePackager) Package(_ context.Context, dir, name string, status api.Status) (string, error) {
	p.status = status
	p.dir = dir
	if p.err != nil {
		return "", p.err
	}
	return filepath.Join(filepath.Dir(dir), name+".skill"), nil
}

func descriptor() task.Descriptor {
	return task.Descriptor{
		Name:               "httpx-client",
		Keyword:            "httpx",
		Description:        "HTTP client usage",
		Strategy:           task.ContextFirst,
		Language:           task.Python,
		MinContextTokens:   task.DefaultMinContextTokens,
		MaxDistilledTokens: task.DefaultMaxDistilledTokens,
	}
}

func writeDraft(t *testing.T, skills string) func(n int, instruction string) error {
	return func(n int, instruction string) error {
		if n == 2 {
			dir := filepath.Join(skills, "httpx-client", "scripts")
			require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.py"), []byte("import httpx\n"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("httpx==0.27.0\n"), 0o644))
		}
		return nil
	}
}

func failed(stderr string) sandbox.Outcome {
	return sandbox.Outcome{ExitCode: 1, Stderr: stderr}
}

func newPipeline(skills string, a agent.Agent, sb pipeline.Sandbox, opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		SkillsDir:    skills,
		MaxAttempts:  3,
		RoundTimeout: 5 * time.Second,
	}, func(string) (agent.Agent, error) { return a, nil }, sb,
		slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestRun_ValidatedOnFirstAttempt(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	a.onSend = writeDraft(t, skills)
	sb := &fakeSandbox{available: true, outcomes: []sandbox.Outcome{{ExitCode: 0}}}

	res, err := newPipeline(skills, a, sb).Run(context.Background(), descriptor())
	require.NoError(t, err)

	assert.Equal(t, api.Success, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "import httpx\n", res.DemoCode)
	assert.Empty(t, res.ErrorLog)
	assert.Equal(t, filepath.Join(skills, "httpx-client"), res.ArtifactDir)
	assert.Equal(t, filepath.Join(skills, "httpx-client.skill"), res.ArtifactFile)
	assert.False(t, res.CreatedAt.IsZero())

	sent := a.sent()
	require.Len(t, sent, 3, "research, draft, distill")
	assert.Contains(t, sent[0], "mcp__context7__query-docs")
	assert.Contains(t, sent[1], filepath.Join(skills, "httpx-client", "scripts", "demo.py"))
	assert.Contains(t, sent[2], "passed in a clean container")

	require.Len(t, sb.requests, 1)
	assert.Equal(t, "httpx==0.27.0\n", sb.requests[0].Dependencies)
	assert.Equal(t, task.Python, sb.requests[0].Language)
}

func TestRun_FixRoundThenSuccess(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	a.onSend = writeDraft(t, skills)
	sb := &fakeSandbox{available: true, outcomes: []sandbox.Outcome{
		failed("ModuleNotFoundError: No module named 'httpx'"),
		{ExitCode: 0},
	}}

	res, err := newPipeline(skills, a, sb).Run(context.Background(), descriptor())
	require.NoError(t, err)

	assert.Equal(t, api.Success, res.Status)
	assert.Equal(t, 2, res.Attempts)
	sent := a.sent()
	require.Len(t, sent, 4, "research, draft, fix, distill")
	assert.Contains(t, sent[2], "ModuleNotFoundError")
	assert.Contains(t, sent[2], "attempt 1")
}

func TestRun_AttemptsExhaustedIsPartialSuccess(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	a.onSend = writeDraft(t, skills)
	long := strings.Repeat("e", 3000) + "LAST"
	sb := &fakeSandbox{available: true, outcomes: []sandbox.Outcome{failed(long)}}

	res, err := newPipeline(skills, a, sb).Run(context.Background(), descriptor())
	require.NoError(t, err)

	assert.Equal(t, api.PartialSuccess, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, sb.requests, 3)
	assert.Len(t, []rune(res.ErrorLog), pipeline.DefaultExcerptChars)
	assert.True(t, strings.HasSuffix(res.ErrorLog, "LAST"))

	sent := a.sent()
	require.Len(t, sent, 5, "research, draft, two fixes, distill")
	assert.NotContains(t, sent[2], strings.Repeat("e", 2100))
	assert.Contains(t, sent[4], "NOT validated")
}

func TestRun_MissingDraftSkipsValidation(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	sb := &fakeSandbox{available: true, outcomes: []sandbox.Outcome{{}}}

	res, err := newPipeline(skills, a, sb).Run(context.Background(), descriptor())
	require.NoError(t, err)

	assert.Equal(t, api.PartialSuccess, res.Status)
	assert.Contains(t, res.ErrorLog, "draft artifacts missing")
	assert.Empty(t, sb.requests)
	assert.Len(t, a.sent(), 3)
}

func TestRun_SandboxUnavailableIsUnvalidated(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	a.onSend = writeDraft(t, skills)
	sb := &fakeSandbox{available: false}

	res, err := newPipeline(skills, a, sb).Run(context.Background(), descriptor())
	require.NoError(t, err)

	assert.Equal(t, api.Unvalidated, res.Status)
	assert.Empty(t, sb.requests)
	assert.Contains(t, res.ErrorLog, "unavailable")
}

func TestRun_InfraErrorEndsLoop(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	a.onSend = writeDraft(t, skills)
	msg := "docker run failed: no space left on device"
	sb := &fakeSandbox{available: true, outcomes: []sandbox.Outcome{{ExitCode: -1, InfraError: &msg}}}

	res, err := newPipeline(skills, a, sb).Run(context.Background(), descriptor())
	require.NoError(t, err)

	assert.Equal(t, api.Unvalidated, res.Status)
	assert.Len(t, sb.requests, 1)
	assert.Contains(t, res.ErrorLog, "no space left")
	assert.Len(t, a.sent(), 3, "no fix round after an infrastructure error")
}

func TestRun_AgentErrorPropagates(t *testing.T) {
	boom := errors.New("rate limited")
	a := &fakeAgent{onSend: func(n int, _ string) error {
		if n == 2 {
			return boom
		}
		return nil
	}}

	_, err := newPipeline(t.TempDir(), a, &fakeSandbox{available: true}).Run(context.Background(), descriptor())
	require.ErrorIs(t, err, boom)
	assert.Len(t, a.sent(), 2)
}

func TestRun_SkipDistillation(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	a.onSend = writeDraft(t, skills)
	sb := &fakeSandbox{available: true, outcomes: []sandbox.Outcome{{}}}
	d := descriptor()
	d.SkipDistillation = true

	res, err := newPipeline(skills, a, sb).Run(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, api.Success, res.Status)
	assert.Len(t, a.sent(), 2)
}

func TestRun_Packaging(t *testing.T) {
	skills := t.TempDir()
	a := &fakeAgent{}
	a.onSend = writeDraft(t, skills)
	sb := &fakeSandbox{available: true, outcomes: []sandbox.Outcome{{}}}

	pk := &fakePackager{}
	res, err := newPipeline(skills, a, sb, pipeline.WithPackager(pk)).Run(context.Background(), descriptor())
	require.NoError(t, err)
	assert.Equal(t, api.Success, pk.status)
	assert.Equal(t, res.ArtifactDir, pk.dir)

	pk = &fakePackager{err: errors.New("disk full")}
	sb = &fakeSandbox{available: true, outcomes: []sandbox.Outcome{{}}}
	res, err = newPipeline(skills, a, sb, pipeline.WithPackager(pk)).Run(context.Background(), descriptor())
	require.NoError(t, err)
	assert.Equal(t, api.Success, res.Status)
	assert.Contains(t, res.ErrorLog, "packaging failed: disk full")
}

func TestRun_UnknownLanguage(t *testing.T) {
	d := descriptor()
	d.Language = "cobol"
	_, err := newPipeline(t.TempDir(), &fakeAgent{}, &fakeSandbox{}).Run(context.Background(), d)
	require.ErrorIs(t, err, sandbox.ErrUnknownLanguage)
}
