package sandbox_test

import (
	"strings"
	"testing"

	"github.com/programme-lv/skillfactory/internal/sandbox"
	"github.com/stretchr/testify/assert"
)

func TestWithMirror(t *testing.T) {
	tests := []struct {
		image  string
		mirror string
		want   string
	}{
		{"python:3.10-slim", "", "python:3.10-slim"},
		{"python:3.10-slim", "registry.example.com", "registry.example.com/library/python:3.10-slim"},
		{"node:20-alpine", "https://registry.example.com", "registry.example.com/library/node:20-alpine"},
		{"node:20-alpine", "http://registry.example.com/", "registry.example.com/library/node:20-alpine"},
		{"ghcr.io/acme/runner:1", "registry.example.com", "ghcr.io/acme/runner:1"},
		{"acme/runner:1", "registry.example.com", "acme/runner:1"},
	}
	for _, tt := range tests {
		t.Run(tt.image+"@"+tt.mirror, func(t *testing.T) {
			got := sandbox.WithMirror(tt.image, tt.mirror)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, sandbox.WithMirror(got, tt.mirror), "not idempotent")
		})
	}
}

func TestRuntimeFor(t *testing.T) {
	rt, err := sandbox.RuntimeFor("typescript")
	assert.NoError(t, err)
	assert.Equal(t, "demo.ts", rt.CodeFile)
	assert.Equal(t, "package.json", rt.DepsFile)
	assert.Equal(t, "npm install --silent && npm install --silent ts-node typescript @types/node && npx ts-node demo.ts", rt.Command())

	_, err = sandbox.RuntimeFor("cobol")
	assert.ErrorIs(t, err, sandbox.ErrUnknownLanguage)
}

func TestOutcomeExcerpt(t *testing.T) {
	o := sandbox.Outcome{ExitCode: 1, Stdout: "out", Stderr: "0123456789"}
	assert.Equal(t, "6789", o.Excerpt(4))

	o = sandbox.Outcome{ExitCode: 1, Stdout: "only stdout"}
	assert.Equal(t, "only stdout", o.Excerpt(100))

	o = sandbox.Outcome{ExitCode: -1, TimedOut: true}
	assert.Contains(t, o.Excerpt(100), "timed out")

	o = sandbox.Outcome{ExitCode: -1, TimedOut: true, Stderr: strings.Repeat("x", 5000) + "last words"}
	ex := o.Excerpt(2000)
	assert.Len(t, []rune(ex), 2000)
	assert.True(t, strings.HasPrefix(ex, "execution timed out\n"))
	assert.True(t, strings.HasSuffix(ex, "last words"))

	msg := "docker run failed"
	o = sandbox.Outcome{ExitCode: -1, InfraError: &msg, Stdout: strings.Repeat("y", 50)}
	assert.Equal(t, "docker run failed\n"+strings.Repeat("y", 12), o.Excerpt(30))
	assert.Equal(t, "docker", o.Excerpt(6))
}
