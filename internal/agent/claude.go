package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

var DefaultAllowedTools = []string{
	"mcp__context7__query-docs",
	"mcp__context7__resolve-library-id",
	"Read",
	"Write",
	"Edit",
	"Bash",
}

type ClaudeOptions struct {
	// Binary defaults to "claude".
	Binary         string
	Model          string
	PermissionMode string
	AllowedTools   []string
	// MCPConfig is passed to --mcp-config when not empty.
	MCPConfig string
	// WorkDir is the agent's working directory.
	WorkDir string
	// Env is appended to the inherited environment.
	Env []string
}

// ClaudeCLI drives the claude command line in print mode with
// stream-json output, one process per instruction, all of them in one
// session.
type ClaudeCLI struct {
	opts      ClaudeOptions
	sessionID string
	started   bool
	logger    *slog.Logger
}

func NewClaudeCLI(opts ClaudeOptions, logger *slog.Logger) *ClaudeCLI {
	if opts.Binary == "" {
		opts.Binary = "claude"
	}
	if opts.AllowedTools == nil {
		opts.AllowedTools = DefaultAllowedTools
	}
	return &ClaudeCLI{
		opts:      opts,
		sessionID: uuid.NewString(),
		logger:    logger,
	}
}

// NewClaudeFactory returns a Factory creating one session per task.
func NewClaudeFactory(opts ClaudeOptions, logger *slog.Logger) Factory {
	return func(taskName string) (Agent, error) {
		if _, err := exec.LookPath(binaryOrDefault(opts.Binary)); err != nil {
			return nil, fmt.Errorf("claude CLI not available: %w", err)
		}
		return NewClaudeCLI(opts, logger.With("task", taskName)), nil
	}
}

func binaryOrDefault(bin string) string {
	if bin == "" {
		return "claude"
	}
	return bin
}

func (c *ClaudeCLI) SessionID() string {
	return c.sessionID
}

func (c *ClaudeCLI) args(instruction string) []string {
	args := []string{
		"-p", instruction,
		"--output-format", "stream-json",
		"--verbose",
	}
	if c.opts.Model != "" {
		args = append(args, "--model", c.opts.Model)
	}
	if c.opts.PermissionMode != "" {
		args = append(args, "--permission-mode", c.opts.PermissionMode)
	}
	if len(c.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.opts.AllowedTools, ","))
	}
	if c.opts.MCPConfig != "" {
		args = append(args, "--mcp-config", c.opts.MCPConfig)
	}
	if c.started {
		args = append(args, "--resume", c.sessionID)
	} else {
		args = append(args, "--session-id", c.sessionID)
	}
	return args
}

func (c *ClaudeCLI) Send(ctx context.Context, instruction string) (<-chan Fragment, error) {
	cmd := exec.CommandContext(ctx, c.opts.Binary, c.args(instruction)...)
	cmd.Dir = c.opts.WorkDir
	cmd.Env = append(os.Environ(), c.opts.Env...)
	stderr := &strings.Builder{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.opts.Binary, err)
	}
	c.started = true

	out := make(chan Fragment)
	go func() {
		defer close(out)

		emit := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		terminated := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			if terminated {
				continue
			}
			frags, err := parseStreamLine(scanner.Bytes())
			if err != nil {
				c.logger.Debug("skipping unparsable stream line", "error", err)
				continue
			}
			for _, f := range frags {
				if _, ok := f.(*Terminal); ok {
					terminated = true
				}
				if !emit(f) {
					terminated = true
					break
				}
			}
		}
		scanErr := scanner.Err()
		waitErr := cmd.Wait()
		if terminated || ctx.Err() != nil {
			return
		}

		var err error
		switch {
		case waitErr != nil:
			err = fmt.Errorf("%s exited: %w (stderr: %s)", c.opts.Binary, waitErr, tail(stderr.String(), 500))
		case scanErr != nil:
			err = fmt.Errorf("reading %s output: %w", c.opts.Binary, scanErr)
		default:
			return
		}
		emit(&Terminal{Err: err})
	}()
	return out, nil
}

type streamLine struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	SessionID string  `json:"session_id"`
	CostUSD   float64 `json:"total_cost_usd"`
	Message   *struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

// parseStreamLine maps one stream-json event to fragments. Events that
// carry nothing for the caller (system, user tool results) yield none.
func parseStreamLine(line []byte) ([]Fragment, error) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil, nil
	}
	var ev streamLine
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, err
	}

	switch ev.Type {
	case "assistant":
		if ev.Message == nil {
			return nil, nil
		}
		var frags []Fragment
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				frags = append(frags, &Text{Text: block.Text})
			case "tool_use":
				frags = append(frags, &ToolUse{Name: block.Name, Input: block.Input})
			}
		}
		return frags, nil
	case "result":
		t := &Terminal{SessionID: ev.SessionID, CostUSD: ev.CostUSD}
		if ev.IsError || (ev.Subtype != "" && ev.Subtype != "success") {
			t.Err = fmt.Errorf("result %q: %s", ev.Subtype, tail(ev.Result, 500))
		}
		return []Fragment{t}, nil
	}
	return nil, nil
}

// Context7MCPConfig renders the --mcp-config document for the Context7
// documentation server.
func Context7MCPConfig(url, apiKey string) (string, error) {
	type server struct {
		Type    string            `json:"type"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers,omitempty"`
	}
	cfg := map[string]map[string]server{
		"mcpServers": {
			"context7": {
				Type:    "http",
				URL:     url,
				Headers: map[string]string{"CONTEXT7_API_KEY": apiKey},
			},
		},
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
