package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Collect sends instruction and concatenates the text of the response.
// When roundTimeout expires first, a warning is logged and the partial
// text is returned without error. Cancellation of ctx itself is returned
// as an error.
func Collect(ctx context.Context, a Agent, instruction string, roundTimeout time.Duration, logger *slog.Logger) (string, error) {
	roundCtx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()

	stream, err := a.Send(roundCtx, instruction)
	if err != nil {
		return "", fmt.Errorf("send instruction: %w", err)
	}

	var parts []string
	text := func() string { return strings.Join(parts, "\n") }

	for {
		select {
		case <-roundCtx.Done():
			if ctx.Err() != nil {
				return text(), ctx.Err()
			}
			logger.Warn("agent round timed out, using partial response",
				"timeout", roundTimeout, "collected_chars", len(text()))
			return text(), nil
		case f, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return text(), ctx.Err()
				}
				if errors.Is(roundCtx.Err(), context.DeadlineExceeded) {
					logger.Warn("agent round timed out, using partial response", "timeout", roundTimeout)
					return text(), nil
				}
				return text(), ErrStreamClosed
			}
			switch f := f.(type) {
			case *Text:
				if strings.TrimSpace(f.Text) != "" {
					parts = append(parts, f.Text)
				}
			case *ToolUse:
				logger.Debug("agent tool use", "tool", f.Name)
			case *Terminal:
				if f.Err != nil {
					return text(), fmt.Errorf("agent round failed: %w", f.Err)
				}
				logger.Debug("agent round finished", "cost_usd", f.CostUSD)
				return text(), nil
			}
		}
	}
}
