package gatherer

import (
	"strings"

	"github.com/programme-lv/skillfactory/api"
)

// TrimRun returns a copy of run whose outputs fit the streaming limits.
func TrimRun(run *api.SandboxRun) *api.SandboxRun {
	if run == nil {
		return nil
	}
	trimmed := *run
	trimmed.Stdout = TrimStrToRect(run.Stdout, api.MaxRuntimeDataHeight, api.MaxRuntimeDataWidth)
	trimmed.Stderr = TrimStrToRect(run.Stderr, api.MaxRuntimeDataHeight, api.MaxRuntimeDataWidth)
	return &trimmed
}

// TrimStrToRect keeps the last maxHeight lines of s and cuts every line to
// maxWidth runes, marking each cut with "[...]".
func TrimStrToRect(s string, maxHeight int, maxWidth int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxHeight {
		lines = append([]string{"[...]"}, lines[len(lines)-maxHeight:]...)
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		r := []rune(line)
		if len(r) > maxWidth {
			b.WriteString(string(r[:maxWidth]))
			b.WriteString("[...]")
		} else {
			b.WriteString(line)
		}
	}
	return b.String()
}
