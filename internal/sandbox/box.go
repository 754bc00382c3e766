package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// box is the task-scoped directory mounted at /app.
type box struct {
	path  string
	owned bool
}

func openBox(dir string) (*box, error) {
	if dir == "" {
		path, err := os.MkdirTemp("", "skillfactory-sandbox-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
		return &box{path: path, owned: true}, nil
	}

	path, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir %q: %w", path, err)
	}
	return &box{path: path}, nil
}

func (b *box) AddFile(name string, content string) error {
	p := filepath.Join(b.path, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Close removes the directory if the box created it.
func (b *box) Close() error {
	if !b.owned {
		return nil
	}
	return os.RemoveAll(b.path)
}
