package packager

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var ErrNoFrontmatter = errors.New("no YAML frontmatter")

// Frontmatter is the metadata block at the top of SKILL.md.
type Frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ParseFrontmatter reads the block delimited by "---" lines at the start
// of a SKILL.md document.
func ParseFrontmatter(doc []byte) (Frontmatter, error) {
	var fm Frontmatter
	doc = bytes.TrimPrefix(doc, []byte("\ufeff"))
	doc = bytes.ReplaceAll(doc, []byte("\r\n"), []byte("\n"))
	rest, ok := bytes.CutPrefix(doc, []byte("---\n"))
	if !ok {
		return fm, ErrNoFrontmatter
	}
	if bytes.HasPrefix(rest, []byte("---")) {
		return fm, nil
	}
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return fm, fmt.Errorf("%w: missing closing delimiter", ErrNoFrontmatter)
	}

	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return fm, fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, nil
}
