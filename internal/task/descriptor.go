// Package task defines the immutable description of one skill incubation
// unit and reads batches of them from files or queue messages.
package task

import (
	"fmt"
	"slices"
	"strings"
)

// Strategy selects which knowledge sources the research round consults
// and in which order.
type Strategy string

const (
	ContextFirst Strategy = "context7_first"
	LocalFirst   Strategy = "local_first"
	Hybrid       Strategy = "hybrid"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ContextFirst:
		return ContextFirst, nil
	case LocalFirst:
		return LocalFirst, nil
	case Hybrid:
		return Hybrid, nil
	}
	return "", fmt.Errorf("unknown research strategy %q", s)
}

// Language is the target language of a skill's demo code.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
)

// Languages lists the supported languages; the first one is the default.
var Languages = []Language{Python, JavaScript, TypeScript}

func ParseLanguage(s string) (Language, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Languages[0], nil
	}
	if slices.Contains(Languages, Language(s)) {
		return Language(s), nil
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

const (
	DefaultMinContextTokens   = 20000
	DefaultMaxDistilledTokens = 10000
)

// Descriptor is one incubation unit. It is never mutated once parsed.
type Descriptor struct {
	Name        string
	Keyword     string
	Description string

	Strategy Strategy
	Language Language

	MinContextTokens   int
	MaxDistilledTokens int

	References       []string
	SkipDistillation bool
}
