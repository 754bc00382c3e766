package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/skillfactory/api"
	"gopkg.in/yaml.v3"
)

var ErrDuplicateName = errors.New("duplicate skill name")

// Batch is a parsed, validated batch ready for scheduling.
type Batch struct {
	RunUuid   string
	Tasks     []Descriptor
	ResSqsUrl string
}

// ReadFile reads a batch file. A missing file yields an empty batch.
func ReadFile(path string) (Batch, error) {
	req, err := ReadRequest(path)
	if errors.Is(err, os.ErrNotExist) {
		return Batch{RunUuid: uuid.NewString()}, nil
	}
	if err != nil {
		return Batch{}, err
	}
	return FromRequest(req)
}

// ReadRequest decodes a batch file without validating it. The format is
// picked by extension: .toml, .yaml/.yml, anything else is parsed as JSON.
func ReadRequest(path string) (api.BatchReq, error) {
	var req api.BatchReq
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read batch file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &req)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &req)
	default:
		err = json.Unmarshal(data, &req)
	}
	if err != nil {
		return req, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	return req, nil
}

// FromRequest applies defaults to every entry and rejects invalid ones.
func FromRequest(req api.BatchReq) (Batch, error) {
	b := Batch{
		RunUuid:   req.RunUuid,
		Tasks:     make([]Descriptor, 0, len(req.Skills)),
		ResSqsUrl: req.ResSqsUrl,
	}
	if b.RunUuid == "" {
		b.RunUuid = uuid.NewString()
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for i, spec := range req.Skills {
		d, err := FromSpec(spec)
		if err != nil {
			return Batch{}, fmt.Errorf("skill #%d: %w", i+1, err)
		}
		if !seen.Add(d.Name) {
			return Batch{}, fmt.Errorf("skill #%d: %w: %s", i+1, ErrDuplicateName, d.Name)
		}
		b.Tasks = append(b.Tasks, d)
	}
	return b, nil
}

// FromSpec converts a single wire entry into a Descriptor.
func FromSpec(spec api.TaskSpec) (Descriptor, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Descriptor{}, fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return Descriptor{}, fmt.Errorf("name %q must be a single path segment", name)
	}
	if strings.TrimSpace(spec.Keyword) == "" {
		return Descriptor{}, fmt.Errorf("keyword is required for %q", name)
	}

	strategy, err := ParseStrategy(spec.ResearchStrategy)
	if err != nil {
		return Descriptor{}, err
	}
	lang, err := ParseLanguage(spec.Language)
	if err != nil {
		return Descriptor{}, err
	}

	minCtx := spec.MinContextTokens
	if minCtx <= 0 {
		minCtx = DefaultMinContextTokens
	}
	maxDist := spec.MaxDistilledTokens
	if maxDist <= 0 {
		maxDist = DefaultMaxDistilledTokens
	}

	refs := make([]string, 0, len(spec.References))
	for _, r := range spec.References {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
	}

	return Descriptor{
		Name:               name,
		Keyword:            strings.TrimSpace(spec.Keyword),
		Description:        spec.Description,
		Strategy:           strategy,
		Language:           lang,
		MinContextTokens:   minCtx,
		MaxDistilledTokens: maxDist,
		References:         refs,
		SkipDistillation:   spec.SkipDistillation,
	}, nil
}

// DistinctLanguages returns the set of languages used by the batch.
func (b Batch) DistinctLanguages() []Language {
	set := mapset.NewThreadUnsafeSet[Language]()
	out := make([]Language, 0)
	for _, t := range b.Tasks {
		if set.Add(t.Language) {
			out = append(out, t.Language)
		}
	}
	return out
}
