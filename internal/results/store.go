// Package results keeps the ordered outcomes of a batch and persists them
// as a report.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/programme-lv/skillfactory/api"
)

const ReportFileName = "results_log.json"

// Store is an append-only list of task results in the order they were
// recorded.
type Store struct {
	mu      sync.Mutex
	runUuid string
	results []api.TaskResult
}

func NewStore(runUuid string) *Store {
	return &Store{runUuid: runUuid}
}

func (s *Store) Append(r api.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *Store) Results() []api.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.TaskResult(nil), s.results...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Summary counts results per status. Every status is present.
func (s *Store) Summary() api.Summary {
	return Summarize(s.Results())
}

func Summarize(rs []api.TaskResult) api.Summary {
	sum := make(api.Summary, len(api.Statuses))
	for _, st := range api.Statuses {
		sum[st] = 0
	}
	for _, r := range rs {
		sum[r.Status]++
	}
	return sum
}

func (s *Store) Report() api.BatchReport {
	rs := s.Results()
	if rs == nil {
		rs = []api.TaskResult{}
	}
	return api.BatchReport{
		RunUuid:     s.runUuid,
		GeneratedAt: time.Now().UTC(),
		Summary:     Summarize(rs),
		Results:     rs,
	}
}

// WriteReport writes the report as indented JSON. The file is replaced
// atomically.
func (s *Store) WriteReport(path string) error {
	b, err := json.MarshalIndent(s.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (api.BatchReport, error) {
	var rep api.BatchReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return rep, fmt.Errorf("parse report %s: %w", path, err)
	}
	return rep, nil
}
