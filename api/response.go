package api

import "time"

// Status is the terminal status of one incubation task.
type Status string

const (
	Success        Status = "success"
	PartialSuccess Status = "partial_success"
	// Unvalidated means the demo code could not be run at all because the
	// sandbox runtime was unavailable. It is never reported as Success.
	Unvalidated Status = "unvalidated"
	Failed      Status = "failed"
	Timeout     Status = "timeout"
)

// Statuses lists every status in report order.
var Statuses = []Status{Success, PartialSuccess, Unvalidated, Failed, Timeout}

// TaskResult is the single outcome recorded for one task of a batch.
type TaskResult struct {
	TaskName     string    `json:"skill_name"`
	Status       Status    `json:"status"`
	ArtifactDir  string    `json:"skill_dir"`
	ArtifactFile string    `json:"skill_file"`
	DemoCode     string    `json:"demo_code"`
	ErrorLog     string    `json:"error_log"`
	CreatedAt    time.Time `json:"created_at"`

	// Attempts is the number of sandbox invocations made by the test loop.
	Attempts int `json:"attempts"`
}

// Summary counts results per status.
type Summary map[Status]int

// BatchReport is written once at the end of a run.
type BatchReport struct {
	RunUuid     string       `json:"run_uuid"`
	GeneratedAt time.Time    `json:"generated_at"`
	Summary     Summary      `json:"summary"`
	Results     []TaskResult `json:"results"`
}
