// Package gatherer defines the sink for pipeline progress events.
package gatherer

import (
	"github.com/programme-lv/skillfactory/api"
)

// Gatherer receives progress events of one batch. Implementations must be
// safe for concurrent use: every pipeline of the batch reports to the same
// gatherer.
type Gatherer interface {
	StartTask(taskName, keyword, language string)
	StartPhase(taskName, phase string, attempt int)
	FinishSandbox(taskName string, run *api.SandboxRun)
	FinishTask(result api.TaskResult)
	FinishBatch(summary api.Summary)
}

type multi []Gatherer

// Multi fans events out to every gatherer in order.
func Multi(gs ...Gatherer) Gatherer {
	return multi(gs)
}

func (m multi) StartTask(taskName, keyword, language string) {
	for _, g := range m {
		g.StartTask(taskName, keyword, language)
	}
}

func (m multi) StartPhase(taskName, phase string, attempt int) {
	for _, g := range m {
		g.StartPhase(taskName, phase, attempt)
	}
}

func (m multi) FinishSandbox(taskName string, run *api.SandboxRun) {
	for _, g := range m {
		g.FinishSandbox(taskName, run)
	}
}

func (m multi) FinishTask(result api.TaskResult) {
	for _, g := range m {
		g.FinishTask(result)
	}
}

func (m multi) FinishBatch(summary api.Summary) {
	for _, g := range m {
		g.FinishBatch(summary)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) StartTask(string, string, string) {}
func (Nop) StartPhase(string, string, int) {}
func (Nop) FinishSandbox(string, *api.SandboxRun) {}
func (Nop) FinishTask(api.TaskResult) {}
func (Nop) FinishBatch(api.Summary) {}
