// Package natsgath publishes pipeline progress events as JSON to a NATS
// subject.
package natsgath

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/gatherer"
)

// Publisher is the part of *nats.Conn the gatherer needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

type natsGatherer struct {
	pub     Publisher
	subject string
	runUuid string
	logger  *slog.Logger
}

// New creates a gatherer that streams the events of run runUuid to subject.
func New(pub Publisher, runUuid string, subject string, logger *slog.Logger) gatherer.Gatherer {
	return &natsGatherer{
		pub:     pub,
		subject: subject,
		runUuid: runUuid,
		logger:  logger,
	}
}

// Connect dials the NATS server at url.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("skillfactory"), nats.MaxReconnects(-1))
}

func (s *natsGatherer) send(msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal event", "error", err)
		return
	}
	if err := s.pub.Publish(s.subject, b); err != nil {
		s.logger.Warn("failed to publish event to NATS", "subject", s.subject, "error", err)
	}
}

func (s *natsGatherer) StartTask(taskName, keyword, language string) {
	s.send(api.NewStartTask(s.runUuid, taskName, keyword, language))
}

func (s *natsGatherer) StartPhase(taskName, phase string, attempt int) {
	s.send(api.NewStartPhase(s.runUuid, taskName, phase, attempt))
}

func (s *natsGatherer) FinishSandbox(taskName string, run *api.SandboxRun) {
	s.send(api.NewFinishSandbox(s.runUuid, taskName, gatherer.TrimRun(run)))
}

func (s *natsGatherer) FinishTask(result api.TaskResult) {
	s.send(api.NewFinishTask(s.runUuid, result))
}

func (s *natsGatherer) FinishBatch(summary api.Summary) {
	s.send(api.NewFinishBatch(s.runUuid, summary))
}
