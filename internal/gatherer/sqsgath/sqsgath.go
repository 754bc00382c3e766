// Package sqsgath sends pipeline progress events as JSON messages to an
// SQS queue.
package sqsgath

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/gatherer"
)

const sendTimeout = 10 * time.Second

// Sender is the part of *sqs.Client the gatherer needs.
type Sender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ Sender = (*sqs.Client)(nil)

type sqsGatherer struct {
	client   Sender
	queueUrl string
	runUuid  string
	logger   *slog.Logger
}

func New(client Sender, runUuid string, queueUrl string, logger *slog.Logger) gatherer.Gatherer {
	return &sqsGatherer{
		client:   client,
		queueUrl: queueUrl,
		runUuid:  runUuid,
		logger:   logger,
	}
}

func (s *sqsGatherer) send(msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueUrl),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		s.logger.Warn("failed to send event to SQS", "queue", s.queueUrl, "error", err)
	}
}

func (s *sqsGatherer) StartTask(taskName, keyword, language string) {
	s.send(api.NewStartTask(s.runUuid, taskName, keyword, language))
}

func (s *sqsGatherer) StartPhase(taskName, phase string, attempt int) {
	s.send(api.NewStartPhase(s.runUuid, taskName, phase, attempt))
}

func (s *sqsGatherer) FinishSandbox(taskName string, run *api.SandboxRun) {
	s.send(api.NewFinishSandbox(s.runUuid, taskName, gatherer.TrimRun(run)))
}

func (s *sqsGatherer) FinishTask(result api.TaskResult) {
	s.send(api.NewFinishTask(s.runUuid, result))
}

func (s *sqsGatherer) FinishBatch(summary api.Summary) {
	s.send(api.NewFinishBatch(s.runUuid, summary))
}
