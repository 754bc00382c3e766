package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/scheduler"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/urfave/cli/v3"
)

const (
	receiveWaitSeconds = 20
	receiveRetryDelay  = 5 * time.Second
	// SQS rejects visibility timeouts above 12 hours
	maxVisibilitySeconds = 12 * 60 * 60
)

// requestQueue is the part of *sqs.Client the server needs.
type requestQueue interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var _ requestQueue = (*sqs.Client)(nil)

type server struct {
	queue       requestQueue
	queueUrl    string
	workers     int
	taskTimeout time.Duration
	runBatch    func(ctx context.Context, b task.Batch) error
	logger      *slog.Logger
}

// serve processes queued batches one at a time until ctx is cancelled.
func (s *server) serve(ctx context.Context) error {
	s.logger.Info("waiting for batches", "queue", s.queueUrl)
	for ctx.Err() == nil {
		out, err := s.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueUrl),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     receiveWaitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn("failed to receive messages", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(receiveRetryDelay):
			}
			continue
		}
		for _, msg := range out.Messages {
			s.handle(ctx, msg)
		}
	}
	s.logger.Info("stopped serving", "reason", context.Cause(ctx))
	return nil
}

func (s *server) handle(ctx context.Context, msg types.Message) {
	logger := s.logger.With("message", aws.ToString(msg.MessageId))

	var req api.BatchReq
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &req); err != nil {
		logger.Error("dropping malformed batch message", "error", err)
		s.delete(ctx, msg, logger)
		return
	}
	b, err := task.FromRequest(req)
	if err != nil {
		logger.Error("dropping invalid batch", "error", err)
		s.delete(ctx, msg, logger)
		return
	}
	logger = logger.With("run", b.RunUuid)

	s.extendVisibility(ctx, msg, len(b.Tasks), logger)

	if err := s.runBatch(ctx, b); err != nil {
		logger.Error("batch failed", "error", err)
	}
	if ctx.Err() != nil {
		logger.Warn("batch interrupted, message left for redelivery")
		return
	}
	s.delete(ctx, msg, logger)
}

// visibilityFor estimates how long a batch of n tasks can take.
func (s *server) visibilityFor(n int) int32 {
	workers := max(s.workers, 1)
	waves := (n + workers - 1) / workers
	secs := int64(max(waves, 1)) * int64((s.taskTimeout + scheduler.DefaultGrace).Seconds())
	return int32(min(secs, maxVisibilitySeconds))
}

func (s *server) extendVisibility(ctx context.Context, msg types.Message, n int, logger *slog.Logger) {
	timeout := s.visibilityFor(n)
	_, err := s.queue.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueUrl),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: timeout,
	})
	if err != nil {
		logger.Warn("failed to extend message visibility", "seconds", timeout, "error", err)
	}
}

func (s *server) delete(ctx context.Context, msg types.Message, logger *slog.Logger) {
	_, err := s.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueUrl),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Warn("failed to delete message", "error", err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run batches received from an SQS queue",
		Flags: []cli.Flag{
			workersFlag(),
			&cli.StringFlag{
				Name:  "queue",
				Usage: "request queue URL (default: SQS_REQUEST_URL)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.warn()

			queueUrl := cmd.String("queue")
			if queueUrl == "" {
				queueUrl = a.cfg.AWS.RequestQueueURL
			}
			if queueUrl == "" {
				return errors.New("no request queue configured, set SQS_REQUEST_URL or --queue")
			}
			client, err := a.sqsClient(ctx)
			if err != nil {
				return err
			}

			srv := &server{
				queue:       client,
				queueUrl:    queueUrl,
				workers:     a.cfg.Workers,
				taskTimeout: a.cfg.WorkerTimeoutDur(),
				runBatch: func(ctx context.Context, b task.Batch) error {
					_, err := a.runBatch(ctx, b, a.reportPathFor(b.RunUuid))
					return err
				},
				logger: a.logger,
			}
			return srv.serve(ctx)
		},
	}
}
