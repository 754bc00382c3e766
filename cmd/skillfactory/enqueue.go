package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/urfave/cli/v3"
)

func enqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "send a batch file to the request queue",
		ArgsUsage: "[batch file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "queue",
				Usage: "request queue URL (default: SQS_REQUEST_URL)",
			},
			&cli.StringFlag{
				Name:  "reply-to",
				Usage: "SQS queue that receives the progress events of this batch",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			queueUrl := cmd.String("queue")
			if queueUrl == "" {
				queueUrl = a.cfg.AWS.RequestQueueURL
			}
			if queueUrl == "" {
				return errors.New("no request queue configured, set SQS_REQUEST_URL or --queue")
			}

			path := cmd.Args().First()
			if path == "" {
				path = a.cfg.BatchFile()
			}
			req, err := task.ReadRequest(path)
			if err != nil {
				return err
			}
			if cmd.IsSet("reply-to") {
				req.ResSqsUrl = cmd.String("reply-to")
			}
			// reject what the server would drop, and pin the run id
			b, err := task.FromRequest(req)
			if err != nil {
				return err
			}
			req.RunUuid = b.RunUuid

			body, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("marshal batch: %w", err)
			}
			client, err := a.sqsClient(ctx)
			if err != nil {
				return err
			}
			_, err = client.SendMessage(ctx, &sqs.SendMessageInput{
				QueueUrl:    aws.String(queueUrl),
				MessageBody: aws.String(string(body)),
			})
			if err != nil {
				return fmt.Errorf("send batch: %w", err)
			}
			a.logger.Info("batch enqueued", "run", b.RunUuid, "skills", len(b.Tasks), "queue", queueUrl)
			fmt.Fprintln(a.out, b.RunUuid)
			return nil
		},
	}
}
