package sqsgath_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/programme-lv/skillfactory/api"
	"github.com/programme-lv/skillfactory/internal/gatherer/sqsgath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

func TestSqsGatherer(t *testing.T) {
	client := &fakeSQS{}
	g := sqsgath.New(client, "run-7", "https://sqs.local/q", slog.New(slog.NewTextHandler(io.Discard, nil)))

	g.StartPhase("httpx", "draft", 0)
	g.FinishBatch(api.Summary{api.Success: 1, api.Timeout: 1})

	require.Len(t, client.inputs, 2)
	assert.Equal(t, "https://sqs.local/q", aws.ToString(client.inputs[0].QueueUrl))

	var phase api.StartPhase
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.inputs[0].MessageBody)), &phase))
	assert.Equal(t, "draft", phase.Phase)
	assert.Equal(t, "httpx", phase.TaskName)

	var batch api.FinishBatch
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.inputs[1].MessageBody)), &batch))
	assert.Equal(t, api.FinishBatchMsg, batch.MsgType)
	assert.Equal(t, 1, batch.Summary[api.Timeout])
}
