package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podaac/gaptracker/internal/engine"
)

type fakeSQS struct {
	mu       sync.Mutex
	arns     map[string]string
	messages map[string][]types.Message
	deleted  map[string][]string
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	arn, ok := f.arns[aws.ToString(params.QueueUrl)]
	if !ok {
		return nil, errors.New("no such queue")
	}
	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{string(types.QueueAttributeNameQueueArn): arn},
	}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	url := aws.ToString(params.QueueUrl)
	msgs := f.messages[url]
	f.messages[url] = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		// Emulate long polling on a drained queue until shutdown.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, params *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted == nil {
		f.deleted = map[string][]string{}
	}
	url := aws.ToString(params.QueueUrl)
	for _, e := range params.Entries {
		f.deleted[url] = append(f.deleted[url], aws.ToString(e.Id))
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

type fakeProcessor struct {
	mu       sync.Mutex
	events   []engine.QueueEvent
	failures map[string]bool
	done     chan struct{}
	want     int
	got      int
}

func (f *fakeProcessor) Process(_ context.Context, event engine.QueueEvent) (engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	var result engine.Result
	for _, r := range event.Records {
		f.got++
		if f.failures[r.MessageID] {
			result.BatchItemFailures = append(result.BatchItemFailures,
				engine.Failure{ItemIdentifier: r.MessageID})
		}
	}
	if f.got >= f.want && f.done != nil {
		close(f.done)
		f.done = nil
	}
	return result, nil
}

func message(id string) types.Message {
	return types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String("{}"),
	}
}

func TestRunDeletesAppliedAndKeepsFailed(t *testing.T) {
	client := &fakeSQS{
		arns: map[string]string{
			"https://sqs/ingest":   "arn:ingest",
			"https://sqs/deletion": "arn:deletion",
		},
		messages: map[string][]types.Message{
			"https://sqs/ingest":   {message("m1"), message("m2")},
			"https://sqs/deletion": {message("d1")},
		},
	}
	processor := &fakeProcessor{
		failures: map[string]bool{"m2": true},
		done:     make(chan struct{}),
		want:     3,
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(client, processor, []string{"https://sqs/ingest", "https://sqs/deletion"}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-processor.done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never processed the queued messages")
	}
	cancel()
	require.NoError(t, <-errCh, "cancellation is a clean shutdown")

	assert.ElementsMatch(t, []string{"m1"}, client.deleted["https://sqs/ingest"])
	assert.ElementsMatch(t, []string{"d1"}, client.deleted["https://sqs/deletion"])

	sources := map[string]bool{}
	for _, e := range processor.events {
		for _, r := range e.Records {
			sources[r.EventSourceARN] = true
		}
	}
	assert.True(t, sources["arn:ingest"])
	assert.True(t, sources["arn:deletion"], "deletion queue events tagged with the deletion ARN")
}

func TestRunUnknownQueueFails(t *testing.T) {
	client := &fakeSQS{arns: map[string]string{}, messages: map[string][]types.Message{}}
	w := New(client, &fakeProcessor{}, []string{"https://sqs/missing"}, nil)

	err := w.Run(context.Background())
	require.Error(t, err)
}
