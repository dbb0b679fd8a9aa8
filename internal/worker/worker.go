// Package worker runs the queue poll loop: it drains the ingest and
// deletion queues and feeds each received batch to the maintenance engine,
// deleting only the messages the engine applied so failures redeliver.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/podaac/gaptracker/internal/engine"
)

const (
	// Long polling keeps receive calls cheap on an idle queue.
	waitTimeSeconds     = 20
	maxMessagesPerPoll  = 10
	visibilityExtension = 60
)

// SQSAPI is the queue surface the worker uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Processor applies one received batch.
type Processor interface {
	Process(ctx context.Context, event engine.QueueEvent) (engine.Result, error)
}

// Worker polls a set of queues until its context is canceled.
type Worker struct {
	client    SQSAPI
	processor Processor
	queueURLs []string
	log       *slog.Logger
}

// New builds a Worker over one or more queue URLs.
func New(client SQSAPI, processor Processor, queueURLs []string, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		client:    client,
		processor: processor,
		queueURLs: queueURLs,
		log:       log.With("component", "worker"),
	}
}

// Run polls every queue concurrently until ctx is canceled. Cancellation is
// a clean shutdown, not an error.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, url := range w.queueURLs {
		g.Go(func() error {
			return w.poll(gctx, url)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) poll(ctx context.Context, queueURL string) error {
	queueARN, err := w.queueARN(ctx, queueURL)
	if err != nil {
		return err
	}
	log := w.log.With("queue_arn", queueARN)
	log.Info("polling queue")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: maxMessagesPerPoll,
			WaitTimeSeconds:     waitTimeSeconds,
			VisibilityTimeout:   visibilityExtension,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive from %s: %w", queueARN, err)
		}
		if len(out.Messages) == 0 {
			continue
		}
		if err := w.handleBatch(ctx, queueURL, queueARN, out.Messages, log); err != nil {
			return err
		}
	}
}

// handleBatch runs one received batch through the engine and deletes the
// messages that applied. Failed messages stay on the queue and reappear
// after the visibility timeout.
func (w *Worker) handleBatch(ctx context.Context, queueURL, queueARN string, messages []types.Message, log *slog.Logger) error {
	event := engine.QueueEvent{Records: make([]engine.QueueRecord, len(messages))}
	for i, m := range messages {
		event.Records[i] = engine.QueueRecord{
			MessageID:      aws.ToString(m.MessageId),
			EventSourceARN: queueARN,
			Body:           aws.ToString(m.Body),
		}
	}

	result, err := w.processor.Process(ctx, event)
	if err != nil {
		return fmt.Errorf("process batch from %s: %w", queueARN, err)
	}

	failed := make(map[string]bool, len(result.BatchItemFailures))
	for _, f := range result.BatchItemFailures {
		failed[f.ItemIdentifier] = true
	}

	var entries []types.DeleteMessageBatchRequestEntry
	for _, m := range messages {
		if !failed[aws.ToString(m.MessageId)] {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            m.MessageId,
				ReceiptHandle: m.ReceiptHandle,
			})
		}
	}
	if len(failed) > 0 {
		log.Warn("messages left for redelivery", "failed", len(failed), "received", len(messages))
	}
	if len(entries) == 0 {
		return nil
	}
	if _, err := w.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	}); err != nil {
		return fmt.Errorf("delete applied messages from %s: %w", queueARN, err)
	}
	return nil
}

func (w *Worker) queueARN(ctx context.Context, queueURL string) (string, error) {
	out, err := w.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("queue attributes for %s: %w", queueURL, err)
	}
	arn, ok := out.Attributes[string(types.QueueAttributeNameQueueArn)]
	if !ok {
		return "", fmt.Errorf("queue %s reported no ARN", queueURL)
	}
	return arn, nil
}
