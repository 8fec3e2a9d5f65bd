// Package queue publishes export lifecycle events to SQS and decodes the
// callback messages workers send back about runs and backfills.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"batchexports/internal/types"
)

// SQSSender abstracts SendMessage for tests. *sqs.Client satisfies it.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventPublisher sends ExportEvents to the export events queue.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEventPublisher creates an EventPublisher. An empty queueURL disables
// publishing; Publish then only logs at debug level.
func NewEventPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish serializes ev and sends it. A missing ID is generated so consumers
// always have a dedupe key.
func (p *EventPublisher) Publish(ctx context.Context, ev types.ExportEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if p.queueURL == "" || p.client == nil {
		p.logger.DebugContext(ctx, "event queue not configured, dropping event",
			"event_type", string(ev.Type), "batch_export_id", ev.ExportID)
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal export event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send export event to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "export event published",
		"event_id", ev.ID,
		"event_type", string(ev.Type),
		"batch_export_id", ev.ExportID,
		"team_id", ev.TeamID,
	)
	return nil
}
