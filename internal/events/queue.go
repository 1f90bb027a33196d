package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var nowFunc = time.Now

// QueueClient is the transport inbound-message events travel over.
type QueueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received queue delivery.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

// PublishInboundMessageCreated encodes evt and sends it on q.
func PublishInboundMessageCreated(ctx context.Context, q QueueClient, evt InboundMessageCreatedV1) (InboundMessageCreatedV1, error) {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = nowFunc().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return evt, fmt.Errorf("events: encode inbound event: %w", err)
	}
	if err := q.Send(ctx, string(body)); err != nil {
		return evt, err
	}
	return evt, nil
}

// DecodeInboundMessageCreated parses a queue body.
func DecodeInboundMessageCreated(body string) (InboundMessageCreatedV1, error) {
	var evt InboundMessageCreatedV1
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return evt, fmt.Errorf("events: decode inbound event: %w", err)
	}
	if evt.MessageID == "" {
		return evt, fmt.Errorf("events: inbound event missing message_id")
	}
	return evt, nil
}
