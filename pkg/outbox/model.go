package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmehra2102/scrap-pickup/pkg/tracing"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// DefaultMaxRetries bounds how often a failed dispatch goes back to pending.
const DefaultMaxRetries = 5

// Event is a stored outbox row as seen by the relay.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// Message is what a repository writes to the outbox inside its own transaction.
type Message struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
}

func NewMessage(ctx context.Context, aggregateType, aggregateID, eventType string, event any) (Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, err
	}
	return Message{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		Headers:       map[string]string{"source": aggregateType},
		Traceparent:   tracing.Traceparent(ctx),
	}, nil
}
