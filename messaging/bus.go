package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/backstage/budget/models"
)

// Bus sends messages to the message broker
type Bus interface {
	Send(ctx context.Context, msg *BusMessage) error
}

// BusMessage is a broker-neutral message
type BusMessage struct {
	// ID is stable across redeliveries so the broker can drop duplicates
	ID string
	// SessionID groups messages that must be consumed in order
	SessionID  string
	Subject    string
	Body       []byte
	Properties map[string]interface{}
}

// EventMessage is the body of a published event
type EventMessage struct {
	StreamID      uuid.UUID       `json:"stream_id"`
	StreamName    string          `json:"stream_name"`
	EventName     string          `json:"event_name"`
	StreamVersion int             `json:"stream_version"`
	OccurredOn    time.Time       `json:"occurred_on"`
	RequestID     uuid.UUID       `json:"request_id"`
	Payload       json.RawMessage `json:"payload"`
}

// NewBusMessage builds the bus message of an outbox entry
func NewBusMessage(m models.OutboxMessage) (*BusMessage, error) {
	body, err := json.Marshal(EventMessage{
		StreamID:      m.StreamID,
		StreamName:    m.StreamName,
		EventName:     m.EventName,
		StreamVersion: m.StreamVersion,
		OccurredOn:    m.OccurredOn,
		RequestID:     m.RequestID,
		Payload:       json.RawMessage(m.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message body: %w", err)
	}

	id := fmt.Sprintf("%s:%d", m.StreamID, m.StreamVersion)
	if m.Requeued {
		id = fmt.Sprintf("%s:%s", id, m.ID)
	}

	return &BusMessage{
		ID:        id,
		SessionID: m.StreamID.String(),
		Subject:   m.EventName,
		Body:      body,
		Properties: map[string]interface{}{
			"stream_name":    m.StreamName,
			"stream_version": m.StreamVersion,
			"requeued":       m.Requeued,
			"source":         "budget",
		},
	}, nil
}
