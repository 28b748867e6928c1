package messaging

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backstage/budget/config"
)

// ServiceBus sends messages to an Azure Service Bus queue
type ServiceBus struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewServiceBus creates a sender for the events queue
func NewServiceBus(cfg config.AzureConfig) (*ServiceBus, error) {
	if cfg.QueueConnStr == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.EventsQueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &ServiceBus{
		client:    client,
		sender:    sender,
		queueName: cfg.EventsQueueName,
	}, nil
}

// Send sends the message to the queue
func (s *ServiceBus) Send(ctx context.Context, msg *BusMessage) error {
	contentType := "application/json"

	sbMessage := &azservicebus.Message{
		MessageID:             &msg.ID,
		SessionID:             &msg.SessionID,
		Subject:               &msg.Subject,
		ContentType:           &contentType,
		Body:                  msg.Body,
		ApplicationProperties: msg.Properties,
	}

	if err := s.sender.SendMessage(ctx, sbMessage, nil); err != nil {
		return fmt.Errorf("failed to send message %s to %s: %w", msg.ID, s.queueName, err)
	}
	return nil
}

// Close closes the sender and the client
func (s *ServiceBus) Close(ctx context.Context) error {
	if err := s.sender.Close(ctx); err != nil {
		log.Error().Err(err).Str("queue", s.queueName).Msg("Error closing sender")
	}
	return s.client.Close(ctx)
}
