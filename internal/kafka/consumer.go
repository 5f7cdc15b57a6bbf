// Package kafka consumes patient responses published by the chat
// gateway and applies them to occurrences.
package kafka

import (
	"context"
	"encoding/json"
	"errors"

	kafkago "github.com/segmentio/kafka-go"

	"reminder-service/internal/logging"
)

// Responder applies a patient response to an occurrence.
type Responder interface {
	ApplyResponse(ctx context.Context, occurrenceID, action, channel string) error
}

// ResponseMessage is the wire format on the response topic.
type ResponseMessage struct {
	OccurrenceID string `json:"occurrence_id"`
	Action       string `json:"action"`
	Channel      string `json:"channel"`
}

// Consumer reads response messages and hands them to the scheduler.
type Consumer struct {
	reader    *kafkago.Reader
	responder Responder
	logger    *logging.Logger
}

// NewConsumer builds the consumer for the given broker/topic/group.
func NewConsumer(broker, topic, groupID string, responder Responder, logger *logging.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, responder: responder, logger: logger}
}

// Run consumes until ctx is cancelled. Malformed or incomplete messages
// are logged and skipped; response application errors do not stop the
// loop.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Infof("Kafka response consumer started on topic %s", c.reader.Config().Topic)
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.logger.Infof("Kafka response consumer stopped")
				return
			}
			c.logger.Errorf("Failed to read response message: %v", err)
			continue
		}

		var resp ResponseMessage
		if err := json.Unmarshal(msg.Value, &resp); err != nil {
			c.logger.Errorf("Skipping malformed response message at offset %d: %v", msg.Offset, err)
			continue
		}
		if resp.OccurrenceID == "" || resp.Action == "" {
			c.logger.Errorf("Skipping response message at offset %d: missing occurrence_id or action", msg.Offset)
			continue
		}
		if resp.Channel == "" {
			resp.Channel = "telegram"
		}

		if err := c.responder.ApplyResponse(ctx, resp.OccurrenceID, resp.Action, resp.Channel); err != nil {
			c.logger.Errorf("Failed to apply %s response for occurrence %s: %v",
				resp.Action, resp.OccurrenceID, err)
			continue
		}
		c.logger.Infof("Applied %s response for occurrence %s from topic", resp.Action, resp.OccurrenceID)
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
