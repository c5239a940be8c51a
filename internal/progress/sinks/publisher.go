package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
)

// PublisherSink forwards every analytics event to a message topic.
type PublisherSink struct {
	publisher keyword.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink for topic.
func NewPublisherSink(publisher keyword.Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes events in order. A failed publish does not stop the rest
// of the batch; the errors are joined.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Kind, err))
			continue
		}
		s.logger.Debug("analytics event published",
			zap.String("event", string(evt.Kind)),
			zap.String("workflow_id", evt.WorkflowID),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
