package converter

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// EventProducer publishes conversion lifecycle events. A nil producer
// disables emission entirely.
type EventProducer interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// ConversionEvent is emitted on every terminal conversion transition.
type ConversionEvent struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	TargetFormat string    `json:"target_format"`
	Quality      string    `json:"quality"`
	OutputBytes  int64     `json:"output_bytes,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// emitEvent publishes the event if a producer is configured. Emission
// failures are logged and never fail the request.
func (s *Service) emitEvent(ctx context.Context, event ConversionEvent) {
	if s.producer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("marshal conversion event", zap.Error(err))
		return
	}

	headers := map[string]string{
		"event_type": "conversion." + event.Outcome,
	}
	if err := s.producer.Publish(ctx, []byte(event.ID), payload, headers); err != nil {
		s.logger.Warn("publish conversion event",
			zap.String("id", event.ID),
			zap.Error(err))
	}
}
