package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// putEventsLimit is EventBridge's maximum entries per PutEvents call.
const putEventsLimit = 10

// EventBridgeAPI is the slice of the EventBridge client the sink uses.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink forwards signed envelopes to an EventBridge bus. It
// buffers envelopes and flushes in batches of up to 10.
type EventBridgeSink struct {
	logger       *zap.Logger
	client       EventBridgeAPI
	eventBusName string
	source       string

	mu      sync.Mutex
	pending []Envelope
}

func NewEventBridgeSink(logger *zap.Logger, client EventBridgeAPI, eventBusName, source string) *EventBridgeSink {
	return &EventBridgeSink{
		logger:       logger,
		client:       client,
		eventBusName: eventBusName,
		source:       source,
	}
}

// Handle buffers env and flushes when a full batch is ready. Registered on
// the bus under the wildcard subscription, so it sees every event.
func (s *EventBridgeSink) Handle(ctx context.Context, env Envelope) error {
	s.mu.Lock()
	s.pending = append(s.pending, env)
	full := len(s.pending) >= putEventsLimit
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends all buffered envelopes. The buffer is cleared even on error;
// events are best-effort notifications, not the source of truth.
func (s *EventBridgeSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for start := 0; start < len(pending); start += putEventsLimit {
		end := min(start+putEventsLimit, len(pending))
		if err := s.putBatch(ctx, pending[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventBridgeSink) putBatch(ctx context.Context, batch []Envelope) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(batch))
	for _, env := range batch {
		detail, err := json.Marshal(env)
		if err != nil {
			s.logger.Error("encoding envelope failed",
				zap.String("event_type", env.EventType), zap.Error(err))
			continue
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(s.eventBusName),
			Source:       aws.String(s.source),
			DetailType:   aws.String(env.EventType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(time.Now().UTC()),
		})
	}
	if len(entries) == 0 {
		return nil
	}

	result, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("publishing events to EventBridge: %w", err)
	}
	if result.FailedEntryCount > 0 {
		s.logger.Warn("some events failed to publish",
			zap.Int32("failed", result.FailedEntryCount),
			zap.Int("total", len(entries)))
	}
	return nil
}
