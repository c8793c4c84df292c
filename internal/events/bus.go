package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"sigilmem-backend/internal/signing"
	appErrors "sigilmem-backend/pkg/errors"
)

// Envelope is the wire form of an event: the serialized payload plus its
// signature. Sinks forward envelopes, not raw events.
type Envelope struct {
	EventType string `json:"event_type"`
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
}

// Handler receives envelopes for the event types it subscribed to.
type Handler func(ctx context.Context, env Envelope) error

// Bus is an in-process publisher. Handlers run synchronously in publish
// order; a failing handler is logged and does not block the others.
type Bus struct {
	logger *zap.Logger
	signer signing.Signer

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus(logger *zap.Logger, signer signing.Signer) *Bus {
	return &Bus{
		logger:   logger,
		signer:   signer,
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers handler for eventType. The wildcard "*" subscribes
// to every event.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish serializes, signs and delivers event to its subscribers.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return appErrors.NewInternal("serializing event", err)
	}
	signature, err := b.signer.Sign(payload)
	if err != nil {
		return appErrors.NewInternal("signing event", err)
	}
	env := Envelope{EventType: event.EventType(), Payload: payload, Signature: signature}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.EventType()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, env); err != nil {
			b.logger.Error("event handler failed",
				zap.String("event_type", event.EventType()),
				zap.Error(err))
		}
	}
	return nil
}
