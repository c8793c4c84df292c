package events

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeEventBridge struct {
	mu    sync.Mutex
	calls [][]string // detail types per PutEvents call
}

func (f *fakeEventBridge) PutEvents(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	types := make([]string, 0, len(params.Entries))
	for _, e := range params.Entries {
		types = append(types, *e.DetailType)
	}
	f.mu.Lock()
	f.calls = append(f.calls, types)
	f.mu.Unlock()
	return &eventbridge.PutEventsOutput{}, nil
}

func (f *fakeEventBridge) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, call := range f.calls {
		total += len(call)
	}
	return total
}

func TestEventBridgeSinkBatches(t *testing.T) {
	fake := &fakeEventBridge{}
	sink := NewEventBridgeSink(zaptest.NewLogger(t), fake, "test-bus", "sigilmem")
	ctx := context.Background()

	// Nine envelopes stay buffered; the tenth triggers a flush.
	for i := 0; i < 9; i++ {
		require.NoError(t, sink.Handle(ctx, Envelope{EventType: TypeRecordStored, Payload: []byte(`{}`)}))
	}
	require.Empty(t, fake.calls)

	require.NoError(t, sink.Handle(ctx, Envelope{EventType: TypeRecordStored, Payload: []byte(`{}`)}))
	require.Len(t, fake.calls, 1)
	assert.Len(t, fake.calls[0], 10)
}

func TestEventBridgeSinkFlushDrainsPartialBatch(t *testing.T) {
	fake := &fakeEventBridge{}
	sink := NewEventBridgeSink(zaptest.NewLogger(t), fake, "test-bus", "sigilmem")
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, Envelope{EventType: TypeLinkCreated, Payload: []byte(`{}`)}))
	require.NoError(t, sink.Handle(ctx, Envelope{EventType: TypeRecordEvicted, Payload: []byte(`{}`)}))

	require.NoError(t, sink.Flush(ctx))
	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{TypeLinkCreated, TypeRecordEvicted}, fake.calls[0])

	// Flushing again sends nothing.
	require.NoError(t, sink.Flush(ctx))
	assert.Len(t, fake.calls, 1)
}

// TestEventBridgeSinkConcurrentHandleAndFlush drives the sink from several
// goroutines while another flushes, as happens when a shutdown flush overlaps
// a still-running collection cycle. Every envelope must be published exactly
// once.
func TestEventBridgeSinkConcurrentHandleAndFlush(t *testing.T) {
	fake := &fakeEventBridge{}
	sink := NewEventBridgeSink(zaptest.NewLogger(t), fake, "test-bus", "sigilmem")
	ctx := context.Background()

	const producers = 4
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = sink.Handle(ctx, Envelope{EventType: TypeRecordStored, Payload: []byte(`{}`)})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = sink.Flush(ctx)
		}
	}()
	wg.Wait()

	require.NoError(t, sink.Flush(ctx))
	assert.Equal(t, producers*perProducer, fake.published())
}
