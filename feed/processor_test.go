package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chronicle "github.com/chronicle-es/go-chronicle"
	"github.com/chronicle-es/go-chronicle/adapters/memory"
)

type StudentEnrolled struct {
	StudentID string `json:"studentId"`
	Course    string `json:"course"`
}

type InvoiceIssued struct {
	InvoiceID string `json:"invoiceId"`
	Amount    int    `json:"amount"`
}

// fakePublisher records published messages and can be made to fail.
type fakePublisher struct {
	prefix string

	mu       sync.Mutex
	messages []*Message
	failures int
}

func newFakePublisher(prefix string) *fakePublisher {
	return &fakePublisher{prefix: prefix}
}

func (p *fakePublisher) Destination() string {
	return p.prefix
}

func (p *fakePublisher) Publish(ctx context.Context, messages []*Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("transport down")
	}
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *fakePublisher) published() []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func newTestFeed(t *testing.T, routes []Route, opts ...ProcessorOption) (*chronicle.EventLog, *memory.Adapter, *Processor) {
	t.Helper()

	adapter := memory.NewAdapter()
	log := chronicle.New(adapter)
	log.RegisterEvents(StudentEnrolled{}, InvoiceIssued{})

	base := []ProcessorOption{
		WithPollInterval(5 * time.Millisecond),
		WithRetryBackoff(5 * time.Millisecond),
	}
	processor := NewProcessor(log, adapter, routes, append(base, opts...)...)
	return log, adapter, processor
}

func startProcessor(t *testing.T, p *Processor) {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(stopCtx)
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestProcessor_Lifecycle(t *testing.T) {
	_, _, processor := newTestFeed(t, nil)

	require.NoError(t, processor.Start(context.Background()))
	assert.True(t, processor.IsRunning())
	assert.ErrorIs(t, processor.Start(context.Background()), ErrProcessorRunning)

	require.NoError(t, processor.Stop(context.Background()))
	assert.False(t, processor.IsRunning())
	assert.NoError(t, processor.Stop(context.Background()))
}

func TestProcessor_Publishes(t *testing.T) {
	ctx := context.Background()

	t.Run("routes matching events and advances the checkpoint", func(t *testing.T) {
		publisher := newFakePublisher("kafka")
		routes := []Route{{
			EventTypes:  []string{"StudentEnrolled"},
			Destination: "kafka:enrollments",
		}}
		log, adapter, processor := newTestFeed(t, routes, WithPublisher(publisher))

		require.NoError(t, log.Append(ctx, "Student-s1", []interface{}{
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
			InvoiceIssued{InvoiceID: "inv-1", Amount: 100},
		}))

		startProcessor(t, processor)

		waitFor(t, func() bool {
			cp, err := adapter.GetCheckpoint(ctx, "feed")
			return err == nil && cp >= 2
		})

		msgs := publisher.published()
		require.Len(t, msgs, 1)
		assert.Equal(t, "kafka:enrollments", msgs[0].Destination)
		assert.Equal(t, "StudentEnrolled", msgs[0].EventType)
		assert.Equal(t, "Student-s1", msgs[0].StreamID)
		assert.Equal(t, uint64(1), msgs[0].GlobalSequence)
		assert.Equal(t, "Student-s1", msgs[0].Headers["stream-id"])

		var payload StudentEnrolled
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
		assert.Equal(t, "MATH-101", payload.Course)
	})

	t.Run("filter drops events", func(t *testing.T) {
		publisher := newFakePublisher("kafka")
		routes := []Route{{
			EventTypes:  []string{"InvoiceIssued"},
			Destination: "kafka:invoices",
			Filter: func(event chronicle.StoredEvent) bool {
				var inv InvoiceIssued
				if err := json.Unmarshal(event.Data, &inv); err != nil {
					return false
				}
				return inv.Amount >= 100
			},
		}}
		log, adapter, processor := newTestFeed(t, routes, WithPublisher(publisher))

		require.NoError(t, log.Append(ctx, "Invoice-inv-1", []interface{}{
			InvoiceIssued{InvoiceID: "inv-1", Amount: 50},
			InvoiceIssued{InvoiceID: "inv-2", Amount: 250},
		}))

		startProcessor(t, processor)
		waitFor(t, func() bool {
			cp, _ := adapter.GetCheckpoint(ctx, "feed")
			return cp >= 2
		})

		msgs := publisher.published()
		require.Len(t, msgs, 1)
		assert.Equal(t, uint64(2), msgs[0].GlobalSequence)
	})

	t.Run("transform rewrites the payload", func(t *testing.T) {
		publisher := newFakePublisher("kafka")
		routes := []Route{{
			EventTypes:  []string{"StudentEnrolled"},
			Destination: "kafka:enrollments",
			Transform: func(event chronicle.StoredEvent) ([]byte, error) {
				return []byte(`{"wrapped":true}`), nil
			},
		}}
		log, adapter, processor := newTestFeed(t, routes, WithPublisher(publisher))

		require.NoError(t, log.Append(ctx, "Student-s1", []interface{}{
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
		}))

		startProcessor(t, processor)
		waitFor(t, func() bool {
			cp, _ := adapter.GetCheckpoint(ctx, "feed")
			return cp >= 1
		})

		msgs := publisher.published()
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `{"wrapped":true}`, string(msgs[0].Payload))
	})

	t.Run("one event can fan out to several destinations", func(t *testing.T) {
		kafkaPub := newFakePublisher("kafka")
		webhookPub := newFakePublisher("webhook")
		routes := []Route{
			{EventTypes: []string{"StudentEnrolled"}, Destination: "kafka:enrollments"},
			{EventTypes: []string{"StudentEnrolled"}, Destination: "webhook:https://example.com/events"},
		}
		log, adapter, processor := newTestFeed(t, routes,
			WithPublisher(kafkaPub), WithPublisher(webhookPub))

		require.NoError(t, log.Append(ctx, "Student-s1", []interface{}{
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
		}))

		startProcessor(t, processor)
		waitFor(t, func() bool {
			cp, _ := adapter.GetCheckpoint(ctx, "feed")
			return cp >= 1
		})

		assert.Len(t, kafkaPub.published(), 1)
		assert.Len(t, webhookPub.published(), 1)
	})
}

func TestProcessor_AtLeastOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("a failed publish blocks the checkpoint and retries", func(t *testing.T) {
		publisher := newFakePublisher("kafka")
		publisher.failures = 2

		routes := []Route{{Destination: "kafka:all"}}
		log, adapter, processor := newTestFeed(t, routes, WithPublisher(publisher))

		require.NoError(t, log.Append(ctx, "Student-s1", []interface{}{
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
		}))

		startProcessor(t, processor)

		waitFor(t, func() bool {
			cp, _ := adapter.GetCheckpoint(ctx, "feed")
			return cp >= 1
		})

		// The batch was eventually delivered exactly that one time.
		assert.Len(t, publisher.published(), 1)
	})

	t.Run("missing publisher blocks the feed", func(t *testing.T) {
		routes := []Route{{Destination: "kafka:all"}}
		log, adapter, processor := newTestFeed(t, routes) // no publisher registered

		require.NoError(t, log.Append(ctx, "Student-s1", []interface{}{
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
		}))

		startProcessor(t, processor)
		time.Sleep(50 * time.Millisecond)

		cp, err := adapter.GetCheckpoint(ctx, "feed")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), cp)
	})
}

func TestProcessor_NamedCheckpoints(t *testing.T) {
	ctx := context.Background()

	publisher := newFakePublisher("kafka")
	routes := []Route{{Destination: "kafka:all"}}
	log, adapter, processor := newTestFeed(t, routes,
		WithPublisher(publisher), WithName("audit-feed"))

	require.NoError(t, log.Append(ctx, "Student-s1", []interface{}{
		StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
	}))

	startProcessor(t, processor)

	waitFor(t, func() bool {
		cp, _ := adapter.GetCheckpoint(ctx, "audit-feed")
		return cp >= 1
	})

	cp, err := adapter.GetCheckpoint(ctx, "feed")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp)
}
